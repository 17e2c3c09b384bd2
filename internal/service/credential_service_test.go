package service

import (
	"context"
	"errors"
	"testing"

	"vledger/internal/models"
	"vledger/internal/repository"
	"vledger/pkg/crypto"
)

// ============================================================
// Мок валидатора ключей
// ============================================================

type mockKeyValidator struct {
	validateErr error
	validated   []string
	invalidated []int
}

func (m *mockKeyValidator) ValidateAPIKeys(ctx context.Context, exchangeName, apiKey, secretKey string) error {
	m.validated = append(m.validated, exchangeName)
	return m.validateErr
}

func (m *mockKeyValidator) InvalidateCredential(credentialID int) {
	m.invalidated = append(m.invalidated, credentialID)
}

func newCredentialHarness(t *testing.T) (*CredentialService, *MockCredentialRepository, *mockKeyValidator, *crypto.Cipher) {
	t.Helper()
	cipher, err := crypto.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	creds := NewMockCredentialRepository()
	validator := &mockKeyValidator{}
	return NewCredentialService(creds, cipher, validator), creds, validator, cipher
}

const (
	testAPIKey    = "api-key-0123456789abcdef"
	testSecretKey = "secret-key-0123456789abcdef"
)

// ============================================================
// Создание
// ============================================================

func TestCreateCredential(t *testing.T) {
	svc, creds, validator, cipher := newCredentialHarness(t)

	cred, err := svc.CreateCredential(context.Background(), 1, "Binance", "main portfolio", testAPIKey, testSecretKey)
	if err != nil {
		t.Fatalf("CreateCredential() error: %v", err)
	}

	if cred.Exchange != "binance" {
		t.Errorf("exchange = %s, want lowercased binance", cred.Exchange)
	}
	if !cred.Validated {
		t.Error("credential must be marked validated after the test connection")
	}
	if len(validator.validated) != 1 {
		t.Error("keys were not validated before persisting")
	}

	// Хранятся только шифртексты, расшифровка возвращает исходные ключи
	stored, _ := creds.GetByID(cred.ID)
	if stored.APIKey == testAPIKey {
		t.Error("API key is stored in plaintext")
	}
	if got, err := cipher.Decrypt(stored.APIKey); err != nil || got != testAPIKey {
		t.Errorf("decrypted API key = %q (%v), want the original", got, err)
	}
	if got, err := cipher.Decrypt(stored.SecretKey); err != nil || got != testSecretKey {
		t.Errorf("decrypted secret key = %q (%v), want the original", got, err)
	}
}

func TestCreateCredential_Validation(t *testing.T) {
	svc, _, validator, _ := newCredentialHarness(t)
	ctx := context.Background()

	if _, err := svc.CreateCredential(ctx, 1, "kraken", "", testAPIKey, testSecretKey); !errors.Is(err, ErrExchangeNotSupported) {
		t.Errorf("unsupported exchange: got %v, want ErrExchangeNotSupported", err)
	}
	if _, err := svc.CreateCredential(ctx, 1, "binance", "", "short", testSecretKey); err == nil {
		t.Error("too-short API key must be rejected")
	}
	if len(validator.validated) != 0 {
		t.Error("invalid input must not reach the key validator")
	}

	validator.validateErr = ErrInvalidCredentials
	if _, err := svc.CreateCredential(ctx, 1, "binance", "", testAPIKey, testSecretKey); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("failed test connection: got %v, want ErrInvalidCredentials", err)
	}
}

// ============================================================
// Ротация и удаление
// ============================================================

func TestRotateCredential(t *testing.T) {
	svc, creds, validator, cipher := newCredentialHarness(t)
	oldEnc, _ := cipher.Encrypt("old-key-0123456789abcdef")
	cred := creds.add(&models.ExchangeCredential{
		UserID: 1, Exchange: "binance", APIKey: oldEnc, SecretKey: oldEnc, Validated: true,
	})

	if err := svc.RotateCredential(context.Background(), 1, cred.ID, testAPIKey, testSecretKey); err != nil {
		t.Fatalf("RotateCredential() error: %v", err)
	}

	stored, _ := creds.GetByID(cred.ID)
	if got, _ := cipher.Decrypt(stored.APIKey); got != testAPIKey {
		t.Error("rotated key was not persisted")
	}
	// Живое соединение со старыми ключами обязано закрыться
	if len(validator.invalidated) != 1 || validator.invalidated[0] != cred.ID {
		t.Error("rotation must invalidate the live connection")
	}
}

func TestRotateCredential_AccessDenied(t *testing.T) {
	svc, creds, validator, _ := newCredentialHarness(t)
	cred := creds.add(&models.ExchangeCredential{UserID: 7, Exchange: "binance"})

	if err := svc.RotateCredential(context.Background(), 1, cred.ID, testAPIKey, testSecretKey); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("got %v, want ErrAccessDenied", err)
	}
	if len(validator.validated) != 0 {
		t.Error("foreign credential must not reach the key validator")
	}
}

func TestDeleteCredential(t *testing.T) {
	svc, creds, validator, _ := newCredentialHarness(t)
	cred := creds.add(&models.ExchangeCredential{UserID: 1, Exchange: "binance"})

	if err := svc.DeleteCredential(1, cred.ID); err != nil {
		t.Fatalf("DeleteCredential() error: %v", err)
	}
	if _, err := creds.GetByID(cred.ID); !errors.Is(err, repository.ErrCredentialNotFound) {
		t.Error("credential was not removed")
	}
	if len(validator.invalidated) != 1 {
		t.Error("deletion must invalidate the live connection")
	}
}

func TestDeleteCredential_RefusedWhileInUse(t *testing.T) {
	svc, creds, validator, _ := newCredentialHarness(t)
	cred := creds.add(&models.ExchangeCredential{UserID: 1, Exchange: "binance"})
	creds.deleteErr = repository.ErrCredentialInUse

	if err := svc.DeleteCredential(1, cred.ID); !errors.Is(err, repository.ErrCredentialInUse) {
		t.Errorf("got %v, want ErrCredentialInUse", err)
	}
	if len(validator.invalidated) != 0 {
		t.Error("refused deletion must keep the live connection")
	}
}
