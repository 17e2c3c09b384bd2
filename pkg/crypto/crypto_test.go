package crypto

import (
	"errors"
	"strings"
	"testing"
)

// ============================================================
// Тесты Cipher
// ============================================================

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestNewCipher_InvalidKey(t *testing.T) {
	keys := [][]byte{
		nil,
		[]byte("short"),
		[]byte("0123456789abcdef0123456789abcdef00"), // 34 байта
	}

	for _, key := range keys {
		if _, err := NewCipher(key); !errors.Is(err, ErrInvalidKeyLength) {
			t.Errorf("NewCipher(%d bytes) expected ErrInvalidKeyLength, got %v", len(key), err)
		}
	}
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(testKey())
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	tests := []string{
		"api-key-123",
		"",
		"длинный секрет с юникодом 🔑",
		strings.Repeat("x", 4096),
	}

	for _, plaintext := range tests {
		encrypted, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if encrypted == plaintext && plaintext != "" {
			t.Error("ciphertext equals plaintext")
		}

		decrypted, err := c.Decrypt(encrypted)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("round trip mismatch: got %q, want %q", decrypted, plaintext)
		}
	}
}

func TestCipher_UniqueNonce(t *testing.T) {
	c, _ := NewCipher(testKey())

	// Одинаковый plaintext должен давать разные шифротексты
	a, _ := c.Encrypt("secret")
	b, _ := c.Encrypt("secret")
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestCipher_DecryptErrors(t *testing.T) {
	c, _ := NewCipher(testKey())

	if _, err := c.Decrypt("not-base64!!!"); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("expected ErrInvalidCiphertext, got %v", err)
	}

	if _, err := c.Decrypt("c2hvcnQ="); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("expected ErrCiphertextTooShort, got %v", err)
	}

	// Расшифровка другим ключом должна провалить аутентификацию
	encrypted, _ := c.Encrypt("secret")
	other, _ := NewCipher([]byte("ffffffffffffffffffffffffffffffff"))
	if _, err := other.Decrypt(encrypted); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}

	// Повреждённый шифротекст
	corrupted := "A" + encrypted[1:]
	if _, err := c.Decrypt(corrupted); err == nil {
		t.Error("expected error for corrupted ciphertext")
	}
}

// ============================================================
// Тесты токенов
// ============================================================

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if len(token) != TokenBytes*2 {
		t.Errorf("token length = %d, want %d", len(token), TokenBytes*2)
	}

	// Токены должны быть уникальными
	token2, _ := GenerateToken()
	if token == token2 {
		t.Error("two generated tokens are identical")
	}
}

func TestTokenDigest(t *testing.T) {
	digest, err := TokenDigest("some-token")
	if err != nil {
		t.Fatalf("TokenDigest: %v", err)
	}
	if len(digest) != 64 {
		t.Errorf("digest length = %d, want 64", len(digest))
	}

	// Дайджест детерминирован
	digest2, _ := TokenDigest("some-token")
	if digest != digest2 {
		t.Error("digest is not deterministic")
	}

	// Разные токены - разные дайджесты
	other, _ := TokenDigest("other-token")
	if digest == other {
		t.Error("different tokens produced identical digests")
	}

	if _, err := TokenDigest(""); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("expected ErrEmptyToken, got %v", err)
	}
}

// ============================================================
// Тесты хеширования паролей
// ============================================================

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "" {
		t.Fatal("HashPassword returned empty hash")
	}

	if err := VerifyPassword("correct horse battery staple", hash); err != nil {
		t.Errorf("VerifyPassword with correct password: %v", err)
	}

	if err := VerifyPassword("wrong password", hash); !errors.Is(err, ErrPasswordMismatch) {
		t.Errorf("expected ErrPasswordMismatch, got %v", err)
	}
}

func TestHashPassword_Errors(t *testing.T) {
	if _, err := HashPassword(""); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("expected ErrEmptyPassword, got %v", err)
	}

	long := strings.Repeat("a", MaxPasswordLength+1)
	if _, err := HashPassword(long); !errors.Is(err, ErrPasswordTooLong) {
		t.Errorf("expected ErrPasswordTooLong, got %v", err)
	}
}
