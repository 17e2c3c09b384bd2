package service

import (
	"context"
	"strings"

	"vledger/internal/exchange"
	"vledger/internal/models"
	"vledger/pkg/crypto"
	"vledger/pkg/utils"
)

// KeyValidator - подмножество ExchangeService, нужное сервису
// учетных данных
type KeyValidator interface {
	ValidateAPIKeys(ctx context.Context, exchangeName, apiKey, secretKey string) error
	InvalidateCredential(credentialID int)
}

// CredentialService - управление API-ключами бирж.
// Ключи проверяются тестовым подключением до записи и хранятся только
// зашифрованными (AES-256-GCM); после валидации запись неизменна,
// кроме ротации ключей
type CredentialService struct {
	creds     CredentialRepositoryInterface
	cipher    *crypto.Cipher
	validator KeyValidator

	log *utils.Logger
}

// NewCredentialService создает новый экземпляр сервиса
func NewCredentialService(creds CredentialRepositoryInterface, cipher *crypto.Cipher, validator KeyValidator) *CredentialService {
	return &CredentialService{
		creds:     creds,
		cipher:    cipher,
		validator: validator,
		log:       utils.L().WithComponent("credentials"),
	}
}

// CreateCredential проверяет и сохраняет новую пару ключей
func (s *CredentialService) CreateCredential(ctx context.Context, userID int, exchangeName, label, apiKey, secretKey string) (*models.ExchangeCredential, error) {
	exchangeName = strings.ToLower(strings.TrimSpace(exchangeName))
	if !exchange.IsSupported(exchangeName) {
		return nil, ErrExchangeNotSupported
	}
	if err := utils.ValidateAPIKey(apiKey); err != nil {
		return nil, err
	}
	if err := utils.ValidateAPIKey(secretKey); err != nil {
		return nil, err
	}

	if err := s.validator.ValidateAPIKeys(ctx, exchangeName, apiKey, secretKey); err != nil {
		return nil, err
	}

	apiEnc, err := s.cipher.Encrypt(apiKey)
	if err != nil {
		return nil, err
	}
	secretEnc, err := s.cipher.Encrypt(secretKey)
	if err != nil {
		return nil, err
	}

	cred := &models.ExchangeCredential{
		UserID:    userID,
		Exchange:  exchangeName,
		Label:     strings.TrimSpace(label),
		APIKey:    apiEnc,
		SecretKey: secretEnc,
		Validated: true,
	}
	if err := s.creds.Create(cred); err != nil {
		return nil, err
	}

	s.log.Info("credential created",
		utils.CredentialID(cred.ID),
		utils.UserID(userID),
		utils.Exchange(exchangeName))
	return cred, nil
}

// GetCredentials возвращает учетные данные пользователя.
// Зашифрованные ключи из ответов исключает json-тег модели
func (s *CredentialService) GetCredentials(userID int) ([]*models.ExchangeCredential, error) {
	return s.creds.GetByUser(userID)
}

// RotateCredential заменяет пару ключей после тестового подключения.
// Живое соединение со старыми ключами закрывается
func (s *CredentialService) RotateCredential(ctx context.Context, userID, id int, apiKey, secretKey string) error {
	cred, err := s.creds.GetByID(id)
	if err != nil {
		return err
	}
	if cred.UserID != userID {
		return ErrAccessDenied
	}

	if err := s.validator.ValidateAPIKeys(ctx, cred.Exchange, apiKey, secretKey); err != nil {
		return err
	}

	apiEnc, err := s.cipher.Encrypt(apiKey)
	if err != nil {
		return err
	}
	secretEnc, err := s.cipher.Encrypt(secretKey)
	if err != nil {
		return err
	}

	if err := s.creds.RotateKeys(id, apiEnc, secretEnc); err != nil {
		return err
	}

	s.validator.InvalidateCredential(id)
	s.log.Info("credential keys rotated", utils.CredentialID(id))
	return nil
}

// DeleteCredential удаляет учетные данные. Репозиторий откажет, пока
// к ним привязаны живые стратегии
func (s *CredentialService) DeleteCredential(userID, id int) error {
	cred, err := s.creds.GetByID(id)
	if err != nil {
		return err
	}
	if cred.UserID != userID {
		return ErrAccessDenied
	}

	if err := s.creds.Delete(id); err != nil {
		return err
	}

	s.validator.InvalidateCredential(id)
	s.log.Info("credential deleted", utils.CredentialID(id))
	return nil
}

var _ KeyValidator = (*ExchangeService)(nil)
