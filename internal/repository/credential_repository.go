package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"vledger/internal/models"
)

// Ошибки репозитория ключей
var (
	ErrCredentialNotFound = errors.New("exchange credential not found")
	ErrCredentialExists   = errors.New("exchange credential already exists")
	ErrCredentialInUse    = errors.New("exchange credential has attached strategies")
)

const credentialColumns = `id, user_id, exchange, label, api_key_enc, secret_key_enc, validated, created_at, updated_at`

// CredentialRepository - работа с таблицей exchange_credentials.
// Поля api_key_enc/secret_key_enc хранят шифртекст AES-256-GCM
type CredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository создает новый экземпляр репозитория
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Create создает новую запись ключа
func (r *CredentialRepository) Create(cred *models.ExchangeCredential) error {
	query := `
		INSERT INTO exchange_credentials (user_id, exchange, label, api_key_enc, secret_key_enc, validated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	now := time.Now()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	err := r.db.QueryRow(
		query,
		cred.UserID,
		cred.Exchange,
		cred.Label,
		cred.APIKey,
		cred.SecretKey,
		cred.Validated,
		cred.CreatedAt,
		cred.UpdatedAt,
	).Scan(&cred.ID)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "23505") {
			return ErrCredentialExists
		}
		return err
	}

	return nil
}

// GetByID возвращает запись ключа по ID
func (r *CredentialRepository) GetByID(id int) (*models.ExchangeCredential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM exchange_credentials
		WHERE id = $1`

	cred := &models.ExchangeCredential{}
	err := r.db.QueryRow(query, id).Scan(
		&cred.ID,
		&cred.UserID,
		&cred.Exchange,
		&cred.Label,
		&cred.APIKey,
		&cred.SecretKey,
		&cred.Validated,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}

	return cred, nil
}

// GetByUser возвращает все ключи пользователя
func (r *CredentialRepository) GetByUser(userID int) ([]*models.ExchangeCredential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM exchange_credentials
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []*models.ExchangeCredential
	for rows.Next() {
		cred := &models.ExchangeCredential{}
		err := rows.Scan(
			&cred.ID,
			&cred.UserID,
			&cred.Exchange,
			&cred.Label,
			&cred.APIKey,
			&cred.SecretKey,
			&cred.Validated,
			&cred.CreatedAt,
			&cred.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return creds, nil
}

// RotateKeys заменяет шифртекст ключей. Единственная разрешённая
// мутация после валидации
func (r *CredentialRepository) RotateKeys(id int, apiKeyEnc, secretKeyEnc string) error {
	query := `
		UPDATE exchange_credentials
		SET api_key_enc = $1, secret_key_enc = $2, validated = true, updated_at = $3
		WHERE id = $4`

	result, err := r.db.Exec(query, apiKeyEnc, secretKeyEnc, time.Now(), id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrCredentialNotFound
	}

	return nil
}

// Delete удаляет запись ключа. Ключ с привязанными живыми стратегиями
// удалить нельзя
func (r *CredentialRepository) Delete(id int) error {
	var attached int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM strategies WHERE credential_id = $1 AND deleted_at IS NULL`,
		id,
	).Scan(&attached)
	if err != nil {
		return err
	}
	if attached > 0 {
		return ErrCredentialInUse
	}

	result, err := r.db.Exec(`DELETE FROM exchange_credentials WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrCredentialNotFound
	}

	return nil
}
