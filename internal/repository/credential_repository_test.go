package repository

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"vledger/internal/models"
)

// ============================================================
// CredentialRepository Tests
// ============================================================

func TestCredentialRepositoryCreate(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO exchange_credentials`).
					WithArgs(10, "binance", "main", "enc-key", "enc-secret", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
			},
			expectError: nil,
		},
		{
			name: "duplicate label",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO exchange_credentials`).
					WithArgs(10, "binance", "main", "enc-key", "enc-secret", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnError(errors.New("duplicate key value violates unique constraint"))
			},
			expectError: ErrCredentialExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			cred := &models.ExchangeCredential{
				UserID:    10,
				Exchange:  "binance",
				Label:     "main",
				APIKey:    "enc-key",
				SecretKey: "enc-secret",
				Validated: true,
			}

			repo := NewCredentialRepository(db)
			err = repo.Create(cred)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if cred.ID != 3 {
					t.Errorf("expected ID=3, got %d", cred.ID)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestCredentialRepositoryGetByID(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		id          int
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "success",
			id:   3,
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{
					"id", "user_id", "exchange", "label", "api_key_enc", "secret_key_enc",
					"validated", "created_at", "updated_at",
				}).AddRow(3, 10, "binance", "main", "enc-key", "enc-secret", true, now, now)
				mock.ExpectQuery(`SELECT .+ FROM exchange_credentials WHERE id = \$1`).
					WithArgs(3).
					WillReturnRows(rows)
			},
			expectError: nil,
		},
		{
			name: "not found",
			id:   999,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM exchange_credentials WHERE id = \$1`).
					WithArgs(999).
					WillReturnError(sql.ErrNoRows)
			},
			expectError: ErrCredentialNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewCredentialRepository(db)
			cred, err := repo.GetByID(tt.id)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if cred.Exchange != "binance" {
					t.Errorf("expected Exchange=binance, got %s", cred.Exchange)
				}
				if cred.APIKey != "enc-key" {
					t.Errorf("expected encrypted APIKey, got %s", cred.APIKey)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestCredentialRepositoryRotateKeys(t *testing.T) {
	tests := []struct {
		name        string
		affected    int64
		expectError error
	}{
		{"success", 1, nil},
		{"not found", 0, ErrCredentialNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			mock.ExpectExec(`UPDATE exchange_credentials SET api_key_enc = \$1, secret_key_enc = \$2, validated = true`).
				WithArgs("new-enc-key", "new-enc-secret", sqlmock.AnyArg(), 3).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			repo := NewCredentialRepository(db)
			err = repo.RotateKeys(3, "new-enc-key", "new-enc-secret")

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestCredentialRepositoryDelete(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT COUNT\(\*\) FROM strategies WHERE credential_id = \$1`).
					WithArgs(3).
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
				mock.ExpectExec(`DELETE FROM exchange_credentials WHERE id = \$1`).
					WithArgs(3).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			expectError: nil,
		},
		{
			name: "has attached strategies",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT COUNT\(\*\) FROM strategies WHERE credential_id = \$1`).
					WithArgs(3).
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
			},
			expectError: ErrCredentialInUse,
		},
		{
			name: "not found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT COUNT\(\*\) FROM strategies WHERE credential_id = \$1`).
					WithArgs(3).
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
				mock.ExpectExec(`DELETE FROM exchange_credentials WHERE id = \$1`).
					WithArgs(3).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			expectError: ErrCredentialNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewCredentialRepository(db)
			err = repo.Delete(3)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}
