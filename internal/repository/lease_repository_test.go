package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

// ============================================================
// LeaseRepository Tests
// ============================================================

func TestLeaseRepositoryAcquire(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		expected bool
	}{
		{"lease granted", 1, true},
		{"lease held by another process", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			mock.ExpectExec(`INSERT INTO scheduler_leases`).
				WithArgs("daily_sweep", "host-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			repo := NewLeaseRepository(db)
			got, err := repo.Acquire("daily_sweep", "host-1", time.Minute)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestLeaseRepositoryAcquireError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	dbErr := errors.New("connection refused")
	mock.ExpectExec(`INSERT INTO scheduler_leases`).
		WillReturnError(dbErr)

	repo := NewLeaseRepository(db)
	got, err := repo.Acquire("daily_sweep", "host-1", time.Minute)
	if !errors.Is(err, dbErr) {
		t.Errorf("expected db error, got %v", err)
	}
	if got {
		t.Error("acquire must report false on error")
	}
}

func TestLeaseRepositoryRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM scheduler_leases WHERE name = \$1 AND holder = \$2`).
		WithArgs("daily_sweep", "host-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewLeaseRepository(db)
	if err := repo.Release("daily_sweep", "host-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
