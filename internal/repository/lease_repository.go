package repository

import (
	"database/sql"
	"time"
)

// LeaseRepository - работа с таблицей scheduler_leases.
// Аренда обеспечивает взаимное исключение плановых заданий между
// процессами: держатель с истёкшей арендой перехватывается, упавший
// процесс не блокирует задание навсегда
type LeaseRepository struct {
	db *sql.DB
}

// NewLeaseRepository создает новый экземпляр репозитория
func NewLeaseRepository(db *sql.DB) *LeaseRepository {
	return &LeaseRepository{db: db}
}

// Acquire пытается взять аренду задания на ttl. Возвращает true, если
// аренда получена: строки нет, держатель тот же, либо срок предыдущего
// держателя истёк. Вся проверка выполняется одним атомарным upsert
func (r *LeaseRepository) Acquire(name, holder string, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO scheduler_leases (name, holder, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE scheduler_leases.holder = EXCLUDED.holder
		   OR scheduler_leases.expires_at <= $4`

	now := time.Now()
	result, err := r.db.Exec(query, name, holder, now.Add(ttl), now)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// Release отдаёт аренду досрочно. Чужую аренду отпустить нельзя
func (r *LeaseRepository) Release(name, holder string) error {
	_, err := r.db.Exec(
		`DELETE FROM scheduler_leases WHERE name = $1 AND holder = $2`,
		name, holder,
	)
	return err
}
