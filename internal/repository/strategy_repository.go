package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"vledger/internal/models"
)

// Ошибки репозитория стратегий
var (
	ErrStrategyNotFound = errors.New("strategy not found")
	ErrStrategyExists   = errors.New("strategy already exists")
)

const strategyColumns = `id, user_id, credential_id, name, pair, base_symbol, quote_symbol, allocated_base, allocated_quote, is_active, webhook_token_digest, deleted_at, created_at, updated_at`

// StrategyRepository - работа с таблицей strategies
type StrategyRepository struct {
	db *sql.DB
}

// NewStrategyRepository создает новый экземпляр репозитория
func NewStrategyRepository(db *sql.DB) *StrategyRepository {
	return &StrategyRepository{db: db}
}

// Create создает новую стратегию
func (r *StrategyRepository) Create(strategy *models.Strategy) error {
	query := `
		INSERT INTO strategies (user_id, credential_id, name, pair, base_symbol, quote_symbol, allocated_base, allocated_quote, is_active, webhook_token_digest, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	now := time.Now()
	strategy.CreatedAt = now
	strategy.UpdatedAt = now

	err := r.db.QueryRow(
		query,
		strategy.UserID,
		strategy.CredentialID,
		strategy.Name,
		strategy.Pair,
		strategy.BaseSymbol,
		strategy.QuoteSymbol,
		strategy.AllocatedBase,
		strategy.AllocatedQuote,
		strategy.IsActive,
		strategy.TokenDigest,
		strategy.CreatedAt,
		strategy.UpdatedAt,
	).Scan(&strategy.ID)

	if err != nil {
		if isStrategyUniqueViolation(err) {
			return ErrStrategyExists
		}
		return err
	}

	return nil
}

// GetByID возвращает стратегию по ID (включая soft-deleted)
func (r *StrategyRepository) GetByID(id int) (*models.Strategy, error) {
	query := `
		SELECT ` + strategyColumns + `
		FROM strategies
		WHERE id = $1`

	return r.scanOne(r.db.QueryRow(query, id))
}

// GetByTokenDigest возвращает живую стратегию по дайджесту webhook-токена.
// Ищется SHA-256 от присланного токена: сам токен не хранится
func (r *StrategyRepository) GetByTokenDigest(digest string) (*models.Strategy, error) {
	query := `
		SELECT ` + strategyColumns + `
		FROM strategies
		WHERE webhook_token_digest = $1 AND deleted_at IS NULL`

	return r.scanOne(r.db.QueryRow(query, digest))
}

// GetForUpdate перечитывает стратегию внутри транзакции с блокировкой
// строки (SELECT ... FOR UPDATE). Два конкурентных перевода или перевод
// наперегонки с расчётом сделки не могут потратить одну аллокацию дважды
func (r *StrategyRepository) GetForUpdate(tx *sql.Tx, id int) (*models.Strategy, error) {
	query := `
		SELECT ` + strategyColumns + `
		FROM strategies
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE`

	return r.scanOne(tx.QueryRow(query, id))
}

// GetByUser возвращает живые стратегии пользователя
func (r *StrategyRepository) GetByUser(userID int) ([]*models.Strategy, error) {
	query := `
		SELECT ` + strategyColumns + `
		FROM strategies
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC`

	return r.scanMany(r.db.Query(query, userID))
}

// GetActiveByCredential возвращает живые стратегии, привязанные к ключу.
// Используется проверкой сохранения и drift-детектором
func (r *StrategyRepository) GetActiveByCredential(q Querier, credentialID int) ([]*models.Strategy, error) {
	query := `
		SELECT ` + strategyColumns + `
		FROM strategies
		WHERE credential_id = $1 AND deleted_at IS NULL
		ORDER BY id`

	return r.scanMany(q.Query(query, credentialID))
}

// GetAllActive возвращает все активные живые стратегии (для планового обхода)
func (r *StrategyRepository) GetAllActive() ([]*models.Strategy, error) {
	query := `
		SELECT ` + strategyColumns + `
		FROM strategies
		WHERE is_active = true AND deleted_at IS NULL
		ORDER BY id`

	return r.scanMany(r.db.Query(query))
}

// SumAllocations возвращает сумму аллокаций актива по всем живым
// стратегиям ключа. Актив может быть base одной стратегии и quote
// другой, суммируются обе стороны
func (r *StrategyRepository) SumAllocations(q Querier, credentialID int, asset string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(
			CASE WHEN base_symbol = $2 THEN allocated_base ELSE 0 END +
			CASE WHEN quote_symbol = $2 THEN allocated_quote ELSE 0 END
		), 0)
		FROM strategies
		WHERE credential_id = $1 AND deleted_at IS NULL`

	var sum decimal.Decimal
	if err := q.QueryRow(query, credentialID, asset).Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

// UpdateAllocations записывает новые аллокации стратегии.
// Вызывается только внутри транзакции после GetForUpdate
func (r *StrategyRepository) UpdateAllocations(tx *sql.Tx, id int, base, quote decimal.Decimal) error {
	query := `
		UPDATE strategies
		SET allocated_base = $1, allocated_quote = $2, updated_at = $3
		WHERE id = $4 AND deleted_at IS NULL`

	return r.execExpectingRow(tx, query, base, quote, time.Now(), id)
}

// UpdateStatus переключает активность стратегии (pause/activate)
func (r *StrategyRepository) UpdateStatus(id int, isActive bool) error {
	query := `
		UPDATE strategies
		SET is_active = $1, updated_at = $2
		WHERE id = $3 AND deleted_at IS NULL`

	return r.execExpectingRow(r.db, query, isActive, time.Now(), id)
}

// UpdateName переименовывает стратегию
func (r *StrategyRepository) UpdateName(id int, name string) error {
	query := `
		UPDATE strategies
		SET name = $1, updated_at = $2
		WHERE id = $3 AND deleted_at IS NULL`

	return r.execExpectingRow(r.db, query, name, time.Now(), id)
}

// UpdateTokenDigest заменяет дайджест webhook-токена (ротация токена)
func (r *StrategyRepository) UpdateTokenDigest(id int, digest string) error {
	query := `
		UPDATE strategies
		SET webhook_token_digest = $1, updated_at = $2
		WHERE id = $3 AND deleted_at IS NULL`

	return r.execExpectingRow(r.db, query, digest, time.Now(), id)
}

// SoftDelete помечает стратегию удалённой и обнуляет аллокации;
// активы возвращаются в "нераспределённые" на основном счёте.
// Журналы переводов и исполнений сохраняются
func (r *StrategyRepository) SoftDelete(tx *sql.Tx, id int) error {
	query := `
		UPDATE strategies
		SET allocated_base = 0, allocated_quote = 0, is_active = false, deleted_at = $1, updated_at = $1
		WHERE id = $2 AND deleted_at IS NULL`

	return r.execExpectingRow(tx, query, time.Now(), id)
}

// scanOne читает одну строку стратегии
func (r *StrategyRepository) scanOne(row *sql.Row) (*models.Strategy, error) {
	strategy := &models.Strategy{}
	err := row.Scan(
		&strategy.ID,
		&strategy.UserID,
		&strategy.CredentialID,
		&strategy.Name,
		&strategy.Pair,
		&strategy.BaseSymbol,
		&strategy.QuoteSymbol,
		&strategy.AllocatedBase,
		&strategy.AllocatedQuote,
		&strategy.IsActive,
		&strategy.TokenDigest,
		&strategy.DeletedAt,
		&strategy.CreatedAt,
		&strategy.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStrategyNotFound
		}
		return nil, err
	}

	return strategy, nil
}

// scanMany читает набор строк стратегий
func (r *StrategyRepository) scanMany(rows *sql.Rows, queryErr error) ([]*models.Strategy, error) {
	if queryErr != nil {
		return nil, queryErr
	}
	defer rows.Close()

	var strategies []*models.Strategy
	for rows.Next() {
		strategy := &models.Strategy{}
		err := rows.Scan(
			&strategy.ID,
			&strategy.UserID,
			&strategy.CredentialID,
			&strategy.Name,
			&strategy.Pair,
			&strategy.BaseSymbol,
			&strategy.QuoteSymbol,
			&strategy.AllocatedBase,
			&strategy.AllocatedQuote,
			&strategy.IsActive,
			&strategy.TokenDigest,
			&strategy.DeletedAt,
			&strategy.CreatedAt,
			&strategy.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, strategy)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return strategies, nil
}

// execExpectingRow выполняет UPDATE и требует ровно затронутую строку
func (r *StrategyRepository) execExpectingRow(q Querier, query string, args ...interface{}) error {
	result, err := q.Exec(query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrStrategyNotFound
	}

	return nil
}

// isStrategyUniqueViolation проверяет, является ли ошибка нарушением UNIQUE constraint
func isStrategyUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, "23505")
}
