package repository

import (
	"database/sql"
	"time"

	"vledger/internal/models"
)

const snapshotColumns = `id, strategy_id, value_usd, base_qty_snapshot, quote_qty_snapshot, created_at`

// SnapshotRepository - работа с таблицей strategy_value_history.
// Снимки неизменны после вставки; единственное исключение -
// дедупликация за текущий день плановым обходом (UpsertDaily)
type SnapshotRepository struct {
	db *sql.DB
}

// NewSnapshotRepository создает новый экземпляр репозитория
func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Create добавляет снимок. Временная метка берётся в момент вставки:
// снимок после перевода обязан быть строго позже строки журнала
func (r *SnapshotRepository) Create(q Querier, snap *models.StrategyValueSnapshot) error {
	query := `
		INSERT INTO strategy_value_history (strategy_id, value_usd, base_qty_snapshot, quote_qty_snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	snap.CreatedAt = time.Now()

	return q.QueryRow(
		query,
		snap.StrategyID,
		snap.ValueUSD,
		snap.BaseQty,
		snap.QuoteQty,
		snap.CreatedAt,
	).Scan(&snap.ID)
}

// UpsertDaily записывает дневной снимок планового обхода: если за
// сегодня снимок обхода уже есть, он обновляется, иначе вставляется.
// today передаётся началом суток в UTC
func (r *SnapshotRepository) UpsertDaily(snap *models.StrategyValueSnapshot, dayStart time.Time) error {
	dayEnd := dayStart.Add(24 * time.Hour)

	updateQuery := `
		UPDATE strategy_value_history
		SET value_usd = $1, base_qty_snapshot = $2, quote_qty_snapshot = $3, created_at = $4
		WHERE id = (
			SELECT id FROM strategy_value_history
			WHERE strategy_id = $5 AND created_at >= $6 AND created_at < $7
			ORDER BY created_at DESC
			LIMIT 1
		)`

	snap.CreatedAt = time.Now()

	result, err := r.db.Exec(
		updateQuery,
		snap.ValueUSD,
		snap.BaseQty,
		snap.QuoteQty,
		snap.CreatedAt,
		snap.StrategyID,
		dayStart,
		dayEnd,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected > 0 {
		return nil
	}

	return r.Create(r.db, snap)
}

// GetByStrategy возвращает снимки стратегии в интервале [from, to) в
// хронологическом порядке
func (r *SnapshotRepository) GetByStrategy(strategyID int, from, to time.Time) ([]*models.StrategyValueSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM strategy_value_history
		WHERE strategy_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(query, strategyID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*models.StrategyValueSnapshot
	for rows.Next() {
		snap := &models.StrategyValueSnapshot{}
		err := rows.Scan(
			&snap.ID,
			&snap.StrategyID,
			&snap.ValueUSD,
			&snap.BaseQty,
			&snap.QuoteQty,
			&snap.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return snaps, nil
}

// GetAllByStrategy возвращает полную историю снимков стратегии
func (r *SnapshotRepository) GetAllByStrategy(strategyID int) ([]*models.StrategyValueSnapshot, error) {
	// Широкий интервал вместо отдельного запроса
	from := time.Unix(0, 0)
	to := time.Now().Add(24 * time.Hour)
	return r.GetByStrategy(strategyID, from, to)
}
