package repository

import (
	"database/sql"
	"time"

	"vledger/internal/models"
)

const transferColumns = `id, user_id, source_id, destination_id, asset, amount, strategy_id_from, strategy_id_to, created_at`

// TransferRepository - работа с таблицей asset_transfer_log.
// Журнал append-only: есть вставка и чтение, обновления и удаления
// отсутствуют намеренно
type TransferRepository struct {
	db *sql.DB
}

// NewTransferRepository создает новый экземпляр репозитория
func NewTransferRepository(db *sql.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// Create добавляет запись о переводе. Пишется внутри транзакции леджера
func (r *TransferRepository) Create(q Querier, entry *models.AssetTransferLog) error {
	query := `
		INSERT INTO asset_transfer_log (user_id, source_id, destination_id, asset, amount, strategy_id_from, strategy_id_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	entry.CreatedAt = time.Now()

	return q.QueryRow(
		query,
		entry.UserID,
		entry.SourceID,
		entry.DestinationID,
		entry.Asset,
		entry.Amount,
		entry.StrategyIDFrom,
		entry.StrategyIDTo,
		entry.CreatedAt,
	).Scan(&entry.ID)
}

// GetByStrategy возвращает переводы, затронувшие стратегию, в
// хронологическом порядке. Источник денежных потоков для TWRR
func (r *TransferRepository) GetByStrategy(strategyID int) ([]*models.AssetTransferLog, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM asset_transfer_log
		WHERE strategy_id_from = $1 OR strategy_id_to = $1
		ORDER BY created_at ASC, id ASC`

	return r.scanMany(r.db.Query(query, strategyID))
}

// GetByUser возвращает переводы пользователя, новые первыми
func (r *TransferRepository) GetByUser(userID int, limit int) ([]*models.AssetTransferLog, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + transferColumns + `
		FROM asset_transfer_log
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	return r.scanMany(r.db.Query(query, userID, limit))
}

func (r *TransferRepository) scanMany(rows *sql.Rows, queryErr error) ([]*models.AssetTransferLog, error) {
	if queryErr != nil {
		return nil, queryErr
	}
	defer rows.Close()

	var entries []*models.AssetTransferLog
	for rows.Next() {
		entry := &models.AssetTransferLog{}
		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.SourceID,
			&entry.DestinationID,
			&entry.Asset,
			&entry.Amount,
			&entry.StrategyIDFrom,
			&entry.StrategyIDTo,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
