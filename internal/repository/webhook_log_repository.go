package repository

import (
	"database/sql"
	"time"

	"vledger/internal/models"
)

const webhookLogColumns = `id, strategy_id, payload, action, sized_amount, status, message, order_id, client_order_id, raw_response, created_at, settled_at`

// WebhookLogRepository - работа с таблицей webhook_execution_log.
// Write-once: запись создаётся по завершении конвейера и не меняется
type WebhookLogRepository struct {
	db *sql.DB
}

// NewWebhookLogRepository создает новый экземпляр репозитория
func NewWebhookLogRepository(db *sql.DB) *WebhookLogRepository {
	return &WebhookLogRepository{db: db}
}

// Create добавляет запись об обработанном сигнале. Принимает Querier:
// при расчёте сделки запись входит в ту же транзакцию, что и
// обновление выделений
func (r *WebhookLogRepository) Create(q Querier, entry *models.WebhookExecutionLog) error {
	if q == nil {
		q = r.db
	}

	query := `
		INSERT INTO webhook_execution_log (strategy_id, payload, action, sized_amount, status, message, order_id, client_order_id, raw_response, created_at, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	entry.CreatedAt = time.Now()

	return q.QueryRow(
		query,
		entry.StrategyID,
		entry.Payload,
		entry.Action,
		entry.SizedAmount,
		entry.Status,
		entry.Message,
		entry.OrderID,
		entry.ClientOrderID,
		entry.RawResponse,
		entry.CreatedAt,
		entry.SettledAt,
	).Scan(&entry.ID)
}

// GetByStrategy возвращает последние записи по стратегии, новые первыми
func (r *WebhookLogRepository) GetByStrategy(strategyID int, limit int) ([]*models.WebhookExecutionLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + webhookLogColumns + `
		FROM webhook_execution_log
		WHERE strategy_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	return r.scanMany(r.db.Query(query, strategyID, limit))
}

// GetFirstSuccess возвращает время самого раннего успешно
// рассчитанного сигнала стратегии. Переводы до этого момента
// считаются чистым финансированием и не входят в денежные потоки
// доходности. Если сделок ещё не было, возвращается (nil, nil)
func (r *WebhookLogRepository) GetFirstSuccess(strategyID int) (*time.Time, error) {
	query := `
		SELECT MIN(created_at)
		FROM webhook_execution_log
		WHERE strategy_id = $1 AND status = $2`

	var first sql.NullTime
	err := r.db.QueryRow(query, strategyID, models.WebhookStatusSuccess).Scan(&first)
	if err != nil {
		return nil, err
	}

	if !first.Valid {
		return nil, nil
	}
	return &first.Time, nil
}

func (r *WebhookLogRepository) scanMany(rows *sql.Rows, queryErr error) ([]*models.WebhookExecutionLog, error) {
	if queryErr != nil {
		return nil, queryErr
	}
	defer rows.Close()

	var entries []*models.WebhookExecutionLog
	for rows.Next() {
		entry := &models.WebhookExecutionLog{}
		err := rows.Scan(
			&entry.ID,
			&entry.StrategyID,
			&entry.Payload,
			&entry.Action,
			&entry.SizedAmount,
			&entry.Status,
			&entry.Message,
			&entry.OrderID,
			&entry.ClientOrderID,
			&entry.RawResponse,
			&entry.CreatedAt,
			&entry.SettledAt,
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
