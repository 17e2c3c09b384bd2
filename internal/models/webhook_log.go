package models

import "time"

// WebhookExecutionLog представляет один обработанный сигнал.
// Write-once: строка создаётся по завершении конвейера и никогда не
// меняется. StrategyID nullable, чтобы журнал переживал удаление
// стратегии
type WebhookExecutionLog struct {
	ID            int        `json:"id" db:"id"`
	StrategyID    *int       `json:"strategy_id,omitempty" db:"strategy_id"`
	Payload       string     `json:"payload" db:"payload"`                     // исходный JSON сигнала
	Action        string     `json:"action" db:"action"`                       // buy, sell
	SizedAmount   string     `json:"sized_amount,omitempty" db:"sized_amount"` // решение по размеру, decimal-строка
	Status        string     `json:"status" db:"status"`
	Message       string     `json:"message,omitempty" db:"message"`
	OrderID       string     `json:"order_id,omitempty" db:"order_id"`
	ClientOrderID string     `json:"client_order_id,omitempty" db:"client_order_id"`
	RawResponse   string     `json:"raw_response,omitempty" db:"raw_response"` // сырой ответ биржи
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	SettledAt     *time.Time `json:"settled_at,omitempty" db:"settled_at"`
}

// Статусы обработки сигнала
const (
	WebhookStatusSuccess  = "success"
	WebhookStatusError    = "error"
	WebhookStatusRejected = "rejected"
	WebhookStatusIgnored  = "ignored"
)
