package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyValueSnapshot представляет точечную оценку стоимости стратегии.
// Создаётся после каждого перевода, после каждой расчётной сделки и раз
// в сутки плановым обходом. После вставки не меняется, кроме
// дедупликации за текущий день плановым обходом
type StrategyValueSnapshot struct {
	ID         int             `json:"id" db:"id"`
	StrategyID int             `json:"strategy_id" db:"strategy_id"`
	ValueUSD   decimal.Decimal `json:"value_usd" db:"value_usd"`
	BaseQty    decimal.Decimal `json:"base_qty" db:"base_qty_snapshot"`
	QuoteQty   decimal.Decimal `json:"quote_qty" db:"quote_qty_snapshot"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}
