package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Strategy представляет виртуальный суб-счёт стратегии.
// Стратегия привязана к одному реальному ключу биржи и одной торговой
// паре; AllocatedBase/AllocatedQuote - её виртуальная доля реального
// баланса. Количества хранятся как decimal, не float: накопленный
// дрейф округления недопустим в леджере
type Strategy struct {
	ID             int             `json:"id" db:"id"`
	UserID         int             `json:"user_id" db:"user_id"`
	CredentialID   int             `json:"credential_id" db:"credential_id"`
	Name           string          `json:"name" db:"name"`
	Pair           string          `json:"pair" db:"pair"`                 // BTC/USDT
	BaseSymbol     string          `json:"base_symbol" db:"base_symbol"`   // BTC
	QuoteSymbol    string          `json:"quote_symbol" db:"quote_symbol"` // USDT
	AllocatedBase  decimal.Decimal `json:"allocated_base" db:"allocated_base"`
	AllocatedQuote decimal.Decimal `json:"allocated_quote" db:"allocated_quote"`
	IsActive       bool            `json:"is_active" db:"is_active"`
	TokenDigest    string          `json:"-" db:"webhook_token_digest"`          // SHA-256, не возвращается в JSON
	DeletedAt      *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"` // soft delete, аудит сохраняется
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// SupportsAsset сообщает, является ли актив base или quote пары стратегии
func (s *Strategy) SupportsAsset(asset string) bool {
	return asset == s.BaseSymbol || asset == s.QuoteSymbol
}
