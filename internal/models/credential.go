package models

import "time"

// ExchangeCredential представляет реальный API ключ биржи.
// Один ключ на (пользователь, биржа, метка портфеля); владеет нулём
// или более стратегий. Ключи зашифрованы на месте хранения и
// расшифровываются только на время исходящего вызова. После валидации
// неизменяем, кроме ротации
type ExchangeCredential struct {
	ID        int       `json:"id" db:"id"`
	UserID    int       `json:"user_id" db:"user_id"`
	Exchange  string    `json:"exchange" db:"exchange"` // binance, bybit
	Label     string    `json:"label" db:"label"`       // метка портфеля
	APIKey    string    `json:"-" db:"api_key_enc"`     // зашифрован, не возвращается в JSON
	SecretKey string    `json:"-" db:"secret_key_enc"`  // зашифрован
	Validated bool      `json:"validated" db:"validated"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
