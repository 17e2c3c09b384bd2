package exchange

import "fmt"

// SupportedExchanges содержит список поддерживаемых бирж
var SupportedExchanges = []string{"binance", "bybit"}

// NewExchange создает экземпляр биржи по имени
func NewExchange(name string) (Exchange, error) {
	switch name {
	case "binance":
		return NewBinance(), nil
	case "bybit":
		return NewBybit(), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", name)
	}
}

// IsSupported проверяет, поддерживается ли биржа
func IsSupported(name string) bool {
	for _, ex := range SupportedExchanges {
		if ex == name {
			return true
		}
	}
	return false
}
