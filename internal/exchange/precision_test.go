package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
)

// ============================================================
// Тесты разрешения точности
// ============================================================

func TestResolvePrecision_FromSteps(t *testing.T) {
	limits := &MarketLimits{
		Symbol:     "BTCUSDT",
		BaseAsset:  "BTC",
		QuoteAsset: "USDT",
		QtyStep:    decimal.RequireFromString("0.0001"),
		PriceStep:  decimal.RequireFromString("0.01"),
	}

	p := ResolvePrecision(limits, "USDT")

	if !p.AmountQuantum.Equal(decimal.RequireFromString("0.0001")) {
		t.Errorf("AmountQuantum = %s, want 0.0001", p.AmountQuantum)
	}
	if !p.PriceQuantum.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("PriceQuantum = %s, want 0.01", p.PriceQuantum)
	}
	if !p.QuoteQuantum.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("QuoteQuantum = %s, want 0.01 for stable quote", p.QuoteQuantum)
	}
}

func TestResolvePrecision_FromDecimals(t *testing.T) {
	limits := &MarketLimits{
		Symbol:         "ETHBTC",
		BaseAsset:      "ETH",
		QuoteAsset:     "BTC",
		AmountDecimals: 3,
		PriceDecimals:  6,
	}

	p := ResolvePrecision(limits, "BTC")

	if !p.AmountQuantum.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("AmountQuantum = %s, want 0.001", p.AmountQuantum)
	}
	if !p.PriceQuantum.Equal(decimal.RequireFromString("0.000001")) {
		t.Errorf("PriceQuantum = %s, want 0.000001", p.PriceQuantum)
	}
	// BTC не стейбл: quote квантуется до 8 знаков
	if !p.QuoteQuantum.Equal(decimal.RequireFromString("0.00000001")) {
		t.Errorf("QuoteQuantum = %s, want 0.00000001 for crypto quote", p.QuoteQuantum)
	}
}

func TestResolvePrecision_NilLimits(t *testing.T) {
	p := ResolvePrecision(nil, "USDT")

	if !p.AmountQuantum.Equal(decimal.RequireFromString("0.00000001")) {
		t.Errorf("AmountQuantum = %s, want default 1e-8", p.AmountQuantum)
	}
	if !p.PriceQuantum.Equal(decimal.RequireFromString("0.00000001")) {
		t.Errorf("PriceQuantum = %s, want default 1e-8", p.PriceQuantum)
	}
	if p.QuoteAsset != "USDT" {
		t.Errorf("QuoteAsset = %s, want USDT", p.QuoteAsset)
	}
}

func TestIsStableQuote(t *testing.T) {
	tests := []struct {
		asset string
		want  bool
	}{
		{"USDT", true},
		{"USDC", true},
		{"EUR", true},
		{"BTC", false},
		{"ETH", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsStableQuote(tt.asset); got != tt.want {
			t.Errorf("IsStableQuote(%q) = %v, want %v", tt.asset, got, tt.want)
		}
	}
}
