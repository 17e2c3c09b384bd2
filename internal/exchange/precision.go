package exchange

import (
	"github.com/shopspring/decimal"

	"vledger/pkg/utils"
)

// precision.go - разрешение квантов количества и цены пары
//
// Чистая функция над метаданными рынка, без состояния. Если биржа не
// опубликовала шаги, применяются значения по умолчанию: 8 знаков для
// количества и цены, 2 знака для quote при фиатной/стейбл котировке,
// иначе 8

// Точность по умолчанию
const (
	DefaultAmountDecimals = 8
	DefaultPriceDecimals  = 8
	FiatQuoteDecimals     = 2
)

// stableQuotes - активы, котировка в которых считается долларовой
var stableQuotes = map[string]bool{
	"USD":   true,
	"USDT":  true,
	"USDC":  true,
	"BUSD":  true,
	"TUSD":  true,
	"FDUSD": true,
	"DAI":   true,
	"EUR":   true,
	"GBP":   true,
}

// IsStableQuote сообщает, признан ли актив фиатным/стейблом
func IsStableQuote(asset string) bool {
	return stableQuotes[asset]
}

// Precision - кванты округления одной пары
type Precision struct {
	AmountQuantum decimal.Decimal // шаг количества базового актива
	PriceQuantum  decimal.Decimal // шаг цены
	QuoteQuantum  decimal.Decimal // шаг суммы в котируемом активе
	QuoteAsset    string
}

// ResolvePrecision выводит кванты пары из опубликованных биржей
// лимитов. limits может быть nil: тогда действуют значения по
// умолчанию для указанного котируемого актива
func ResolvePrecision(limits *MarketLimits, quoteAsset string) Precision {
	p := Precision{
		AmountQuantum: utils.StepFromDecimals(DefaultAmountDecimals),
		PriceQuantum:  utils.StepFromDecimals(DefaultPriceDecimals),
		QuoteAsset:    quoteAsset,
	}

	if limits != nil {
		if limits.QuoteAsset != "" {
			p.QuoteAsset = limits.QuoteAsset
		}
		if limits.QtyStep.IsPositive() {
			p.AmountQuantum = limits.QtyStep
		} else if limits.AmountDecimals > 0 {
			p.AmountQuantum = utils.StepFromDecimals(limits.AmountDecimals)
		}
		if limits.PriceStep.IsPositive() {
			p.PriceQuantum = limits.PriceStep
		} else if limits.PriceDecimals > 0 {
			p.PriceQuantum = utils.StepFromDecimals(limits.PriceDecimals)
		}
	}

	if IsStableQuote(p.QuoteAsset) {
		p.QuoteQuantum = utils.StepFromDecimals(FiatQuoteDecimals)
	} else {
		p.QuoteQuantum = utils.StepFromDecimals(DefaultAmountDecimals)
	}

	return p
}
