package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange определяет унифицированный интерфейс для работы с любой биржей.
// Одна реализация на биржу, выбор через реестр по имени - никакой
// иерархии адаптеров
type Exchange interface {
	// Connect устанавливает соединение с биржей и проверяет ключи
	Connect(apiKey, secret string) error

	// GetName возвращает имя биржи
	GetName() string

	// GetBalances получает свободные остатки спотового аккаунта по всем активам
	GetBalances(ctx context.Context) (map[string]decimal.Decimal, error)

	// GetTicker получает текущую цену пары
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	// GetMarketLimits получает торговые лимиты и точность пары
	GetMarketLimits(ctx context.Context, symbol string) (*MarketLimits, error)

	// PlaceMarketOrder размещает рыночный ордер с количеством в базовом активе
	PlaceMarketOrder(ctx context.Context, symbol, side string, qty decimal.Decimal, clientOrderID string) (*Order, error)

	// PlaceMarketBuyQuote размещает рыночную покупку на точную сумму в
	// котируемом активе ("потратить ровно X"). Позволяет обойти
	// округление базового актива целиком
	PlaceMarketBuyQuote(ctx context.Context, symbol string, quoteQty decimal.Decimal, clientOrderID string) (*Order, error)

	// SupportsQuoteOrders сообщает, умеет ли биржа покупки по сумме quote
	SupportsQuoteOrders() bool

	// GetOrder получает текущее состояние ордера
	GetOrder(ctx context.Context, symbol, orderID string) (*Order, error)

	// ValidateKeys проверяет ключи запросом, требующим подписи
	ValidateKeys(ctx context.Context) error

	// Close закрывает соединения с биржей
	Close() error
}

// Ticker содержит информацию о текущей цене
type Ticker struct {
	Symbol    string          `json:"symbol"`
	BidPrice  decimal.Decimal `json:"bid_price"`  // лучшая цена покупки
	AskPrice  decimal.Decimal `json:"ask_price"`  // лучшая цена продажи
	LastPrice decimal.Decimal `json:"last_price"` // последняя сделка
	Timestamp time.Time       `json:"timestamp"`
}

// Fee - одна комиссия исполнения
type Fee struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// Order представляет ордер
type Order struct {
	ID            string          `json:"id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"` // "buy" или "sell"
	Type          string          `json:"type"` // "market"
	Quantity      decimal.Decimal `json:"quantity"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	AvgFillPrice  decimal.Decimal `json:"avg_fill_price"`
	// CumQuoteCost - суммарная стоимость исполнения в котируемом активе
	CumQuoteCost decimal.Decimal `json:"cum_quote_cost"`
	// Fees - явные комиссии исполнения, если биржа их сообщает
	Fees []Fee `json:"fees,omitempty"`
	// TotalAfterFees - сообщённая биржей стоимость после комиссий.
	// Предпочтительный источник дельты расчёта; nil если биржа не отдаёт
	TotalAfterFees *decimal.Decimal `json:"total_after_fees,omitempty"`
	Status         string           `json:"status"`
	Raw            string           `json:"raw,omitempty"` // сырой ответ биржи для журнала
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// IsTerminal сообщает, достиг ли ордер конечного состояния
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// MarketLimits содержит торговые ограничения и точность пары
type MarketLimits struct {
	Symbol         string          `json:"symbol"`
	BaseAsset      string          `json:"base_asset"`
	QuoteAsset     string          `json:"quote_asset"`
	MinOrderQty    decimal.Decimal `json:"min_order_qty"` // минимальное количество базового актива
	MinNotional    decimal.Decimal `json:"min_notional"`  // минимальная сумма сделки в quote
	QtyStep        decimal.Decimal `json:"qty_step"`      // шаг количества (lot size)
	PriceStep      decimal.Decimal `json:"price_step"`    // шаг цены (tick size)
	AmountDecimals int32           `json:"amount_decimals"`
	PriceDecimals  int32           `json:"price_decimals"`
}

// Общие ошибки адаптеров
var (
	ErrTickerUnavailable = errors.New("ticker is not available")
	ErrOrderNotFound     = errors.New("order not found")
)

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// Коды, которыми биржи сообщают о нехватке средств
var insufficientFundsCodes = map[string]map[string]bool{
	"binance": {"-2010": true},
	"bybit":   {"170131": true, "170140": true},
}

// IsInsufficientFunds распознаёт отказ из-за нехватки средств.
// Запускает step-down retry на продажах
func IsInsufficientFunds(err error) bool {
	var exErr *ExchangeError
	if !errors.As(err, &exErr) {
		return false
	}
	codes, ok := insufficientFundsCodes[exErr.Exchange]
	return ok && codes[exErr.Code]
}

// Коды временных отказов (rate limit, перегрузка)
var transientCodes = map[string]map[string]bool{
	"binance": {"-1003": true, "-1021": true},
	"bybit":   {"10006": true, "10016": true},
}

// IsTransient распознаёт временный отказ, который имеет смысл повторить
func IsTransient(err error) bool {
	var exErr *ExchangeError
	if !errors.As(err, &exErr) {
		return false
	}
	codes, ok := transientCodes[exErr.Exchange]
	return ok && codes[exErr.Code]
}

// Side constants for orders
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order status constants
const (
	OrderStatusNew       = "new"
	OrderStatusPartial   = "partial"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)
