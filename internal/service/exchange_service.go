package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vledger/internal/exchange"
	"vledger/internal/models"
	"vledger/pkg/breaker"
	"vledger/pkg/crypto"
	"vledger/pkg/utils"
)

// Ошибки сервиса
var (
	ErrExchangeNotSupported = errors.New("exchange is not supported")
	ErrInvalidCredentials   = errors.New("invalid API credentials")
	ErrConnectionFailed     = errors.New("failed to connect to exchange")
	ErrBelowMinQty          = errors.New("order quantity below exchange minimum")
	ErrBelowMinNotional     = errors.New("order value below exchange minimum notional")
	ErrUnpricedQuote        = errors.New("cannot price quote asset in USD")
)

// Срок жизни кэшей. Котировка устаревает быстро, лимиты рынка
// практически статичны
const (
	tickerCacheTTL   = 2 * time.Second
	balancesCacheTTL = 5 * time.Second
	limitsCacheTTL   = 10 * time.Minute
)

// Максимум понижений количества при отказе "insufficient funds" на продаже
const maxSellStepDowns = 3

// TradeRequest - запрос на исполнение рыночного ордера.
// Для покупки задаётся QuoteQty (сумма к трате), для продажи - BaseQty
type TradeRequest struct {
	Pair          string // нормализованная пара BASE/QUOTE
	Side          string // exchange.SideBuy / exchange.SideSell
	BaseQty       decimal.Decimal
	QuoteQty      decimal.Decimal
	ClientOrderID string
}

type cachedTicker struct {
	ticker    *exchange.Ticker
	fetchedAt time.Time
}

type cachedBalances struct {
	balances  map[string]decimal.Decimal
	fetchedAt time.Time
}

type cachedLimits struct {
	limits    *exchange.MarketLimits
	fetchedAt time.Time
}

// ExchangeService - адаптер доступа к биржам от имени учетных данных.
// Держит кэш живых соединений (по credential ID), короткоживущие кэши
// котировок и балансов и предохранители на каждую логическую операцию
type ExchangeService struct {
	credRepo CredentialRepositoryInterface
	cipher   *crypto.Cipher
	breakers *breaker.Registry

	// Кэш активных соединений с биржами
	connections   map[int]exchange.Exchange
	connectionsMu sync.RWMutex

	tickers  map[string]cachedTicker
	balances map[int]cachedBalances
	limits   map[string]cachedLimits
	cacheMu  sync.RWMutex

	// Фабрика бирж, подменяется в тестах
	newExchange func(name string) (exchange.Exchange, error)

	log *utils.Logger
}

// NewExchangeService создает новый экземпляр сервиса.
// Registry предохранителей передаётся снаружи: им владеет main,
// чтобы состояние было видно метрикам и не терялось между сервисами
func NewExchangeService(
	credRepo CredentialRepositoryInterface,
	cipher *crypto.Cipher,
	breakers *breaker.Registry,
) *ExchangeService {
	return &ExchangeService{
		credRepo:    credRepo,
		cipher:      cipher,
		breakers:    breakers,
		connections: make(map[int]exchange.Exchange),
		tickers:     make(map[string]cachedTicker),
		balances:    make(map[int]cachedBalances),
		limits:      make(map[string]cachedLimits),
		newExchange: exchange.NewExchange,
		log:         utils.L().WithComponent("exchange_service"),
	}
}

// ValidateAPIKeys выполняет тестовое подключение с переданными ключами.
// Используется при создании и ротации учетных данных, до записи в БД
func (s *ExchangeService) ValidateAPIKeys(ctx context.Context, exchangeName, apiKey, secretKey string) error {
	exchangeName = strings.ToLower(exchangeName)
	if !exchange.IsSupported(exchangeName) {
		return ErrExchangeNotSupported
	}

	exch, err := s.newExchange(exchangeName)
	if err != nil {
		return err
	}
	defer exch.Close()

	if err := exch.Connect(apiKey, secretKey); err != nil {
		return errors.Join(ErrInvalidCredentials, err)
	}
	return nil
}

// GetClient возвращает живое соединение по credential ID,
// создавая его при первом обращении
func (s *ExchangeService) GetClient(ctx context.Context, credentialID int) (exchange.Exchange, error) {
	s.connectionsMu.RLock()
	conn, exists := s.connections[credentialID]
	s.connectionsMu.RUnlock()

	if exists {
		return conn, nil
	}

	cred, err := s.credRepo.GetByID(credentialID)
	if err != nil {
		return nil, err
	}

	apiKey, err := s.cipher.Decrypt(cred.APIKey)
	if err != nil {
		return nil, err
	}
	secretKey, err := s.cipher.Decrypt(cred.SecretKey)
	if err != nil {
		return nil, err
	}

	conn, err = s.newExchange(cred.Exchange)
	if err != nil {
		return nil, err
	}

	if err := conn.Connect(apiKey, secretKey); err != nil {
		return nil, errors.Join(ErrConnectionFailed, err)
	}

	s.connectionsMu.Lock()
	// Возможна гонка двух первых обращений: оставляем уже сохранённое
	if existing, ok := s.connections[credentialID]; ok {
		s.connectionsMu.Unlock()
		_ = conn.Close()
		return existing, nil
	}
	s.connections[credentialID] = conn
	s.connectionsMu.Unlock()

	return conn, nil
}

// InvalidateCredential закрывает и забывает соединение.
// Вызывается после ротации или удаления ключей
func (s *ExchangeService) InvalidateCredential(credentialID int) {
	s.connectionsMu.Lock()
	if conn, exists := s.connections[credentialID]; exists {
		_ = conn.Close()
		delete(s.connections, credentialID)
	}
	s.connectionsMu.Unlock()

	s.cacheMu.Lock()
	delete(s.balances, credentialID)
	s.cacheMu.Unlock()
}

// GetTicker возвращает котировку пары с коротким кэшем
func (s *ExchangeService) GetTicker(ctx context.Context, credentialID int, symbol string) (*exchange.Ticker, error) {
	key := fmt.Sprintf("%d:%s", credentialID, symbol)

	s.cacheMu.RLock()
	cached, ok := s.tickers[key]
	s.cacheMu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < tickerCacheTTL {
		return cached.ticker, nil
	}

	conn, err := s.GetClient(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	var ticker *exchange.Ticker
	err = s.breakers.Do(ctx, conn.GetName()+".ticker", func() error {
		var opErr error
		ticker, opErr = conn.GetTicker(ctx, exchangeSymbol(symbol))
		return opErr
	})
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.tickers[key] = cachedTicker{ticker: ticker, fetchedAt: time.Now()}
	s.cacheMu.Unlock()

	return ticker, nil
}

// GetBalances возвращает свободные балансы аккаунта с коротким кэшем
func (s *ExchangeService) GetBalances(ctx context.Context, credentialID int) (map[string]decimal.Decimal, error) {
	s.cacheMu.RLock()
	cached, ok := s.balances[credentialID]
	s.cacheMu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < balancesCacheTTL {
		return cached.balances, nil
	}

	conn, err := s.GetClient(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	var balances map[string]decimal.Decimal
	err = s.breakers.Do(ctx, conn.GetName()+".balances", func() error {
		var opErr error
		balances, opErr = conn.GetBalances(ctx)
		return opErr
	})
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.balances[credentialID] = cachedBalances{balances: balances, fetchedAt: time.Now()}
	s.cacheMu.Unlock()

	return balances, nil
}

// GetMarketLimits возвращает торговые лимиты пары. Лимиты меняются
// редко, кэш долгий
func (s *ExchangeService) GetMarketLimits(ctx context.Context, credentialID int, symbol string) (*exchange.MarketLimits, error) {
	conn, err := s.GetClient(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	key := conn.GetName() + ":" + symbol

	s.cacheMu.RLock()
	cached, ok := s.limits[key]
	s.cacheMu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < limitsCacheTTL {
		return cached.limits, nil
	}

	var limits *exchange.MarketLimits
	err = s.breakers.Do(ctx, conn.GetName()+".limits", func() error {
		var opErr error
		limits, opErr = conn.GetMarketLimits(ctx, exchangeSymbol(symbol))
		return opErr
	})
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.limits[key] = cachedLimits{limits: limits, fetchedAt: time.Now()}
	s.cacheMu.Unlock()

	return limits, nil
}

// GetOrder запрашивает состояние ордера
func (s *ExchangeService) GetOrder(ctx context.Context, credentialID int, symbol, orderID string) (*exchange.Order, error) {
	conn, err := s.GetClient(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	var order *exchange.Order
	err = s.breakers.Do(ctx, conn.GetName()+".order_status", func() error {
		var opErr error
		order, opErr = conn.GetOrder(ctx, exchangeSymbol(symbol), orderID)
		return opErr
	})
	return order, err
}

// ExecuteTrade исполняет рыночный ордер.
//
// Количество всегда квантуется вниз к шагу биржи: округление вверх
// может превысить доступный остаток. Локальная проверка минимального
// количества и минимальной суммы выполняется до обращения к бирже.
//
// Покупка предпочитает ордер, номинированный в quote: биржа сама
// подбирает количество под текущую цену. Если биржа такого не умеет,
// количество базового актива выводится из цены ask.
//
// Продажа при отказе "insufficient funds" понижает количество на один
// шаг и повторяет, не более maxSellStepDowns раз. Исходная ошибка
// сохраняется и возвращается при исчерпании попыток
func (s *ExchangeService) ExecuteTrade(ctx context.Context, credentialID int, req *TradeRequest) (*exchange.Order, error) {
	conn, err := s.GetClient(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	limits, err := s.GetMarketLimits(ctx, credentialID, req.Pair)
	if err != nil {
		// Торгуем с точностью по умолчанию, лимиты проверит биржа
		s.log.Warn("market limits unavailable, falling back to defaults",
			utils.Symbol(req.Pair), zap.Error(err))
		limits = nil
	}

	quote := quoteAsset(req.Pair)
	prec := exchange.ResolvePrecision(limits, quote)
	symbol := exchangeSymbol(req.Pair)

	var order *exchange.Order
	switch req.Side {
	case exchange.SideBuy:
		order, err = s.executeBuy(ctx, conn, limits, prec, symbol, req)
	case exchange.SideSell:
		order, err = s.executeSell(ctx, conn, limits, prec, symbol, req)
	default:
		return nil, fmt.Errorf("unknown order side: %s", req.Side)
	}
	if err != nil {
		return nil, err
	}

	// Сделка меняет реальный баланс: кэш обязан забыть старое
	// значение, иначе невыделенный остаток посчитается по нему
	s.cacheMu.Lock()
	delete(s.balances, credentialID)
	s.cacheMu.Unlock()

	return order, nil
}

func (s *ExchangeService) executeBuy(ctx context.Context, conn exchange.Exchange, limits *exchange.MarketLimits, prec exchange.Precision, symbol string, req *TradeRequest) (*exchange.Order, error) {
	quoteQty := utils.QuantizeToStep(req.QuoteQty, prec.QuoteQuantum)
	if !quoteQty.IsPositive() {
		return nil, ErrBelowMinNotional
	}
	if limits != nil && limits.MinNotional.IsPositive() && quoteQty.LessThan(limits.MinNotional) {
		return nil, ErrBelowMinNotional
	}

	if conn.SupportsQuoteOrders() {
		var order *exchange.Order
		err := s.breakers.Do(ctx, conn.GetName()+".order", func() error {
			var opErr error
			order, opErr = conn.PlaceMarketBuyQuote(ctx, symbol, quoteQty, req.ClientOrderID)
			return opErr
		})
		return order, err
	}

	// Биржа принимает только количество базового актива:
	// выводим его из текущей цены ask
	ticker, err := conn.GetTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !ticker.AskPrice.IsPositive() {
		return nil, fmt.Errorf("%s: ask price is not positive", symbol)
	}

	baseQty := utils.QuantizeToStep(quoteQty.Div(ticker.AskPrice), prec.AmountQuantum)
	if !baseQty.IsPositive() {
		return nil, ErrBelowMinQty
	}
	if limits != nil && limits.MinOrderQty.IsPositive() && baseQty.LessThan(limits.MinOrderQty) {
		return nil, ErrBelowMinQty
	}

	var order *exchange.Order
	err = s.breakers.Do(ctx, conn.GetName()+".order", func() error {
		var opErr error
		order, opErr = conn.PlaceMarketOrder(ctx, symbol, exchange.SideBuy, baseQty, req.ClientOrderID)
		return opErr
	})
	return order, err
}

func (s *ExchangeService) executeSell(ctx context.Context, conn exchange.Exchange, limits *exchange.MarketLimits, prec exchange.Precision, symbol string, req *TradeRequest) (*exchange.Order, error) {
	qty := utils.QuantizeToStep(req.BaseQty, prec.AmountQuantum)
	if !qty.IsPositive() {
		return nil, ErrBelowMinQty
	}
	if limits != nil && limits.MinOrderQty.IsPositive() && qty.LessThan(limits.MinOrderQty) {
		return nil, ErrBelowMinQty
	}

	var origErr error

	for attempt := 0; ; attempt++ {
		var order *exchange.Order
		err := s.breakers.Do(ctx, conn.GetName()+".order", func() error {
			var opErr error
			order, opErr = conn.PlaceMarketOrder(ctx, symbol, exchange.SideSell, qty, req.ClientOrderID)
			return opErr
		})
		if err == nil {
			return order, nil
		}
		if !exchange.IsInsufficientFunds(err) {
			return nil, err
		}
		if origErr == nil {
			origErr = err
		}
		if attempt >= maxSellStepDowns {
			return nil, origErr
		}

		// Дробная пыль на балансе: понижаем количество на один шаг
		next := utils.QuantizeToStep(qty.Sub(prec.AmountQuantum), prec.AmountQuantum)
		if !next.IsPositive() || next.Equal(qty) {
			return nil, origErr
		}
		s.log.Warn("insufficient funds on sell, stepping quantity down",
			utils.Symbol(symbol),
			utils.Amount(qty.String()),
			zap.String("next_amount", next.String()))
		qty = next
	}
}

// PriceUSD возвращает долларовую цену актива. Стейблы и фиат
// принимаются за доллар, остальные активы оцениваются через пару
// ASSET/USDT
func (s *ExchangeService) PriceUSD(ctx context.Context, credentialID int, asset string) (decimal.Decimal, error) {
	if exchange.IsStableQuote(asset) {
		return decimal.NewFromInt(1), nil
	}

	ticker, err := s.GetTicker(ctx, credentialID, asset+"/USDT")
	if err != nil {
		return decimal.Zero, errors.Join(ErrUnpricedQuote, err)
	}
	return ticker.LastPrice, nil
}

// ValueUSD оценивает стоимость выделенных стратегии активов в USD
func (s *ExchangeService) ValueUSD(ctx context.Context, credentialID int, strategy *models.Strategy) (decimal.Decimal, error) {
	basePrice, err := s.PriceUSD(ctx, credentialID, strategy.BaseSymbol)
	if err != nil {
		return decimal.Zero, err
	}
	quotePrice, err := s.PriceUSD(ctx, credentialID, strategy.QuoteSymbol)
	if err != nil {
		return decimal.Zero, err
	}
	return strategy.AllocatedBase.Mul(basePrice).Add(strategy.AllocatedQuote.Mul(quotePrice)), nil
}

// AssetValue - оценка одного актива в составе портфеля
type AssetValue struct {
	Asset    string          `json:"asset"`
	Quantity decimal.Decimal `json:"quantity"`
	ValueUSD decimal.Decimal `json:"value_usd"`
}

// PortfolioValue - суммарная долларовая оценка аккаунта.
// PricingErrors содержит активы, для которых не нашлось котировки:
// их количество известно, стоимость не учтена
type PortfolioValue struct {
	TotalUSD      decimal.Decimal `json:"total_usd"`
	Balances      []AssetValue    `json:"balances"`
	PricingErrors []string        `json:"pricing_errors,omitempty"`
}

// GetPortfolioValue оценивает все свободные балансы аккаунта в USD
func (s *ExchangeService) GetPortfolioValue(ctx context.Context, credentialID int) (*PortfolioValue, error) {
	balances, err := s.GetBalances(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	result := &PortfolioValue{Balances: make([]AssetValue, 0, len(balances))}
	for asset, qty := range balances {
		price, err := s.PriceUSD(ctx, credentialID, asset)
		if err != nil {
			result.PricingErrors = append(result.PricingErrors, asset)
			result.Balances = append(result.Balances, AssetValue{Asset: asset, Quantity: qty})
			continue
		}
		value := qty.Mul(price)
		result.TotalUSD = result.TotalUSD.Add(value)
		result.Balances = append(result.Balances, AssetValue{Asset: asset, Quantity: qty, ValueUSD: value})
	}
	return result, nil
}

// Close закрывает все соединения с биржами.
// Вызывается при graceful shutdown
func (s *ExchangeService) Close() error {
	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()

	for id, conn := range s.connections {
		_ = conn.Close()
		delete(s.connections, id)
	}
	return nil
}

// exchangeSymbol конвертирует BASE/QUOTE в формат бирж (BTCUSDT)
func exchangeSymbol(pair string) string {
	return strings.ReplaceAll(pair, "/", "")
}

// quoteAsset выделяет котируемый актив пары BASE/QUOTE
func quoteAsset(pair string) string {
	if i := strings.IndexByte(pair, '/'); i >= 0 {
		return pair[i+1:]
	}
	return ""
}
