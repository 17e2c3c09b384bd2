package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"vledger/pkg/ratelimit"
)

const (
	binanceBaseURL = "https://api.binance.com"
)

// Binance реализует интерфейс Exchange для спотового рынка Binance
type Binance struct {
	apiKey    string
	secretKey string

	httpClient *http.Client
	limiter    *ratelimit.RateLimiter

	connected bool
}

// NewBinance создает новый экземпляр Binance.
// Использует глобальный HTTP клиент с connection pooling
func NewBinance() *Binance {
	return &Binance{
		httpClient: GetGlobalHTTPClient().GetClient(),
		limiter:    ratelimit.NewRateLimiter(20, 40),
	}
}

// sign создает подпись HMAC-SHA256 строки запроса
func (b *Binance) sign(query string) string {
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет HTTP запрос к Binance API
func (b *Binance) doRequest(ctx context.Context, method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if params == nil {
		params = url.Values{}
	}

	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("recvWindow", "5000")
		params.Set("signature", b.sign(params.Encode()))
	}

	query := params.Encode()

	var reqURL, reqBody string
	if method == http.MethodGet || method == http.MethodDelete {
		reqURL = binanceBaseURL + endpoint
		if query != "" {
			reqURL += "?" + query
		}
	} else {
		reqURL = binanceBaseURL + endpoint
		reqBody = query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if b.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != 0 {
			return nil, &ExchangeError{
				Exchange: "binance",
				Code:     strconv.Itoa(apiErr.Code),
				Message:  apiErr.Msg,
			}
		}
		return nil, &ExchangeError{
			Exchange: "binance",
			Code:     strconv.Itoa(resp.StatusCode),
			Message:  string(body),
		}
	}

	return body, nil
}

func (b *Binance) Connect(apiKey, secret string) error {
	b.apiKey = apiKey
	b.secretKey = secret

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := b.ValidateKeys(ctx); err != nil {
		return fmt.Errorf("failed to connect to Binance: %w", err)
	}

	b.connected = true
	return nil
}

func (b *Binance) GetName() string {
	return "binance"
}

func (b *Binance) SupportsQuoteOrders() bool {
	return true
}

func (b *Binance) ValidateKeys(ctx context.Context) error {
	_, err := b.doRequest(ctx, http.MethodGet, "/api/v3/account", nil, true)
	return err
}

func (b *Binance) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	body, err := b.doRequest(ctx, http.MethodGet, "/api/v3/account", nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	balances := make(map[string]decimal.Decimal, len(resp.Balances))
	for _, bal := range resp.Balances {
		free, err := decimal.NewFromString(bal.Free)
		if err != nil {
			continue
		}
		if free.IsPositive() {
			balances[bal.Asset] = free
		}
	}

	return balances, nil
}

func (b *Binance) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := b.doRequest(ctx, http.MethodGet, "/api/v3/ticker/24hr", params, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Symbol    string `json:"symbol"`
		BidPrice  string `json:"bidPrice"`
		AskPrice  string `json:"askPrice"`
		LastPrice string `json:"lastPrice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	bid, err := decimal.NewFromString(resp.BidPrice)
	if err != nil {
		return nil, fmt.Errorf("binance: bad bid price %q: %w", resp.BidPrice, err)
	}
	ask, err := decimal.NewFromString(resp.AskPrice)
	if err != nil {
		return nil, fmt.Errorf("binance: bad ask price %q: %w", resp.AskPrice, err)
	}
	last, err := decimal.NewFromString(resp.LastPrice)
	if err != nil {
		return nil, fmt.Errorf("binance: bad last price %q: %w", resp.LastPrice, err)
	}

	return &Ticker{
		Symbol:    resp.Symbol,
		BidPrice:  bid,
		AskPrice:  ask,
		LastPrice: last,
		Timestamp: time.Now(),
	}, nil
}

func (b *Binance) GetMarketLimits(ctx context.Context, symbol string) (*MarketLimits, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := b.doRequest(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Symbols []struct {
			Symbol             string `json:"symbol"`
			BaseAsset          string `json:"baseAsset"`
			QuoteAsset         string `json:"quoteAsset"`
			BaseAssetPrecision int32  `json:"baseAssetPrecision"`
			QuotePrecision     int32  `json:"quoteAssetPrecision"`
			Filters            []struct {
				FilterType  string `json:"filterType"`
				MinQty      string `json:"minQty"`
				StepSize    string `json:"stepSize"`
				TickSize    string `json:"tickSize"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Symbols) == 0 {
		return nil, fmt.Errorf("binance: symbol info not found for %s", symbol)
	}

	info := resp.Symbols[0]
	limits := &MarketLimits{
		Symbol:         info.Symbol,
		BaseAsset:      info.BaseAsset,
		QuoteAsset:     info.QuoteAsset,
		AmountDecimals: info.BaseAssetPrecision,
		PriceDecimals:  info.QuotePrecision,
	}

	for _, f := range info.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			limits.MinOrderQty, _ = decimal.NewFromString(f.MinQty)
			limits.QtyStep, _ = decimal.NewFromString(f.StepSize)
		case "PRICE_FILTER":
			limits.PriceStep, _ = decimal.NewFromString(f.TickSize)
		case "NOTIONAL", "MIN_NOTIONAL":
			limits.MinNotional, _ = decimal.NewFromString(f.MinNotional)
		}
	}

	return limits, nil
}

func (b *Binance) PlaceMarketOrder(ctx context.Context, symbol, side string, qty decimal.Decimal, clientOrderID string) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", strings.ToUpper(side))
	params.Set("type", "MARKET")
	params.Set("quantity", qty.String())
	params.Set("newOrderRespType", "FULL")
	if clientOrderID != "" {
		params.Set("newClientOrderId", clientOrderID)
	}

	body, err := b.doRequest(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return nil, err
	}

	return b.parseOrderResponse(body, symbol, side, qty)
}

func (b *Binance) PlaceMarketBuyQuote(ctx context.Context, symbol string, quoteQty decimal.Decimal, clientOrderID string) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", "BUY")
	params.Set("type", "MARKET")
	// quoteOrderQty: потратить ровно указанную сумму quote
	params.Set("quoteOrderQty", quoteQty.String())
	params.Set("newOrderRespType", "FULL")
	if clientOrderID != "" {
		params.Set("newClientOrderId", clientOrderID)
	}

	body, err := b.doRequest(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return nil, err
	}

	return b.parseOrderResponse(body, symbol, SideBuy, decimal.Zero)
}

func (b *Binance) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	body, err := b.doRequest(ctx, http.MethodGet, "/api/v3/order", params, true)
	if err != nil {
		return nil, err
	}

	return b.parseOrderResponse(body, symbol, "", decimal.Zero)
}

// parseOrderResponse разбирает ответ по ордеру (create и query имеют
// общий набор полей; fills присутствует только в FULL ответе create)
func (b *Binance) parseOrderResponse(body []byte, symbol, side string, requested decimal.Decimal) (*Order, error) {
	var resp struct {
		OrderID             int64  `json:"orderId"`
		ClientOrderID       string `json:"clientOrderId"`
		Side                string `json:"side"`
		Status              string `json:"status"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
		TransactTime        int64  `json:"transactTime"`
		Fills               []struct {
			Price           string `json:"price"`
			Qty             string `json:"qty"`
			Commission      string `json:"commission"`
			CommissionAsset string `json:"commissionAsset"`
		} `json:"fills"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	filled, _ := decimal.NewFromString(resp.ExecutedQty)
	quoteCost, _ := decimal.NewFromString(resp.CummulativeQuoteQty)

	if side == "" {
		side = strings.ToLower(resp.Side)
	}

	order := &Order{
		ID:            strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Symbol:        symbol,
		Side:          side,
		Type:          "market",
		Quantity:      requested,
		FilledQty:     filled,
		CumQuoteCost:  quoteCost,
		Status:        binanceOrderStatus(resp.Status),
		Raw:           string(body),
		CreatedAt:     time.UnixMilli(resp.TransactTime),
		UpdatedAt:     time.Now(),
	}

	if filled.IsPositive() {
		order.AvgFillPrice = quoteCost.Div(filled)
	}

	for _, fill := range resp.Fills {
		amount, err := decimal.NewFromString(fill.Commission)
		if err != nil || amount.IsZero() {
			continue
		}
		order.Fees = append(order.Fees, Fee{Asset: fill.CommissionAsset, Amount: amount})
	}

	return order, nil
}

// binanceOrderStatus приводит статус Binance к унифицированному
func binanceOrderStatus(status string) string {
	switch status {
	case "NEW":
		return OrderStatusNew
	case "PARTIALLY_FILLED":
		return OrderStatusPartial
	case "FILLED":
		return OrderStatusFilled
	case "CANCELED", "PENDING_CANCEL":
		return OrderStatusCancelled
	case "REJECTED", "EXPIRED", "EXPIRED_IN_MATCH":
		return OrderStatusRejected
	default:
		return strings.ToLower(status)
	}
}

func (b *Binance) Close() error {
	b.connected = false
	return nil
}
