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
	bybitBaseURL    = "https://api.bybit.com"
	bybitRecvWindow = "5000"
)

// Bybit реализует интерфейс Exchange для спотового рынка Bybit (API v5)
type Bybit struct {
	apiKey    string
	secretKey string

	httpClient *http.Client
	limiter    *ratelimit.RateLimiter

	connected bool
}

// NewBybit создает новый экземпляр Bybit.
// Использует глобальный HTTP клиент с connection pooling
func NewBybit() *Bybit {
	return &Bybit{
		httpClient: GetGlobalHTTPClient().GetClient(),
		limiter:    ratelimit.NewRateLimiter(10, 20),
	}
}

// sign создает подпись для запроса к Bybit API v5
func (b *Bybit) sign(timestamp, params string) string {
	message := timestamp + b.apiKey + bybitRecvWindow + params
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет HTTP запрос к Bybit API
func (b *Bybit) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody, reqURL, signPayload string

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		signPayload = query.Encode()
		if signPayload != "" {
			reqURL = bybitBaseURL + endpoint + "?" + signPayload
		} else {
			reqURL = bybitBaseURL + endpoint
		}
	} else {
		reqURL = bybitBaseURL + endpoint
		if len(params) > 0 {
			jsonBytes, _ := json.Marshal(params)
			reqBody = string(jsonBytes)
		}
		signPayload = reqBody
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-BAPI-API-KEY", b.apiKey)
		req.Header.Set("X-BAPI-SIGN", b.sign(timestamp, signPayload))
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
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

	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, err
	}

	if baseResp.RetCode != 0 {
		return nil, &ExchangeError{
			Exchange: "bybit",
			Code:     strconv.Itoa(baseResp.RetCode),
			Message:  baseResp.RetMsg,
		}
	}

	return body, nil
}

func (b *Bybit) Connect(apiKey, secret string) error {
	b.apiKey = apiKey
	b.secretKey = secret

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := b.ValidateKeys(ctx); err != nil {
		return fmt.Errorf("failed to connect to Bybit: %w", err)
	}

	b.connected = true
	return nil
}

func (b *Bybit) GetName() string {
	return "bybit"
}

// SupportsQuoteOrders: спотовая рыночная покупка Bybit принимает
// marketUnit=quoteCoin
func (b *Bybit) SupportsQuoteOrders() bool {
	return true
}

func (b *Bybit) ValidateKeys(ctx context.Context) error {
	params := map[string]string{"accountType": "UNIFIED"}
	_, err := b.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, true)
	return err
}

func (b *Bybit) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	params := map[string]string{"accountType": "UNIFIED"}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin          string `json:"coin"`
					WalletBalance string `json:"walletBalance"`
					Locked        string `json:"locked"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	balances := make(map[string]decimal.Decimal)
	if len(resp.Result.List) > 0 {
		for _, coin := range resp.Result.List[0].Coin {
			total, err := decimal.NewFromString(coin.WalletBalance)
			if err != nil {
				continue
			}
			locked, err := decimal.NewFromString(coin.Locked)
			if err != nil {
				locked = decimal.Zero
			}
			free := total.Sub(locked)
			if free.IsPositive() {
				balances[coin.Coin] = free
			}
		}
	}

	return balances, nil
}

func (b *Bybit) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	params := map[string]string{
		"category": "spot",
		"symbol":   symbol,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol    string `json:"symbol"`
				Bid1Price string `json:"bid1Price"`
				Ask1Price string `json:"ask1Price"`
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Result.List) == 0 {
		return nil, fmt.Errorf("bybit: %w: %s", ErrTickerUnavailable, symbol)
	}

	t := resp.Result.List[0]
	bid, err := decimal.NewFromString(t.Bid1Price)
	if err != nil {
		return nil, fmt.Errorf("bybit: bad bid price %q: %w", t.Bid1Price, err)
	}
	ask, err := decimal.NewFromString(t.Ask1Price)
	if err != nil {
		return nil, fmt.Errorf("bybit: bad ask price %q: %w", t.Ask1Price, err)
	}
	last, err := decimal.NewFromString(t.LastPrice)
	if err != nil {
		return nil, fmt.Errorf("bybit: bad last price %q: %w", t.LastPrice, err)
	}

	return &Ticker{
		Symbol:    t.Symbol,
		BidPrice:  bid,
		AskPrice:  ask,
		LastPrice: last,
		Timestamp: time.Now(),
	}, nil
}

func (b *Bybit) GetMarketLimits(ctx context.Context, symbol string) (*MarketLimits, error) {
	params := map[string]string{
		"category": "spot",
		"symbol":   symbol,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", params, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol        string `json:"symbol"`
				BaseCoin      string `json:"baseCoin"`
				QuoteCoin     string `json:"quoteCoin"`
				LotSizeFilter struct {
					BasePrecision  string `json:"basePrecision"`
					QuotePrecision string `json:"quotePrecision"`
					MinOrderQty    string `json:"minOrderQty"`
					MinOrderAmt    string `json:"minOrderAmt"`
				} `json:"lotSizeFilter"`
				PriceFilter struct {
					TickSize string `json:"tickSize"`
				} `json:"priceFilter"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Result.List) == 0 {
		return nil, fmt.Errorf("bybit: instrument info not found for %s", symbol)
	}

	info := resp.Result.List[0]
	limits := &MarketLimits{
		Symbol:     info.Symbol,
		BaseAsset:  info.BaseCoin,
		QuoteAsset: info.QuoteCoin,
	}

	// basePrecision приходит шагом количества ("0.000001")
	limits.QtyStep, _ = decimal.NewFromString(info.LotSizeFilter.BasePrecision)
	limits.MinOrderQty, _ = decimal.NewFromString(info.LotSizeFilter.MinOrderQty)
	limits.MinNotional, _ = decimal.NewFromString(info.LotSizeFilter.MinOrderAmt)
	limits.PriceStep, _ = decimal.NewFromString(info.PriceFilter.TickSize)

	return limits, nil
}

func (b *Bybit) PlaceMarketOrder(ctx context.Context, symbol, side string, qty decimal.Decimal, clientOrderID string) (*Order, error) {
	params := map[string]string{
		"category":   "spot",
		"symbol":     symbol,
		"side":       bybitSide(side),
		"orderType":  "Market",
		"qty":        qty.String(),
		"marketUnit": "baseCoin",
	}
	if clientOrderID != "" {
		params["orderLinkId"] = clientOrderID
	}

	return b.placeOrder(ctx, params, symbol, side, qty)
}

func (b *Bybit) PlaceMarketBuyQuote(ctx context.Context, symbol string, quoteQty decimal.Decimal, clientOrderID string) (*Order, error) {
	// marketUnit=quoteCoin: qty трактуется как сумма quote к трате
	params := map[string]string{
		"category":   "spot",
		"symbol":     symbol,
		"side":       "Buy",
		"orderType":  "Market",
		"qty":        quoteQty.String(),
		"marketUnit": "quoteCoin",
	}
	if clientOrderID != "" {
		params["orderLinkId"] = clientOrderID
	}

	return b.placeOrder(ctx, params, symbol, SideBuy, decimal.Zero)
}

// placeOrder создаёт ордер и сразу запрашивает его состояние:
// create-ответ Bybit содержит только идентификаторы
func (b *Bybit) placeOrder(ctx context.Context, params map[string]string, symbol, side string, requested decimal.Decimal) (*Order, error) {
	body, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	order, err := b.GetOrder(ctx, symbol, resp.Result.OrderID)
	if err != nil {
		// Ордер размещён, состояние получит поллинг
		return &Order{
			ID:            resp.Result.OrderID,
			ClientOrderID: resp.Result.OrderLinkID,
			Symbol:        symbol,
			Side:          side,
			Type:          "market",
			Quantity:      requested,
			Status:        OrderStatusNew,
			Raw:           string(body),
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		}, nil
	}

	order.Side = side
	if requested.IsPositive() {
		order.Quantity = requested
	}
	return order, nil
}

func (b *Bybit) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	params := map[string]string{
		"category": "spot",
		"symbol":   symbol,
		"orderId":  orderID,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/order/realtime", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				OrderID      string `json:"orderId"`
				OrderLinkID  string `json:"orderLinkId"`
				Side         string `json:"side"`
				Qty          string `json:"qty"`
				CumExecQty   string `json:"cumExecQty"`
				CumExecValue string `json:"cumExecValue"`
				CumExecFee   string `json:"cumExecFee"`
				AvgPrice     string `json:"avgPrice"`
				OrderStatus  string `json:"orderStatus"`
				CreatedTime  string `json:"createdTime"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Result.List) == 0 {
		return nil, fmt.Errorf("bybit: %w: %s", ErrOrderNotFound, orderID)
	}

	o := resp.Result.List[0]
	qty, _ := decimal.NewFromString(o.Qty)
	filled, _ := decimal.NewFromString(o.CumExecQty)
	quoteCost, _ := decimal.NewFromString(o.CumExecValue)
	avgPrice, _ := decimal.NewFromString(o.AvgPrice)
	createdMs, _ := strconv.ParseInt(o.CreatedTime, 10, 64)

	order := &Order{
		ID:            o.OrderID,
		ClientOrderID: o.OrderLinkID,
		Symbol:        symbol,
		Side:          strings.ToLower(o.Side),
		Type:          "market",
		Quantity:      qty,
		FilledQty:     filled,
		AvgFillPrice:  avgPrice,
		CumQuoteCost:  quoteCost,
		Status:        bybitOrderStatus(o.OrderStatus),
		Raw:           string(body),
		CreatedAt:     time.UnixMilli(createdMs),
		UpdatedAt:     time.Now(),
	}

	// cumExecFee для спота номинирована в получаемом активе,
	// поэтому чистый результат считается прямо здесь
	if fee, err := decimal.NewFromString(o.CumExecFee); err == nil && fee.IsPositive() {
		var net decimal.Decimal
		if order.Side == SideBuy {
			net = filled.Sub(fee)
		} else {
			net = quoteCost.Sub(fee)
		}
		order.TotalAfterFees = &net
	}

	return order, nil
}

// bybitSide конвертирует side в формат Bybit
func bybitSide(side string) string {
	if side == SideSell {
		return "Sell"
	}
	return "Buy"
}

// bybitOrderStatus приводит статус Bybit к унифицированному
func bybitOrderStatus(status string) string {
	switch status {
	case "New", "Created", "Untriggered":
		return OrderStatusNew
	case "PartiallyFilled":
		return OrderStatusPartial
	case "Filled":
		return OrderStatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return OrderStatusCancelled
	case "Rejected":
		return OrderStatusRejected
	default:
		return strings.ToLower(status)
	}
}

func (b *Bybit) Close() error {
	b.connected = false
	return nil
}
