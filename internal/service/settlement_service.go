package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vledger/internal/exchange"
	"vledger/internal/models"
	"vledger/pkg/crypto"
	"vledger/pkg/retry"
	"vledger/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ошибки движка расчётов. HTTP-слой отображает их в коды ответа:
// неизвестный токен - 404, пауза - 403, кривой payload и
// несовпадение тикера - 400, отказ сайзинга и конкурентная мутация - 409
var (
	ErrStrategyPaused = errors.New("strategy is paused")
	ErrInvalidPayload = errors.New("invalid webhook payload")
	ErrTickerMismatch = errors.New("ticker does not match the strategy pair")
	ErrSizingRejected = errors.New("trade sizing rejected")
)

// errOrderPending - внутренний маркер для цикла поллинга
var errOrderPending = errors.New("order is not terminal yet")

// WebhookPayload - входящий сигнал.
// Amount опционален: без него действует политика all-in/all-out
type WebhookPayload struct {
	Action    string           `json:"action"`
	Ticker    string           `json:"ticker"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	OrderType string           `json:"order_type,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

// WebhookResult - итог обработки сигнала, отдаваемый HTTP-слоем с 200
type WebhookResult struct {
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	StrategyID    int    `json:"strategy_id,omitempty"`
}

// SettlementConfig - параметры движка расчётов
type SettlementConfig struct {
	PollAttempts int             // попыток опроса статуса ордера
	PollDelay    time.Duration   // фиксированная пауза между опросами
	Epsilon      decimal.Decimal // допуск прижатия отрицательного остатка к нулю
}

// SettlementService - конвейер вебхука: сигнал → стратегия → сайзинг →
// ордер → поллинг → обратная запись расчёта в леджер.
//
// Состояния: Received → Resolved → Sized → Submitted → Polling →
// Settled | Rejected | Errored. Пауза стратегии обрывает конвейер до
// сайзинга и любых обращений к бирже. Исчерпание бюджета поллинга не
// ошибка: расчёт фиксируется по последнему известному состоянию ордера
type SettlementService struct {
	db          *sql.DB
	strategies  StrategyRepositoryInterface
	webhookLogs WebhookLogRepositoryInterface
	snapshots   SnapshotRepositoryInterface
	exchanges   ExchangeProvider
	ledger      *LedgerService
	cfg         SettlementConfig

	wsHub AllocationBroadcaster
	log   *utils.Logger
}

// NewSettlementService создает новый экземпляр движка
func NewSettlementService(
	db *sql.DB,
	strategies StrategyRepositoryInterface,
	webhookLogs WebhookLogRepositoryInterface,
	snapshots SnapshotRepositoryInterface,
	exchanges ExchangeProvider,
	ledger *LedgerService,
	cfg SettlementConfig,
) *SettlementService {
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 10
	}
	if cfg.PollDelay <= 0 {
		cfg.PollDelay = 2 * time.Second
	}
	if !cfg.Epsilon.IsPositive() {
		cfg.Epsilon = decimal.New(1, -8)
	}
	return &SettlementService{
		db:          db,
		strategies:  strategies,
		webhookLogs: webhookLogs,
		snapshots:   snapshots,
		exchanges:   exchanges,
		ledger:      ledger,
		cfg:         cfg,
		log:         utils.L().WithComponent("settlement"),
	}
}

// SetWebSocketHub устанавливает hub для broadcast событий расчёта
func (s *SettlementService) SetWebSocketHub(hub AllocationBroadcaster) {
	s.wsHub = hub
}

// ProcessWebhook обрабатывает один входящий сигнал от начала до конца.
// Возвращает результат для ответа 200 либо типизированную ошибку,
// которую HTTP-слой отображает в 400/403/404/409/500
func (s *SettlementService) ProcessWebhook(ctx context.Context, token string, rawBody []byte) (*WebhookResult, error) {
	started := time.Now()
	defer func() {
		settlementLatency.Observe(time.Since(started).Seconds())
	}()

	// Resolved: токен хранится только дайджестом
	digest, err := crypto.TokenDigest(token)
	if err != nil {
		return nil, err
	}
	st, err := s.strategies.GetByTokenDigest(digest)
	if err != nil {
		webhooksTotal.WithLabelValues(models.WebhookStatusError).Inc()
		s.logExecution(nil, string(rawBody), "", "", models.WebhookStatusError, "unknown webhook token", "", "", "")
		return nil, err
	}

	// Пауза - самая дешёвая точка отказа: до разбора сайзинга
	// и до любого обращения к бирже
	if !st.IsActive {
		webhooksTotal.WithLabelValues(models.WebhookStatusIgnored).Inc()
		s.logExecution(&st.ID, string(rawBody), "", "", models.WebhookStatusIgnored, "strategy is paused", "", "", "")
		return nil, ErrStrategyPaused
	}

	var payload WebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		webhooksTotal.WithLabelValues(models.WebhookStatusRejected).Inc()
		s.logExecution(&st.ID, string(rawBody), "", "", models.WebhookStatusRejected, "malformed payload: "+err.Error(), "", "", "")
		return nil, errors.Join(ErrInvalidPayload, err)
	}

	payload.Action = strings.ToLower(strings.TrimSpace(payload.Action))
	if err := utils.ValidateAction(payload.Action); err != nil {
		webhooksTotal.WithLabelValues(models.WebhookStatusRejected).Inc()
		s.logExecution(&st.ID, string(rawBody), payload.Action, "", models.WebhookStatusRejected, err.Error(), "", "", "")
		return nil, errors.Join(ErrInvalidPayload, err)
	}

	ticker, err := utils.NormalizeTicker(payload.Ticker)
	if err != nil {
		webhooksTotal.WithLabelValues(models.WebhookStatusRejected).Inc()
		s.logExecution(&st.ID, string(rawBody), payload.Action, "", models.WebhookStatusRejected, err.Error(), "", "", "")
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	// Несовпадение пары - отказ, не тихий перенаправленный трейд
	if ticker != st.Pair {
		webhooksTotal.WithLabelValues(models.WebhookStatusRejected).Inc()
		msg := fmt.Sprintf("ticker %s does not match strategy pair %s", ticker, st.Pair)
		s.logExecution(&st.ID, string(rawBody), payload.Action, "", models.WebhookStatusRejected, msg, "", "", "")
		return nil, errors.Join(ErrTickerMismatch, errors.New(msg))
	}

	// Sized
	req, sized, err := s.sizeTrade(ctx, st, &payload)
	if err != nil {
		webhooksTotal.WithLabelValues(models.WebhookStatusRejected).Inc()
		s.logExecution(&st.ID, string(rawBody), payload.Action, sized, models.WebhookStatusRejected, err.Error(), "", "", "")
		return nil, errors.Join(ErrSizingRejected, err)
	}

	// Submitted
	order, err := s.exchanges.ExecuteTrade(ctx, st.CredentialID, req)
	if err != nil {
		status := models.WebhookStatusError
		if exchange.IsInsufficientFunds(err) ||
			errors.Is(err, ErrBelowMinQty) ||
			errors.Is(err, ErrBelowMinNotional) {
			status = models.WebhookStatusRejected
		}
		webhooksTotal.WithLabelValues(status).Inc()
		s.logExecution(&st.ID, string(rawBody), payload.Action, sized, status, err.Error(), "", req.ClientOrderID, "")
		if status == models.WebhookStatusRejected {
			return &WebhookResult{
				Status:        status,
				Message:       err.Error(),
				ClientOrderID: req.ClientOrderID,
				StrategyID:    st.ID,
			}, nil
		}
		return nil, err
	}

	// Polling: ограниченный цикл с фиксированной паузой. Исчерпание
	// бюджета означает "рассчитаться по лучшему известному", не отказ
	finalOrder, exhausted := s.pollOrder(ctx, st, order)

	// Settled
	result, err := s.settle(ctx, st, &payload, string(rawBody), sized, finalOrder, exhausted)
	if err != nil {
		webhooksTotal.WithLabelValues(models.WebhookStatusError).Inc()
		return nil, err
	}

	webhooksTotal.WithLabelValues(result.Status).Inc()
	ordersTotal.WithLabelValues(req.Side, finalOrder.Status).Inc()

	// Неблокирующая сверка дрейфа: обнаружение, не предотвращение
	go s.driftCheck(st)

	return result, nil
}

// sizeTrade определяет размер сделки. Явный amount в payload задан в
// базовом активе и проверяется против выделений; без него действует
// политика "всё-в-одну-сторону": продажа всего выделенного base,
// покупка на весь выделенный quote
func (s *SettlementService) sizeTrade(ctx context.Context, st *models.Strategy, payload *WebhookPayload) (*TradeRequest, string, error) {
	req := &TradeRequest{
		Pair:          st.Pair,
		Side:          payload.Action,
		ClientOrderID: uuid.NewString(),
	}

	switch payload.Action {
	case exchange.SideSell:
		qty := st.AllocatedBase
		if payload.Amount != nil {
			if payload.Amount.GreaterThan(st.AllocatedBase) {
				return nil, payload.Amount.String(), fmt.Errorf("requested amount %s exceeds allocated base %s",
					payload.Amount, st.AllocatedBase)
			}
			qty = *payload.Amount
		}
		if !qty.IsPositive() {
			return nil, qty.String(), errors.New("no allocated base to sell")
		}
		req.BaseQty = qty
		return req, qty.String(), nil

	case exchange.SideBuy:
		spend := st.AllocatedQuote
		if payload.Amount != nil {
			// Явный amount покупки задан в базовом активе:
			// стоимость проверяется по свежей цене ask
			ticker, err := s.exchanges.GetTicker(ctx, st.CredentialID, st.Pair)
			if err != nil {
				return nil, payload.Amount.String(), errors.Join(ErrExchangeUnavailable, err)
			}
			cost := payload.Amount.Mul(ticker.AskPrice)
			if cost.GreaterThan(st.AllocatedQuote) {
				return nil, payload.Amount.String(), fmt.Errorf("estimated cost %s exceeds allocated quote %s",
					cost, st.AllocatedQuote)
			}
			spend = cost
		}
		if !spend.IsPositive() {
			return nil, spend.String(), errors.New("no allocated quote to spend")
		}
		req.QuoteQty = spend
		return req, spend.String(), nil

	default:
		return nil, "", fmt.Errorf("unknown action: %s", payload.Action)
	}
}

// pollOrder опрашивает ордер до терминального состояния в пределах
// бюджета попыток. Возвращает последнее известное состояние и признак
// исчерпания бюджета
func (s *SettlementService) pollOrder(ctx context.Context, st *models.Strategy, order *exchange.Order) (*exchange.Order, bool) {
	if order.IsTerminal() {
		return order, false
	}

	last := order
	polled, err := retry.DoWithResult(ctx, func() (*exchange.Order, error) {
		o, err := s.exchanges.GetOrder(ctx, st.CredentialID, st.Pair, order.ID)
		if err != nil {
			return nil, err
		}
		last = o
		if !o.IsTerminal() {
			return nil, errOrderPending
		}
		return o, nil
	}, retry.PollingConfig(s.cfg.PollAttempts, s.cfg.PollDelay))

	if err != nil {
		pollExhaustedTotal.Inc()
		s.log.Warn("polling budget exhausted, settling with last known order state",
			utils.StrategyID(st.ID),
			utils.OrderID(order.ID),
			utils.Status(last.Status))
		return last, true
	}
	return polled, false
}

// settle фиксирует фактический результат ордера в леджере одной
// транзакцией: повторное блокирующее чтение стратегии, пересчёт
// выделений по реально исполненному количеству, строка журнала
// вебхуков и снимок стоимости
func (s *SettlementService) settle(ctx context.Context, st *models.Strategy, payload *WebhookPayload, rawBody, sized string, order *exchange.Order, exhausted bool) (*WebhookResult, error) {
	if !order.FilledQty.IsPositive() {
		// Ордер отклонён либо ничего не исполнено: леджер не трогаем
		msg := "order was not filled, status " + order.Status
		s.logExecution(&st.ID, rawBody, payload.Action, sized, models.WebhookStatusRejected, msg, order.ID, order.ClientOrderID, order.Raw)
		return &WebhookResult{
			Status:        models.WebhookStatusRejected,
			Message:       msg,
			OrderID:       order.ID,
			ClientOrderID: order.ClientOrderID,
			StrategyID:    st.ID,
		}, nil
	}

	// Котировки для снимка берутся до открытия транзакции
	prices, err := s.ledger.strategyPrices(ctx, st)
	if err != nil {
		// Снимок обязателен, но сделка уже состоялась: расчёт важнее
		// оценки, цены заменяются нулями с тревогой в логе
		s.log.Error("cannot price snapshot after settlement",
			utils.StrategyID(st.ID), zap.Error(err))
		prices = map[string]decimal.Decimal{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	locked, err := s.strategies.GetForUpdate(tx, st.ID)
	if err != nil {
		return nil, translateConflict(err)
	}

	newBase, newQuote := s.applySettlement(locked, payload.Action, order)

	if err := s.strategies.UpdateAllocations(tx, locked.ID, newBase, newQuote); err != nil {
		return nil, err
	}
	locked.AllocatedBase, locked.AllocatedQuote = newBase, newQuote

	msg := "settled"
	if exhausted {
		msg = "settled with last known order state, polling budget exhausted"
	} else if order.Status == exchange.OrderStatusPartial {
		msg = "settled with partial fill"
	}

	now := time.Now()
	entry := &models.WebhookExecutionLog{
		StrategyID:    &locked.ID,
		Payload:       rawBody,
		Action:        payload.Action,
		SizedAmount:   sized,
		Status:        models.WebhookStatusSuccess,
		Message:       msg,
		OrderID:       order.ID,
		ClientOrderID: order.ClientOrderID,
		RawResponse:   order.Raw,
		SettledAt:     &now,
	}
	if err := s.webhookLogs.Create(tx, entry); err != nil {
		return nil, err
	}

	value := locked.AllocatedBase.Mul(prices[locked.BaseSymbol]).Add(locked.AllocatedQuote.Mul(prices[locked.QuoteSymbol]))
	if err := s.snapshots.Create(tx, &models.StrategyValueSnapshot{
		StrategyID: locked.ID,
		ValueUSD:   value,
		BaseQty:    locked.AllocatedBase,
		QuoteQty:   locked.AllocatedQuote,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, translateConflict(err)
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastAllocationUpdate(locked.ID, locked.AllocatedBase.String(), locked.AllocatedQuote.String())
		s.wsHub.BroadcastSettlement(locked.ID, models.WebhookStatusSuccess, order.ID)
	}

	s.log.Info("trade settled",
		utils.StrategyID(locked.ID),
		utils.Side(payload.Action),
		utils.OrderID(order.ID),
		utils.Amount(order.FilledQty.String()),
		zap.String("base_allocated", newBase.String()),
		zap.String("quote_allocated", newQuote.String()))

	return &WebhookResult{
		Status:        models.WebhookStatusSuccess,
		Message:       msg,
		OrderID:       order.ID,
		ClientOrderID: order.ClientOrderID,
		StrategyID:    locked.ID,
	}, nil
}

// applySettlement пересчитывает выделения по исполненному ордеру.
//
// Дельта quote предпочитает присланный биржей итог после комиссий,
// затем стоимость с поправкой на явные комиссии в quote, затем голую
// стоимость. Комиссии в базовом активе уменьшают полученное base при
// покупке. Отрицательный результат в пределах epsilon прижимается к
// нулю, сверх допуска - прижимается с тревогой в логе
func (s *SettlementService) applySettlement(st *models.Strategy, action string, order *exchange.Order) (decimal.Decimal, decimal.Decimal) {
	filled := order.FilledQty
	cost := order.CumQuoteCost

	baseFees := feesIn(order, st.BaseSymbol)
	quoteFees := feesIn(order, st.QuoteSymbol)

	var newBase, newQuote decimal.Decimal

	if action == exchange.SideBuy {
		baseGained := filled.Sub(baseFees)
		quoteSpent := cost.Add(quoteFees)
		if order.TotalAfterFees != nil {
			baseGained = *order.TotalAfterFees
		}
		newBase = st.AllocatedBase.Add(baseGained)
		newQuote = s.clamp(st, "quote", st.AllocatedQuote.Sub(quoteSpent))
	} else {
		quoteGained := cost.Sub(quoteFees)
		if order.TotalAfterFees != nil {
			quoteGained = *order.TotalAfterFees
		}
		newBase = s.clamp(st, "base", st.AllocatedBase.Sub(filled))
		newQuote = st.AllocatedQuote.Add(quoteGained)
	}

	return newBase, newQuote
}

// clamp прижимает отрицательный остаток к нулю. Недолёт глубже
// epsilon означает реальное перерасходование и логируется как тревога,
// но выделение всё равно не может стать отрицательным
func (s *SettlementService) clamp(st *models.Strategy, side string, value decimal.Decimal) decimal.Decimal {
	clamped, wasClamped := utils.ClampNonNegative(value, s.cfg.Epsilon)
	if wasClamped {
		settlementClampsTotal.Inc()
		return clamped
	}
	if clamped.IsNegative() {
		s.log.Warn("settlement drove allocation negative beyond epsilon, clamping to zero",
			utils.StrategyID(st.ID),
			zap.String("side", side),
			zap.String("value", value.String()))
		settlementClampsTotal.Inc()
		return decimal.Zero
	}
	return clamped
}

// driftCheck сверяет выделения с живым балансом после расчёта.
// Выполняется вне запроса и никогда не влияет на его результат
func (s *SettlementService) driftCheck(st *models.Strategy) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.ledger.CheckDrift(ctx, st.CredentialID, []string{st.BaseSymbol, st.QuoteSymbol}); err != nil {
		s.log.Warn("post-settlement drift check failed",
			utils.CredentialID(st.CredentialID), zap.Error(err))
	}
}

// logExecution пишет строку журнала вебхуков, не прерывая конвейер
// при ошибке записи
func (s *SettlementService) logExecution(strategyID *int, payload, action, sized, status, message, orderID, clientOrderID, raw string) {
	entry := &models.WebhookExecutionLog{
		StrategyID:    strategyID,
		Payload:       payload,
		Action:        action,
		SizedAmount:   sized,
		Status:        status,
		Message:       message,
		OrderID:       orderID,
		ClientOrderID: clientOrderID,
		RawResponse:   raw,
	}
	if err := s.webhookLogs.Create(nil, entry); err != nil {
		s.log.Error("failed to write webhook execution log", zap.Error(err))
	}
}

// feesIn суммирует явные комиссии ордера в указанном активе
func feesIn(order *exchange.Order, asset string) decimal.Decimal {
	total := decimal.Zero
	for _, f := range order.Fees {
		if f.Asset == asset {
			total = total.Add(f.Amount)
		}
	}
	return total
}
