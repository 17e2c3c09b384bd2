package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"vledger/internal/repository"
	"vledger/internal/service"
)

// maxWebhookBodySize ограничивает размер тела вебхука.
// Сигналы TradingView занимают сотни байт, лимит с большим запасом
const maxWebhookBodySize = 64 * 1024

// WebhookHandler принимает торговые сигналы TradingView.
//
// Endpoints:
// - POST /webhook/{token} - обработать сигнал
//
// Токен в URL - единственная аутентификация вебхука: TradingView не
// умеет подписывать запросы. Токен сверяется по SHA-256 дайджесту,
// сам дайджест наружу не возвращается.
type WebhookHandler struct {
	settlementService service.SettlementServiceInterface
}

// NewWebhookHandler создает новый WebhookHandler с внедрением зависимостей.
func NewWebhookHandler(settlementService service.SettlementServiceInterface) *WebhookHandler {
	return &WebhookHandler{
		settlementService: settlementService,
	}
}

// HandleWebhook обрабатывает торговый сигнал.
//
// POST /webhook/{token}
//
// Request body:
//
//	{"action": "buy", "ticker": "BTCUSDT", "amount": "0.01"}
//
// Поле amount опционально: без него buy тратит весь выделенный quote,
// sell продает весь выделенный base.
//
// Response 200 OK (исполнено, отклонено биржей или прижато к
// последнему известному состоянию после исчерпания опроса):
//
//	{"status": "success", "order_id": "12345", "strategy_id": 7}
//
// Response 400 Bad Request: неразборчивый payload или тикер не
// соответствует паре стратегии.
// Response 403 Forbidden: стратегия приостановлена.
// Response 404 Not Found: токен не опознан.
// Response 409 Conflict: сайзинг отклонен (нулевое выделение,
// превышение explicit amount) или конкурентная мутация леджера.
// Response 500 Internal Server Error: все остальное.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.settlementService == nil {
		w.WriteHeader(http.StatusInternalServerError)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "settlement service not initialized"})
		return
	}

	token := mux.Vars(r)["token"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "cannot read request body", Details: err.Error()})
		return
	}

	result, err := h.settlementService.ProcessWebhook(r.Context(), token, body)
	if err != nil {
		w.WriteHeader(webhookErrorStatus(err))
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusOK)
	jsonCodec.NewEncoder(w).Encode(result)
}

// webhookErrorStatus отображает доменные ошибки движка расчетов на HTTP статус
func webhookErrorStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrStrategyNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrStrategyPaused):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidPayload),
		errors.Is(err, service.ErrTickerMismatch):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrSizingRejected),
		errors.Is(err, service.ErrConcurrentMutation):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
