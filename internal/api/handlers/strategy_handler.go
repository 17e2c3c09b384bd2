package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"vledger/internal/api/middleware"
	"vledger/internal/models"
	"vledger/internal/repository"
	"vledger/internal/service"
)

// StrategyHandler обрабатывает HTTP запросы управления стратегиями.
//
// Endpoints:
// - GET /api/v1/strategies - список стратегий пользователя
// - POST /api/v1/strategies - создать стратегию
// - GET /api/v1/strategies/{id} - получить стратегию
// - DELETE /api/v1/strategies/{id} - удалить (выделения возвращаются в main)
// - POST /api/v1/strategies/{id}/pause - приостановить
// - POST /api/v1/strategies/{id}/activate - возобновить
// - POST /api/v1/strategies/{id}/rotate-token - сменить webhook-токен
type StrategyHandler struct {
	strategyService service.StrategyServiceInterface
}

// NewStrategyHandler создает новый StrategyHandler с внедрением зависимостей.
func NewStrategyHandler(strategyService service.StrategyServiceInterface) *StrategyHandler {
	return &StrategyHandler{
		strategyService: strategyService,
	}
}

// CreateStrategyRequest - тело запроса создания стратегии
type CreateStrategyRequest struct {
	CredentialID int    `json:"credential_id"`
	Name         string `json:"name"`
	Pair         string `json:"pair"` // BTC/USDT или BTCUSDT
}

// CreateStrategy создает новую стратегию с нулевыми выделениями.
//
// POST /api/v1/strategies
//
// Request body:
//
//	{"credential_id": 1, "name": "btc momentum", "pair": "BTC/USDT"}
//
// Response 201 Created:
//
//	{
//	  "strategy": {"id": 7, "pair": "BTC/USDT", ...},
//	  "webhook_token": "a1b2..."
//	}
//
// ВАЖНО: webhook_token возвращается только здесь и при ротации.
// В базе хранится лишь SHA-256 дайджест, восстановить токен нельзя.
func (h *StrategyHandler) CreateStrategy(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.strategyService == nil {
		w.WriteHeader(http.StatusInternalServerError)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "strategy service not initialized"})
		return
	}

	var req CreateStrategyRequest
	if err := jsonCodec.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	st, token, err := h.strategyService.CreateStrategy(r.Context(), userID, req.CredentialID, req.Name, req.Pair)
	if err != nil {
		w.WriteHeader(strategyErrorStatus(err))
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusCreated)
	jsonCodec.NewEncoder(w).Encode(map[string]interface{}{
		"strategy":      st,
		"webhook_token": token,
	})
}

// GetStrategies возвращает все стратегии пользователя.
//
// GET /api/v1/strategies
func (h *StrategyHandler) GetStrategies(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.strategyService == nil {
		w.WriteHeader(http.StatusInternalServerError)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "strategy service not initialized"})
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	strategies, err := h.strategyService.GetStrategies(userID)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "failed to get strategies", Details: err.Error()})
		return
	}

	// Пустой список возвращаем как [], а не null
	if strategies == nil {
		strategies = []*models.Strategy{}
	}

	w.WriteHeader(http.StatusOK)
	jsonCodec.NewEncoder(w).Encode(strategies)
}

// GetStrategy возвращает одну стратегию.
//
// GET /api/v1/strategies/{id}
func (h *StrategyHandler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.strategyService == nil {
		w.WriteHeader(http.StatusInternalServerError)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "strategy service not initialized"})
		return
	}

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "invalid strategy id"})
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	st, err := h.strategyService.GetStrategy(userID, id)
	if err != nil {
		w.WriteHeader(strategyErrorStatus(err))
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusOK)
	jsonCodec.NewEncoder(w).Encode(st)
}

// PauseStrategy приостанавливает стратегию.
// Сигналы приостановленной стратегии получают 403 до стадии сайзинга.
// Повторная приостановка безвредна.
//
// POST /api/v1/strategies/{id}/pause
func (h *StrategyHandler) PauseStrategy(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false, "strategy paused")
}

// ActivateStrategy возобновляет стратегию.
//
// POST /api/v1/strategies/{id}/activate
func (h *StrategyHandler) ActivateStrategy(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true, "strategy activated")
}

func (h *StrategyHandler) setActive(w http.ResponseWriter, r *http.Request, active bool, message string) {
	w.Header().Set("Content-Type", "application/json")

	if h.strategyService == nil {
		w.WriteHeader(http.StatusInternalServerError)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "strategy service not initialized"})
		return
	}

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "invalid strategy id"})
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	if active {
		err = h.strategyService.Activate(userID, id)
	} else {
		err = h.strategyService.Pause(userID, id)
	}
	if err != nil {
		w.WriteHeader(strategyErrorStatus(err))
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusOK)
	jsonCodec.NewEncoder(w).Encode(SuccessResponse{Message: message})
}

// UpdateStrategy переименовывает стратегию.
// Прочие поля стратегии неизменяемы после создания.
//
// PATCH /api/v1/strategies/{id}
//
// Request body:
//
//	{"name": "BTC momentum v2"}
func (h *StrategyHandler) UpdateStrategy(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.strategyService == nil {
		w.WriteHeader(http.StatusInternalServerError)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "strategy service not initialized"})
		return
	}

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "invalid strategy id"})
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := jsonCodec.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "invalid request body"})
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	if err := h.strategyService.Rename(userID, id, req.Name); err != nil {
		w.WriteHeader(strategyErrorStatus(err))
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusOK)
	jsonCodec.NewEncoder(w).Encode(SuccessResponse{Message: "strategy updated"})
}

// RotateToken генерирует новый webhook-токен стратегии.
// Старый токен перестает действовать немедленно.
//
// POST /api/v1/strategies/{id}/rotate-token
//
// Response 200 OK:
//
//	{"webhook_token": "c3d4..."}
func (h *StrategyHandler) RotateToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.strategyService == nil {
		w.WriteHeader(http.StatusInternalServerError)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "strategy service not initialized"})
		return
	}

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "invalid strategy id"})
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	token, err := h.strategyService.RotateToken(userID, id)
	if err != nil {
		w.WriteHeader(strategyErrorStatus(err))
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusOK)
	jsonCodec.NewEncoder(w).Encode(map[string]string{
		"webhook_token": token,
	})
}

// DeleteStrategy удаляет стратегию.
// Ненулевые выделения сначала возвращаются на main, журналы
// переводов и вебхуков сохраняются для аудита (soft delete).
//
// DELETE /api/v1/strategies/{id}
func (h *StrategyHandler) DeleteStrategy(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.strategyService == nil {
		w.WriteHeader(http.StatusInternalServerError)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "strategy service not initialized"})
		return
	}

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "invalid strategy id"})
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	if err := h.strategyService.DeleteStrategy(r.Context(), userID, id); err != nil {
		w.WriteHeader(strategyErrorStatus(err))
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusOK)
	jsonCodec.NewEncoder(w).Encode(SuccessResponse{Message: "strategy deleted"})
}

// strategyErrorStatus отображает доменные ошибки стратегий на HTTP статус
func strategyErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrStrategyNameRequired):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrStrategyNotFound),
		errors.Is(err, repository.ErrCredentialNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConcurrentMutation):
		return http.StatusConflict
	case errors.Is(err, service.ErrExchangeUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
