package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"vledger/internal/api/middleware"
	"vledger/internal/models"
	"vledger/internal/repository"
	"vledger/internal/service"
)

// TransferHandler обрабатывает HTTP запросы леджера выделений.
//
// Endpoints:
// - POST /api/v1/transfers - перевод между main и стратегиями
// - GET /api/v1/credentials/{id}/unallocated?asset=BTC - свободный остаток
//
// Идентификаторы конечных точек:
// - main::<credentialID>::<asset> - невыделенная часть биржевого аккаунта
// - strategy::<strategyID> - виртуальное выделение стратегии
type TransferHandler struct {
	ledgerService service.LedgerServiceInterface
}

// NewTransferHandler создает новый TransferHandler с внедрением зависимостей.
func NewTransferHandler(ledgerService service.LedgerServiceInterface) *TransferHandler {
	return &TransferHandler{
		ledgerService: ledgerService,
	}
}

// TransferRequest - тело запроса перевода.
// Amount передается строкой, чтобы не терять точность в float
type TransferRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
}

// CreateTransfer выполняет перевод между конечными точками.
//
// POST /api/v1/transfers
//
// Request body:
//
//	{
//	  "source": "main::1::USDT",
//	  "destination": "strategy::7",
//	  "asset": "USDT",
//	  "amount": "500"
//	}
//
// Response 200 OK:
//
//	{"message": "transfer completed"}
//
// Response 400 Bad Request: неразборчивый идентификатор, несовпадение
// актива, нулевая сумма, перевод самому себе.
// Response 403 Forbidden: чужая стратегия или учетные данные.
// Response 404 Not Found: стратегия или учетные данные не существуют.
// Response 409 Conflict: недостаточный остаток или конкурентная мутация.
// Response 502 Bad Gateway: биржа недоступна, живой баланс не проверить.
func (h *TransferHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.ledgerService == nil {
		w.WriteHeader(http.StatusInternalServerError)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "ledger service not initialized"})
		return
	}

	var req TransferRequest
	if err := jsonCodec.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "invalid amount", Details: err.Error()})
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	err = h.ledgerService.Transfer(r.Context(), userID, req.Source, req.Destination, req.Asset, amount)
	if err != nil {
		w.WriteHeader(transferErrorStatus(err))
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusOK)
	jsonCodec.NewEncoder(w).Encode(SuccessResponse{Message: "transfer completed"})
}

// GetUnallocated возвращает свободный (невыделенный) остаток актива.
//
// GET /api/v1/credentials/{id}/unallocated?asset=BTC
//
// Вычисляется заново при каждом вызове: живой баланс минус сумма
// выделений всех активных стратегий на этих учетных данных.
//
// Response 200 OK:
//
//	{"credential_id": 1, "asset": "BTC", "unallocated": "0.25"}
func (h *TransferHandler) GetUnallocated(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.ledgerService == nil {
		w.WriteHeader(http.StatusInternalServerError)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "ledger service not initialized"})
		return
	}

	credentialID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "invalid credential id"})
		return
	}

	asset := r.URL.Query().Get("asset")
	if asset == "" {
		w.WriteHeader(http.StatusBadRequest)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "asset query parameter is required"})
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	unallocated, err := h.ledgerService.UnallocatedBalance(r.Context(), userID, credentialID, asset)
	if err != nil {
		w.WriteHeader(transferErrorStatus(err))
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusOK)
	jsonCodec.NewEncoder(w).Encode(map[string]interface{}{
		"credential_id": credentialID,
		"asset":         asset,
		"unallocated":   unallocated,
	})
}

// transferErrorStatus отображает доменные ошибки леджера на HTTP статус
func transferErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrAmountNotPositive),
		errors.Is(err, service.ErrSelfTransfer),
		errors.Is(err, service.ErrInvalidTransferShape),
		errors.Is(err, service.ErrAssetMismatch),
		errors.Is(err, service.ErrCrossCredential),
		errors.Is(err, models.ErrMalformedEndpoint):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrStrategyNotFound),
		errors.Is(err, repository.ErrCredentialNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInsufficientUnallocated),
		errors.Is(err, service.ErrInsufficientAllocated),
		errors.Is(err, service.ErrConcurrentMutation):
		return http.StatusConflict
	case errors.Is(err, service.ErrExchangeUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
