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
	"vledger/pkg/utils"
)

// CredentialHandler обрабатывает HTTP запросы учетных данных бирж.
//
// Endpoints:
// - GET /api/v1/credentials - список учетных данных (ключи не возвращаются)
// - POST /api/v1/credentials - проверить ключи и сохранить зашифрованными
// - POST /api/v1/credentials/{id}/rotate - сменить ключи
// - DELETE /api/v1/credentials/{id} - удалить (если нет привязанных стратегий)
// - GET /api/v1/credentials/{id}/portfolio - оценка балансов в USD
type CredentialHandler struct {
	credentialService service.CredentialServiceInterface
	portfolio         service.PortfolioProvider
}

// NewCredentialHandler создает новый CredentialHandler с внедрением зависимостей.
func NewCredentialHandler(credentialService service.CredentialServiceInterface, portfolio service.PortfolioProvider) *CredentialHandler {
	return &CredentialHandler{
		credentialService: credentialService,
		portfolio:         portfolio,
	}
}

// CredentialRequest - тело запроса создания и ротации ключей
type CredentialRequest struct {
	Exchange  string `json:"exchange"` // binance, bybit
	Label     string `json:"label"`
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// CreateCredential проверяет ключи на бирже и сохраняет их зашифрованными.
//
// POST /api/v1/credentials
//
// Request body:
//
//	{"exchange": "binance", "label": "main account", "api_key": "...", "secret_key": "..."}
//
// Ключи проверяются реальным вызовом к бирже до сохранения.
// В ответе и во всех последующих ответах ключи не возвращаются.
//
// Response 201 Created:
//
//	{"id": 1, "exchange": "binance", "label": "main account", "validated": true, ...}
//
// Response 400 Bad Request: биржа не поддерживается или ключи короче минимума.
// Response 422 Unprocessable Entity: биржа отвергла ключи.
func (h *CredentialHandler) CreateCredential(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.credentialService == nil {
		w.WriteHeader(http.StatusInternalServerError)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "credential service not initialized"})
		return
	}

	var req CredentialRequest
	if err := jsonCodec.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	cred, err := h.credentialService.CreateCredential(r.Context(), userID, req.Exchange, req.Label, req.APIKey, req.SecretKey)
	if err != nil {
		w.WriteHeader(credentialErrorStatus(err))
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusCreated)
	jsonCodec.NewEncoder(w).Encode(cred)
}

// GetCredentials возвращает учетные данные пользователя без ключей.
//
// GET /api/v1/credentials
func (h *CredentialHandler) GetCredentials(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.credentialService == nil {
		w.WriteHeader(http.StatusInternalServerError)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "credential service not initialized"})
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	creds, err := h.credentialService.GetCredentials(userID)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "failed to get credentials", Details: err.Error()})
		return
	}

	// Пустой список возвращаем как [], а не null
	if creds == nil {
		creds = []*models.ExchangeCredential{}
	}

	w.WriteHeader(http.StatusOK)
	jsonCodec.NewEncoder(w).Encode(creds)
}

// RotateCredential заменяет ключи учетных данных.
// Новые ключи проверяются на бирже, активные подключения пересоздаются.
//
// POST /api/v1/credentials/{id}/rotate
func (h *CredentialHandler) RotateCredential(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.credentialService == nil {
		w.WriteHeader(http.StatusInternalServerError)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "credential service not initialized"})
		return
	}

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "invalid credential id"})
		return
	}

	var req CredentialRequest
	if err := jsonCodec.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	if err := h.credentialService.RotateCredential(r.Context(), userID, id, req.APIKey, req.SecretKey); err != nil {
		w.WriteHeader(credentialErrorStatus(err))
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusOK)
	jsonCodec.NewEncoder(w).Encode(SuccessResponse{Message: "credential rotated"})
}

// DeleteCredential удаляет учетные данные.
//
// DELETE /api/v1/credentials/{id}
//
// Response 409 Conflict: к учетным данным привязаны стратегии,
// сначала нужно удалить их.
func (h *CredentialHandler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.credentialService == nil {
		w.WriteHeader(http.StatusInternalServerError)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "credential service not initialized"})
		return
	}

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "invalid credential id"})
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	if err := h.credentialService.DeleteCredential(userID, id); err != nil {
		w.WriteHeader(credentialErrorStatus(err))
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusOK)
	jsonCodec.NewEncoder(w).Encode(SuccessResponse{Message: "credential deleted"})
}

// GetPortfolio возвращает оценку всех свободных балансов аккаунта в USD.
//
// GET /api/v1/credentials/{id}/portfolio
//
// Response 200 OK:
//
//	{
//	  "total_usd": "52345.10",
//	  "balances": [
//	    {"asset": "BTC", "quantity": "0.5", "value_usd": "25000"},
//	    {"asset": "USDT", "quantity": "27345.10", "value_usd": "27345.10"}
//	  ],
//	  "pricing_errors": ["XYZ"]
//	}
func (h *CredentialHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.portfolio == nil {
		w.WriteHeader(http.StatusInternalServerError)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "exchange service not initialized"})
		return
	}

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "invalid credential id"})
		return
	}

	value, err := h.portfolio.GetPortfolioValue(r.Context(), id)
	if err != nil {
		w.WriteHeader(credentialErrorStatus(err))
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusOK)
	jsonCodec.NewEncoder(w).Encode(value)
}

// credentialErrorStatus отображает доменные ошибки учетных данных на HTTP статус
func credentialErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrExchangeNotSupported),
		errors.Is(err, utils.ErrEmptyAPIKey),
		errors.Is(err, utils.ErrAPIKeyTooShort):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrCredentialNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrCredentialInUse):
		return http.StatusConflict
	case errors.Is(err, service.ErrConnectionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
