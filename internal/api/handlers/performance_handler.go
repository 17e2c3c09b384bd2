package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"vledger/internal/api/middleware"
	"vledger/internal/repository"
	"vledger/internal/service"
)

// PerformanceHandler обрабатывает HTTP запросы доходности стратегий.
//
// Endpoints:
// - GET /api/v1/strategies/{id}/performance?bucket=daily|monthly|quarterly|yearly
//
// Доходность считается методом TWRR: переводы между main и стратегией
// не искажают торговый результат, а пополнения до первой сделки
// считаются фондированием и в доходность не входят.
type PerformanceHandler struct {
	performanceService service.PerformanceServiceInterface
}

// NewPerformanceHandler создает новый PerformanceHandler с внедрением зависимостей.
func NewPerformanceHandler(performanceService service.PerformanceServiceInterface) *PerformanceHandler {
	return &PerformanceHandler{
		performanceService: performanceService,
	}
}

// GetPerformance возвращает ряд доходности стратегии.
//
// GET /api/v1/strategies/{id}/performance?bucket=monthly
//
// Query Parameters:
// - bucket (optional): "daily" (default), "monthly", "quarterly", "yearly"
//
// Response 200 OK:
//
//	{
//	  "strategy_id": 7,
//	  "bucket": "monthly",
//	  "points": [
//	    {
//	      "timestamp": "2026-01-01T00:00:00Z",
//	      "value_usd": "1100",
//	      "period_return": "0.1",
//	      "cumulative_return": "0.1"
//	    }
//	  ],
//	  "cumulative_return": "0.331"
//	}
//
// Response 400 Bad Request: неизвестный bucket.
// Response 403 Forbidden: чужая стратегия.
// Response 404 Not Found: стратегия не существует.
func (h *PerformanceHandler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.performanceService == nil {
		w.WriteHeader(http.StatusInternalServerError)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "performance service not initialized"})
		return
	}

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: "invalid strategy id"})
		return
	}

	bucket := r.URL.Query().Get("bucket")
	if bucket == "" {
		bucket = "daily" // значение по умолчанию
	}

	userID := middleware.UserIDFromContext(r.Context())
	report, err := h.performanceService.GetPerformance(r.Context(), userID, id, bucket)
	if err != nil {
		w.WriteHeader(performanceErrorStatus(err))
		jsonCodec.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
		return
	}

	// Пустой ряд возвращаем как [], а не null
	if report.Points == nil {
		report.Points = []service.PerformancePoint{}
	}

	w.WriteHeader(http.StatusOK)
	jsonCodec.NewEncoder(w).Encode(report)
}

// performanceErrorStatus отображает доменные ошибки расчета доходности на HTTP статус
func performanceErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidBucket):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrStrategyNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
