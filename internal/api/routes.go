package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vledger/internal/api/handlers"
	"vledger/internal/api/middleware"
	"vledger/internal/service"
	"vledger/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	SettlementService  *service.SettlementService
	LedgerService      *service.LedgerService
	StrategyService    *service.StrategyService
	CredentialService  *service.CredentialService
	PerformanceService *service.PerformanceService
	ExchangeService    *service.ExchangeService
	Hub                *websocket.Hub
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Назначение:
// Центральное место для определения всех API endpoints.
// Регистрирует handlers для каждого маршрута.
// Применяет middleware к группам маршрутов.
// Организует версионирование API (v1).
//
// Структура маршрутов:
//
// /webhook/{token}
//
//	└── POST - торговый сигнал TradingView (аутентификация токеном в URL)
//
// /api/v1/
//
//	├── /transfers/
//	│   └── POST / - перевод между main и стратегиями
//	├── /strategies/
//	│   ├── GET / - список стратегий
//	│   ├── POST / - создать стратегию
//	│   ├── GET /{id} - получить стратегию
//	│   ├── PATCH /{id} - переименовать
//	│   ├── DELETE /{id} - удалить стратегию
//	│   ├── POST /{id}/pause - приостановить
//	│   ├── POST /{id}/activate - возобновить
//	│   ├── POST /{id}/rotate-token - сменить webhook-токен
//	│   └── GET /{id}/performance - ряд доходности TWRR
//	└── /credentials/
//	    ├── GET / - список учетных данных
//	    ├── POST / - добавить ключи
//	    ├── POST /{id}/rotate - сменить ключи
//	    ├── DELETE /{id} - удалить
//	    ├── GET /{id}/unallocated - свободный остаток актива
//	    └── GET /{id}/portfolio - оценка балансов в USD
//
// /ws/stream - WebSocket для real-time обновлений
// /metrics - Prometheus метрики
// /health - проверка живости
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (только для /api/v1: вебхук аутентифицируется токеном в URL)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	// Создание handlers с внедрением зависимостей
	var webhookHandler *handlers.WebhookHandler
	if deps != nil && deps.SettlementService != nil {
		webhookHandler = handlers.NewWebhookHandler(deps.SettlementService)
	}

	var transferHandler *handlers.TransferHandler
	if deps != nil && deps.LedgerService != nil {
		transferHandler = handlers.NewTransferHandler(deps.LedgerService)
	}

	var strategyHandler *handlers.StrategyHandler
	if deps != nil && deps.StrategyService != nil {
		strategyHandler = handlers.NewStrategyHandler(deps.StrategyService)
	}

	var credentialHandler *handlers.CredentialHandler
	if deps != nil && deps.CredentialService != nil {
		var portfolio service.PortfolioProvider
		if deps.ExchangeService != nil {
			portfolio = deps.ExchangeService
		}
		credentialHandler = handlers.NewCredentialHandler(deps.CredentialService, portfolio)
	}

	var performanceHandler *handlers.PerformanceHandler
	if deps != nil && deps.PerformanceService != nil {
		performanceHandler = handlers.NewPerformanceHandler(deps.PerformanceService)
	}

	// Webhook route: вне /api/v1 и без Auth, TradingView не умеет
	// ни заголовков, ни подписи запросов
	if webhookHandler != nil {
		router.HandleFunc("/webhook/{token}", webhookHandler.HandleWebhook).Methods("POST")
	}

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth)

	// Transfer routes
	if transferHandler != nil {
		api.HandleFunc("/transfers", transferHandler.CreateTransfer).Methods("POST")
	}

	// Strategy routes
	if strategyHandler != nil {
		api.HandleFunc("/strategies", strategyHandler.GetStrategies).Methods("GET")
		api.HandleFunc("/strategies", strategyHandler.CreateStrategy).Methods("POST")
		api.HandleFunc("/strategies/{id}", strategyHandler.GetStrategy).Methods("GET")
		api.HandleFunc("/strategies/{id}", strategyHandler.UpdateStrategy).Methods("PATCH")
		api.HandleFunc("/strategies/{id}", strategyHandler.DeleteStrategy).Methods("DELETE")
		api.HandleFunc("/strategies/{id}/pause", strategyHandler.PauseStrategy).Methods("POST")
		api.HandleFunc("/strategies/{id}/activate", strategyHandler.ActivateStrategy).Methods("POST")
		api.HandleFunc("/strategies/{id}/rotate-token", strategyHandler.RotateToken).Methods("POST")
	}

	// Performance routes
	if performanceHandler != nil {
		api.HandleFunc("/strategies/{id}/performance", performanceHandler.GetPerformance).Methods("GET")
	}

	// Credential routes
	if credentialHandler != nil {
		api.HandleFunc("/credentials", credentialHandler.GetCredentials).Methods("GET")
		api.HandleFunc("/credentials", credentialHandler.CreateCredential).Methods("POST")
		api.HandleFunc("/credentials/{id}", credentialHandler.DeleteCredential).Methods("DELETE")
		api.HandleFunc("/credentials/{id}/rotate", credentialHandler.RotateCredential).Methods("POST")
		api.HandleFunc("/credentials/{id}/portfolio", credentialHandler.GetPortfolio).Methods("GET")
	}

	if transferHandler != nil {
		api.HandleFunc("/credentials/{id}/unallocated", transferHandler.GetUnallocated).Methods("GET")
	}

	// WebSocket route
	if deps != nil && deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		})
	}

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
