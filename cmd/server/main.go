package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vledger/internal/api"
	"vledger/internal/config"
	"vledger/internal/repository"
	"vledger/internal/scheduler"
	"vledger/internal/service"
	"vledger/internal/websocket"
	"vledger/pkg/breaker"
	"vledger/pkg/crypto"
	"vledger/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Инициализация логгера
	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer log.Sync()

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	log.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Шифрование биржевых ключей
	cipher, err := crypto.NewCipher([]byte(cfg.Security.EncryptionKey))
	if err != nil {
		log.Fatal("failed to init cipher", zap.Error(err))
	}

	// Registry предохранителей: одно состояние на весь процесс,
	// переходы попадают в метрики через callback
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           cfg.Breaker.Window,
		Cooldown:         cfg.Breaker.Cooldown,
		HalfOpenMax:      cfg.Breaker.HalfOpenMax,
	}, service.BreakerStateChange)

	// Инициализация репозиториев
	strategyRepo := repository.NewStrategyRepository(db)
	credentialRepo := repository.NewCredentialRepository(db)
	transferRepo := repository.NewTransferRepository(db)
	snapshotRepo := repository.NewSnapshotRepository(db)
	webhookLogRepo := repository.NewWebhookLogRepository(db)
	leaseRepo := repository.NewLeaseRepository(db)

	// Инициализация сервисов
	exchangeService := service.NewExchangeService(credentialRepo, cipher, breakers)

	ledgerService := service.NewLedgerService(
		db,
		strategyRepo,
		credentialRepo,
		transferRepo,
		snapshotRepo,
		exchangeService,
		cfg.Engine.DriftTolerance,
	)

	settlementService := service.NewSettlementService(
		db,
		strategyRepo,
		webhookLogRepo,
		snapshotRepo,
		exchangeService,
		ledgerService,
		service.SettlementConfig{
			PollAttempts: cfg.Engine.PollAttempts,
			PollDelay:    cfg.Engine.PollDelay,
			Epsilon:      cfg.Engine.Epsilon,
		},
	)

	strategyService := service.NewStrategyService(
		db,
		strategyRepo,
		credentialRepo,
		transferRepo,
		snapshotRepo,
	)

	credentialService := service.NewCredentialService(credentialRepo, cipher, exchangeService)

	performanceService := service.NewPerformanceService(
		strategyRepo,
		snapshotRepo,
		transferRepo,
		webhookLogRepo,
		exchangeService,
	)

	// WebSocket hub для live-обновлений выделений и расчетов
	hub := websocket.NewHub()
	go hub.Run()

	ledgerService.SetWebSocketHub(hub)
	settlementService.SetWebSocketHub(hub)

	// Планировщик ежедневных снимков стоимости стратегий
	sched := scheduler.New(ledgerService, leaseRepo, scheduler.Config{
		SweepInterval: cfg.Engine.SweepInterval,
		LeaseTTL:      cfg.Engine.SweepLeaseTTL,
		SweepTimeout:  cfg.Engine.SweepTimeout,
	})
	sched.Start()

	// Настройка зависимостей для API
	deps := &api.Dependencies{
		SettlementService:  settlementService,
		LedgerService:      ledgerService,
		StrategyService:    strategyService,
		CredentialService:  credentialService,
		PerformanceService: performanceService,
		ExchangeService:    exchangeService,
		Hub:                hub,
	}

	router := api.SetupRoutes(deps)

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		log.Info("starting server", zap.String("addr", server.Addr))
		if cfg.Server.UseHTTPS {
			if err := server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil && err != http.ErrServerClosed {
				log.Fatal("server failed", zap.Error(err))
			}
		} else {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal("server failed", zap.Error(err))
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	sched.Stop()
	hub.Stop()

	// Закрываем соединения с биржами
	if err := exchangeService.Close(); err != nil {
		log.Error("error closing exchange connections", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
