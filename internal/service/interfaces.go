package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"vledger/internal/exchange"
	"vledger/internal/models"
	"vledger/internal/repository"
)

// StrategyRepositoryInterface определяет интерфейс репозитория стратегий
type StrategyRepositoryInterface interface {
	Create(strategy *models.Strategy) error
	GetByID(id int) (*models.Strategy, error)
	GetByTokenDigest(digest string) (*models.Strategy, error)
	GetForUpdate(tx *sql.Tx, id int) (*models.Strategy, error)
	GetByUser(userID int) ([]*models.Strategy, error)
	GetActiveByCredential(q repository.Querier, credentialID int) ([]*models.Strategy, error)
	GetAllActive() ([]*models.Strategy, error)
	SumAllocations(q repository.Querier, credentialID int, asset string) (decimal.Decimal, error)
	UpdateAllocations(tx *sql.Tx, id int, base, quote decimal.Decimal) error
	UpdateStatus(id int, isActive bool) error
	UpdateName(id int, name string) error
	UpdateTokenDigest(id int, digest string) error
	SoftDelete(tx *sql.Tx, id int) error
}

// CredentialRepositoryInterface определяет интерфейс репозитория учетных данных бирж
type CredentialRepositoryInterface interface {
	Create(cred *models.ExchangeCredential) error
	GetByID(id int) (*models.ExchangeCredential, error)
	GetByUser(userID int) ([]*models.ExchangeCredential, error)
	RotateKeys(id int, apiKeyEnc, secretKeyEnc string) error
	Delete(id int) error
}

// TransferRepositoryInterface определяет интерфейс журнала переводов
type TransferRepositoryInterface interface {
	Create(q repository.Querier, entry *models.AssetTransferLog) error
	GetByStrategy(strategyID int) ([]*models.AssetTransferLog, error)
	GetByUser(userID int, limit int) ([]*models.AssetTransferLog, error)
}

// SnapshotRepositoryInterface определяет интерфейс снимков стоимости стратегий
type SnapshotRepositoryInterface interface {
	Create(q repository.Querier, snap *models.StrategyValueSnapshot) error
	UpsertDaily(snap *models.StrategyValueSnapshot, dayStart time.Time) error
	GetByStrategy(strategyID int, from, to time.Time) ([]*models.StrategyValueSnapshot, error)
	GetAllByStrategy(strategyID int) ([]*models.StrategyValueSnapshot, error)
}

// WebhookLogRepositoryInterface определяет интерфейс журнала исполнения вебхуков
type WebhookLogRepositoryInterface interface {
	Create(q repository.Querier, entry *models.WebhookExecutionLog) error
	GetByStrategy(strategyID int, limit int) ([]*models.WebhookExecutionLog, error)
	GetFirstSuccess(strategyID int) (*time.Time, error)
}

// LeaseRepositoryInterface определяет интерфейс аренды планировщика
type LeaseRepositoryInterface interface {
	Acquire(name, holder string, ttl time.Duration) (bool, error)
	Release(name, holder string) error
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ StrategyRepositoryInterface = (*repository.StrategyRepository)(nil)
var _ CredentialRepositoryInterface = (*repository.CredentialRepository)(nil)
var _ TransferRepositoryInterface = (*repository.TransferRepository)(nil)
var _ SnapshotRepositoryInterface = (*repository.SnapshotRepository)(nil)
var _ WebhookLogRepositoryInterface = (*repository.WebhookLogRepository)(nil)
var _ LeaseRepositoryInterface = (*repository.LeaseRepository)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// ExchangeProvider - доступ к бирже от имени конкретных учетных данных.
// Реализуется ExchangeService, в тестах подменяется моком
type ExchangeProvider interface {
	GetTicker(ctx context.Context, credentialID int, symbol string) (*exchange.Ticker, error)
	GetBalances(ctx context.Context, credentialID int) (map[string]decimal.Decimal, error)
	GetMarketLimits(ctx context.Context, credentialID int, symbol string) (*exchange.MarketLimits, error)
	ExecuteTrade(ctx context.Context, credentialID int, req *TradeRequest) (*exchange.Order, error)
	GetOrder(ctx context.Context, credentialID int, symbol, orderID string) (*exchange.Order, error)
	PriceUSD(ctx context.Context, credentialID int, asset string) (decimal.Decimal, error)
	ValueUSD(ctx context.Context, credentialID int, strategy *models.Strategy) (decimal.Decimal, error)
}

var _ ExchangeProvider = (*ExchangeService)(nil)

// AllocationBroadcaster - интерфейс для отправки обновлений через WebSocket
type AllocationBroadcaster interface {
	BroadcastAllocationUpdate(strategyID int, base, quote string)
	BroadcastSettlement(strategyID int, status string, orderID string)
	BroadcastDriftAlarm(credentialID int, asset string, drift string)
}

// ============ Интерфейсы сервисов для HTTP-слоя ============

// SettlementServiceInterface определяет интерфейс движка расчетов для handlers
type SettlementServiceInterface interface {
	ProcessWebhook(ctx context.Context, token string, rawBody []byte) (*WebhookResult, error)
}

// LedgerServiceInterface определяет интерфейс леджера выделений для handlers
type LedgerServiceInterface interface {
	Transfer(ctx context.Context, userID int, source, destination, asset string, amount decimal.Decimal) error
	UnallocatedBalance(ctx context.Context, userID, credentialID int, asset string) (decimal.Decimal, error)
}

// StrategyServiceInterface определяет интерфейс управления стратегиями для handlers
type StrategyServiceInterface interface {
	CreateStrategy(ctx context.Context, userID, credentialID int, name, pair string) (*models.Strategy, string, error)
	GetStrategy(userID, id int) (*models.Strategy, error)
	GetStrategies(userID int) ([]*models.Strategy, error)
	Pause(userID, id int) error
	Activate(userID, id int) error
	Rename(userID, id int, name string) error
	RotateToken(userID, id int) (string, error)
	DeleteStrategy(ctx context.Context, userID, id int) error
}

// CredentialServiceInterface определяет интерфейс управления учетными данными для handlers
type CredentialServiceInterface interface {
	CreateCredential(ctx context.Context, userID int, exchangeName, label, apiKey, secretKey string) (*models.ExchangeCredential, error)
	GetCredentials(userID int) ([]*models.ExchangeCredential, error)
	RotateCredential(ctx context.Context, userID, id int, apiKey, secretKey string) error
	DeleteCredential(userID, id int) error
}

// PerformanceServiceInterface определяет интерфейс расчета доходности для handlers
type PerformanceServiceInterface interface {
	GetPerformance(ctx context.Context, userID, strategyID int, bucket string) (*PerformanceReport, error)
}

// PortfolioProvider - оценка свободных балансов аккаунта в USD
type PortfolioProvider interface {
	GetPortfolioValue(ctx context.Context, credentialID int) (*PortfolioValue, error)
}

var _ SettlementServiceInterface = (*SettlementService)(nil)
var _ LedgerServiceInterface = (*LedgerService)(nil)
var _ StrategyServiceInterface = (*StrategyService)(nil)
var _ CredentialServiceInterface = (*CredentialService)(nil)
var _ PerformanceServiceInterface = (*PerformanceService)(nil)
var _ PortfolioProvider = (*ExchangeService)(nil)
