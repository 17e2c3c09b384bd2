package handlers

import (
	"context"

	"github.com/shopspring/decimal"

	"vledger/internal/models"
	"vledger/internal/service"
)

// ============================================================
// Ручные моки сервисных интерфейсов для тестов handlers
// ============================================================

// MockSettlementService - мок движка расчетов
type MockSettlementService struct {
	result *service.WebhookResult
	err    error

	tokens []string
	bodies []string
}

func (m *MockSettlementService) ProcessWebhook(ctx context.Context, token string, rawBody []byte) (*service.WebhookResult, error) {
	m.tokens = append(m.tokens, token)
	m.bodies = append(m.bodies, string(rawBody))
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

// transferCall - зафиксированный вызов Transfer
type transferCall struct {
	userID      int
	source      string
	destination string
	asset       string
	amount      decimal.Decimal
}

// MockLedgerService - мок леджера выделений
type MockLedgerService struct {
	transferErr    error
	unallocated    decimal.Decimal
	unallocatedErr error

	transfers []transferCall
}

func (m *MockLedgerService) Transfer(ctx context.Context, userID int, source, destination, asset string, amount decimal.Decimal) error {
	m.transfers = append(m.transfers, transferCall{userID, source, destination, asset, amount})
	return m.transferErr
}

func (m *MockLedgerService) UnallocatedBalance(ctx context.Context, userID, credentialID int, asset string) (decimal.Decimal, error) {
	if m.unallocatedErr != nil {
		return decimal.Zero, m.unallocatedErr
	}
	return m.unallocated, nil
}

// MockStrategyService - мок управления стратегиями
type MockStrategyService struct {
	strategy *models.Strategy
	list     []*models.Strategy
	token    string
	err      error

	paused    []int
	activated []int
	renamed   map[int]string
	rotated   []int
	deleted   []int
}

func (m *MockStrategyService) CreateStrategy(ctx context.Context, userID, credentialID int, name, pair string) (*models.Strategy, string, error) {
	if m.err != nil {
		return nil, "", m.err
	}
	return m.strategy, m.token, nil
}

func (m *MockStrategyService) GetStrategy(userID, id int) (*models.Strategy, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.strategy, nil
}

func (m *MockStrategyService) GetStrategies(userID int) ([]*models.Strategy, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.list, nil
}

func (m *MockStrategyService) Pause(userID, id int) error {
	if m.err != nil {
		return m.err
	}
	m.paused = append(m.paused, id)
	return nil
}

func (m *MockStrategyService) Activate(userID, id int) error {
	if m.err != nil {
		return m.err
	}
	m.activated = append(m.activated, id)
	return nil
}

func (m *MockStrategyService) Rename(userID, id int, name string) error {
	if m.renamed == nil {
		m.renamed = make(map[int]string)
	}
	m.renamed[id] = name
	return m.err
}

func (m *MockStrategyService) RotateToken(userID, id int) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.rotated = append(m.rotated, id)
	return m.token, nil
}

func (m *MockStrategyService) DeleteStrategy(ctx context.Context, userID, id int) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

// MockCredentialService - мок управления учетными данными
type MockCredentialService struct {
	credential *models.ExchangeCredential
	list       []*models.ExchangeCredential
	err        error

	rotated []int
	deleted []int
}

func (m *MockCredentialService) CreateCredential(ctx context.Context, userID int, exchangeName, label, apiKey, secretKey string) (*models.ExchangeCredential, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.credential, nil
}

func (m *MockCredentialService) GetCredentials(userID int) ([]*models.ExchangeCredential, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.list, nil
}

func (m *MockCredentialService) RotateCredential(ctx context.Context, userID, id int, apiKey, secretKey string) error {
	if m.err != nil {
		return m.err
	}
	m.rotated = append(m.rotated, id)
	return nil
}

func (m *MockCredentialService) DeleteCredential(userID, id int) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

// MockPerformanceService - мок расчета доходности
type MockPerformanceService struct {
	report *service.PerformanceReport
	err    error
}

func (m *MockPerformanceService) GetPerformance(ctx context.Context, userID, strategyID int, bucket string) (*service.PerformanceReport, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.report, nil
}

// MockPortfolioProvider - мок оценки балансов
type MockPortfolioProvider struct {
	value *service.PortfolioValue
	err   error
}

func (m *MockPortfolioProvider) GetPortfolioValue(ctx context.Context, credentialID int) (*service.PortfolioValue, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.value, nil
}

// Проверяем соответствие моков интерфейсам
var _ service.SettlementServiceInterface = (*MockSettlementService)(nil)
var _ service.LedgerServiceInterface = (*MockLedgerService)(nil)
var _ service.StrategyServiceInterface = (*MockStrategyService)(nil)
var _ service.CredentialServiceInterface = (*MockCredentialService)(nil)
var _ service.PerformanceServiceInterface = (*MockPerformanceService)(nil)
var _ service.PortfolioProvider = (*MockPortfolioProvider)(nil)
