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

// ============ Mock StrategyRepository ============

type MockStrategyRepository struct {
	strategies map[int]*models.Strategy
	nextID     int

	createErr error
	getErr    error
	updateErr error

	sumByAsset map[string]decimal.Decimal // "credID:ASSET" → сумма выделений

	updatedAllocations map[int][2]decimal.Decimal
	statusUpdates      map[int]bool
	softDeleted        []int
}

func NewMockStrategyRepository() *MockStrategyRepository {
	return &MockStrategyRepository{
		strategies:         make(map[int]*models.Strategy),
		nextID:             1,
		sumByAsset:         make(map[string]decimal.Decimal),
		updatedAllocations: make(map[int][2]decimal.Decimal),
		statusUpdates:      make(map[int]bool),
	}
}

func (m *MockStrategyRepository) add(st *models.Strategy) *models.Strategy {
	if st.ID == 0 {
		st.ID = m.nextID
		m.nextID++
	}
	m.strategies[st.ID] = st
	return st
}

func (m *MockStrategyRepository) Create(st *models.Strategy) error {
	if m.createErr != nil {
		return m.createErr
	}
	st.CreatedAt = time.Now()
	m.add(st)
	return nil
}

func (m *MockStrategyRepository) GetByID(id int) (*models.Strategy, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	st, ok := m.strategies[id]
	if !ok || st.DeletedAt != nil {
		return nil, repository.ErrStrategyNotFound
	}
	copied := *st
	return &copied, nil
}

func (m *MockStrategyRepository) GetByTokenDigest(digest string) (*models.Strategy, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, st := range m.strategies {
		if st.TokenDigest == digest && st.DeletedAt == nil {
			copied := *st
			return &copied, nil
		}
	}
	return nil, repository.ErrStrategyNotFound
}

func (m *MockStrategyRepository) GetForUpdate(tx *sql.Tx, id int) (*models.Strategy, error) {
	return m.GetByID(id)
}

func (m *MockStrategyRepository) GetByUser(userID int) ([]*models.Strategy, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var result []*models.Strategy
	for _, st := range m.strategies {
		if st.UserID == userID && st.DeletedAt == nil {
			copied := *st
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *MockStrategyRepository) GetActiveByCredential(q repository.Querier, credentialID int) ([]*models.Strategy, error) {
	var result []*models.Strategy
	for _, st := range m.strategies {
		if st.CredentialID == credentialID && st.IsActive && st.DeletedAt == nil {
			copied := *st
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *MockStrategyRepository) GetAllActive() ([]*models.Strategy, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var result []*models.Strategy
	for _, st := range m.strategies {
		if st.IsActive && st.DeletedAt == nil {
			copied := *st
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *MockStrategyRepository) SumAllocations(q repository.Querier, credentialID int, asset string) (decimal.Decimal, error) {
	key := sumKey(credentialID, asset)
	if sum, ok := m.sumByAsset[key]; ok {
		return sum, nil
	}
	// Не задано явно - считаем по живым стратегиям
	total := decimal.Zero
	for _, st := range m.strategies {
		if st.CredentialID != credentialID || st.DeletedAt != nil {
			continue
		}
		if st.BaseSymbol == asset {
			total = total.Add(st.AllocatedBase)
		}
		if st.QuoteSymbol == asset {
			total = total.Add(st.AllocatedQuote)
		}
	}
	return total, nil
}

func (m *MockStrategyRepository) UpdateAllocations(tx *sql.Tx, id int, base, quote decimal.Decimal) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	st, ok := m.strategies[id]
	if !ok {
		return repository.ErrStrategyNotFound
	}
	st.AllocatedBase, st.AllocatedQuote = base, quote
	m.updatedAllocations[id] = [2]decimal.Decimal{base, quote}
	return nil
}

func (m *MockStrategyRepository) UpdateStatus(id int, isActive bool) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	st, ok := m.strategies[id]
	if !ok {
		return repository.ErrStrategyNotFound
	}
	st.IsActive = isActive
	m.statusUpdates[id] = isActive
	return nil
}

func (m *MockStrategyRepository) UpdateName(id int, name string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	st, ok := m.strategies[id]
	if !ok {
		return repository.ErrStrategyNotFound
	}
	st.Name = name
	return nil
}

func (m *MockStrategyRepository) UpdateTokenDigest(id int, digest string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	st, ok := m.strategies[id]
	if !ok {
		return repository.ErrStrategyNotFound
	}
	st.TokenDigest = digest
	return nil
}

func (m *MockStrategyRepository) SoftDelete(tx *sql.Tx, id int) error {
	st, ok := m.strategies[id]
	if !ok {
		return repository.ErrStrategyNotFound
	}
	now := time.Now()
	st.DeletedAt = &now
	st.AllocatedBase, st.AllocatedQuote = decimal.Zero, decimal.Zero
	st.IsActive = false
	m.softDeleted = append(m.softDeleted, id)
	return nil
}

func sumKey(credentialID int, asset string) string {
	return decimal.NewFromInt(int64(credentialID)).String() + ":" + asset
}

// ============ Mock CredentialRepository ============

type MockCredentialRepository struct {
	creds  map[int]*models.ExchangeCredential
	nextID int

	getErr    error
	rotated   map[int][2]string
	deleted   []int
	deleteErr error
}

func NewMockCredentialRepository() *MockCredentialRepository {
	return &MockCredentialRepository{
		creds:   make(map[int]*models.ExchangeCredential),
		nextID:  1,
		rotated: make(map[int][2]string),
	}
}

func (m *MockCredentialRepository) add(c *models.ExchangeCredential) *models.ExchangeCredential {
	if c.ID == 0 {
		c.ID = m.nextID
		m.nextID++
	}
	m.creds[c.ID] = c
	return c
}

func (m *MockCredentialRepository) Create(c *models.ExchangeCredential) error {
	m.add(c)
	return nil
}

func (m *MockCredentialRepository) GetByID(id int) (*models.ExchangeCredential, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.creds[id]
	if !ok {
		return nil, repository.ErrCredentialNotFound
	}
	copied := *c
	return &copied, nil
}

func (m *MockCredentialRepository) GetByUser(userID int) ([]*models.ExchangeCredential, error) {
	var result []*models.ExchangeCredential
	for _, c := range m.creds {
		if c.UserID == userID {
			copied := *c
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *MockCredentialRepository) RotateKeys(id int, apiKeyEnc, secretKeyEnc string) error {
	c, ok := m.creds[id]
	if !ok {
		return repository.ErrCredentialNotFound
	}
	c.APIKey, c.SecretKey = apiKeyEnc, secretKeyEnc
	m.rotated[id] = [2]string{apiKeyEnc, secretKeyEnc}
	return nil
}

func (m *MockCredentialRepository) Delete(id int) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.creds[id]; !ok {
		return repository.ErrCredentialNotFound
	}
	delete(m.creds, id)
	m.deleted = append(m.deleted, id)
	return nil
}

// ============ Mock TransferRepository ============

type MockTransferRepository struct {
	entries   []*models.AssetTransferLog
	createErr error
}

func NewMockTransferRepository() *MockTransferRepository {
	return &MockTransferRepository{}
}

func (m *MockTransferRepository) Create(q repository.Querier, entry *models.AssetTransferLog) error {
	if m.createErr != nil {
		return m.createErr
	}
	entry.ID = len(m.entries) + 1
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockTransferRepository) GetByStrategy(strategyID int) ([]*models.AssetTransferLog, error) {
	var result []*models.AssetTransferLog
	for _, e := range m.entries {
		if (e.StrategyIDFrom != nil && *e.StrategyIDFrom == strategyID) ||
			(e.StrategyIDTo != nil && *e.StrategyIDTo == strategyID) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *MockTransferRepository) GetByUser(userID int, limit int) ([]*models.AssetTransferLog, error) {
	var result []*models.AssetTransferLog
	for _, e := range m.entries {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

// ============ Mock SnapshotRepository ============

type MockSnapshotRepository struct {
	snaps     []*models.StrategyValueSnapshot
	createErr error
	upserts   int
}

func NewMockSnapshotRepository() *MockSnapshotRepository {
	return &MockSnapshotRepository{}
}

func (m *MockSnapshotRepository) Create(q repository.Querier, snap *models.StrategyValueSnapshot) error {
	if m.createErr != nil {
		return m.createErr
	}
	snap.ID = len(m.snaps) + 1
	snap.CreatedAt = time.Now()
	m.snaps = append(m.snaps, snap)
	return nil
}

func (m *MockSnapshotRepository) UpsertDaily(snap *models.StrategyValueSnapshot, dayStart time.Time) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.upserts++
	return m.Create(nil, snap)
}

func (m *MockSnapshotRepository) GetByStrategy(strategyID int, from, to time.Time) ([]*models.StrategyValueSnapshot, error) {
	var result []*models.StrategyValueSnapshot
	for _, s := range m.snaps {
		if s.StrategyID == strategyID && !s.CreatedAt.Before(from) && s.CreatedAt.Before(to) {
			result = append(result, s)
		}
	}
	return result, nil
}

func (m *MockSnapshotRepository) GetAllByStrategy(strategyID int) ([]*models.StrategyValueSnapshot, error) {
	var result []*models.StrategyValueSnapshot
	for _, s := range m.snaps {
		if s.StrategyID == strategyID {
			result = append(result, s)
		}
	}
	return result, nil
}

func (m *MockSnapshotRepository) byStrategy(strategyID int) []*models.StrategyValueSnapshot {
	result, _ := m.GetAllByStrategy(strategyID)
	return result
}

// ============ Mock WebhookLogRepository ============

type MockWebhookLogRepository struct {
	entries      []*models.WebhookExecutionLog
	firstSuccess *time.Time
	createErr    error
}

func NewMockWebhookLogRepository() *MockWebhookLogRepository {
	return &MockWebhookLogRepository{}
}

func (m *MockWebhookLogRepository) Create(q repository.Querier, entry *models.WebhookExecutionLog) error {
	if m.createErr != nil {
		return m.createErr
	}
	entry.ID = len(m.entries) + 1
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockWebhookLogRepository) GetByStrategy(strategyID int, limit int) ([]*models.WebhookExecutionLog, error) {
	var result []*models.WebhookExecutionLog
	for _, e := range m.entries {
		if e.StrategyID != nil && *e.StrategyID == strategyID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *MockWebhookLogRepository) GetFirstSuccess(strategyID int) (*time.Time, error) {
	return m.firstSuccess, nil
}

func (m *MockWebhookLogRepository) last() *models.WebhookExecutionLog {
	if len(m.entries) == 0 {
		return nil
	}
	return m.entries[len(m.entries)-1]
}

// ============ Mock ExchangeProvider ============

type MockExchangeProvider struct {
	tickers  map[string]*exchange.Ticker        // pair → ticker
	balances map[int]map[string]decimal.Decimal // credID → balances
	prices   map[string]decimal.Decimal         // asset → USD
	orders   map[string]*exchange.Order         // orderID → состояние для GetOrder
	limits   map[string]*exchange.MarketLimits

	tickerErr   error
	balancesErr error
	tradeErr    error
	orderErr    error

	// Хук исполнения: тест подменяет для сценариев step-down и т.п.
	tradeFn func(credentialID int, req *TradeRequest) (*exchange.Order, error)

	executedTrades []*TradeRequest
	orderPolls     int
}

func NewMockExchangeProvider() *MockExchangeProvider {
	return &MockExchangeProvider{
		tickers:  make(map[string]*exchange.Ticker),
		balances: make(map[int]map[string]decimal.Decimal),
		prices:   make(map[string]decimal.Decimal),
		orders:   make(map[string]*exchange.Order),
		limits:   make(map[string]*exchange.MarketLimits),
	}
}

func (m *MockExchangeProvider) GetTicker(ctx context.Context, credentialID int, symbol string) (*exchange.Ticker, error) {
	if m.tickerErr != nil {
		return nil, m.tickerErr
	}
	t, ok := m.tickers[symbol]
	if !ok {
		return nil, exchange.ErrTickerUnavailable
	}
	return t, nil
}

func (m *MockExchangeProvider) GetBalances(ctx context.Context, credentialID int) (map[string]decimal.Decimal, error) {
	if m.balancesErr != nil {
		return nil, m.balancesErr
	}
	return m.balances[credentialID], nil
}

func (m *MockExchangeProvider) GetMarketLimits(ctx context.Context, credentialID int, symbol string) (*exchange.MarketLimits, error) {
	return m.limits[symbol], nil
}

func (m *MockExchangeProvider) ExecuteTrade(ctx context.Context, credentialID int, req *TradeRequest) (*exchange.Order, error) {
	m.executedTrades = append(m.executedTrades, req)
	if m.tradeFn != nil {
		return m.tradeFn(credentialID, req)
	}
	if m.tradeErr != nil {
		return nil, m.tradeErr
	}
	return &exchange.Order{
		ID:            "order-1",
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Pair,
		Side:          req.Side,
		Status:        exchange.OrderStatusNew,
	}, nil
}

func (m *MockExchangeProvider) GetOrder(ctx context.Context, credentialID int, symbol, orderID string) (*exchange.Order, error) {
	m.orderPolls++
	if m.orderErr != nil {
		return nil, m.orderErr
	}
	o, ok := m.orders[orderID]
	if !ok {
		return nil, exchange.ErrOrderNotFound
	}
	return o, nil
}

func (m *MockExchangeProvider) PriceUSD(ctx context.Context, credentialID int, asset string) (decimal.Decimal, error) {
	if exchange.IsStableQuote(asset) {
		return decimal.NewFromInt(1), nil
	}
	if p, ok := m.prices[asset]; ok {
		return p, nil
	}
	return decimal.Zero, exchange.ErrTickerUnavailable
}

func (m *MockExchangeProvider) ValueUSD(ctx context.Context, credentialID int, st *models.Strategy) (decimal.Decimal, error) {
	basePrice, err := m.PriceUSD(ctx, credentialID, st.BaseSymbol)
	if err != nil {
		return decimal.Zero, err
	}
	quotePrice, err := m.PriceUSD(ctx, credentialID, st.QuoteSymbol)
	if err != nil {
		return decimal.Zero, err
	}
	return st.AllocatedBase.Mul(basePrice).Add(st.AllocatedQuote.Mul(quotePrice)), nil
}

// ============ Mock AllocationBroadcaster ============

type MockBroadcaster struct {
	allocations []int
	settlements []string
	driftAlarms []string
}

func (m *MockBroadcaster) BroadcastAllocationUpdate(strategyID int, base, quote string) {
	m.allocations = append(m.allocations, strategyID)
}

func (m *MockBroadcaster) BroadcastSettlement(strategyID int, status string, orderID string) {
	m.settlements = append(m.settlements, status)
}

func (m *MockBroadcaster) BroadcastDriftAlarm(credentialID int, asset string, drift string) {
	m.driftAlarms = append(m.driftAlarms, asset)
}
