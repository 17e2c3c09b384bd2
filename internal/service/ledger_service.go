package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vledger/internal/models"
	"vledger/internal/repository"
	"vledger/pkg/utils"
)

// Ошибки леджера. Все они доменные: откатывают транзакцию целиком
// и никогда не оставляют частично применённый перевод
var (
	ErrAmountNotPositive       = errors.New("transfer amount must be positive")
	ErrSelfTransfer            = errors.New("source and destination are the same")
	ErrInvalidTransferShape    = errors.New("transfer must involve at least one strategy")
	ErrAssetMismatch           = errors.New("asset does not match the endpoint")
	ErrCrossCredential         = errors.New("strategies must share the same exchange credential")
	ErrInsufficientUnallocated = errors.New("insufficient unallocated balance on the main account")
	ErrInsufficientAllocated   = errors.New("insufficient allocated balance on the strategy")
	ErrExchangeUnavailable     = errors.New("cannot reach the exchange to verify live balance")
	ErrConcurrentMutation      = errors.New("concurrent ledger mutation, retry the operation")
	ErrAccessDenied            = errors.New("access denied")
)

// LedgerService - авторитетный учёт виртуальных выделений.
//
// Каждый перевод исполняется одной транзакцией: блокирующее чтение
// затронутых стратегий (FOR UPDATE), проверка инвариантов по
// заблокированному состоянию, обновление выделений, строка журнала
// переводов и снимок стоимости каждой затронутой стратегии. Сетевые
// обращения к бирже (баланс, котировки) выполняются до открытия
// транзакции, чтобы не держать блокировку строк во время I/O
type LedgerService struct {
	db         *sql.DB
	strategies StrategyRepositoryInterface
	creds      CredentialRepositoryInterface
	transfers  TransferRepositoryInterface
	snapshots  SnapshotRepositoryInterface
	exchanges  ExchangeProvider

	// Порог дрейфа, выше которого расхождение считается тревогой
	driftTolerance decimal.Decimal

	wsHub AllocationBroadcaster
	log   *utils.Logger
}

// NewLedgerService создает новый экземпляр сервиса
func NewLedgerService(
	db *sql.DB,
	strategies StrategyRepositoryInterface,
	creds CredentialRepositoryInterface,
	transfers TransferRepositoryInterface,
	snapshots SnapshotRepositoryInterface,
	exchanges ExchangeProvider,
	driftTolerance decimal.Decimal,
) *LedgerService {
	return &LedgerService{
		db:             db,
		strategies:     strategies,
		creds:          creds,
		transfers:      transfers,
		snapshots:      snapshots,
		exchanges:      exchanges,
		driftTolerance: driftTolerance,
		log:            utils.L().WithComponent("ledger"),
	}
}

// SetWebSocketHub устанавливает hub для broadcast обновлений выделений
func (s *LedgerService) SetWebSocketHub(hub AllocationBroadcaster) {
	s.wsHub = hub
}

// Transfer перемещает виртуальный баланс между основным счётом и
// стратегиями. Три допустимые формы: main→strategy, strategy→main,
// strategy→strategy. Количество никогда не создаётся и не исчезает:
// сумма выделений по credential/asset меняется только через main-ногу
func (s *LedgerService) Transfer(ctx context.Context, userID int, sourceRaw, destRaw, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrAmountNotPositive
	}

	asset = strings.ToUpper(strings.TrimSpace(asset))
	if err := utils.ValidateAsset(asset); err != nil {
		return err
	}

	src, err := models.ParseTransferEndpoint(sourceRaw)
	if err != nil {
		return err
	}
	dst, err := models.ParseTransferEndpoint(destRaw)
	if err != nil {
		return err
	}

	if src.String() == dst.String() {
		return ErrSelfTransfer
	}
	if src.IsMain() && dst.IsMain() {
		return ErrInvalidTransferShape
	}
	if src.IsMain() && src.Asset != asset {
		return ErrAssetMismatch
	}
	if dst.IsMain() && dst.Asset != asset {
		return ErrAssetMismatch
	}

	switch {
	case src.IsMain():
		return s.transferMainToStrategy(ctx, userID, src, dst, asset, amount)
	case dst.IsMain():
		return s.transferStrategyToMain(ctx, userID, src, dst, asset, amount)
	default:
		return s.transferStrategyToStrategy(ctx, userID, src, dst, asset, amount)
	}
}

func (s *LedgerService) transferMainToStrategy(ctx context.Context, userID int, src, dst models.TransferEndpoint, asset string, amount decimal.Decimal) error {
	st, err := s.strategies.GetByID(dst.StrategyID)
	if err != nil {
		return err
	}
	if st.UserID != userID {
		return ErrAccessDenied
	}
	if st.CredentialID != src.CredentialID {
		return ErrCrossCredential
	}
	if !st.SupportsAsset(asset) {
		return ErrAssetMismatch
	}

	// Живой баланс и котировки берутся до транзакции:
	// блокировка строк не должна пережидать сетевой I/O
	balances, err := s.exchanges.GetBalances(ctx, src.CredentialID)
	if err != nil {
		return errors.Join(ErrExchangeUnavailable, err)
	}
	live := balances[asset]

	prices, err := s.strategyPrices(ctx, st)
	if err != nil {
		return errors.Join(ErrExchangeUnavailable, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	locked, err := s.strategies.GetForUpdate(tx, st.ID)
	if err != nil {
		return translateConflict(err)
	}

	allocated, err := s.strategies.SumAllocations(tx, src.CredentialID, asset)
	if err != nil {
		return err
	}
	if live.Sub(allocated).LessThan(amount) {
		return ErrInsufficientUnallocated
	}

	if err := s.applyDelta(tx, locked, asset, amount); err != nil {
		return err
	}

	entry := &models.AssetTransferLog{
		UserID:        userID,
		SourceID:      src.String(),
		DestinationID: dst.String(),
		Asset:         asset,
		Amount:        amount,
		StrategyIDTo:  &locked.ID,
	}
	if err := s.transfers.Create(tx, entry); err != nil {
		return err
	}

	// Снимок вставляется после строки журнала: его метка времени
	// обязана быть строго позже для корректной привязки cash flow
	if err := s.writeSnapshot(tx, locked, prices); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return translateConflict(err)
	}
	transfersTotal.Inc()

	s.broadcastAllocation(locked)
	s.log.Info("transfer committed",
		zap.String("source", src.String()),
		zap.String("destination", dst.String()),
		utils.Asset(asset),
		utils.Amount(amount.String()))
	return nil
}

func (s *LedgerService) transferStrategyToMain(ctx context.Context, userID int, src, dst models.TransferEndpoint, asset string, amount decimal.Decimal) error {
	st, err := s.strategies.GetByID(src.StrategyID)
	if err != nil {
		return err
	}
	if st.UserID != userID {
		return ErrAccessDenied
	}
	if st.CredentialID != dst.CredentialID {
		return ErrCrossCredential
	}
	if !st.SupportsAsset(asset) {
		return ErrAssetMismatch
	}

	prices, err := s.strategyPrices(ctx, st)
	if err != nil {
		return errors.Join(ErrExchangeUnavailable, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	locked, err := s.strategies.GetForUpdate(tx, st.ID)
	if err != nil {
		return translateConflict(err)
	}

	// Возврат на основной счёт проверяется против собственного
	// выделения стратегии, не против пула
	if err := s.applyDelta(tx, locked, asset, amount.Neg()); err != nil {
		return err
	}

	entry := &models.AssetTransferLog{
		UserID:         userID,
		SourceID:       src.String(),
		DestinationID:  dst.String(),
		Asset:          asset,
		Amount:         amount,
		StrategyIDFrom: &locked.ID,
	}
	if err := s.transfers.Create(tx, entry); err != nil {
		return err
	}
	if err := s.writeSnapshot(tx, locked, prices); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return translateConflict(err)
	}
	transfersTotal.Inc()

	s.broadcastAllocation(locked)
	s.log.Info("transfer committed",
		zap.String("source", src.String()),
		zap.String("destination", dst.String()),
		utils.Asset(asset),
		utils.Amount(amount.String()))
	return nil
}

func (s *LedgerService) transferStrategyToStrategy(ctx context.Context, userID int, src, dst models.TransferEndpoint, asset string, amount decimal.Decimal) error {
	if src.StrategyID == dst.StrategyID {
		return ErrSelfTransfer
	}

	from, err := s.strategies.GetByID(src.StrategyID)
	if err != nil {
		return err
	}
	to, err := s.strategies.GetByID(dst.StrategyID)
	if err != nil {
		return err
	}
	if from.UserID != userID || to.UserID != userID {
		return ErrAccessDenied
	}
	if from.CredentialID != to.CredentialID {
		return ErrCrossCredential
	}
	if !from.SupportsAsset(asset) || !to.SupportsAsset(asset) {
		return ErrAssetMismatch
	}

	fromPrices, err := s.strategyPrices(ctx, from)
	if err != nil {
		return errors.Join(ErrExchangeUnavailable, err)
	}
	toPrices, err := s.strategyPrices(ctx, to)
	if err != nil {
		return errors.Join(ErrExchangeUnavailable, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Блокируем строки в порядке возрастания id во избежание
	// взаимных блокировок встречных переводов
	first, second := from.ID, to.ID
	if second < first {
		first, second = second, first
	}
	lockedFirst, err := s.strategies.GetForUpdate(tx, first)
	if err != nil {
		return translateConflict(err)
	}
	lockedSecond, err := s.strategies.GetForUpdate(tx, second)
	if err != nil {
		return translateConflict(err)
	}

	lockedFrom, lockedTo := lockedFirst, lockedSecond
	if lockedFrom.ID != from.ID {
		lockedFrom, lockedTo = lockedSecond, lockedFirst
	}

	if err := s.applyDelta(tx, lockedFrom, asset, amount.Neg()); err != nil {
		return err
	}
	if err := s.applyDelta(tx, lockedTo, asset, amount); err != nil {
		return err
	}

	entry := &models.AssetTransferLog{
		UserID:         userID,
		SourceID:       src.String(),
		DestinationID:  dst.String(),
		Asset:          asset,
		Amount:         amount,
		StrategyIDFrom: &lockedFrom.ID,
		StrategyIDTo:   &lockedTo.ID,
	}
	if err := s.transfers.Create(tx, entry); err != nil {
		return err
	}

	if err := s.writeSnapshot(tx, lockedFrom, fromPrices); err != nil {
		return err
	}
	if err := s.writeSnapshot(tx, lockedTo, toPrices); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return translateConflict(err)
	}
	transfersTotal.Inc()

	s.broadcastAllocation(lockedFrom)
	s.broadcastAllocation(lockedTo)
	s.log.Info("transfer committed",
		zap.String("source", src.String()),
		zap.String("destination", dst.String()),
		utils.Asset(asset),
		utils.Amount(amount.String()))
	return nil
}

// UnallocatedBalance возвращает невыделенный остаток основного счёта:
// живой биржевой баланс минус сумма текущих выделений. Считается
// заново при каждом вызове, чтобы отражать последние расчёты сделок
func (s *LedgerService) UnallocatedBalance(ctx context.Context, userID, credentialID int, asset string) (decimal.Decimal, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if err := utils.ValidateAsset(asset); err != nil {
		return decimal.Zero, err
	}

	cred, err := s.creds.GetByID(credentialID)
	if err != nil {
		return decimal.Zero, err
	}
	if cred.UserID != userID {
		return decimal.Zero, ErrAccessDenied
	}

	balances, err := s.exchanges.GetBalances(ctx, credentialID)
	if err != nil {
		return decimal.Zero, errors.Join(ErrExchangeUnavailable, err)
	}

	allocated, err := s.strategies.SumAllocations(s.db, credentialID, asset)
	if err != nil {
		return decimal.Zero, err
	}

	return balances[asset].Sub(allocated), nil
}

// DriftReport - расхождение суммы выделений с живым балансом
type DriftReport struct {
	Asset     string          `json:"asset"`
	Allocated decimal.Decimal `json:"allocated"`
	Live      decimal.Decimal `json:"live"`
	Drift     decimal.Decimal `json:"drift"` // allocated - live, положительное = перевыделение
}

// CheckDrift сверяет сумму выделений с живым биржевым балансом.
// Положительный дрейф означает перевыделение (ручной вывод средств
// мимо леджера либо накопленный шум) и логируется как тревога.
// Никогда не откатывает сделки: это обнаружение, не предотвращение
func (s *LedgerService) CheckDrift(ctx context.Context, credentialID int, assets []string) ([]DriftReport, error) {
	balances, err := s.exchanges.GetBalances(ctx, credentialID)
	if err != nil {
		return nil, errors.Join(ErrExchangeUnavailable, err)
	}

	reports := make([]DriftReport, 0, len(assets))
	for _, asset := range assets {
		allocated, err := s.strategies.SumAllocations(s.db, credentialID, asset)
		if err != nil {
			return nil, err
		}

		live := balances[asset]
		drift := allocated.Sub(live)
		report := DriftReport{Asset: asset, Allocated: allocated, Live: live, Drift: drift}
		reports = append(reports, report)

		if drift.GreaterThan(s.driftTolerance) {
			s.log.Error("allocation drift detected: allocations exceed live balance",
				utils.CredentialID(credentialID),
				utils.Asset(asset),
				zap.String("allocated", allocated.String()),
				zap.String("live", live.String()),
				zap.String("drift", drift.String()))
			driftAlarmsTotal.Inc()
			if s.wsHub != nil {
				s.wsHub.BroadcastDriftAlarm(credentialID, asset, drift.String())
			}
		}
	}
	return reports, nil
}

// DailySweep фиксирует дневной снимок стоимости каждой активной
// стратегии. Если за сегодня снимок уже есть, он обновляется, а не
// дублируется. Ошибка оценки одной стратегии не прерывает обход
func (s *LedgerService) DailySweep(ctx context.Context) error {
	active, err := s.strategies.GetAllActive()
	if err != nil {
		return err
	}

	dayStart := utils.GetDayStart()
	var failed int
	for _, st := range active {
		value, err := s.exchanges.ValueUSD(ctx, st.CredentialID, st)
		if err != nil {
			failed++
			s.log.Warn("sweep cannot value strategy",
				utils.StrategyID(st.ID), zap.Error(err))
			continue
		}

		snap := &models.StrategyValueSnapshot{
			StrategyID: st.ID,
			ValueUSD:   value,
			BaseQty:    st.AllocatedBase,
			QuoteQty:   st.AllocatedQuote,
		}
		if err := s.snapshots.UpsertDaily(snap, dayStart); err != nil {
			failed++
			s.log.Error("sweep cannot write snapshot",
				utils.StrategyID(st.ID), zap.Error(err))
		}
	}

	s.log.Info("daily snapshot sweep finished",
		zap.Int("strategies", len(active)),
		zap.Int("failed", failed))
	return nil
}

// applyDelta прибавляет delta к выделению стратегии по указанному
// активу и пишет новое состояние в рамках транзакции. Отрицательный
// результат запрещён
func (s *LedgerService) applyDelta(tx *sql.Tx, st *models.Strategy, asset string, delta decimal.Decimal) error {
	newBase, newQuote := st.AllocatedBase, st.AllocatedQuote
	switch asset {
	case st.BaseSymbol:
		newBase = newBase.Add(delta)
	case st.QuoteSymbol:
		newQuote = newQuote.Add(delta)
	default:
		return ErrAssetMismatch
	}

	if newBase.IsNegative() || newQuote.IsNegative() {
		return ErrInsufficientAllocated
	}

	if err := s.strategies.UpdateAllocations(tx, st.ID, newBase, newQuote); err != nil {
		return err
	}
	st.AllocatedBase, st.AllocatedQuote = newBase, newQuote
	return nil
}

// strategyPrices возвращает долларовые цены base и quote стратегии
func (s *LedgerService) strategyPrices(ctx context.Context, st *models.Strategy) (map[string]decimal.Decimal, error) {
	basePrice, err := s.exchanges.PriceUSD(ctx, st.CredentialID, st.BaseSymbol)
	if err != nil {
		return nil, err
	}
	quotePrice, err := s.exchanges.PriceUSD(ctx, st.CredentialID, st.QuoteSymbol)
	if err != nil {
		return nil, err
	}
	return map[string]decimal.Decimal{st.BaseSymbol: basePrice, st.QuoteSymbol: quotePrice}, nil
}

// writeSnapshot фиксирует стоимость стратегии после изменения выделений
func (s *LedgerService) writeSnapshot(tx *sql.Tx, st *models.Strategy, prices map[string]decimal.Decimal) error {
	value := st.AllocatedBase.Mul(prices[st.BaseSymbol]).Add(st.AllocatedQuote.Mul(prices[st.QuoteSymbol]))
	return s.snapshots.Create(tx, &models.StrategyValueSnapshot{
		StrategyID: st.ID,
		ValueUSD:   value,
		BaseQty:    st.AllocatedBase,
		QuoteQty:   st.AllocatedQuote,
	})
}

func (s *LedgerService) broadcastAllocation(st *models.Strategy) {
	if s.wsHub != nil {
		s.wsHub.BroadcastAllocationUpdate(st.ID, st.AllocatedBase.String(), st.AllocatedQuote.String())
	}
}

// translateConflict приводит ошибки сериализации и взаимных блокировок
// Postgres к доменной ErrConcurrentMutation (HTTP 409)
func translateConflict(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrStrategyNotFound) {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "40001") ||
		strings.Contains(msg, "40P01") ||
		strings.Contains(msg, "could not serialize") ||
		strings.Contains(msg, "deadlock detected") {
		return errors.Join(ErrConcurrentMutation, err)
	}
	return err
}
