package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vledger/internal/models"
	"vledger/pkg/utils"
)

// Гранулярности агрегации доходности
const (
	BucketDaily     = "daily"
	BucketMonthly   = "monthly"
	BucketQuarterly = "quarterly"
	BucketYearly    = "yearly"
)

var ErrInvalidBucket = errors.New("bucket must be one of: daily, monthly, quarterly, yearly")

// PerformancePoint - одна точка ряда доходности
type PerformancePoint struct {
	Timestamp        time.Time       `json:"timestamp"`
	ValueUSD         decimal.Decimal `json:"value_usd"`
	PeriodReturn     decimal.Decimal `json:"period_return"`
	CumulativeReturn decimal.Decimal `json:"cumulative_return"`
}

// PerformanceReport - ряд TWRR стратегии
type PerformanceReport struct {
	StrategyID       int                `json:"strategy_id"`
	Bucket           string             `json:"bucket"`
	Points           []PerformancePoint `json:"points"`
	CumulativeReturn decimal.Decimal    `json:"cumulative_return"`
}

// PerformanceService - расчёт взвешенной по времени доходности (TWRR).
//
// Доходность подпериода i: (V_i - F_i) / V_{i-1} - 1, где F_i -
// суммарный денежный поток переводов, попавших в интервал
// (snapshot[i-1], snapshot[i]]. Подпериоды компаундируются
// геометрически, поэтому переводы (пополнения и выводы) не искажают
// торговый результат. Переводы до первой реальной сделки - чистое
// фондирование и в потоки не попадают
type PerformanceService struct {
	strategies  StrategyRepositoryInterface
	snapshots   SnapshotRepositoryInterface
	transfers   TransferRepositoryInterface
	webhookLogs WebhookLogRepositoryInterface
	exchanges   ExchangeProvider

	log *utils.Logger
}

// NewPerformanceService создает новый экземпляр сервиса
func NewPerformanceService(
	strategies StrategyRepositoryInterface,
	snapshots SnapshotRepositoryInterface,
	transfers TransferRepositoryInterface,
	webhookLogs WebhookLogRepositoryInterface,
	exchanges ExchangeProvider,
) *PerformanceService {
	return &PerformanceService{
		strategies:  strategies,
		snapshots:   snapshots,
		transfers:   transfers,
		webhookLogs: webhookLogs,
		exchanges:   exchanges,
		log:         utils.L().WithComponent("performance"),
	}
}

// GetPerformance строит ряд TWRR стратегии с агрегацией по bucket
func (s *PerformanceService) GetPerformance(ctx context.Context, userID, strategyID int, bucket string) (*PerformanceReport, error) {
	if !validBucket(bucket) {
		return nil, ErrInvalidBucket
	}

	st, err := s.strategies.GetByID(strategyID)
	if err != nil {
		return nil, err
	}
	if st.UserID != userID {
		return nil, ErrAccessDenied
	}

	snaps, err := s.snapshots.GetAllByStrategy(strategyID)
	if err != nil {
		return nil, err
	}

	report := &PerformanceReport{StrategyID: strategyID, Bucket: bucket}
	if len(snaps) < 2 {
		for _, snap := range snaps {
			report.Points = append(report.Points, PerformancePoint{
				Timestamp: bucketStart(snap.CreatedAt, bucket),
				ValueUSD:  snap.ValueUSD,
			})
		}
		return report, nil
	}

	flows, err := s.intervalFlows(ctx, st, snaps)
	if err != nil {
		return nil, err
	}

	// Доходности сырых интервалов между соседними снимками
	subReturns := make([]decimal.Decimal, len(snaps))
	for i := 1; i < len(snaps); i++ {
		prev := snaps[i-1].ValueUSD
		if !prev.IsPositive() {
			continue
		}
		subReturns[i] = snaps[i].ValueUSD.Sub(flows[i]).Div(prev).Sub(decimal.NewFromInt(1))
	}

	// Агрегация: внутри каждого bucket доходности компаундируются,
	// затем компаундируются сами bucket'ы
	one := decimal.NewFromInt(1)
	cumulative := decimal.Zero

	var points []PerformancePoint
	currentBucket := bucketStart(snaps[0].CreatedAt, bucket)
	bucketReturn := decimal.Zero
	bucketValue := snaps[0].ValueUSD

	flush := func() {
		cumulative = one.Add(cumulative).Mul(one.Add(bucketReturn)).Sub(one)
		points = append(points, PerformancePoint{
			Timestamp:        currentBucket,
			ValueUSD:         bucketValue,
			PeriodReturn:     bucketReturn,
			CumulativeReturn: cumulative,
		})
	}

	for i := 1; i < len(snaps); i++ {
		b := bucketStart(snaps[i].CreatedAt, bucket)
		if !b.Equal(currentBucket) {
			flush()
			currentBucket = b
			bucketReturn = decimal.Zero
		}
		bucketReturn = one.Add(bucketReturn).Mul(one.Add(subReturns[i])).Sub(one)
		bucketValue = snaps[i].ValueUSD
	}
	flush()

	report.Points = points
	report.CumulativeReturn = cumulative
	return report, nil
}

// intervalFlows раскладывает долларовые потоки переводов по интервалам
// снимков. flow[i] относится к интервалу (snapshot[i-1], snapshot[i]].
// Переводы до первой успешной сделки исключаются как фондирование
func (s *PerformanceService) intervalFlows(ctx context.Context, st *models.Strategy, snaps []*models.StrategyValueSnapshot) ([]decimal.Decimal, error) {
	flows := make([]decimal.Decimal, len(snaps))

	firstTrade, err := s.webhookLogs.GetFirstSuccess(st.ID)
	if err != nil {
		return nil, err
	}
	if firstTrade == nil {
		// Сделок не было: все переводы - фондирование
		return flows, nil
	}

	transfers, err := s.transfers.GetByStrategy(st.ID)
	if err != nil {
		return nil, err
	}

	// Цены активов запрашиваются один раз на весь расчёт
	prices := make(map[string]decimal.Decimal)

	for _, tr := range transfers {
		if !tr.CreatedAt.After(*firstTrade) {
			continue
		}

		idx := intervalIndex(snaps, tr.CreatedAt)
		if idx < 0 {
			continue
		}

		price, ok := prices[tr.Asset]
		if !ok {
			price, err = s.exchanges.PriceUSD(ctx, st.CredentialID, tr.Asset)
			if err != nil {
				s.log.Warn("cannot price transfer asset, flow excluded",
					utils.StrategyID(st.ID), utils.Asset(tr.Asset), zap.Error(err))
				price = decimal.Zero
			}
			prices[tr.Asset] = price
		}

		usd := tr.Amount.Mul(price)
		if tr.StrategyIDFrom != nil && *tr.StrategyIDFrom == st.ID {
			usd = usd.Neg()
		}
		flows[idx] = flows[idx].Add(usd)
	}

	return flows, nil
}

// intervalIndex находит i такой, что ts попадает в
// (snapshot[i-1], snapshot[i]]. Возвращает -1 вне диапазона
func intervalIndex(snaps []*models.StrategyValueSnapshot, ts time.Time) int {
	for i := 1; i < len(snaps); i++ {
		if ts.After(snaps[i-1].CreatedAt) && !ts.After(snaps[i].CreatedAt) {
			return i
		}
	}
	return -1
}

func validBucket(bucket string) bool {
	switch bucket {
	case BucketDaily, BucketMonthly, BucketQuarterly, BucketYearly:
		return true
	}
	return false
}

// bucketStart возвращает начало периода, в который попадает момент t
func bucketStart(t time.Time, bucket string) time.Time {
	switch bucket {
	case BucketMonthly:
		return utils.GetMonthStartFrom(t)
	case BucketQuarterly:
		return utils.GetQuarterStartFrom(t)
	case BucketYearly:
		return utils.GetYearStartFrom(t)
	default:
		return utils.GetDayStartFrom(t)
	}
}
