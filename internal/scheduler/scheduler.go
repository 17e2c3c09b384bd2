package scheduler

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"vledger/pkg/utils"
)

var sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vledger",
	Subsystem: "scheduler",
	Name:      "sweep_runs_total",
	Help:      "Daily snapshot sweep runs by result",
}, []string{"result"})

// sweepLeaseName - имя аренды ежедневного снимка в scheduler_leases
const sweepLeaseName = "daily_snapshot_sweep"

// Sweeper выполняет обход активных стратегий и фиксацию дневных снимков
type Sweeper interface {
	DailySweep(ctx context.Context) error
}

// LeaseStore - взаимное исключение плановых заданий между процессами
type LeaseStore interface {
	Acquire(name, holder string, ttl time.Duration) (bool, error)
	Release(name, holder string) error
}

// Config - параметры планировщика
type Config struct {
	SweepInterval time.Duration // период между запусками снимка
	LeaseTTL      time.Duration // срок аренды, должен покрывать длительность обхода
	SweepTimeout  time.Duration // лимит времени одного обхода
}

// DefaultConfig возвращает параметры по умолчанию: снимок раз в сутки,
// аренда с запасом на медленные биржевые вызовы
func DefaultConfig() Config {
	return Config{
		SweepInterval: 24 * time.Hour,
		LeaseTTL:      30 * time.Minute,
		SweepTimeout:  15 * time.Minute,
	}
}

// Scheduler запускает ежедневный снимок стоимости стратегий.
//
// Несколько экземпляров приложения могут работать одновременно:
// аренда в базе гарантирует, что обход выполнит ровно один из них.
// Аренда упавшего процесса истекает и перехватывается живым
type Scheduler struct {
	sweeper Sweeper
	leases  LeaseStore
	cfg     Config
	holder  string
	log     *utils.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New создает планировщик. Идентификатор держателя аренды уникален
// для каждого процесса
func New(sweeper Sweeper, leases LeaseStore, cfg Config) *Scheduler {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultConfig().LeaseTTL
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = DefaultConfig().SweepTimeout
	}
	hostname, _ := os.Hostname()
	return &Scheduler{
		sweeper: sweeper,
		leases:  leases,
		cfg:     cfg,
		holder:  hostname + "-" + uuid.New().String(),
		log:     utils.L().WithComponent("scheduler"),
		stop:    make(chan struct{}),
	}
}

// Start запускает фоновый цикл. Первый запуск откладывается до
// следующей границы интервала, чтобы рестарт процесса не плодил
// лишние снимки
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Info("scheduler started",
		zap.Duration("sweep_interval", s.cfg.SweepInterval),
		zap.String("holder", s.holder))
}

// Stop останавливает цикл и дожидается завершения текущего обхода
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	timer := time.NewTimer(s.untilNextRun())
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-timer.C:
			s.RunSweep()
			timer.Reset(s.untilNextRun())
		}
	}
}

// untilNextRun возвращает время до следующей границы интервала.
// Для суточного интервала это полночь UTC
func (s *Scheduler) untilNextRun() time.Duration {
	now := time.Now().UTC()
	next := now.Truncate(s.cfg.SweepInterval).Add(s.cfg.SweepInterval)
	return next.Sub(now)
}

// RunSweep выполняет один обход под арендой. Если аренду держит
// другой процесс, обход пропускается без ошибки
func (s *Scheduler) RunSweep() {
	acquired, err := s.leases.Acquire(sweepLeaseName, s.holder, s.cfg.LeaseTTL)
	if err != nil {
		s.log.Error("cannot acquire sweep lease", zap.Error(err))
		sweepRunsTotal.WithLabelValues("error").Inc()
		return
	}
	if !acquired {
		s.log.Debug("sweep lease held by another process")
		sweepRunsTotal.WithLabelValues("lease_held").Inc()
		return
	}
	defer func() {
		if err := s.leases.Release(sweepLeaseName, s.holder); err != nil {
			s.log.Warn("cannot release sweep lease", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepTimeout)
	defer cancel()

	if err := s.sweeper.DailySweep(ctx); err != nil {
		s.log.Error("daily sweep failed", zap.Error(err))
		sweepRunsTotal.WithLabelValues("error").Inc()
		return
	}
	sweepRunsTotal.WithLabelValues("success").Inc()
}
