package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// breaker.go - circuit breaker для вызовов биржевого API
//
// Состояния:
// - Closed: вызовы проходят, неудачи считаются в скользящем окне
// - Open: после N неудач в окне вызовы отклоняются мгновенно (fail fast)
// - HalfOpen: по истечении cooldown пропускается ограниченное число
//   пробных вызовов; успехи закрывают breaker, неудача снова открывает
//
// Breaker локален для процесса и потокобезопасен. Состояние не
// персистится: после рестарта breaker начинает закрытым.
// Ключ - логическое имя операции ("binance.ticker", "bybit.order"),
// у каждой операции своя статистика отказов.
//
// Breakers живут в явном Registry, который создаётся адаптером
// биржевого слоя и передаётся по ссылке - никаких глобальных
// синглтонов, тесты используют изолированные экземпляры.

// Ошибки circuit breaker
var (
	// ErrOpen возвращается когда breaker открыт и вызов отклонён без
	// обращения к сети. Классифицируется как "service unavailable"
	ErrOpen = errors.New("circuit breaker is open")
)

// State - состояние breaker'а
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String возвращает имя состояния
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config - параметры breaker'а
type Config struct {
	// FailureThreshold - число неудач в окне, открывающее breaker
	// По умолчанию: 5
	FailureThreshold int

	// Window - скользящее окно подсчёта неудач
	// По умолчанию: 1 минута
	Window time.Duration

	// Cooldown - время в Open до перехода в HalfOpen
	// По умолчанию: 30 секунд
	Cooldown time.Duration

	// HalfOpenMax - число успешных пробных вызовов для полного закрытия
	// По умолчанию: 2
	HalfOpenMax int
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           time.Minute,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      2,
	}
}

// validate устанавливает значения по умолчанию
func (c *Config) validate() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 2
	}
}

// StateChangeFunc вызывается при смене состояния (для метрик/логов)
type StateChangeFunc func(name string, from, to State)

// Breaker - circuit breaker одной логической операции
type Breaker struct {
	name string
	cfg  Config

	mu              sync.Mutex
	state           State
	failures        []time.Time // времена неудач внутри окна
	openedAt        time.Time
	halfOpenActive  int // пробные вызовы в полёте
	halfOpenSuccess int

	onStateChange StateChangeFunc
}

// New создаёт breaker с указанным именем операции
func New(name string, cfg Config, onStateChange StateChangeFunc) *Breaker {
	cfg.validate()
	return &Breaker{
		name:          name,
		cfg:           cfg,
		state:         StateClosed,
		onStateChange: onStateChange,
	}
}

// Name возвращает имя операции
func (b *Breaker) Name() string {
	return b.name
}

// State возвращает текущее состояние (с учётом истёкшего cooldown)
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state
}

// refreshLocked переводит Open -> HalfOpen по истечении cooldown
// ВАЖНО: вызывается под lock'ом
func (b *Breaker) refreshLocked() {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.Cooldown {
		b.transitionLocked(StateHalfOpen)
		b.halfOpenActive = 0
		b.halfOpenSuccess = 0
	}
}

// transitionLocked меняет состояние и дёргает callback
// ВАЖНО: вызывается под lock'ом
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onStateChange != nil {
		// Callback вне lock'а не нужен: он только пишет метрику/лог
		b.onStateChange(b.name, from, to)
	}
}

// allow решает, пропустить ли вызов
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	case StateHalfOpen:
		// Ограничиваем число пробных вызовов
		if b.halfOpenActive >= b.cfg.HalfOpenMax {
			return fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		b.halfOpenActive++
		return nil
	}
	return nil
}

// success фиксирует успешный вызов
func (b *Breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		// Успех в закрытом состоянии сбрасывает накопленные неудачи
		b.failures = b.failures[:0]
	case StateHalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.HalfOpenMax {
			b.transitionLocked(StateClosed)
			b.failures = b.failures[:0]
		}
	}
}

// failure фиксирует неудачный вызов
func (b *Breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		// Неудача пробного вызова снова открывает breaker
		b.openedAt = time.Now()
		b.transitionLocked(StateOpen)
		return
	case StateOpen:
		return
	}

	now := time.Now()
	b.failures = append(b.failures, now)

	// Выкидываем неудачи за пределами окна
	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept

	if len(b.failures) >= b.cfg.FailureThreshold {
		b.openedAt = now
		b.transitionLocked(StateOpen)
	}
}

// Do выполняет операцию под защитой breaker'а
//
// Возвращает:
//   - ErrOpen (wrapped): breaker открыт, операция не вызывалась
//   - ошибку операции: вызов прошёл, но операция провалилась
//   - nil: успех
//
// Пример:
//
//	err := b.Do(ctx, func() error {
//	    _, err := client.GetTicker(ctx, symbol)
//	    return err
//	})
func (b *Breaker) Do(ctx context.Context, operation func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	// Отменённый контекст не считаем отказом внешнего сервиса
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := operation(); err != nil {
		b.failure()
		return err
	}

	b.success()
	return nil
}

// ============================================================
// Registry
// ============================================================

// Registry - явный реестр breaker'ов по имени операции.
// Принадлежит адаптеру биржевого слоя и внедряется зависимостью
type Registry struct {
	mu            sync.Mutex
	breakers      map[string]*Breaker
	cfg           Config
	onStateChange StateChangeFunc
}

// NewRegistry создаёт реестр с общей конфигурацией breaker'ов
func NewRegistry(cfg Config, onStateChange StateChangeFunc) *Registry {
	cfg.validate()
	return &Registry{
		breakers:      make(map[string]*Breaker),
		cfg:           cfg,
		onStateChange: onStateChange,
	}
}

// Get возвращает breaker для операции, создавая его при необходимости
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.cfg, r.onStateChange)
	r.breakers[name] = b
	return b
}

// Do выполняет операцию под breaker'ом с указанным именем
func (r *Registry) Do(ctx context.Context, name string, operation func() error) error {
	return r.Get(name).Do(ctx, operation)
}
