// Package breaker содержит реестр circuit breaker'ов, по одному на зависимость.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/clock"
	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
)

const (
	defaultThreshold    = 5
	defaultResetTimeout = 30 * time.Second
)

// State - состояние circuit breaker'а.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String возвращает имя состояния для логов и API.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Settings задаёт порог отказов и время до пробного вызова.
type Settings struct {
	Threshold    int
	ResetTimeout time.Duration
}

func (s Settings) normalized() Settings {
	if s.Threshold <= 0 {
		s.Threshold = defaultThreshold
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = defaultResetTimeout
	}
	return s
}

// Status - снимок состояния breaker'а.
type Status struct {
	Name         string
	State        State
	Failures     int
	OpenedAt     time.Time
	Threshold    int
	ResetTimeout time.Duration
}

// entry хранит состояние одной зависимости; mu защищает только её.
type entry struct {
	mu       sync.Mutex
	name     string
	settings Settings
	state    State
	failures int
	openedAt time.Time
	probing  bool
	// epoch растёт на каждом переходе; вызов из прошлой эпохи не влияет на счётчик.
	epoch uint64
}

// ticket - допуск вызова, выданный acquire.
type ticket struct {
	probe bool
	epoch uint64
}

// Registry - реестр breaker'ов по имени зависимости.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	defaults  Settings
	overrides map[string]Settings

	clock     clock.Clock
	isFailure func(error) bool
	metrics   *metrics.BreakerMetrics
	logger    *log.Entry
}

// Option настраивает Registry.
type Option func(*Registry)

// WithClock подменяет источник времени.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics подключает prometheus-метрики.
func WithMetrics(m *metrics.BreakerMetrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithDefaults задаёт настройки для зависимостей без индивидуальных.
func WithDefaults(settings Settings) Option {
	return func(r *Registry) {
		r.defaults = settings.normalized()
	}
}

// WithSettings задаёт индивидуальные настройки зависимости name.
func WithSettings(name string, settings Settings) Option {
	return func(r *Registry) {
		r.overrides[name] = settings.normalized()
	}
}

// WithFailurePredicate определяет, какие ошибки считаются отказом зависимости.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(r *Registry) {
		if fn != nil {
			r.isFailure = fn
		}
	}
}

// DefaultFailurePredicate не считает отказом бизнес-ответы и отмену вызова самим клиентом.
func DefaultFailurePredicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !domain.IsBusinessFailure(err)
}

// NewRegistry создаёт пустой реестр; breaker'ы заводятся лениво при первом обращении.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries:   make(map[string]*entry),
		defaults:  Settings{}.normalized(),
		overrides: make(map[string]Settings),
		clock:     clock.System{},
		isFailure: DefaultFailurePredicate,
		logger:    log.WithField("component", "circuit-breaker"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) entry(name string) *entry {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[name]; ok {
		return e
	}
	settings, ok := r.overrides[name]
	if !ok {
		settings = r.defaults
	}
	e = &entry{name: name, settings: settings, state: StateClosed}
	r.entries[name] = e
	r.metrics.SetState(name, int(StateClosed))
	return e
}

// advance лениво переводит OPEN в HALF_OPEN по истечении resetTimeout. Вызывать под e.mu.
func (r *Registry) advance(e *entry) {
	if e.state != StateOpen {
		return
	}
	if r.clock.Now().Before(e.openedAt.Add(e.settings.ResetTimeout)) {
		return
	}
	r.transition(e, StateHalfOpen)
}

func (r *Registry) transition(e *entry, to State) {
	from := e.state
	e.state = to
	e.epoch++
	switch to {
	case StateOpen:
		e.openedAt = r.clock.Now()
		e.probing = false
	case StateHalfOpen:
		e.probing = false
	case StateClosed:
		e.failures = 0
		e.probing = false
	}
	r.metrics.SetState(e.name, int(to))

	logger := r.logger.WithFields(log.Fields{
		"dependency": e.name,
		"from":       from.String(),
		"to":         to.String(),
		"failures":   e.failures,
	})
	if to == StateOpen {
		logger.Warn("circuit breaker opened")
		return
	}
	logger.Info("circuit breaker state changed")
}

// IsOpen сообщает, открыт ли breaker зависимости name.
func (r *Registry) IsOpen(name string) bool {
	e := r.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	r.advance(e)
	return e.state == StateOpen
}

// Admits сообщает, пропустит ли breaker зависимости name следующий вызов.
// В отличие от IsOpen, HALF_OPEN с пробным вызовом в полёте считается недоступным.
func (r *Registry) Admits(name string) bool {
	e := r.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	r.advance(e)
	switch e.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return !e.probing
	default:
		return false
	}
}

// acquire решает, можно ли выполнить вызов; ticket.probe означает пробный вызов в HALF_OPEN.
func (r *Registry) acquire(e *entry) (ticket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r.advance(e)
	switch e.state {
	case StateOpen:
		r.metrics.RecordRejection(e.name)
		return ticket{}, fmt.Errorf("%s: circuit breaker is open: %w", e.name, domain.ErrServiceUnavailable)
	case StateHalfOpen:
		if e.probing {
			r.metrics.RecordRejection(e.name)
			return ticket{}, fmt.Errorf("%s: circuit breaker probe in flight: %w", e.name, domain.ErrServiceUnavailable)
		}
		e.probing = true
		return ticket{probe: true, epoch: e.epoch}, nil
	default:
		return ticket{epoch: e.epoch}, nil
	}
}

func (r *Registry) complete(e *entry, t ticket, callErr error) {
	failed := r.isFailure(callErr)

	e.mu.Lock()
	defer e.mu.Unlock()

	if t.probe {
		if failed {
			e.failures++
			r.metrics.RecordFailure(e.name)
			r.transition(e, StateOpen)
			return
		}
		r.transition(e, StateClosed)
		return
	}

	if e.state != StateClosed || t.epoch != e.epoch {
		// Вызов начался до смены состояния: исход пробы решает только пробный вызов,
		// а отказ из прошлой эпохи не должен снова открыть breaker.
		return
	}
	if !failed {
		e.failures = 0
		return
	}
	e.failures++
	r.metrics.RecordFailure(e.name)
	if e.failures >= e.settings.Threshold {
		r.transition(e, StateOpen)
	}
}

// Execute выполняет call через breaker зависимости name. При открытом breaker'е call не вызывается
// и возвращается ошибка, оборачивающая domain.ErrServiceUnavailable. Ошибка call возвращается как есть.
func (r *Registry) Execute(ctx context.Context, name string, call func(ctx context.Context) error) error {
	e := r.entry(name)
	t, err := r.acquire(e)
	if err != nil {
		return err
	}

	completed := false
	defer func() {
		if !completed {
			// call запаниковал: считаем это отказом, чтобы не оставить probing навсегда.
			r.complete(e, t, domain.ErrUnexpected)
		}
	}()

	err = call(ctx)
	completed = true
	r.complete(e, t, err)
	return err
}

// Call - типизированная обёртка над Execute.
func Call[T any](ctx context.Context, r *Registry, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Execute(ctx, name, func(ctx context.Context) error {
		var callErr error
		result, callErr = fn(ctx)
		return callErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Snapshot возвращает состояние всех известных breaker'ов, отсортированное по имени.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	result := make([]Status, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		r.advance(e)
		result = append(result, Status{
			Name:         e.name,
			State:        e.state,
			Failures:     e.failures,
			OpenedAt:     e.openedAt,
			Threshold:    e.settings.Threshold,
			ResetTimeout: e.settings.ResetTimeout,
		})
		e.mu.Unlock()
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Register заранее заводит breaker'ы, чтобы они сразу попадали в метрики и Snapshot.
func (r *Registry) Register(names ...string) {
	for _, name := range names {
		r.entry(name)
	}
}
