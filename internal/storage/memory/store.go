// Package memory содержит in-memory хранилище для локальной разработки и тестов.
package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/ordersaga/internal/clock"
	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/database"
)

type processedKey struct {
	consumer string
	eventID  string
}

// tables - все «таблицы» хранилища; транзакция откатывается заменой на снимок.
type tables struct {
	orders            map[string]domain.Order
	outbox            map[string]domain.OutboxMessage
	outboxSeq         map[string]int64
	seq               int64
	processed         map[processedKey]domain.ProcessedEvent
	stockItems        map[string]domain.StockItem
	stockReservations map[string]domain.StockReservation
	coupons           map[string]domain.Coupon
	couponHolds       map[string]domain.TimedReservation
	pointAccounts     map[string]domain.PointAccount
	pointHolds        map[string]domain.PointHold
	payments          map[string]domain.PaymentAuthorization
}

func newTables() *tables {
	return &tables{
		orders:            make(map[string]domain.Order),
		outbox:            make(map[string]domain.OutboxMessage),
		outboxSeq:         make(map[string]int64),
		processed:         make(map[processedKey]domain.ProcessedEvent),
		stockItems:        make(map[string]domain.StockItem),
		stockReservations: make(map[string]domain.StockReservation),
		coupons:           make(map[string]domain.Coupon),
		couponHolds:       make(map[string]domain.TimedReservation),
		pointAccounts:     make(map[string]domain.PointAccount),
		pointHolds:        make(map[string]domain.PointHold),
		payments:          make(map[string]domain.PaymentAuthorization),
	}
}

func cloneMap[K comparable, V any](src map[K]V, copyValue func(V) V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		if copyValue != nil {
			v = copyValue(v)
		}
		dst[k] = v
	}
	return dst
}

func (t *tables) clone() *tables {
	return &tables{
		orders:            cloneMap(t.orders, copyOrder),
		outbox:            cloneMap(t.outbox, copyOutbox),
		outboxSeq:         cloneMap(t.outboxSeq, nil),
		seq:               t.seq,
		processed:         cloneMap(t.processed, nil),
		stockItems:        cloneMap(t.stockItems, nil),
		stockReservations: cloneMap(t.stockReservations, copyStockReservation),
		coupons:           cloneMap(t.coupons, nil),
		couponHolds:       cloneMap(t.couponHolds, nil),
		pointAccounts:     cloneMap(t.pointAccounts, nil),
		pointHolds:        cloneMap(t.pointHolds, nil),
		payments:          cloneMap(t.payments, nil),
	}
}

// Store - in-memory хранилище с сериализуемыми транзакциями: WithTx держит общий мьютекс
// на всё время fn и при ошибке восстанавливает снимок таблиц.
type Store struct {
	mu    sync.Mutex
	data  *tables
	clock clock.Clock
}

// Option настраивает Store.
type Option func(*Store)

// WithClock подменяет источник времени для служебных полей.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewStore создаёт пустое хранилище.
func NewStore(opts ...Option) *Store {
	s := &Store{data: newTables(), clock: clock.System{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type txMarker struct {
	store *Store
}

func (s *Store) inTx(ctx context.Context) bool {
	tx, ok := database.TxFromContext(ctx)
	if !ok {
		return false
	}
	marker, ok := tx.(txMarker)
	return ok && marker.store == s
}

// lock захватывает мьютекс, если ctx не несёт транзакцию этого хранилища.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// WithTx реализует domain.TxManager.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	defer func() {
		if p := recover(); p != nil {
			s.data = snapshot
			panic(p)
		}
	}()

	if err = fn(database.ContextWithTx(ctx, txMarker{store: s})); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// Orders возвращает репозиторий заказов.
func (s *Store) Orders() domain.OrderRepository { return &orderRepository{s: s} }

// Outbox возвращает репозиторий outbox.
func (s *Store) Outbox() domain.OutboxRepository { return &outboxRepository{s: s} }

// ProcessedEvents возвращает ledger обработанных событий.
func (s *Store) ProcessedEvents() domain.ProcessedEventRepository {
	return &processedEventRepository{s: s}
}

// Stock возвращает репозиторий остатков.
func (s *Store) Stock() domain.StockRepository { return &stockRepository{s: s} }

// Coupons возвращает репозиторий купонов.
func (s *Store) Coupons() domain.CouponRepository { return &couponRepository{s: s} }

// Points возвращает репозиторий баллов.
func (s *Store) Points() domain.PointRepository { return &pointRepository{s: s} }

// Payments возвращает репозиторий авторизаций.
func (s *Store) Payments() domain.PaymentRepository { return &paymentRepository{s: s} }

var _ domain.TxManager = (*Store)(nil)
