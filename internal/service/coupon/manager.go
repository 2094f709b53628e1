// Package coupon реализует удержание купонов с дедлайном: резерв под блокировкой ресурса,
// подтверждение, отмену и фоновое снятие просроченных удержаний.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/clock"
	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
)

const (
	defaultHoldTTL    = 5 * time.Minute
	defaultSweepBatch = 100
	lockPrefix        = "coupon:"
)

// Manager владеет жизненным циклом TimedReservation для купонов.
//
// Порядок захвата всегда один: сначала блокировка ресурса, затем транзакция хранилища.
type Manager struct {
	tx      domain.TxManager
	coupons domain.CouponRepository
	locker  domain.ResourceLocker
	cache   domain.ReservationCache
	clock   clock.Clock
	ttl     time.Duration
	batch   int
	metrics *metrics.CouponMetrics
	logger  *log.Entry
}

// Option настраивает Manager.
type Option func(*Manager)

// WithCache подключает кэш удержаний.
func WithCache(cache domain.ReservationCache) Option {
	return func(m *Manager) {
		m.cache = cache
	}
}

// WithClock подменяет источник времени.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithHoldTTL задаёт время жизни удержания.
func WithHoldTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithSweepBatch задаёт, сколько просроченных удержаний снимается за один Sweep.
func WithSweepBatch(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batch = n
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(cm *metrics.CouponMetrics) Option {
	return func(m *Manager) {
		m.metrics = cm
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager создаёт менеджер удержаний.
func NewManager(tx domain.TxManager, coupons domain.CouponRepository, locker domain.ResourceLocker, opts ...Option) *Manager {
	m := &Manager{
		tx:      tx,
		coupons: coupons,
		locker:  locker,
		clock:   clock.System{},
		ttl:     defaultHoldTTL,
		batch:   defaultSweepBatch,
		logger:  log.WithField("component", "coupon-manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL возвращает время жизни удержания.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Reserve удерживает купон resourceID под заказ orderID до now+TTL.
// Купон не в статусе AVAILABLE даёт ErrReservationRejected. Повтор по тому же заказу возвращает активное удержание.
func (m *Manager) Reserve(ctx context.Context, resourceID, orderID string) (domain.TimedReservation, error) {
	hold, _, err := m.reserve(ctx, resourceID, orderID)
	return hold, err
}

func (m *Manager) reserve(ctx context.Context, resourceID, orderID string) (domain.TimedReservation, domain.Coupon, error) {
	if resourceID == "" || orderID == "" {
		return domain.TimedReservation{}, domain.Coupon{}, fmt.Errorf("coupon and order are required: %w", domain.ErrReservationRejected)
	}

	unlock, err := m.lock(ctx, resourceID)
	if err != nil {
		m.metrics.RecordHold("error")
		return domain.TimedReservation{}, domain.Coupon{}, err
	}
	defer unlock()

	var (
		hold   domain.TimedReservation
		coupon domain.Coupon
	)
	err = m.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		coupon, err = m.coupons.GetCoupon(ctx, resourceID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("unknown coupon %s: %w", resourceID, domain.ErrReservationRejected)
			}
			return err
		}

		now := m.clock.Now()
		existing, err := m.coupons.GetHoldByOrder(ctx, orderID)
		switch {
		case err == nil:
			if existing.ResourceID == resourceID && existing.Status == domain.TimedReservationReserved && !existing.Expired(now) {
				hold = existing
				return nil
			}
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		if coupon.Status != domain.CouponStatusAvailable {
			return fmt.Errorf("coupon %s is %s: %w", resourceID, coupon.Status, domain.ErrReservationRejected)
		}
		coupon.Status = domain.CouponStatusReserved
		if err := m.coupons.SaveCoupon(ctx, coupon); err != nil {
			return err
		}

		hold = domain.TimedReservation{
			ID:         uuid.NewString(),
			ResourceID: resourceID,
			OrderID:    orderID,
			ExpiresAt:  now.Add(m.ttl),
			Status:     domain.TimedReservationReserved,
			CreatedAt:  now,
		}
		return m.coupons.CreateHold(ctx, hold)
	})
	if err != nil {
		if domain.IsBusinessFailure(err) {
			m.metrics.RecordHold("rejected")
		} else {
			m.metrics.RecordHold("error")
		}
		return domain.TimedReservation{}, domain.Coupon{}, err
	}

	m.cachePut(ctx, hold)
	m.metrics.RecordHold("reserved")
	m.logger.WithFields(log.Fields{
		"coupon_id":      resourceID,
		"order_id":       orderID,
		"reservation_id": hold.ID,
		"expires_at":     hold.ExpiresAt,
	}).Debug("coupon reserved")
	return hold, coupon, nil
}

// Confirm расходует купон. Отсутствующее или просроченное удержание даёт ErrExpiredReservation.
func (m *Manager) Confirm(ctx context.Context, reservationID string) error {
	hold, err := m.find(ctx, reservationID)
	if err != nil {
		return err
	}
	if hold.Expired(m.clock.Now()) {
		m.metrics.RecordHold("expired")
		return fmt.Errorf("coupon hold %s expired at %s: %w", reservationID, hold.ExpiresAt, domain.ErrExpiredReservation)
	}

	unlock, err := m.lock(ctx, hold.ResourceID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		return m.confirmLocked(ctx, reservationID)
	}); err != nil {
		return err
	}
	m.evict(ctx, reservationID)
	return nil
}

// Cancel возвращает купон в AVAILABLE. Отсутствующее удержание даёт ErrExpiredReservation.
func (m *Manager) Cancel(ctx context.Context, reservationID string) error {
	hold, err := m.find(ctx, reservationID)
	if err != nil {
		return err
	}

	unlock, err := m.lock(ctx, hold.ResourceID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		return m.cancelLocked(ctx, reservationID)
	}); err != nil {
		return err
	}
	m.evict(ctx, reservationID)
	return nil
}

// Sweep снимает до batch удержаний с истёкшим дедлайном и возвращает число снятых.
// Каждое удержание перечитывается под блокировкой: подтверждённое или ещё живое пропускается.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := m.clock.Now()
	expired, err := m.coupons.ListExpiredHolds(ctx, now, m.batch)
	if err != nil {
		return 0, fmt.Errorf("list expired coupon holds: %w", err)
	}

	released := 0
	var errs []error
	for _, candidate := range expired {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := m.sweepOne(ctx, candidate, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			released++
		}
	}

	m.metrics.RecordSwept(released)
	if released > 0 {
		m.logger.WithField("released", released).Info("expired coupon holds released")
	}
	return released, errors.Join(errs...)
}

func (m *Manager) sweepOne(ctx context.Context, candidate domain.TimedReservation, now time.Time) (bool, error) {
	unlock, err := m.lock(ctx, candidate.ResourceID)
	if err != nil {
		return false, err
	}
	defer unlock()

	released := false
	err = m.tx.WithTx(ctx, func(ctx context.Context) error {
		hold, err := m.coupons.GetHold(ctx, candidate.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if hold.Status != domain.TimedReservationReserved || !hold.Expired(now) {
			return nil
		}
		if err := m.releaseCoupon(ctx, hold.ResourceID); err != nil {
			return err
		}
		released = true
		return m.coupons.DeleteHold(ctx, hold.ID)
	})
	if err != nil {
		return false, fmt.Errorf("sweep coupon hold %s: %w", candidate.ID, err)
	}
	m.evict(ctx, candidate.ID)
	return released, nil
}

// confirmLocked вызывается под блокировкой ресурса внутри транзакции.
func (m *Manager) confirmLocked(ctx context.Context, reservationID string) error {
	hold, err := m.coupons.GetHold(ctx, reservationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			m.metrics.RecordHold("expired")
			return fmt.Errorf("coupon hold %s: %w", reservationID, domain.ErrExpiredReservation)
		}
		return err
	}
	if hold.Status != domain.TimedReservationReserved || hold.Expired(m.clock.Now()) {
		m.metrics.RecordHold("expired")
		return fmt.Errorf("coupon hold %s is no longer active: %w", reservationID, domain.ErrExpiredReservation)
	}

	coupon, err := m.coupons.GetCoupon(ctx, hold.ResourceID)
	if err != nil {
		return err
	}
	coupon.Status = domain.CouponStatusConsumed
	if err := m.coupons.SaveCoupon(ctx, coupon); err != nil {
		return err
	}
	if err := m.coupons.DeleteHold(ctx, hold.ID); err != nil {
		return err
	}
	m.metrics.RecordHold("confirmed")
	return nil
}

// cancelLocked вызывается под блокировкой ресурса внутри транзакции.
func (m *Manager) cancelLocked(ctx context.Context, reservationID string) error {
	hold, err := m.coupons.GetHold(ctx, reservationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("coupon hold %s: %w", reservationID, domain.ErrExpiredReservation)
		}
		return err
	}
	if err := m.releaseCoupon(ctx, hold.ResourceID); err != nil {
		return err
	}
	if err := m.coupons.DeleteHold(ctx, hold.ID); err != nil {
		return err
	}
	m.metrics.RecordHold("cancelled")
	return nil
}

func (m *Manager) releaseCoupon(ctx context.Context, couponID string) error {
	coupon, err := m.coupons.GetCoupon(ctx, couponID)
	if err != nil {
		return err
	}
	if coupon.Status != domain.CouponStatusReserved {
		return nil
	}
	coupon.Status = domain.CouponStatusAvailable
	return m.coupons.SaveCoupon(ctx, coupon)
}

// find ищет удержание сначала в кэше, затем в хранилище.
func (m *Manager) find(ctx context.Context, reservationID string) (domain.TimedReservation, error) {
	if m.cache != nil {
		hold, ok, err := m.cache.Get(ctx, reservationID)
		if err != nil {
			m.logger.WithError(err).WithField("reservation_id", reservationID).Warn("reservation cache lookup failed")
		}
		if ok {
			return hold, nil
		}
	}

	hold, err := m.coupons.GetHold(ctx, reservationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TimedReservation{}, fmt.Errorf("coupon hold %s: %w", reservationID, domain.ErrExpiredReservation)
		}
		return domain.TimedReservation{}, err
	}
	return hold, nil
}

func (m *Manager) lock(ctx context.Context, resourceID string) (domain.UnlockFunc, error) {
	unlock, err := m.locker.Lock(ctx, lockPrefix+resourceID)
	if err != nil {
		return nil, fmt.Errorf("lock coupon %s: %w", resourceID, domain.Classify(err))
	}
	return unlock, nil
}

func (m *Manager) cachePut(ctx context.Context, hold domain.TimedReservation) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Put(ctx, hold, m.ttl); err != nil {
		m.logger.WithError(err).WithField("reservation_id", hold.ID).Warn("reservation cache put failed")
	}
}

func (m *Manager) evict(ctx context.Context, reservationID string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Delete(ctx, reservationID); err != nil {
		m.logger.WithError(err).WithField("reservation_id", reservationID).Warn("reservation cache delete failed")
	}
}
