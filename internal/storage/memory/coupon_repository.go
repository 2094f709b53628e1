package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type couponRepository struct {
	s *Store
}

func (r *couponRepository) GetCoupon(ctx context.Context, id string) (domain.Coupon, error) {
	defer r.s.lock(ctx)()

	coupon, ok := r.s.data.coupons[id]
	if !ok {
		return domain.Coupon{}, fmt.Errorf("coupon %s: %w", id, domain.ErrNotFound)
	}
	return coupon, nil
}

// SaveCoupon сохраняет купон при совпадении версии.
func (r *couponRepository) SaveCoupon(ctx context.Context, coupon domain.Coupon) error {
	defer r.s.lock(ctx)()

	current, ok := r.s.data.coupons[coupon.ID]
	if !ok {
		return fmt.Errorf("coupon %s: %w", coupon.ID, domain.ErrNotFound)
	}
	if current.Version != coupon.Version {
		return fmt.Errorf("coupon %s: %w", coupon.ID, domain.ErrVersionConflict)
	}
	coupon.Version++
	coupon.UpdatedAt = r.s.clock.Now()
	r.s.data.coupons[coupon.ID] = coupon
	return nil
}

func (r *couponRepository) UpsertCoupon(ctx context.Context, coupon domain.Coupon) error {
	defer r.s.lock(ctx)()

	if current, ok := r.s.data.coupons[coupon.ID]; ok {
		coupon.Version = current.Version + 1
	}
	coupon.UpdatedAt = r.s.clock.Now()
	r.s.data.coupons[coupon.ID] = coupon
	return nil
}

func (r *couponRepository) CreateHold(ctx context.Context, hold domain.TimedReservation) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.data.couponHolds[hold.ID]; ok {
		return fmt.Errorf("coupon hold %s already exists", hold.ID)
	}
	r.s.data.couponHolds[hold.ID] = hold
	return nil
}

func (r *couponRepository) GetHold(ctx context.Context, id string) (domain.TimedReservation, error) {
	defer r.s.lock(ctx)()

	hold, ok := r.s.data.couponHolds[id]
	if !ok {
		return domain.TimedReservation{}, fmt.Errorf("coupon hold %s: %w", id, domain.ErrNotFound)
	}
	return hold, nil
}

func (r *couponRepository) GetHoldByOrder(ctx context.Context, orderID string) (domain.TimedReservation, error) {
	defer r.s.lock(ctx)()

	for _, hold := range r.s.data.couponHolds {
		if hold.OrderID == orderID {
			return hold, nil
		}
	}
	return domain.TimedReservation{}, fmt.Errorf("coupon hold for order %s: %w", orderID, domain.ErrNotFound)
}

func (r *couponRepository) DeleteHold(ctx context.Context, id string) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.data.couponHolds[id]; !ok {
		return fmt.Errorf("coupon hold %s: %w", id, domain.ErrNotFound)
	}
	delete(r.s.data.couponHolds, id)
	return nil
}

// ListExpiredHolds возвращает RESERVED-удержания с дедлайном раньше now, старые первыми.
func (r *couponRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.TimedReservation, error) {
	defer r.s.lock(ctx)()

	result := make([]domain.TimedReservation, 0)
	for _, hold := range r.s.data.couponHolds {
		if hold.Status == domain.TimedReservationReserved && hold.ExpiresAt.Before(now) {
			result = append(result, hold)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ domain.CouponRepository = (*couponRepository)(nil)
