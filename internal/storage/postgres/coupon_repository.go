package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/database"
)

type couponRepository struct {
	db *sql.DB
}

func (r *couponRepository) GetCoupon(ctx context.Context, id string) (domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		coupon domain.Coupon
		status string
	)
	err := database.GetTx(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, discount_minor, status, version, updated_at FROM coupons WHERE id = $1
	`, id).Scan(&coupon.ID, &coupon.DiscountMinor, &status, &coupon.Version, &coupon.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Coupon{}, fmt.Errorf("coupon %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("select coupon: %w", err)
	}
	coupon.Status = domain.CouponStatus(status)
	return coupon, nil
}

func (r *couponRepository) SaveCoupon(ctx context.Context, coupon domain.Coupon) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := database.GetTx(ctx, r.db)
	res, err := q.ExecContext(ctx, `
		UPDATE coupons
		SET discount_minor = $1, status = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5
	`, coupon.DiscountMinor, string(coupon.Status), nowUTC(), coupon.ID, coupon.Version)
	if err != nil {
		return fmt.Errorf("update coupon: %w", err)
	}
	if err := expectOneRow(res, errNoRowsUpdated); err != nil {
		if errors.Is(err, errNoRowsUpdated) {
			return versionedMiss(ctx, q, `SELECT 1 FROM coupons WHERE id = $1`, coupon.ID, "coupon")
		}
		return err
	}
	return nil
}

func (r *couponRepository) UpsertCoupon(ctx context.Context, coupon domain.Coupon) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := database.GetTx(ctx, r.db).ExecContext(ctx, `
		INSERT INTO coupons (id, discount_minor, status, version, updated_at)
		VALUES ($1,$2,$3,0,$4)
		ON CONFLICT (id) DO UPDATE
		SET discount_minor = EXCLUDED.discount_minor,
		    status = EXCLUDED.status,
		    version = coupons.version + 1,
		    updated_at = EXCLUDED.updated_at
	`, coupon.ID, coupon.DiscountMinor, string(coupon.Status), nowUTC())
	if err != nil {
		return fmt.Errorf("upsert coupon: %w", err)
	}
	return nil
}

func (r *couponRepository) CreateHold(ctx context.Context, hold domain.TimedReservation) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := database.GetTx(ctx, r.db).ExecContext(ctx, `
		INSERT INTO coupon_holds (id, resource_id, order_id, expires_at, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, hold.ID, hold.ResourceID, hold.OrderID, hold.ExpiresAt.UTC(), string(hold.Status), hold.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("coupon hold %s already exists", hold.ID)
		}
		return fmt.Errorf("insert coupon hold: %w", err)
	}
	return nil
}

func (r *couponRepository) GetHold(ctx context.Context, id string) (domain.TimedReservation, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	hold, err := scanHold(database.GetTx(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, resource_id, order_id, expires_at, status, created_at FROM coupon_holds WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TimedReservation{}, fmt.Errorf("coupon hold %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TimedReservation{}, fmt.Errorf("select coupon hold: %w", err)
	}
	return hold, nil
}

func (r *couponRepository) GetHoldByOrder(ctx context.Context, orderID string) (domain.TimedReservation, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	hold, err := scanHold(database.GetTx(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, resource_id, order_id, expires_at, status, created_at
		FROM coupon_holds WHERE order_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TimedReservation{}, fmt.Errorf("coupon hold for order %s: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TimedReservation{}, fmt.Errorf("select coupon hold by order: %w", err)
	}
	return hold, nil
}

func (r *couponRepository) DeleteHold(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := database.GetTx(ctx, r.db).ExecContext(ctx, `DELETE FROM coupon_holds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete coupon hold: %w", err)
	}
	return expectOneRow(res, fmt.Errorf("coupon hold %s: %w", id, domain.ErrNotFound))
}

func (r *couponRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.TimedReservation, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := database.GetTx(ctx, r.db).QueryContext(ctx, `
		SELECT id, resource_id, order_id, expires_at, status, created_at
		FROM coupon_holds
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3
	`, string(domain.TimedReservationReserved), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query expired coupon holds: %w", err)
	}
	defer rows.Close()

	result := make([]domain.TimedReservation, 0)
	for rows.Next() {
		hold, err := scanHold(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon hold: %w", err)
		}
		result = append(result, hold)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coupon holds: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHold(row rowScanner) (domain.TimedReservation, error) {
	var (
		hold   domain.TimedReservation
		status string
	)
	if err := row.Scan(&hold.ID, &hold.ResourceID, &hold.OrderID, &hold.ExpiresAt, &status, &hold.CreatedAt); err != nil {
		return domain.TimedReservation{}, err
	}
	hold.Status = domain.TimedReservationStatus(status)
	hold.ExpiresAt = hold.ExpiresAt.UTC()
	hold.CreatedAt = hold.CreatedAt.UTC()
	return hold, nil
}

var _ domain.CouponRepository = (*couponRepository)(nil)
