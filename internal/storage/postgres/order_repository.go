package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/database"
)

const orderColumns = `id, customer_id, status, coupon_id, amount_total, amount_coupon, amount_point, amount_payable,
	stock_reservation_id, point_reservation_id, coupon_reservation_id, payment_reservation_id,
	failed_step, failure_reason, version, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
	tx *database.SQLTxManager
}

// Create вставляет заказ и позиции одной транзакцией (или в транзакции из ctx).
func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := nowUTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	return r.tx.WithTx(ctx, func(ctx context.Context) error {
		q := database.GetTx(ctx, r.db)
		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		`,
			order.ID, order.CustomerID, string(order.Status), order.CouponID,
			order.AmountTotal, order.AmountCoupon, order.AmountPoint, order.AmountPayable,
			order.Reservations.Stock, order.Reservations.Point, order.Reservations.Coupon, order.Reservations.Payment,
			string(order.FailedStep), order.FailureReason, order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderExists
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i, item := range order.Items {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO order_items (order_id, line_no, sku, qty, price_minor)
				VALUES ($1,$2,$3,$4,$5)
			`, order.ID, i, item.SKU, item.Qty, item.PriceMinor); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := database.GetTx(ctx, r.db)

	var (
		order      domain.Order
		status     string
		failedStep string
	)
	err := q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id).Scan(
		&order.ID, &order.CustomerID, &status, &order.CouponID,
		&order.AmountTotal, &order.AmountCoupon, &order.AmountPoint, &order.AmountPayable,
		&order.Reservations.Stock, &order.Reservations.Point, &order.Reservations.Coupon, &order.Reservations.Payment,
		&failedStep, &order.FailureReason, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	order.FailedStep = domain.SagaStep(failedStep)

	items, err := loadItems(ctx, q, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

// Save обновляет изменяемые поля заказа с проверкой версии; позиции после создания не меняются.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := database.GetTx(ctx, r.db)
	res, err := q.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    coupon_id = $2,
		    amount_coupon = $3,
		    amount_point = $4,
		    amount_payable = $5,
		    stock_reservation_id = $6,
		    point_reservation_id = $7,
		    coupon_reservation_id = $8,
		    payment_reservation_id = $9,
		    failed_step = $10,
		    failure_reason = $11,
		    version = version + 1,
		    updated_at = $12
		WHERE id = $13
		  AND version = $14
	`,
		string(order.Status), order.CouponID, order.AmountCoupon, order.AmountPoint, order.AmountPayable,
		order.Reservations.Stock, order.Reservations.Point, order.Reservations.Coupon, order.Reservations.Payment,
		string(order.FailedStep), order.FailureReason, nowUTC(), order.ID, order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	if err := expectOneRow(res, errNoRowsUpdated); err != nil {
		if !errors.Is(err, errNoRowsUpdated) {
			return err
		}
		miss := versionedMiss(ctx, q, `SELECT 1 FROM orders WHERE id = $1`, order.ID, "order")
		if errors.Is(miss, domain.ErrNotFound) {
			return domain.ErrOrderNotFound
		}
		if errors.Is(miss, domain.ErrVersionConflict) {
			return domain.ErrVersionConflict
		}
		return miss
	}
	return nil
}

// DeletePending удаляет заказ в статусе pending; позиции удаляются каскадом.
func (r *orderRepository) DeletePending(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := database.GetTx(ctx, r.db)
	res, err := q.ExecContext(ctx, `DELETE FROM orders WHERE id = $1 AND status = $2`, id, string(domain.OrderStatusPending))
	if err != nil {
		return fmt.Errorf("delete pending order: %w", err)
	}
	return expectOneRow(res, domain.ErrOrderNotFound)
}

func loadItems(ctx context.Context, q database.Querier, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT sku, qty, price_minor
		FROM order_items
		WHERE order_id = $1
		ORDER BY line_no ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.SKU, &item.Qty, &item.PriceMinor); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
