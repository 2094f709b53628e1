package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/database"
)

type paymentRepository struct {
	db *sql.DB
}

func (r *paymentRepository) Create(ctx context.Context, auth domain.PaymentAuthorization) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := database.GetTx(ctx, r.db).ExecContext(ctx, `
		INSERT INTO payment_authorizations (id, order_id, amount_minor, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
	`, auth.ID, auth.OrderID, auth.AmountMinor, string(auth.Status), nowUTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment for order %s already exists", auth.OrderID)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) Get(ctx context.Context, id string) (domain.PaymentAuthorization, error) {
	return r.get(ctx, `id = $1`, id)
}

func (r *paymentRepository) GetByOrder(ctx context.Context, orderID string) (domain.PaymentAuthorization, error) {
	return r.get(ctx, `order_id = $1`, orderID)
}

func (r *paymentRepository) get(ctx context.Context, where, key string) (domain.PaymentAuthorization, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		auth   domain.PaymentAuthorization
		status string
	)
	err := database.GetTx(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, order_id, amount_minor, status, created_at, updated_at
		FROM payment_authorizations
		WHERE `+where, key).Scan(&auth.ID, &auth.OrderID, &auth.AmountMinor, &status, &auth.CreatedAt, &auth.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PaymentAuthorization{}, fmt.Errorf("payment %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PaymentAuthorization{}, fmt.Errorf("select payment: %w", err)
	}
	auth.Status = domain.PaymentStatus(status)
	return auth, nil
}

func (r *paymentRepository) Save(ctx context.Context, auth domain.PaymentAuthorization) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := database.GetTx(ctx, r.db).ExecContext(ctx, `
		UPDATE payment_authorizations SET status = $1, updated_at = $2 WHERE id = $3
	`, string(auth.Status), nowUTC(), auth.ID)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return expectOneRow(res, fmt.Errorf("payment %s: %w", auth.ID, domain.ErrNotFound))
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
