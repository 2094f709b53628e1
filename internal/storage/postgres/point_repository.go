package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/database"
)

type pointRepository struct {
	db *sql.DB
}

func (r *pointRepository) GetAccount(ctx context.Context, customerID string) (domain.PointAccount, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var acc domain.PointAccount
	err := database.GetTx(ctx, r.db).QueryRowContext(ctx, `
		SELECT customer_id, balance, held, version, updated_at FROM point_accounts WHERE customer_id = $1
	`, customerID).Scan(&acc.CustomerID, &acc.Balance, &acc.Held, &acc.Version, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PointAccount{}, fmt.Errorf("point account %s: %w", customerID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PointAccount{}, fmt.Errorf("select point account: %w", err)
	}
	return acc, nil
}

func (r *pointRepository) SaveAccount(ctx context.Context, acc domain.PointAccount) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := database.GetTx(ctx, r.db)
	res, err := q.ExecContext(ctx, `
		UPDATE point_accounts
		SET balance = $1, held = $2, version = version + 1, updated_at = $3
		WHERE customer_id = $4 AND version = $5
	`, acc.Balance, acc.Held, nowUTC(), acc.CustomerID, acc.Version)
	if err != nil {
		return fmt.Errorf("update point account: %w", err)
	}
	if err := expectOneRow(res, errNoRowsUpdated); err != nil {
		if errors.Is(err, errNoRowsUpdated) {
			return versionedMiss(ctx, q, `SELECT 1 FROM point_accounts WHERE customer_id = $1`, acc.CustomerID, "point account")
		}
		return err
	}
	return nil
}

func (r *pointRepository) UpsertAccount(ctx context.Context, acc domain.PointAccount) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := database.GetTx(ctx, r.db).ExecContext(ctx, `
		INSERT INTO point_accounts (customer_id, balance, held, version, updated_at)
		VALUES ($1,$2,$3,0,$4)
		ON CONFLICT (customer_id) DO UPDATE
		SET balance = EXCLUDED.balance,
		    held = EXCLUDED.held,
		    version = point_accounts.version + 1,
		    updated_at = EXCLUDED.updated_at
	`, acc.CustomerID, acc.Balance, acc.Held, nowUTC())
	if err != nil {
		return fmt.Errorf("upsert point account: %w", err)
	}
	return nil
}

func (r *pointRepository) CreateHold(ctx context.Context, hold domain.PointHold) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := database.GetTx(ctx, r.db).ExecContext(ctx, `
		INSERT INTO point_holds (id, customer_id, order_id, amount, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
	`, hold.ID, hold.CustomerID, hold.OrderID, hold.Amount, string(hold.Status), nowUTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("point hold for order %s already exists", hold.OrderID)
		}
		return fmt.Errorf("insert point hold: %w", err)
	}
	return nil
}

func (r *pointRepository) GetHold(ctx context.Context, id string) (domain.PointHold, error) {
	return r.getHold(ctx, `id = $1`, id)
}

func (r *pointRepository) GetHoldByOrder(ctx context.Context, orderID string) (domain.PointHold, error) {
	return r.getHold(ctx, `order_id = $1`, orderID)
}

func (r *pointRepository) getHold(ctx context.Context, where, key string) (domain.PointHold, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		hold   domain.PointHold
		status string
	)
	err := database.GetTx(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, customer_id, order_id, amount, status, created_at, updated_at
		FROM point_holds
		WHERE `+where, key).Scan(
		&hold.ID, &hold.CustomerID, &hold.OrderID, &hold.Amount, &status, &hold.CreatedAt, &hold.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PointHold{}, fmt.Errorf("point hold %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PointHold{}, fmt.Errorf("select point hold: %w", err)
	}
	hold.Status = domain.ReservationStatus(status)
	return hold, nil
}

func (r *pointRepository) SaveHold(ctx context.Context, hold domain.PointHold) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := database.GetTx(ctx, r.db).ExecContext(ctx, `
		UPDATE point_holds SET status = $1, updated_at = $2 WHERE id = $3
	`, string(hold.Status), nowUTC(), hold.ID)
	if err != nil {
		return fmt.Errorf("update point hold: %w", err)
	}
	return expectOneRow(res, fmt.Errorf("point hold %s: %w", hold.ID, domain.ErrNotFound))
}

var _ domain.PointRepository = (*pointRepository)(nil)
