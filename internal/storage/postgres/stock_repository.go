package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/database"
)

type stockRepository struct {
	db *sql.DB
}

func (r *stockRepository) GetItem(ctx context.Context, sku string) (domain.StockItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var item domain.StockItem
	err := database.GetTx(ctx, r.db).QueryRowContext(ctx, `
		SELECT sku, on_hand, reserved, version, updated_at FROM stock_items WHERE sku = $1
	`, sku).Scan(&item.SKU, &item.OnHand, &item.Reserved, &item.Version, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockItem{}, fmt.Errorf("stock item %s: %w", sku, domain.ErrNotFound)
	}
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("select stock item: %w", err)
	}
	return item, nil
}

func (r *stockRepository) SaveItem(ctx context.Context, item domain.StockItem) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := database.GetTx(ctx, r.db)
	res, err := q.ExecContext(ctx, `
		UPDATE stock_items
		SET on_hand = $1, reserved = $2, version = version + 1, updated_at = $3
		WHERE sku = $4 AND version = $5
	`, item.OnHand, item.Reserved, nowUTC(), item.SKU, item.Version)
	if err != nil {
		return fmt.Errorf("update stock item: %w", err)
	}
	if err := expectOneRow(res, errNoRowsUpdated); err != nil {
		if errors.Is(err, errNoRowsUpdated) {
			return versionedMiss(ctx, q, `SELECT 1 FROM stock_items WHERE sku = $1`, item.SKU, "stock item")
		}
		return err
	}
	return nil
}

func (r *stockRepository) UpsertItem(ctx context.Context, item domain.StockItem) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := database.GetTx(ctx, r.db).ExecContext(ctx, `
		INSERT INTO stock_items (sku, on_hand, reserved, version, updated_at)
		VALUES ($1,$2,$3,0,$4)
		ON CONFLICT (sku) DO UPDATE
		SET on_hand = EXCLUDED.on_hand,
		    reserved = EXCLUDED.reserved,
		    version = stock_items.version + 1,
		    updated_at = EXCLUDED.updated_at
	`, item.SKU, item.OnHand, item.Reserved, nowUTC())
	if err != nil {
		return fmt.Errorf("upsert stock item: %w", err)
	}
	return nil
}

func (r *stockRepository) CreateReservation(ctx context.Context, reservation domain.StockReservation) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	lines, err := json.Marshal(reservation.Lines)
	if err != nil {
		return fmt.Errorf("marshal reservation lines: %w", err)
	}
	now := nowUTC()
	_, err = database.GetTx(ctx, r.db).ExecContext(ctx, `
		INSERT INTO stock_reservations (id, order_id, lines, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
	`, reservation.ID, reservation.OrderID, lines, string(reservation.Status), now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("stock reservation for order %s already exists", reservation.OrderID)
		}
		return fmt.Errorf("insert stock reservation: %w", err)
	}
	return nil
}

func (r *stockRepository) GetReservation(ctx context.Context, id string) (domain.StockReservation, error) {
	return r.getReservation(ctx, `id = $1`, id)
}

func (r *stockRepository) GetReservationByOrder(ctx context.Context, orderID string) (domain.StockReservation, error) {
	return r.getReservation(ctx, `order_id = $1`, orderID)
}

func (r *stockRepository) getReservation(ctx context.Context, where, key string) (domain.StockReservation, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		reservation domain.StockReservation
		lines       []byte
		status      string
	)
	err := database.GetTx(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, order_id, lines, status, created_at, updated_at
		FROM stock_reservations
		WHERE `+where, key).Scan(
		&reservation.ID, &reservation.OrderID, &lines, &status, &reservation.CreatedAt, &reservation.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockReservation{}, fmt.Errorf("stock reservation %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.StockReservation{}, fmt.Errorf("select stock reservation: %w", err)
	}
	if err := json.Unmarshal(lines, &reservation.Lines); err != nil {
		return domain.StockReservation{}, fmt.Errorf("unmarshal reservation lines: %w", err)
	}
	reservation.Status = domain.ReservationStatus(status)
	return reservation, nil
}

func (r *stockRepository) SaveReservation(ctx context.Context, reservation domain.StockReservation) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := database.GetTx(ctx, r.db).ExecContext(ctx, `
		UPDATE stock_reservations SET status = $1, updated_at = $2 WHERE id = $3
	`, string(reservation.Status), nowUTC(), reservation.ID)
	if err != nil {
		return fmt.Errorf("update stock reservation: %w", err)
	}
	return expectOneRow(res, fmt.Errorf("stock reservation %s: %w", reservation.ID, domain.ErrNotFound))
}

var _ domain.StockRepository = (*stockRepository)(nil)
