package memory

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func copyStockReservation(r domain.StockReservation) domain.StockReservation {
	r.Lines = append([]domain.ReservationLine(nil), r.Lines...)
	return r
}

type stockRepository struct {
	s *Store
}

func (r *stockRepository) GetItem(ctx context.Context, sku string) (domain.StockItem, error) {
	defer r.s.lock(ctx)()

	item, ok := r.s.data.stockItems[sku]
	if !ok {
		return domain.StockItem{}, fmt.Errorf("stock item %s: %w", sku, domain.ErrNotFound)
	}
	return item, nil
}

// SaveItem сохраняет остаток при совпадении версии и увеличивает её.
func (r *stockRepository) SaveItem(ctx context.Context, item domain.StockItem) error {
	defer r.s.lock(ctx)()

	current, ok := r.s.data.stockItems[item.SKU]
	if !ok {
		return fmt.Errorf("stock item %s: %w", item.SKU, domain.ErrNotFound)
	}
	if current.Version != item.Version {
		return fmt.Errorf("stock item %s: %w", item.SKU, domain.ErrVersionConflict)
	}
	item.Version++
	item.UpdatedAt = r.s.clock.Now()
	r.s.data.stockItems[item.SKU] = item
	return nil
}

func (r *stockRepository) UpsertItem(ctx context.Context, item domain.StockItem) error {
	defer r.s.lock(ctx)()

	if current, ok := r.s.data.stockItems[item.SKU]; ok {
		item.Version = current.Version + 1
	}
	item.UpdatedAt = r.s.clock.Now()
	r.s.data.stockItems[item.SKU] = item
	return nil
}

func (r *stockRepository) CreateReservation(ctx context.Context, reservation domain.StockReservation) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.data.stockReservations[reservation.ID]; ok {
		return fmt.Errorf("stock reservation %s already exists", reservation.ID)
	}
	for _, existing := range r.s.data.stockReservations {
		if existing.OrderID == reservation.OrderID {
			return fmt.Errorf("stock reservation for order %s already exists", reservation.OrderID)
		}
	}
	now := r.s.clock.Now()
	reservation.CreatedAt = now
	reservation.UpdatedAt = now
	r.s.data.stockReservations[reservation.ID] = copyStockReservation(reservation)
	return nil
}

func (r *stockRepository) GetReservation(ctx context.Context, id string) (domain.StockReservation, error) {
	defer r.s.lock(ctx)()

	reservation, ok := r.s.data.stockReservations[id]
	if !ok {
		return domain.StockReservation{}, fmt.Errorf("stock reservation %s: %w", id, domain.ErrNotFound)
	}
	return copyStockReservation(reservation), nil
}

func (r *stockRepository) GetReservationByOrder(ctx context.Context, orderID string) (domain.StockReservation, error) {
	defer r.s.lock(ctx)()

	for _, reservation := range r.s.data.stockReservations {
		if reservation.OrderID == orderID {
			return copyStockReservation(reservation), nil
		}
	}
	return domain.StockReservation{}, fmt.Errorf("stock reservation for order %s: %w", orderID, domain.ErrNotFound)
}

func (r *stockRepository) SaveReservation(ctx context.Context, reservation domain.StockReservation) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.data.stockReservations[reservation.ID]; !ok {
		return fmt.Errorf("stock reservation %s: %w", reservation.ID, domain.ErrNotFound)
	}
	reservation.UpdatedAt = r.s.clock.Now()
	r.s.data.stockReservations[reservation.ID] = copyStockReservation(reservation)
	return nil
}

var _ domain.StockRepository = (*stockRepository)(nil)
