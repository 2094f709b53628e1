package memory

import (
	"context"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func copyOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}

// orderRepository - in-memory реализация OrderRepository.
type orderRepository struct {
	s *Store
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	defer r.s.lock(ctx)()

	if _, exists := r.s.data.orders[order.ID]; exists {
		return domain.ErrOrderExists
	}
	now := r.s.clock.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.s.data.orders[order.ID] = copyOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	defer r.s.lock(ctx)()

	order, ok := r.s.data.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return copyOrder(order), nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	defer r.s.lock(ctx)()

	current, ok := r.s.data.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrVersionConflict
	}
	order.Version++
	order.UpdatedAt = r.s.clock.Now()
	r.s.data.orders[order.ID] = copyOrder(order)
	return nil
}

// DeletePending удаляет заказ в статусе pending.
func (r *orderRepository) DeletePending(ctx context.Context, id string) error {
	defer r.s.lock(ctx)()

	order, ok := r.s.data.orders[id]
	if !ok || order.Status != domain.OrderStatusPending {
		return domain.ErrOrderNotFound
	}
	delete(r.s.data.orders, id)
	return nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
