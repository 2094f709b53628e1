package memory

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type paymentRepository struct {
	s *Store
}

func (r *paymentRepository) Create(ctx context.Context, auth domain.PaymentAuthorization) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.data.payments[auth.ID]; ok {
		return fmt.Errorf("payment %s already exists", auth.ID)
	}
	now := r.s.clock.Now()
	auth.CreatedAt = now
	auth.UpdatedAt = now
	r.s.data.payments[auth.ID] = auth
	return nil
}

func (r *paymentRepository) Get(ctx context.Context, id string) (domain.PaymentAuthorization, error) {
	defer r.s.lock(ctx)()

	auth, ok := r.s.data.payments[id]
	if !ok {
		return domain.PaymentAuthorization{}, fmt.Errorf("payment %s: %w", id, domain.ErrNotFound)
	}
	return auth, nil
}

func (r *paymentRepository) GetByOrder(ctx context.Context, orderID string) (domain.PaymentAuthorization, error) {
	defer r.s.lock(ctx)()

	for _, auth := range r.s.data.payments {
		if auth.OrderID == orderID {
			return auth, nil
		}
	}
	return domain.PaymentAuthorization{}, fmt.Errorf("payment for order %s: %w", orderID, domain.ErrNotFound)
}

func (r *paymentRepository) Save(ctx context.Context, auth domain.PaymentAuthorization) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.data.payments[auth.ID]; !ok {
		return fmt.Errorf("payment %s: %w", auth.ID, domain.ErrNotFound)
	}
	auth.UpdatedAt = r.s.clock.Now()
	r.s.data.payments[auth.ID] = auth
	return nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
