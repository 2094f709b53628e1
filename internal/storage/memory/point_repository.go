package memory

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type pointRepository struct {
	s *Store
}

func (r *pointRepository) GetAccount(ctx context.Context, customerID string) (domain.PointAccount, error) {
	defer r.s.lock(ctx)()

	account, ok := r.s.data.pointAccounts[customerID]
	if !ok {
		return domain.PointAccount{}, fmt.Errorf("point account %s: %w", customerID, domain.ErrNotFound)
	}
	return account, nil
}

func (r *pointRepository) SaveAccount(ctx context.Context, account domain.PointAccount) error {
	defer r.s.lock(ctx)()

	current, ok := r.s.data.pointAccounts[account.CustomerID]
	if !ok {
		return fmt.Errorf("point account %s: %w", account.CustomerID, domain.ErrNotFound)
	}
	if current.Version != account.Version {
		return fmt.Errorf("point account %s: %w", account.CustomerID, domain.ErrVersionConflict)
	}
	account.Version++
	account.UpdatedAt = r.s.clock.Now()
	r.s.data.pointAccounts[account.CustomerID] = account
	return nil
}

func (r *pointRepository) UpsertAccount(ctx context.Context, account domain.PointAccount) error {
	defer r.s.lock(ctx)()

	if current, ok := r.s.data.pointAccounts[account.CustomerID]; ok {
		account.Version = current.Version + 1
	}
	account.UpdatedAt = r.s.clock.Now()
	r.s.data.pointAccounts[account.CustomerID] = account
	return nil
}

func (r *pointRepository) CreateHold(ctx context.Context, hold domain.PointHold) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.data.pointHolds[hold.ID]; ok {
		return fmt.Errorf("point hold %s already exists", hold.ID)
	}
	now := r.s.clock.Now()
	hold.CreatedAt = now
	hold.UpdatedAt = now
	r.s.data.pointHolds[hold.ID] = hold
	return nil
}

func (r *pointRepository) GetHold(ctx context.Context, id string) (domain.PointHold, error) {
	defer r.s.lock(ctx)()

	hold, ok := r.s.data.pointHolds[id]
	if !ok {
		return domain.PointHold{}, fmt.Errorf("point hold %s: %w", id, domain.ErrNotFound)
	}
	return hold, nil
}

func (r *pointRepository) GetHoldByOrder(ctx context.Context, orderID string) (domain.PointHold, error) {
	defer r.s.lock(ctx)()

	for _, hold := range r.s.data.pointHolds {
		if hold.OrderID == orderID {
			return hold, nil
		}
	}
	return domain.PointHold{}, fmt.Errorf("point hold for order %s: %w", orderID, domain.ErrNotFound)
}

func (r *pointRepository) SaveHold(ctx context.Context, hold domain.PointHold) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.data.pointHolds[hold.ID]; !ok {
		return fmt.Errorf("point hold %s: %w", hold.ID, domain.ErrNotFound)
	}
	hold.UpdatedAt = r.s.clock.Now()
	r.s.data.pointHolds[hold.ID] = hold
	return nil
}

var _ domain.PointRepository = (*pointRepository)(nil)
