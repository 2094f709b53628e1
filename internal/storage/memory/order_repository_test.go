package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
)

func newOrder() domain.Order {
	return domain.Order{
		ID:            "order-1",
		CustomerID:    "customer-1",
		Status:        domain.OrderStatusPending,
		Items:         []domain.OrderItem{{SKU: "sku-1", Qty: 5, PriceMinor: 100}},
		AmountTotal:   500,
		AmountPayable: 500,
	}
}

func TestOrderRepository_CreateGet(t *testing.T) {
	repo := memory.NewStore().Orders()
	ctx := context.Background()
	order := newOrder()

	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, order); !errors.Is(err, domain.ErrOrderExists) {
		t.Fatalf("expected ErrOrderExists, got %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != order.ID || stored.CreatedAt.IsZero() {
		t.Fatalf("unexpected stored order: %+v", stored)
	}

	stored.Items[0].Qty = 99
	again, _ := repo.Get(ctx, order.ID)
	if again.Items[0].Qty != 5 {
		t.Fatal("repository must return copies")
	}
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	repo := memory.NewStore().Orders()
	ctx := context.Background()
	order := newOrder()
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	order.Status = domain.OrderStatusCreated
	if err := repo.Save(ctx, order); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	stale := order
	stale.Status = domain.OrderStatusCancelled
	if err := repo.Save(ctx, stale); !domain.IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	stored, _ := repo.Get(ctx, order.ID)
	if stored.Version != 1 || stored.Status != domain.OrderStatusCreated {
		t.Fatalf("unexpected stored order: %+v", stored)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_DeletePending(t *testing.T) {
	repo := memory.NewStore().Orders()
	ctx := context.Background()
	order := newOrder()

	if err := repo.DeletePending(ctx, order.ID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for missing order, got %v", err)
	}
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.DeletePending(ctx, order.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := repo.Get(ctx, order.ID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected deleted order to be gone, got %v", err)
	}

	// Заказ вне pending не удаляется.
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("re-create failed: %v", err)
	}
	stored, _ := repo.Get(ctx, order.ID)
	stored.Status = domain.OrderStatusCancelled
	if err := repo.Save(ctx, stored); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := repo.DeletePending(ctx, order.ID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for cancelled order, got %v", err)
	}
	if _, err := repo.Get(ctx, order.ID); err != nil {
		t.Fatalf("cancelled order must survive: %v", err)
	}
}
