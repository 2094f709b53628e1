package inventory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
)

func newTestService(t *testing.T, items ...domain.StockItem) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	for _, item := range items {
		require.NoError(t, store.Stock().UpsertItem(ctx, item))
	}
	return NewService(store, store.Stock()), store
}

func reserveRequest(orderID string, lines ...domain.ReservationLine) domain.ReservationRequest {
	return domain.ReservationRequest{OrderID: orderID, CustomerID: "c-1", Lines: lines}
}

func item(t *testing.T, store *memory.Store, sku string) domain.StockItem {
	t.Helper()
	got, err := store.Stock().GetItem(context.Background(), sku)
	require.NoError(t, err)
	return got
}

func TestServiceReserveHoldsAllLines(t *testing.T) {
	svc, store := newTestService(t,
		domain.StockItem{SKU: "sku-1", OnHand: 10},
		domain.StockItem{SKU: "sku-2", OnHand: 3},
	)

	res, err := svc.Reserve(context.Background(), reserveRequest("order-1",
		domain.ReservationLine{SKU: "sku-1", Qty: 2},
		domain.ReservationLine{SKU: "sku-2", Qty: 3},
	))
	require.NoError(t, err)
	assert.NotEmpty(t, res.ReservationID)
	assert.Equal(t, domain.ReservationStatusHeld, res.Status)
	assert.Equal(t, int64(5), res.Amount)

	assert.Equal(t, int64(2), item(t, store, "sku-1").Reserved)
	assert.Equal(t, int64(10), item(t, store, "sku-1").OnHand)
	assert.Equal(t, int64(0), item(t, store, "sku-2").Available())
}

func TestServiceReserveIsIdempotentByOrder(t *testing.T) {
	svc, store := newTestService(t, domain.StockItem{SKU: "sku-1", OnHand: 10})
	req := reserveRequest("order-1", domain.ReservationLine{SKU: "sku-1", Qty: 4})

	first, err := svc.Reserve(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Reserve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ReservationID, second.ReservationID)
	assert.Equal(t, int64(4), item(t, store, "sku-1").Reserved)
}

func TestServiceReserveShortLineLeavesNoHold(t *testing.T) {
	svc, store := newTestService(t,
		domain.StockItem{SKU: "sku-1", OnHand: 10},
		domain.StockItem{SKU: "sku-2", OnHand: 1},
	)

	_, err := svc.Reserve(context.Background(), reserveRequest("order-1",
		domain.ReservationLine{SKU: "sku-1", Qty: 2},
		domain.ReservationLine{SKU: "sku-2", Qty: 5},
	))
	require.ErrorIs(t, err, domain.ErrReservationRejected)

	assert.Equal(t, int64(0), item(t, store, "sku-1").Reserved, "first line must be rolled back")
	_, err = store.Stock().GetReservationByOrder(context.Background(), "order-1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestServiceReserveRejectsInvalidRequests(t *testing.T) {
	svc, _ := newTestService(t, domain.StockItem{SKU: "sku-1", OnHand: 10})

	cases := map[string]domain.ReservationRequest{
		"no order id": reserveRequest("", domain.ReservationLine{SKU: "sku-1", Qty: 1}),
		"no lines":    reserveRequest("order-1"),
		"zero qty":    reserveRequest("order-1", domain.ReservationLine{SKU: "sku-1", Qty: 0}),
		"unknown sku": reserveRequest("order-1", domain.ReservationLine{SKU: "sku-404", Qty: 1}),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Reserve(context.Background(), req)
			require.ErrorIs(t, err, domain.ErrReservationRejected)
		})
	}
}

func TestServiceConcurrentReserveNeverOversells(t *testing.T) {
	svc, store := newTestService(t, domain.StockItem{SKU: "sku-1", OnHand: 10})

	var wg sync.WaitGroup
	var held int32
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Reserve(context.Background(), reserveRequest(fmt.Sprintf("order-%d", i), domain.ReservationLine{SKU: "sku-1", Qty: 1}))
			if err == nil {
				atomic.AddInt32(&held, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(10), atomic.LoadInt32(&held))
	assert.Equal(t, int64(10), item(t, store, "sku-1").Reserved)
}

func TestServiceConfirmAndCancel(t *testing.T) {
	svc, store := newTestService(t, domain.StockItem{SKU: "sku-1", OnHand: 10})
	ctx := context.Background()

	res, err := svc.Reserve(ctx, reserveRequest("order-1", domain.ReservationLine{SKU: "sku-1", Qty: 3}))
	require.NoError(t, err)

	require.NoError(t, svc.Confirm(ctx, res.ReservationID))
	require.NoError(t, svc.Confirm(ctx, res.ReservationID), "confirm is idempotent")
	got := item(t, store, "sku-1")
	assert.Equal(t, int64(7), got.OnHand)
	assert.Equal(t, int64(0), got.Reserved)

	require.NoError(t, svc.Cancel(ctx, res.ReservationID))
	require.NoError(t, svc.Cancel(ctx, res.ReservationID), "cancel is idempotent")
	assert.Equal(t, int64(10), item(t, store, "sku-1").OnHand)

	require.ErrorIs(t, svc.Confirm(ctx, res.ReservationID), domain.ErrExpiredReservation)
	require.ErrorIs(t, svc.Confirm(ctx, "missing"), domain.ErrExpiredReservation)
	require.NoError(t, svc.Cancel(ctx, "missing"))
}

func TestServiceCancelHeldReleasesHold(t *testing.T) {
	svc, store := newTestService(t, domain.StockItem{SKU: "sku-1", OnHand: 10})
	ctx := context.Background()

	res, err := svc.Reserve(ctx, reserveRequest("order-1", domain.ReservationLine{SKU: "sku-1", Qty: 3}))
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, res.ReservationID))

	got := item(t, store, "sku-1")
	assert.Equal(t, int64(10), got.OnHand)
	assert.Equal(t, int64(0), got.Reserved)

	_, err = svc.Reserve(ctx, reserveRequest("order-1", domain.ReservationLine{SKU: "sku-1", Qty: 3}))
	require.ErrorIs(t, err, domain.ErrReservationRejected, "released order cannot be re-held")
}

type conflictingStock struct {
	domain.StockRepository
	conflicts int
	saves     int
}

func (c *conflictingStock) SaveItem(ctx context.Context, item domain.StockItem) error {
	c.saves++
	if c.saves <= c.conflicts {
		return domain.ErrVersionConflict
	}
	return c.StockRepository.SaveItem(ctx, item)
}

func TestServiceRetriesVersionConflicts(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.Stock().UpsertItem(ctx, domain.StockItem{SKU: "sku-1", OnHand: 10}))

	stock := &conflictingStock{StockRepository: store.Stock(), conflicts: 2}
	svc := NewService(store, stock)
	_, err := svc.Reserve(ctx, reserveRequest("order-1", domain.ReservationLine{SKU: "sku-1", Qty: 1}))
	require.NoError(t, err)
	assert.Equal(t, 3, stock.saves)

	exhausted := &conflictingStock{StockRepository: store.Stock(), conflicts: 10}
	svc = NewService(store, exhausted, WithConflictAttempts(3))
	_, err = svc.Reserve(ctx, reserveRequest("order-2", domain.ReservationLine{SKU: "sku-1", Qty: 1}))
	require.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.Equal(t, 3, exhausted.saves)
}
