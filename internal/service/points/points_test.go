package points

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
)

func newTestService(t *testing.T, balance int64) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.Points().UpsertAccount(context.Background(), domain.PointAccount{CustomerID: "c-1", Balance: balance}))
	return NewService(store, store.Points(), nil), store
}

func account(t *testing.T, store *memory.Store) domain.PointAccount {
	t.Helper()
	acc, err := store.Points().GetAccount(context.Background(), "c-1")
	require.NoError(t, err)
	return acc
}

func request(orderID string, amount int64) domain.ReservationRequest {
	return domain.ReservationRequest{OrderID: orderID, CustomerID: "c-1", Amount: amount}
}

func TestReserveHoldsPoints(t *testing.T) {
	svc, store := newTestService(t, 100)
	ctx := context.Background()

	res, err := svc.Reserve(ctx, request("order-1", 30))
	require.NoError(t, err)
	assert.Equal(t, int64(30), res.Amount)

	again, err := svc.Reserve(ctx, request("order-1", 30))
	require.NoError(t, err)
	assert.Equal(t, res.ReservationID, again.ReservationID)

	acc := account(t, store)
	assert.Equal(t, int64(100), acc.Balance)
	assert.Equal(t, int64(30), acc.Held)
}

func TestReserveRejections(t *testing.T) {
	svc, _ := newTestService(t, 10)
	ctx := context.Background()

	_, err := svc.Reserve(ctx, request("order-1", 11))
	require.ErrorIs(t, err, domain.ErrReservationRejected)

	_, err = svc.Reserve(ctx, domain.ReservationRequest{OrderID: "order-2", CustomerID: "nobody", Amount: 1})
	require.ErrorIs(t, err, domain.ErrReservationRejected)

	_, err = svc.Reserve(ctx, request("order-3", 0))
	require.ErrorIs(t, err, domain.ErrReservationRejected)
}

func TestConfirmAndCancel(t *testing.T) {
	svc, store := newTestService(t, 100)
	ctx := context.Background()

	res, err := svc.Reserve(ctx, request("order-1", 40))
	require.NoError(t, err)

	require.NoError(t, svc.Confirm(ctx, res.ReservationID))
	acc := account(t, store)
	assert.Equal(t, int64(60), acc.Balance)
	assert.Equal(t, int64(0), acc.Held)

	require.NoError(t, svc.Cancel(ctx, res.ReservationID))
	require.NoError(t, svc.Cancel(ctx, res.ReservationID))
	assert.Equal(t, int64(100), account(t, store).Balance)

	require.ErrorIs(t, svc.Confirm(ctx, res.ReservationID), domain.ErrExpiredReservation)
	require.NoError(t, svc.Cancel(ctx, "missing"))
}

func event(t *testing.T, id, eventType string, payload any) domain.Event {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return domain.Event{ID: id, Type: eventType, Payload: body}
}

func TestHandlerConfirmsOnceAndReleases(t *testing.T) {
	svc, store := newTestService(t, 100)
	ctx := context.Background()
	handler := NewHandler(svc, store.Outbox(), idempotency.NewLedger(store, store.ProcessedEvents(), store.Outbox()))

	res, err := svc.Reserve(ctx, request("order-1", 25))
	require.NoError(t, err)

	created := event(t, "evt-1", domain.EventOrderCreated, domain.OrderCreatedPayload{
		OrderID:      "order-1",
		Reservations: domain.ReservationIDs{Point: res.ReservationID},
	})
	for i := 0; i < 3; i++ {
		require.NoError(t, handler.HandleOrderCreated(ctx, created))
	}
	assert.Equal(t, int64(75), account(t, store).Balance)

	cancelled := event(t, "evt-2", domain.EventOrderCancelled, domain.OrderCancelledPayload{OrderID: "order-1"})
	require.NoError(t, handler.HandleOrderCancelled(ctx, cancelled))
	assert.Equal(t, int64(100), account(t, store).Balance)

	msgs, err := store.Outbox().PullReady(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.EventPointsConfirmed, msgs[0].EventType)
	assert.Equal(t, domain.EventPointsReleased, msgs[1].EventType)
}

func TestHandlerSkipsOrdersWithoutPoints(t *testing.T) {
	svc, store := newTestService(t, 100)
	ctx := context.Background()
	handler := NewHandler(svc, store.Outbox(), idempotency.NewLedger(store, store.ProcessedEvents(), store.Outbox()))

	created := event(t, "evt-1", domain.EventOrderCreated, domain.OrderCreatedPayload{OrderID: "order-9"})
	require.NoError(t, handler.HandleOrderCreated(ctx, created))

	msgs, err := store.Outbox().PullReady(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
