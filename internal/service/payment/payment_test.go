package payment

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

func TestServiceLifecycle(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, store.Payments())
	ctx := context.Background()

	res, err := svc.Reserve(ctx, domain.ReservationRequest{OrderID: "order-1", Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.Amount)

	again, err := svc.Reserve(ctx, domain.ReservationRequest{OrderID: "order-1", Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, res.ReservationID, again.ReservationID)

	_, err = svc.Reserve(ctx, domain.ReservationRequest{OrderID: "order-1", Amount: 700})
	require.ErrorIs(t, err, domain.ErrAmountMismatch)

	require.NoError(t, svc.Confirm(ctx, res.ReservationID))
	auth, err := store.Payments().Get(ctx, res.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCaptured, auth.Status)

	require.NoError(t, svc.Cancel(ctx, res.ReservationID))
	require.ErrorIs(t, svc.Confirm(ctx, res.ReservationID), domain.ErrExpiredReservation)
	require.NoError(t, svc.Cancel(ctx, "missing"))
}

func TestServiceAuthorizationLimit(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, store.Payments(), WithAuthorizationLimit(1000))

	_, err := svc.Reserve(context.Background(), domain.ReservationRequest{OrderID: "order-1", Amount: 1001})
	require.ErrorIs(t, err, domain.ErrReservationRejected)

	_, err = store.Payments().GetByOrder(context.Background(), "order-1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHandlerCapturesOnceOrReportsFailure(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, store.Payments())
	handler := NewHandler(svc, store.Outbox(), idempotency.NewLedger(store, store.ProcessedEvents(), store.Outbox()))
	ctx := context.Background()

	res, err := svc.Reserve(ctx, domain.ReservationRequest{OrderID: "order-1", Amount: 300})
	require.NoError(t, err)

	body, err := json.Marshal(domain.OrderCreatedPayload{OrderID: "order-1", Reservations: domain.ReservationIDs{Payment: res.ReservationID}})
	require.NoError(t, err)
	created := domain.Event{ID: "evt-1", Type: domain.EventOrderCreated, Payload: body}
	require.NoError(t, handler.HandleOrderCreated(ctx, created))
	require.NoError(t, handler.HandleOrderCreated(ctx, created))

	body, err = json.Marshal(domain.OrderCreatedPayload{OrderID: "order-404"})
	require.NoError(t, err)
	require.NoError(t, handler.HandleOrderCreated(ctx, domain.Event{ID: "evt-2", Type: domain.EventOrderCreated, Payload: body}))

	msgs, err := store.Outbox().PullReady(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.EventPaymentCaptured, msgs[0].EventType)
	assert.Equal(t, domain.EventPaymentCaptureFailed, msgs[1].EventType)
	assert.Equal(t, "order-404", msgs[1].AggregateID)
}

func TestHandlerVoidsOnCancel(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, store.Payments())
	handler := NewHandler(svc, store.Outbox(), idempotency.NewLedger(store, store.ProcessedEvents(), store.Outbox()))
	ctx := context.Background()

	res, err := svc.Reserve(ctx, domain.ReservationRequest{OrderID: "order-1", Amount: 300})
	require.NoError(t, err)

	body, err := json.Marshal(domain.OrderCancelledPayload{OrderID: "order-1"})
	require.NoError(t, err)
	require.NoError(t, handler.HandleOrderCancelled(ctx, domain.Event{ID: "evt-c", Type: domain.EventOrderCancelled, Payload: body}))

	auth, err := store.Payments().Get(ctx, res.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusVoided, auth.Status)
}
