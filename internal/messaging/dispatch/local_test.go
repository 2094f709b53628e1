package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func TestLocalPublisherRoutesByAggregate(t *testing.T) {
	router := quietRouter()
	var got domain.Event
	router.Register("orders", domain.EventOrderCreated, func(_ context.Context, event domain.Event) error {
		got = event
		return nil
	})

	publisher := NewLocalPublisher(router, func(aggregateType string) string {
		if aggregateType == domain.AggregateOrder {
			return "orders"
		}
		return "resources"
	})

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "evt-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-1",
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{"order_id":"order-1"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", got.ID)
	assert.Equal(t, "orders", got.Topic)
	assert.Equal(t, "order-1", got.AggregateID)
	assert.JSONEq(t, `{"order_id":"order-1"}`, string(got.Payload))
}

func TestLocalPublisherReturnsHandlerError(t *testing.T) {
	router := quietRouter()
	boom := errors.New("boom")
	router.Register("orders", domain.EventOrderCancelled, func(context.Context, domain.Event) error { return boom })

	publisher := NewLocalPublisher(router, func(string) string { return "orders" })
	err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "evt-2", EventType: domain.EventOrderCancelled})
	require.ErrorIs(t, err, boom)
}
