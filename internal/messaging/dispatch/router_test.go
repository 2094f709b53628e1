package dispatch

import (
	"context"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func quietRouter() *Router {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return NewRouter(logger.WithField("test", "router"))
}

func TestRouterDispatchesByTopicAndType(t *testing.T) {
	router := quietRouter()
	var calls []string
	record := func(name string) domain.EventHandler {
		return func(context.Context, domain.Event) error {
			calls = append(calls, name)
			return nil
		}
	}

	router.Register("orders", domain.EventOrderCreated, record("stock"))
	router.Register("orders", domain.EventOrderCreated, record("points"))
	router.Register("orders", domain.EventOrderCancelled, record("stock-release"))
	router.Register("other", domain.EventOrderCreated, record("other"))

	require.NoError(t, router.Dispatch(context.Background(), domain.Event{ID: "e-1", Topic: "orders", Type: domain.EventOrderCreated}))
	assert.Equal(t, []string{"stock", "points"}, calls)

	calls = nil
	require.NoError(t, router.Dispatch(context.Background(), domain.Event{ID: "e-2", Topic: "orders", Type: domain.EventOrderCancelled}))
	assert.Equal(t, []string{"stock-release"}, calls)
}

func TestRouterUnknownTypeAcknowledged(t *testing.T) {
	router := quietRouter()
	router.Register("orders", domain.EventOrderCreated, func(context.Context, domain.Event) error {
		t.Fatal("must not be called")
		return nil
	})

	require.NoError(t, router.Dispatch(context.Background(), domain.Event{ID: "e-3", Topic: "orders", Type: "SomethingElse"}))
}

func TestRouterStopsOnHandlerError(t *testing.T) {
	router := quietRouter()
	errDB := errors.New("db down")
	secondCalled := false

	router.Register("orders", domain.EventOrderCreated, func(context.Context, domain.Event) error { return errDB })
	router.Register("orders", domain.EventOrderCreated, func(context.Context, domain.Event) error {
		secondCalled = true
		return nil
	})

	err := router.Dispatch(context.Background(), domain.Event{ID: "e-4", Topic: "orders", Type: domain.EventOrderCreated})
	require.ErrorIs(t, err, errDB)
	assert.Contains(t, err.Error(), "handler 1/2")
	assert.False(t, secondCalled)
}

func TestRouterTopics(t *testing.T) {
	router := quietRouter()
	noop := func(context.Context, domain.Event) error { return nil }
	router.Register("b", "X", noop)
	router.Register("a", "X", noop)
	router.Register("a", "Y", noop)

	assert.Equal(t, []string{"a", "b"}, router.Topics())
}

func TestRouterRejectsNilHandler(t *testing.T) {
	assert.Panics(t, func() { quietRouter().Register("a", "X", nil) })
}
