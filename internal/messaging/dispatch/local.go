package dispatch

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// LocalPublisher доставляет outbox-сообщения прямо в Router без брокера.
// Используется, когда Kafka не настроена: семантика at-least-once сохраняется за счёт outbox-воркера.
type LocalPublisher struct {
	router *Router
	route  func(aggregateType string) string
}

// NewLocalPublisher создаёт публикатор; route выбирает топик по типу агрегата.
func NewLocalPublisher(router *Router, route func(aggregateType string) string) *LocalPublisher {
	return &LocalPublisher{router: router, route: route}
}

// Publish реализует domain.OutboxPublisher.
func (p *LocalPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	event := domain.Event{
		ID:            msg.ID,
		Type:          msg.EventType,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		Payload:       msg.Payload,
		Topic:         p.route(msg.AggregateType),
	}
	if err := p.router.Dispatch(ctx, event); err != nil {
		return fmt.Errorf("local dispatch %s: %w", msg.ID, err)
	}
	return nil
}

var _ domain.OutboxPublisher = (*LocalPublisher)(nil)
