package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// OutboxPublisher публикует outbox-сообщения в топик, выбранный по типу агрегата.
type OutboxPublisher struct {
	producer *Producer
	route    func(aggregateType string) string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topics Topics) *OutboxPublisher {
	return &OutboxPublisher{producer: producer, route: topics.For}
}

// NewDLQPublisher создаёт паблишер, отправляющий всё в один dead-letter топик.
func NewDLQPublisher(producer *Producer, topic string) *OutboxPublisher {
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	return &OutboxPublisher{producer: producer, route: func(string) string { return topic }}
}

// Publish отправляет сообщение в конверте; ключ партиционирования - ID агрегата.
func (p *OutboxPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	body, err := json.Marshal(NewEnvelope(event, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", event.ID, err)
	}

	err = p.producer.Send(ctx, p.route(event.AggregateType), key, body,
		sarama.RecordHeader{Key: []byte(HeaderEventID), Value: []byte(event.ID)},
		sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte(event.EventType)},
	)
	if err != nil {
		return errors.Join(domain.ErrOutboxPublish, err)
	}
	return nil
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
