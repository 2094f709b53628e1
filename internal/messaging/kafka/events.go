package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "ordersaga.order.events"
	TopicStockEvents     = "ordersaga.stock.events"
	TopicPointsEvents    = "ordersaga.points.events"
	TopicCouponEvents    = "ordersaga.coupon.events"
	TopicPaymentEvents   = "ordersaga.payment.events"
	TopicDeadLetterQueue = "ordersaga.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers
const (
	HeaderEventID       = "x-event-id"
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// ErrMalformedEnvelope - сообщение не удалось разобрать как конверт события.
var ErrMalformedEnvelope = errors.New("malformed event envelope")

// Topics сопоставляет тип агрегата outbox с топиком.
type Topics struct {
	Order   string
	Stock   string
	Points  string
	Coupon  string
	Payment string
	DLQ     string
}

// DefaultTopics возвращает топики по умолчанию.
func DefaultTopics() Topics {
	return Topics{
		Order:   TopicOrderEvents,
		Stock:   TopicStockEvents,
		Points:  TopicPointsEvents,
		Coupon:  TopicCouponEvents,
		Payment: TopicPaymentEvents,
		DLQ:     TopicDeadLetterQueue,
	}
}

// For возвращает топик для типа агрегата; неизвестные агрегаты уходят в топик заказов.
func (t Topics) For(aggregateType string) string {
	var topic string
	switch aggregateType {
	case domain.AggregateStock:
		topic = t.Stock
	case domain.AggregatePoints:
		topic = t.Points
	case domain.AggregateCoupon:
		topic = t.Coupon
	case domain.AggregatePayment:
		topic = t.Payment
	default:
		topic = t.Order
	}
	if topic == "" {
		return TopicOrderEvents
	}
	return topic
}

// Consumed возвращает топики, которые читают потребители ресурсов.
func (t Topics) Consumed() []string {
	return []string{t.For(domain.AggregateOrder)}
}

// Envelope - конверт события в топике; EventID равен ID outbox-строки и служит ключом дедупликации.
type Envelope struct {
	EventID       string          `json:"event_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope собирает конверт из outbox-сообщения.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		EventID:       msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		OccurredAt:    msg.CreatedAt,
		PublishedAt:   publishedAt,
	}
}

// DecodeEvent разбирает сообщение Kafka в доменное событие.
func DecodeEvent(message *sarama.ConsumerMessage) (domain.Event, error) {
	var env Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.EventID == "" {
		env.EventID = headerValue(message, HeaderEventID)
	}
	if env.EventType == "" {
		env.EventType = headerValue(message, HeaderEventType)
	}
	if env.EventID == "" || env.EventType == "" {
		return domain.Event{}, fmt.Errorf("%w: event_id and event_type are required", ErrMalformedEnvelope)
	}
	return domain.Event{
		ID:            env.EventID,
		Type:          env.EventType,
		AggregateType: env.AggregateType,
		AggregateID:   env.AggregateID,
		Payload:       env.Payload,
		Topic:         message.Topic,
	}, nil
}

func headerValue(message *sarama.ConsumerMessage, key string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
