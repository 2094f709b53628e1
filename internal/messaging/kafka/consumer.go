package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = 200 * time.Millisecond
)

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger задаёт логгер.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDLQ включает отправку необработанных сообщений в dead-letter топик.
func WithDLQ(producer *Producer, topic string) ConsumerOption {
	return func(c *Consumer) {
		c.dlqProducer = producer
		if topic != "" {
			c.dlqTopic = topic
		}
	}
}

// WithRetry задаёт число попыток обработчика и паузу между ними.
func WithRetry(maxRetries int, backoff time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
		if backoff >= 0 {
			c.retryBackoff = backoff
		}
	}
}

// Consumer читает конверты событий из consumer group и передаёт их обработчику.
// Ошибка обработчика повторяется; после исчерпания попыток сообщение уходит в DLQ.
// Без DLQ сессия завершается, и сообщение будет доставлено повторно.
type Consumer struct {
	consumer     sarama.ConsumerGroup
	topics       []string
	handler      domain.EventHandler
	logger       *log.Entry
	wg           sync.WaitGroup
	dlqProducer  *Producer
	dlqTopic     string
	maxRetries   int
	retryBackoff time.Duration
}

// NewConsumer создает новый Kafka consumer
func NewConsumer(brokers []string, groupID string, topics []string, handler domain.EventHandler, opts ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return NewConsumerFromGroup(group, topics, handler, opts...), nil
}

// NewConsumerFromGroup оборачивает готовую consumer group.
func NewConsumerFromGroup(group sarama.ConsumerGroup, topics []string, handler domain.EventHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		consumer:     group,
		topics:       topics,
		handler:      handler,
		logger:       log.WithField("component", "kafka-consumer"),
		dlqTopic:     TopicDeadLetterQueue,
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume должен вызываться в цикле, так как при rebalance он завершается
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := c.handle(session.Context(), message); err != nil {
				// Не маркируем: после rejoin сообщение придёт снова.
				return err
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handle возвращает ошибку, только если сообщение не обработано и не отправлено в DLQ.
func (c *Consumer) handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	logger := c.logger.WithFields(log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	})

	event, err := DecodeEvent(message)
	if err != nil {
		logger.WithError(err).Warn("skipping malformed message")
		return c.deadLetter(ctx, message, err, logger)
	}
	logger = logger.WithFields(log.Fields{"event_id": event.ID, "event_type": event.Type})

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if lastErr = c.handler(ctx, event); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.WithError(lastErr).WithField("attempt", attempt).Warn("message processing failed")
		if attempt < c.maxRetries && c.retryBackoff > 0 {
			timer := time.NewTimer(c.retryBackoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return c.deadLetter(ctx, message, lastErr, logger)
}

// DeadMessage - тело сообщения, отправленного потребителем в DLQ.
type DeadMessage struct {
	OriginalTopic     string          `json:"original_topic"`
	OriginalPartition int32           `json:"original_partition"`
	OriginalOffset    int64           `json:"original_offset"`
	OriginalKey       string          `json:"original_key"`
	OriginalValue     json.RawMessage `json:"original_value,omitempty"`
	RawValue          string          `json:"raw_value,omitempty"`
	ErrorMessage      string          `json:"error_message"`
	FailedAt          time.Time       `json:"failed_at"`
	RetryCount        int             `json:"retry_count"`
}

func (c *Consumer) deadLetter(ctx context.Context, message *sarama.ConsumerMessage, cause error, logger *log.Entry) error {
	if c.dlqProducer == nil {
		if errors.Is(cause, ErrMalformedEnvelope) {
			// Повтор не поможет: подтверждаем, чтобы не блокировать partition.
			return nil
		}
		return fmt.Errorf("message %s/%d/%d: %w", message.Topic, message.Partition, message.Offset, cause)
	}

	dead := DeadMessage{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		ErrorMessage:      cause.Error(),
		FailedAt:          time.Now().UTC(),
		RetryCount:        c.maxRetries,
	}
	if json.Valid(message.Value) {
		dead.OriginalValue = json.RawMessage(message.Value)
	} else {
		dead.RawValue = string(message.Value)
	}
	body, err := json.Marshal(dead)
	if err != nil {
		return fmt.Errorf("marshal dead message: %w", err)
	}

	err = c.dlqProducer.Send(ctx, c.dlqTopic, string(message.Key), body,
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
		sarama.RecordHeader{Key: []byte(HeaderErrorMessage), Value: []byte(cause.Error())},
		sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(c.maxRetries))},
		sarama.RecordHeader{Key: []byte(HeaderFailedAt), Value: []byte(dead.FailedAt.Format(time.RFC3339))},
	)
	if err != nil {
		logger.WithError(err).Error("failed to send message to DLQ")
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}
	logger.Info("message sent to DLQ")
	return nil
}
