package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если список брокеров не пуст; пустой список даёт nil, nil.
func initKafkaProducer(brokers, clientID string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitList(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList, clientID)
	if err != nil {
		logger.WithError(err).WithField("brokers", brokerList).Warn("failed to create kafka producer")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// initKafkaConsumer подписывает handler на топик событий заказа; сообщения после ретраев уходят в DLQ.
func initKafkaConsumer(cfg Config, producer *kafka.Producer, handler domain.EventHandler, logger *log.Entry) (*kafka.Consumer, error) {
	topics := cfg.topics()
	return kafka.NewConsumer(
		splitList(cfg.KafkaBrokers),
		cfg.KafkaConsumerGroup,
		topics.Consumed(),
		handler,
		kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")),
		kafka.WithDLQ(producer, topics.DLQ),
		kafka.WithRetry(cfg.KafkaConsumerMaxRetries, cfg.KafkaConsumerRetryBackoff),
	)
}

// closeKafka закрывает producer, если он создан.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
