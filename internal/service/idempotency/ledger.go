// Package idempotency защищает потребителей событий от повторной доставки через ledger обработанных событий.
package idempotency

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/clock"
	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/database"
)

// Effect применяет эффект события внутри транзакции из ctx.
type Effect func(ctx context.Context) error

// FailureEvent строит событие об отказе; nil означает, что событие не публикуется.
type FailureEvent func(cause error) *domain.OutboxMessage

// Ledger выполняет эффект события не более одного раза на пару (consumer, event id).
type Ledger struct {
	tx      domain.TxManager
	events  domain.ProcessedEventRepository
	outbox  domain.OutboxRepository
	clock   clock.Clock
	metrics *metrics.ConsumerMetrics
	logger  *log.Entry
}

// LedgerOption настраивает Ledger.
type LedgerOption func(*Ledger)

// WithLedgerLogger задаёт logger.
func WithLedgerLogger(logger *log.Entry) LedgerOption {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLedgerClock подменяет источник времени для processed_at.
func WithLedgerClock(c clock.Clock) LedgerOption {
	return func(l *Ledger) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLedgerMetrics подключает метрики потребителей.
func WithLedgerMetrics(m *metrics.ConsumerMetrics) LedgerOption {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// NewLedger создаёт ledger поверх общего хранилища: эффект, запись ledger'а и outbox живут в одной транзакции.
func NewLedger(tx domain.TxManager, events domain.ProcessedEventRepository, outbox domain.OutboxRepository, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		tx:     tx,
		events: events,
		outbox: outbox,
		clock:  clock.System{},
		logger: log.WithField("component", "event-ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run применяет effect к событию ровно один раз для consumer.
//
// Повтор уже обработанного события возвращает nil без эффекта. Бизнес-отказ откатывает эффект
// целиком, после чего в отдельной транзакции фиксируется FAILED и событие onFailure; Run возвращает nil.
// Инфраструктурные ошибки возвращаются, чтобы брокер доставил событие повторно.
func (l *Ledger) Run(ctx context.Context, consumer string, event domain.Event, effect Effect, onFailure FailureEvent) error {
	logger := l.logger.WithFields(log.Fields{
		"consumer":   consumer,
		"event_id":   event.ID,
		"event_type": event.Type,
	})
	if event.ID == "" {
		return fmt.Errorf("event without id: %w", domain.ErrUnexpected)
	}

	err := l.tx.WithTx(ctx, func(ctx context.Context) error {
		seen, err := l.events.Exists(ctx, consumer, event.ID)
		if err != nil {
			return err
		}
		if seen {
			return domain.ErrDuplicateEvent
		}
		if err := effect(ctx); err != nil {
			return err
		}
		return l.events.Record(ctx, l.processed(consumer, event, domain.ProcessedOutcomeSucceeded))
	})

	switch {
	case err == nil:
		l.metrics.RecordEvent(consumer, "succeeded")
		return nil
	case errors.Is(err, domain.ErrDuplicateEvent):
		l.metrics.RecordEvent(consumer, "duplicate")
		logger.Debug("event already processed, skipping")
		return nil
	case domain.IsBusinessFailure(err):
		return l.recordFailure(ctx, consumer, event, err, onFailure, logger)
	default:
		l.metrics.RecordEvent(consumer, "error")
		return err
	}
}

// recordFailure открывает независимую транзакцию: откаченная не может её поглотить.
func (l *Ledger) recordFailure(ctx context.Context, consumer string, event domain.Event, cause error, onFailure FailureEvent, logger *log.Entry) error {
	err := l.tx.WithTx(database.Detach(ctx), func(ctx context.Context) error {
		seen, err := l.events.Exists(ctx, consumer, event.ID)
		if err != nil {
			return err
		}
		if seen {
			return domain.ErrDuplicateEvent
		}
		if err := l.events.Record(ctx, l.processed(consumer, event, domain.ProcessedOutcomeFailed)); err != nil {
			return err
		}
		if onFailure == nil {
			return nil
		}
		if msg := onFailure(cause); msg != nil {
			if _, err := l.outbox.Insert(ctx, *msg); err != nil {
				return fmt.Errorf("write failure event: %w", err)
			}
		}
		return nil
	})

	switch {
	case err == nil:
		l.metrics.RecordEvent(consumer, "failed")
		logger.WithError(cause).Warn("event rejected, failure recorded")
		return nil
	case errors.Is(err, domain.ErrDuplicateEvent):
		l.metrics.RecordEvent(consumer, "duplicate")
		return nil
	default:
		l.metrics.RecordEvent(consumer, "error")
		return fmt.Errorf("record failed event %s: %w", event.ID, err)
	}
}

func (l *Ledger) processed(consumer string, event domain.Event, outcome domain.ProcessedOutcome) domain.ProcessedEvent {
	return domain.ProcessedEvent{
		EventID:     event.ID,
		EventType:   event.Type,
		Consumer:    consumer,
		Outcome:     outcome,
		ProcessedAt: l.clock.Now(),
	}
}
