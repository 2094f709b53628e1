// Package outbox содержит воркер, публикующий READY-строки transactional outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/vladislavdragonenkov/ordersaga/internal/clock"
	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
)

const (
	defaultPollInterval = 1 * time.Second
	defaultBatchSize    = 100
	defaultMaxRetries   = 5

	tracerName = "github.com/vladislavdragonenkov/ordersaga/internal/service/outbox"
)

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger         *log.Entry
	DLQPublisher   domain.OutboxPublisher
	Metrics        *metrics.OutboxMetrics
	Clock          clock.Clock
	TracerProvider trace.TracerProvider
	PollInterval   time.Duration
	BatchSize      int
	MaxRetries     int
	// PublishRate ограничивает число публикаций в секунду; 0 - без ограничения.
	PublishRate float64
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithDLQPublisher задаёт publisher для строк, ставших FAILED.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(opts *WorkerOptions) {
		opts.DLQPublisher = publisher
	}
}

// WithMetrics подключает метрики outbox.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(opts *WorkerOptions) {
		opts.Metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(c clock.Clock) Option {
	return func(opts *WorkerOptions) {
		opts.Clock = c
	}
}

// WithTracerProvider задаёт провайдер трассировки.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(opts *WorkerOptions) {
		opts.TracerProvider = tp
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxRetries задаёт число неудачных циклов, после которого строка становится FAILED.
func WithMaxRetries(maxRetries int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxRetries = maxRetries
	}
}

// WithPublishRate ограничивает скорость публикации (сообщений в секунду).
func WithPublishRate(perSecond float64) Option {
	return func(opts *WorkerOptions) {
		opts.PublishRate = perSecond
	}
}

// Worker публикует READY-сообщения из outbox в брокер. За цикл каждая строка получает одну попытку;
// повтор происходит в следующих циклах, пока MarkRetry не переведёт строку в FAILED.
type Worker struct {
	repo         domain.OutboxRepository
	publisher    domain.OutboxPublisher
	dlqPublisher domain.OutboxPublisher
	metrics      *metrics.OutboxMetrics
	clock        clock.Clock
	tracer       trace.Tracer
	limiter      *rate.Limiter
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	maxRetries   int
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
		MaxRetries:   defaultMaxRetries,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-worker")
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.PublishRate > 0 {
		burst := int(math.Ceil(opts.PublishRate))
		limiter = rate.NewLimiter(rate.Limit(opts.PublishRate), burst)
	}

	return &Worker{
		repo:         repo,
		publisher:    publisher,
		dlqPublisher: opts.DLQPublisher,
		metrics:      opts.Metrics,
		clock:        opts.Clock,
		tracer:       opts.TracerProvider.Tracer(tracerName),
		limiter:      limiter,
		logger:       logger,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		maxRetries:   opts.MaxRetries,
	}
}

// Run запускает периодический polling outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл и возвращает число опубликованных строк.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer w.refreshBacklogMetrics(ctx)

	events, err := w.repo.PullReady(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull ready outbox messages")
		return 0
	}

	sent := 0
	for _, event := range events {
		if err := w.limiter.Wait(ctx); err != nil {
			return sent
		}
		if w.publishOne(ctx, event) {
			sent++
		}
	}
	return sent
}

func (w *Worker) publishOne(ctx context.Context, event domain.OutboxMessage) bool {
	ctx, span := w.tracer.Start(ctx, "outbox.publish", trace.WithAttributes(
		attribute.String("event_id", event.ID),
		attribute.String("event_type", event.EventType),
		attribute.String("aggregate_id", event.AggregateID),
	))
	defer span.End()

	logger := w.logger.WithFields(log.Fields{
		"event_id":   event.ID,
		"event_type": event.EventType,
	})

	started := time.Now()
	publishErr := w.publisher.Publish(ctx, event)
	latency := time.Since(started)

	if publishErr == nil {
		w.metrics.RecordPublish("sent", latency)
		if err := w.repo.MarkSent(ctx, event.ID, w.clock.Now()); err != nil {
			// Строку мог перевести другой воркер; повторная публикация допустима (at-least-once).
			logger.WithError(err).Warn("failed to mark outbox message as sent")
		}
		return true
	}

	span.RecordError(publishErr)
	span.SetStatus(codes.Error, publishErr.Error())

	status, err := w.repo.MarkRetry(ctx, event.ID, publishErr.Error(), w.maxRetries)
	if err != nil {
		logger.WithError(err).Warn("failed to record outbox publish retry")
		w.metrics.RecordPublish("retry", latency)
		return false
	}
	if status != domain.OutboxStatusFailed {
		w.metrics.RecordPublish("retry", latency)
		logger.WithError(publishErr).WithField("retry_count", event.RetryCount+1).Warn("outbox publish failed, will retry")
		return false
	}

	w.metrics.RecordPublish("failed", latency)
	logger.WithError(publishErr).Error("outbox message dead-lettered")
	if err := w.publishToDLQ(ctx, event, publishErr); err != nil {
		w.metrics.RecordPublish("dlq_failed", 0)
		logger.WithError(err).Warn("failed to publish to DLQ")
	}
	return false
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	if w.metrics == nil || ctx.Err() != nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	w.metrics.SetBacklog(stats.ReadyCount, stats.FailedCount, stats.OldestReadyAt, w.clock.Now())
}

// DeadLetter - тело сообщения в DLQ-топике.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	DeadAt        time.Time       `json:"dead_at"`
}

func (w *Worker) publishToDLQ(ctx context.Context, event domain.OutboxMessage, publishErr error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	payload := json.RawMessage(event.Payload)
	if !json.Valid(payload) {
		payload = nil
	}
	body, err := json.Marshal(DeadLetter{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishError:  publishErr.Error(),
		DeadAt:        w.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	err = w.dlqPublisher.Publish(ctx, domain.OutboxMessage{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       body,
		CreatedAt:     event.CreatedAt,
	})
	if err != nil {
		return errors.Join(domain.ErrOutboxPublish, fmt.Errorf("publish to dlq: %w", err))
	}
	return nil
}
