package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/clock"
	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	defaultRetention        = 7 * 24 * time.Hour
)

// CleanupOptions задаёт параметры воркера очистки ledger'а.
type CleanupOptions struct {
	Logger    *log.Entry
	Clock     clock.Clock
	Metrics   *metrics.ConsumerMetrics
	Interval  time.Duration
	BatchSize int
	Retention time.Duration
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Logger = logger
	}
}

// WithClock подменяет источник времени.
func WithClock(c clock.Clock) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Clock = c
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.ConsumerMetrics) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Metrics = m
	}
}

// WithInterval задаёт интервал между cleanup-циклами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт размер batch для одного удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.BatchSize = batchSize
	}
}

// WithRetention задаёт, сколько хранить записи ledger'а. Окно должно быть много больше окна повторной доставки брокера.
func WithRetention(retention time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Retention = retention
	}
}

// CleanupWorker периодически удаляет записи ledger'а старше окна хранения.
type CleanupWorker struct {
	repo      domain.ProcessedEventRepository
	logger    *log.Entry
	clock     clock.Clock
	metrics   *metrics.ConsumerMetrics
	interval  time.Duration
	batchSize int
	retention time.Duration
}

// NewCleanupWorker создаёт воркер очистки ledger'а.
func NewCleanupWorker(repo domain.ProcessedEventRepository, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{
		Interval:  defaultCleanupInterval,
		BatchSize: defaultCleanupBatchSize,
		Retention: defaultRetention,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "ledger-cleanup-worker")
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}

	return &CleanupWorker{
		repo:      repo,
		logger:    logger,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		retention: opts.Retention,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("ledger cleanup worker is disabled: repo is nil")
		return
	}

	w.cleanup(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *CleanupWorker) cleanup(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx, w.clock.Now().Add(-w.retention))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.metrics.RecordCleanup(false, deleted)
		w.logger.WithError(err).Warn("ledger cleanup run failed")
		return
	}

	w.metrics.RecordCleanup(true, deleted)
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("ledger cleanup completed")
	}
}

// DeleteExpired удаляет все записи, обработанные раньше before, порциями batchSize.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	totalDeleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		deleted, err := w.repo.DeleteBefore(ctx, before, w.batchSize)
		if err != nil {
			return totalDeleted, err
		}
		totalDeleted += deleted

		if deleted < w.batchSize {
			break
		}
	}
	return totalDeleted, nil
}
