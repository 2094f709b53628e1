package coupon

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultSweepInterval = 30 * time.Second

// SweepWorker периодически снимает просроченные удержания; это страховка для компенсаций, которые не дошли.
type SweepWorker struct {
	manager  *Manager
	interval time.Duration
	logger   *log.Entry
}

// NewSweepWorker создаёт воркер; interval <= 0 означает значение по умолчанию.
func NewSweepWorker(manager *Manager, interval time.Duration, logger *log.Entry) *SweepWorker {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = log.WithField("component", "coupon-sweep-worker")
	}
	return &SweepWorker{manager: manager, interval: interval, logger: logger}
}

// Run выполняет Sweep по тикеру до отмены ctx.
func (w *SweepWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.WithField("interval", w.interval).Info("coupon sweep worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("coupon sweep worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) {
	// Полная порция означает, что просроченных может быть больше: добираем сразу.
	for {
		released, err := w.manager.Sweep(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.WithError(err).Warn("coupon sweep failed")
			return
		}
		if released < w.manager.batch {
			return
		}
	}
}
