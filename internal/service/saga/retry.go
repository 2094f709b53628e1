package saga

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// Creator - всё, что умеет выполнить сагу создания заказа.
type Creator interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error)
}

var _ Creator = (*Orchestrator)(nil)

// RetryConfig конфигурация для retry логики.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryableOrchestrator повторяет сагу целиком при временных отказах зависимостей.
// Каждая попытка получает новый OrderID, предыдущая остаётся CANCELLED.
// Запрос с OrderID клиента не повторяется: повтор вернул бы уже отменённый заказ.
type RetryableOrchestrator struct {
	inner  Creator
	config RetryConfig
	logger *log.Entry
}

// NewRetryableOrchestrator создаёт новый оркестратор с retry логикой.
func NewRetryableOrchestrator(inner Creator, config RetryConfig, logger *log.Entry) *RetryableOrchestrator {
	if logger == nil {
		logger = log.WithField("component", "retryable-orchestrator")
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	return &RetryableOrchestrator{inner: inner, config: config, logger: logger}
}

// CreateOrder выполняет сагу, повторяя её при domain.ErrTransientFailure.
func (ro *RetryableOrchestrator) CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	if req.OrderID != "" {
		return ro.inner.CreateOrder(ctx, req)
	}

	delay := ro.config.InitialDelay
	var (
		order domain.Order
		err   error
	)
	for attempt := 1; attempt <= ro.config.MaxAttempts; attempt++ {
		order, err = ro.inner.CreateOrder(ctx, req)
		if err == nil {
			if attempt > 1 {
				ro.logger.WithFields(log.Fields{
					"order_id": order.ID,
					"attempt":  attempt,
				}).Info("order saga succeeded after retry")
			}
			return order, nil
		}
		if !shouldRetry(err) || attempt == ro.config.MaxAttempts {
			break
		}

		ro.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"attempt":  attempt,
			"delay":    delay,
		}).Warn("order saga failed with transient error, retrying")

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return order, errors.Join(err, sleepErr)
		}
		delay = time.Duration(float64(delay) * ro.config.BackoffFactor)
		if ro.config.MaxDelay > 0 && delay > ro.config.MaxDelay {
			delay = ro.config.MaxDelay
		}
	}
	return order, err
}

// shouldRetry: повторяем только временные отказы. Открытый breaker и бизнес-отказы не повторяются.
func shouldRetry(err error) bool {
	return errors.Is(err, domain.ErrTransientFailure) && !errors.Is(err, domain.ErrServiceUnavailable)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
