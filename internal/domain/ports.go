package domain

import (
	"context"
	"time"
)

// Имена зависимостей саги; они же ключи circuit breaker'ов.
const (
	DependencyStock   = "stock-service"
	DependencyPoint   = "point-service"
	DependencyCoupon  = "coupon-service"
	DependencyPayment = "payment-service"
)

// ReservationClient - синхронный клиент зависимости, всегда вызывается через circuit breaker.
type ReservationClient interface {
	// Reserve удерживает ресурс под заказ; OrderID - ключ идемпотентности.
	Reserve(ctx context.Context, req ReservationRequest) (ReservationResult, error)
	// Confirm подтверждает удержание.
	Confirm(ctx context.Context, reservationID string) error
	// Cancel снимает удержание (компенсация).
	Cancel(ctx context.Context, reservationID string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; доставка at-least-once.
	Publish(ctx context.Context, event OutboxMessage) error
}

// EventHandler обрабатывает входящее событие.
type EventHandler func(ctx context.Context, event Event) error

// TxManager открывает локальную транзакцию и передаёт её через context.
type TxManager interface {
	// WithTx выполняет fn в транзакции; если ctx уже несёт транзакцию, fn присоединяется к ней.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UnlockFunc освобождает захваченную блокировку.
type UnlockFunc func()

// ResourceLocker выдаёт блокировку, ограниченную одним ресурсом.
type ResourceLocker interface {
	// Lock ждёт блокировку ключа до отмены ctx.
	Lock(ctx context.Context, key string) (UnlockFunc, error)
}

// ReservationCache - быстрый поиск удержаний; не является источником истины.
type ReservationCache interface {
	Put(ctx context.Context, reservation TimedReservation, ttl time.Duration) error
	Get(ctx context.Context, id string) (TimedReservation, bool, error)
	Delete(ctx context.Context, id string) error
}

// SagaStep задаёт константы шагов для метрик/логов.
type SagaStep string

const (
	SagaStepPrecheck SagaStep = "precheck"
	SagaStepPersist  SagaStep = "persist"
	SagaStepStock    SagaStep = "stock"
	SagaStepPoint    SagaStep = "point"
	SagaStepCoupon   SagaStep = "coupon"
	SagaStepPayment  SagaStep = "payment"
	SagaStepFinalize SagaStep = "finalize"
)

// Dependency возвращает имя зависимости, к которой обращается шаг.
func (s SagaStep) Dependency() string {
	switch s {
	case SagaStepStock:
		return DependencyStock
	case SagaStepPoint:
		return DependencyPoint
	case SagaStepCoupon:
		return DependencyCoupon
	case SagaStepPayment:
		return DependencyPayment
	default:
		return ""
	}
}
