// Package saga реализует сагу создания заказа: резервы в четырёх сервисах через circuit breaker,
// финализацию вместе с outbox и компенсацию в обратном порядке.
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordersaga/internal/clock"
	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/breaker"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/database"
)

const (
	tracerName          = "github.com/vladislavdragonenkov/ordersaga/internal/service/saga"
	compensationTimeout = 5 * time.Second
)

// Clients - клиенты зависимостей саги.
type Clients struct {
	Stock   domain.ReservationClient
	Points  domain.ReservationClient
	Coupon  domain.ReservationClient
	Payment domain.ReservationClient
}

// Orchestrator выполняет сагу создания заказа на вызывающей горутине.
type Orchestrator struct {
	tx           domain.TxManager
	orders       domain.OrderRepository
	outbox       domain.OutboxRepository
	clients      Clients
	breakers     *breaker.Registry
	compensation *CompensationPublisher
	validate     *validator.Validate
	clock        clock.Clock
	metrics      *metrics.SagaMetrics
	tracer       trace.Tracer
	logger       *log.Entry
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithMetrics подключает метрики саги.
func WithMetrics(m *metrics.SagaMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracerProvider задаёт провайдер трассировки; по умолчанию глобальный.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithCompensationPublisher задаёт способ доставки OrderCancelled; по умолчанию только outbox.
func WithCompensationPublisher(p *CompensationPublisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.compensation = p
		}
	}
}

// NewOrchestrator создаёт оркестратор. Все четыре клиента обязательны.
func NewOrchestrator(
	tx domain.TxManager,
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	clients Clients,
	breakers *breaker.Registry,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		tx:       tx,
		orders:   orders,
		outbox:   outbox,
		clients:  clients,
		breakers: breakers,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		clock:    clock.System{},
		tracer:   otel.Tracer(tracerName),
		logger:   log.WithField("component", "saga"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.compensation == nil {
		o.compensation = NewCompensationPublisher(nil, outbox, o.logger)
	}
	breakers.Register(domain.DependencyStock, domain.DependencyPoint, domain.DependencyCoupon, domain.DependencyPayment)
	return o
}

// completedStep - успешно выполненный резерв, который нужно компенсировать при отказе.
type completedStep struct {
	step          domain.SagaStep
	client        domain.ReservationClient
	reservationID string
}

// CreateOrder выполняет сагу. При отказе шага компенсирует только успешно выполненные шаги,
// переводит заказ в CANCELLED и возвращает *StepError с ошибкой таксономии.
// Повтор с существующим OrderID возвращает сохранённый заказ без обращения к зависимостям.
func (o *Orchestrator) CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	if err := validateRequest(o.validate, req); err != nil {
		return domain.Order{}, &StepError{Step: domain.SagaStepPrecheck, Err: err}
	}
	if req.OrderID == "" {
		req.OrderID = uuid.NewString()
	}

	ctx, span := o.tracer.Start(ctx, "saga.CreateOrder", trace.WithAttributes(
		attribute.String("order_id", req.OrderID),
		attribute.String("customer_id", req.CustomerID),
	))
	defer span.End()

	logger := o.logger.WithFields(log.Fields{
		"order_id":    req.OrderID,
		"customer_id": req.CustomerID,
	})

	order, err := o.run(ctx, req, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return order, err
}

func (o *Orchestrator) run(ctx context.Context, req CreateOrderRequest, logger *log.Entry) (domain.Order, error) {
	// Breaker, не пропускающий вызов, отсекает запрос до любых побочных эффектов.
	// HALF_OPEN с пробным вызовом в полёте тоже считается недоступным.
	for _, dep := range req.requiredDependencies() {
		if !o.breakers.Admits(dep) {
			err := fmt.Errorf("%s circuit open: %w", dep, domain.ErrServiceUnavailable)
			o.metrics.RecordSagaFailed(string(domain.SagaStepPrecheck), reasonLabel(err))
			logger.WithField("dependency", dep).Warn("saga rejected by open circuit breaker")
			return domain.Order{}, &StepError{Step: domain.SagaStepPrecheck, Err: err}
		}
	}

	items := req.orderItems()
	total, err := domain.ItemsTotal(items)
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
		o.metrics.RecordSagaFailed(string(domain.SagaStepPrecheck), reasonLabel(err))
		return domain.Order{}, &StepError{Step: domain.SagaStepPrecheck, Err: err}
	}
	if req.PointAmount > total {
		err := fmt.Errorf("points %d exceed total %d: %w", req.PointAmount, total, domain.ErrAmountMismatch)
		return domain.Order{}, &StepError{Step: domain.SagaStepPrecheck, Err: err}
	}

	order := domain.Order{
		ID:            req.OrderID,
		CustomerID:    req.CustomerID,
		Status:        domain.OrderStatusPending,
		Items:         items,
		CouponID:      req.CouponID,
		AmountTotal:   total,
		AmountPoint:   req.PointAmount,
		AmountPayable: total - req.PointAmount,
		CreatedAt:     o.clock.Now(),
	}

	existing, created, err := o.persist(ctx, order)
	if err != nil {
		return domain.Order{}, &StepError{Step: domain.SagaStepPersist, Err: domain.Classify(err)}
	}
	if !created {
		logger.WithField("status", existing.Status).Debug("order already exists, returning stored state")
		return existing, nil
	}

	started := time.Now()
	o.metrics.RecordSagaStarted()
	defer func() { o.metrics.RecordSagaFinished(time.Since(started)) }()
	logger.Info("saga started")

	var done []completedStep

	res, err := o.reserve(ctx, domain.SagaStepStock, o.clients.Stock, domain.ReservationRequest{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Lines:      req.reservationLines(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrServiceUnavailable) {
			return o.discard(ctx, order, domain.SagaStepStock, err, logger)
		}
		return o.abort(ctx, order, done, domain.SagaStepStock, err, logger)
	}
	order.Reservations.Stock = res.ReservationID
	done = append(done, completedStep{domain.SagaStepStock, o.clients.Stock, res.ReservationID})

	if req.PointAmount > 0 {
		res, err = o.reserve(ctx, domain.SagaStepPoint, o.clients.Points, domain.ReservationRequest{
			ResourceRef: order.CustomerID,
			OrderID:     order.ID,
			CustomerID:  order.CustomerID,
			Amount:      req.PointAmount,
		})
		if err != nil {
			return o.abort(ctx, order, done, domain.SagaStepPoint, err, logger)
		}
		order.Reservations.Point = res.ReservationID
		done = append(done, completedStep{domain.SagaStepPoint, o.clients.Points, res.ReservationID})
	}

	if req.CouponID != "" {
		res, err = o.reserve(ctx, domain.SagaStepCoupon, o.clients.Coupon, domain.ReservationRequest{
			ResourceRef: req.CouponID,
			OrderID:     order.ID,
			CustomerID:  order.CustomerID,
		})
		if err != nil {
			return o.abort(ctx, order, done, domain.SagaStepCoupon, err, logger)
		}
		order.Reservations.Coupon = res.ReservationID
		order.AmountCoupon = res.Amount
		done = append(done, completedStep{domain.SagaStepCoupon, o.clients.Coupon, res.ReservationID})
	}

	order.AmountPayable = order.AmountTotal - order.AmountPoint - order.AmountCoupon
	if err := order.ValidateAmounts(); err != nil {
		err = fmt.Errorf("total %d, points %d, coupon %d: %w", order.AmountTotal, order.AmountPoint, order.AmountCoupon, errors.Join(domain.ErrAmountMismatch, err))
		return o.abort(ctx, order, done, domain.SagaStepPayment, err, logger)
	}

	res, err = o.reserve(ctx, domain.SagaStepPayment, o.clients.Payment, domain.ReservationRequest{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Amount:     order.AmountPayable,
	})
	if err != nil {
		return o.abort(ctx, order, done, domain.SagaStepPayment, err, logger)
	}
	order.Reservations.Payment = res.ReservationID
	done = append(done, completedStep{domain.SagaStepPayment, o.clients.Payment, res.ReservationID})

	finalized, err := o.finalize(ctx, order)
	if err != nil {
		return o.abort(ctx, order, done, domain.SagaStepFinalize, domain.Classify(err), logger)
	}

	o.metrics.RecordSagaCompleted()
	logger.WithField("amount_payable", finalized.AmountPayable).Info("saga completed")
	return finalized, nil
}

// persist сохраняет PENDING-заказ; created=false означает, что заказ с этим ID уже есть.
func (o *Orchestrator) persist(ctx context.Context, order domain.Order) (domain.Order, bool, error) {
	existing, err := o.orders.Get(ctx, order.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrOrderNotFound) {
		return domain.Order{}, false, err
	}

	if err := o.orders.Create(ctx, order); err != nil {
		if errors.Is(err, domain.ErrOrderExists) {
			existing, getErr := o.orders.Get(ctx, order.ID)
			if getErr != nil {
				return domain.Order{}, false, getErr
			}
			return existing, false, nil
		}
		return domain.Order{}, false, err
	}
	return order, true, nil
}

// reserve выполняет резерв шага через breaker зависимости.
func (o *Orchestrator) reserve(ctx context.Context, step domain.SagaStep, client domain.ReservationClient, req domain.ReservationRequest) (domain.ReservationResult, error) {
	ctx, span := o.tracer.Start(ctx, "saga.step."+string(step), trace.WithAttributes(
		attribute.String("order_id", req.OrderID),
		attribute.String("dependency", step.Dependency()),
	))
	defer span.End()

	started := time.Now()
	res, err := breaker.Call(ctx, o.breakers, step.Dependency(), func(ctx context.Context) (domain.ReservationResult, error) {
		res, err := client.Reserve(ctx, req)
		return res, domain.Classify(err)
	})
	o.metrics.RecordStepDuration(string(step), time.Since(started))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, reasonLabel(err))
		return domain.ReservationResult{}, err
	}
	span.SetAttributes(attribute.String("reservation_id", res.ReservationID))
	return res, nil
}

// finalize в одной транзакции переводит заказ в CREATED и пишет OrderCreated в outbox.
func (o *Orchestrator) finalize(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, span := o.tracer.Start(ctx, "saga.step."+string(domain.SagaStepFinalize))
	defer span.End()

	started := time.Now()
	defer func() { o.metrics.RecordStepDuration(string(domain.SagaStepFinalize), time.Since(started)) }()

	final := order
	final.Status = domain.OrderStatusCreated
	payload, err := json.Marshal(domain.OrderCreatedPayload{
		OrderID:       final.ID,
		CustomerID:    final.CustomerID,
		Items:         final.Items,
		CouponID:      final.CouponID,
		AmountTotal:   final.AmountTotal,
		AmountCoupon:  final.AmountCoupon,
		AmountPoint:   final.AmountPoint,
		AmountPayable: final.AmountPayable,
		Reservations:  final.Reservations,
		CreatedAt:     o.clock.Now(),
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("marshal OrderCreated: %w", err)
	}

	err = o.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := o.orders.Save(ctx, final); err != nil {
			return fmt.Errorf("save created order: %w", err)
		}
		if _, err := o.outbox.Ready(ctx, domain.AggregateOrder, final.ID, domain.EventOrderCreated, payload); err != nil {
			return fmt.Errorf("write OrderCreated: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Order{}, err
	}
	final.Version++
	return final, nil
}

// abort компенсирует выполненные шаги в обратном порядке, отменяет заказ и публикует OrderCancelled.
// Ошибки компенсаций логируются и не подменяют исходную ошибку.
func (o *Orchestrator) abort(ctx context.Context, order domain.Order, done []completedStep, step domain.SagaStep, cause error, logger *log.Entry) (domain.Order, error) {
	o.metrics.RecordSagaFailed(string(step), reasonLabel(cause))
	logger = logger.WithField("step", step)
	logger.WithError(cause).Warn("saga step failed, compensating")

	// Компенсации выполняются и после отмены или дедлайна запроса.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	for i := len(done) - 1; i >= 0; i-- {
		c := done[i]
		err := o.breakers.Execute(cctx, c.step.Dependency(), func(ctx context.Context) error {
			return domain.Classify(c.client.Cancel(ctx, c.reservationID))
		})
		o.metrics.RecordCompensation(string(c.step), err == nil)
		if err != nil {
			logger.WithError(err).WithFields(log.Fields{
				"compensated_step": c.step,
				"reservation_id":   c.reservationID,
			}).Error("compensation failed, left to expiry sweep")
		}
	}

	cancelled, err := o.markCancelled(cctx, order, step, cause)
	if err != nil {
		logger.WithError(err).Error("failed to mark order cancelled")
		cancelled = order
		cancelled.Status = domain.OrderStatusCancelled
		cancelled.FailedStep = step
		cancelled.FailureReason = cause.Error()
	}

	o.emitCancelled(cctx, cancelled, step, cause, logger)
	return cancelled, &StepError{Step: step, Err: cause}
}

// discard убирает pending-заказ, если breaker отказал до первого резерва: снаружи такой отказ
// не отличается от отказа на precheck. Если удалить не вышло, заказ отменяется обычным путём.
func (o *Orchestrator) discard(ctx context.Context, order domain.Order, step domain.SagaStep, cause error, logger *log.Entry) (domain.Order, error) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if err := o.orders.DeletePending(dctx, order.ID); err != nil {
		logger.WithError(err).Error("failed to discard pending order")
		return o.abort(ctx, order, nil, step, cause, logger)
	}
	o.metrics.RecordSagaFailed(string(step), reasonLabel(cause))
	logger.WithField("step", step).WithError(cause).Warn("saga rejected by circuit breaker, pending order discarded")
	return domain.Order{}, &StepError{Step: step, Err: cause}
}

func (o *Orchestrator) markCancelled(ctx context.Context, order domain.Order, step domain.SagaStep, cause error) (domain.Order, error) {
	var cancelled domain.Order
	err := database.RetryOnConflict(ctx, database.DefaultConflictAttempts, func(ctx context.Context) error {
		return o.tx.WithTx(ctx, func(ctx context.Context) error {
			current, err := o.orders.Get(ctx, order.ID)
			if err != nil {
				return err
			}
			current.Status = domain.OrderStatusCancelled
			current.Reservations = order.Reservations
			current.AmountCoupon = order.AmountCoupon
			current.AmountPayable = order.AmountPayable
			current.FailedStep = step
			current.FailureReason = cause.Error()
			if err := o.orders.Save(ctx, current); err != nil {
				return err
			}
			current.Version++
			cancelled = current
			return nil
		})
	})
	return cancelled, err
}

func (o *Orchestrator) emitCancelled(ctx context.Context, order domain.Order, step domain.SagaStep, cause error, logger *log.Entry) {
	payload, err := json.Marshal(domain.OrderCancelledPayload{
		OrderID:      order.ID,
		CustomerID:   order.CustomerID,
		FailedStep:   step,
		Reason:       cause.Error(),
		Reservations: order.Reservations,
		CancelledAt:  o.clock.Now(),
	})
	if err != nil {
		logger.WithError(err).Error("failed to marshal OrderCancelled")
		return
	}

	msg, err := o.compensation.Emit(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     domain.EventOrderCancelled,
		Payload:       payload,
		CreatedAt:     o.clock.Now(),
	})
	if err != nil {
		logger.WithError(err).Error("OrderCancelled was not delivered")
		return
	}
	logger.WithField("event_id", msg.ID).Info("order cancelled")
}
