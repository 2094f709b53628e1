package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/dispatch"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/breaker"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/coupon"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/inventory"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/payment"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/points"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/saga"
)

// services - доменные компоненты поверх выбранных хранилищ.
type services struct {
	breakers      *breaker.Registry
	orchestrator  *saga.Orchestrator
	retrying      *saga.RetryableOrchestrator
	couponManager *coupon.Manager
	router        *dispatch.Router

	consumerMetrics *metrics.ConsumerMetrics
	outboxMetrics   *metrics.OutboxMetrics
}

// buildServices собирает сагу, ресурсные сервисы и обработчики событий.
// direct - публикатор для немедленной отправки OrderCancelled; nil оставляет только outbox.
func buildServices(
	cfg Config,
	deps *runtimeDependencies,
	direct domain.OutboxPublisher,
	registerer prometheus.Registerer,
	tp trace.TracerProvider,
	logger *log.Entry,
) *services {
	consumerMetrics := metrics.NewConsumerMetrics(registerer)

	breakers := breaker.NewRegistry(
		breaker.WithDefaults(breaker.Settings{Threshold: cfg.BreakerThreshold, ResetTimeout: cfg.BreakerResetTimeout}),
		breaker.WithMetrics(metrics.NewBreakerMetrics(registerer)),
		breaker.WithLogger(logger.WithField("component", "circuit-breaker")),
	)

	stockService := inventory.NewService(deps.tx, deps.stock, inventory.WithLogger(logger.WithField("component", "inventory")))
	pointService := points.NewService(deps.tx, deps.points, logger.WithField("component", "points"))
	paymentService := payment.NewService(deps.tx, deps.payments,
		payment.WithAuthorizationLimit(cfg.PaymentAuthorizationLimit),
		payment.WithLogger(logger.WithField("component", "payment")),
	)
	couponManager := coupon.NewManager(deps.tx, deps.coupons, deps.locker,
		coupon.WithCache(deps.cache),
		coupon.WithHoldTTL(cfg.CouponHoldTTL),
		coupon.WithSweepBatch(cfg.CouponSweepBatch),
		coupon.WithMetrics(metrics.NewCouponMetrics(registerer)),
		coupon.WithLogger(logger.WithField("component", "coupon-manager")),
	)

	sagaLogger := logger.WithField("component", "saga")
	orchestrator := saga.NewOrchestrator(
		deps.tx,
		deps.orders,
		deps.outbox,
		saga.Clients{
			Stock:   stockService,
			Points:  pointService,
			Coupon:  coupon.NewClient(couponManager),
			Payment: paymentService,
		},
		breakers,
		saga.WithLogger(sagaLogger),
		saga.WithMetrics(metrics.NewSagaMetrics(registerer)),
		saga.WithTracerProvider(tp),
		saga.WithCompensationPublisher(saga.NewCompensationPublisher(direct, deps.outbox, sagaLogger)),
	)
	retrying := saga.NewRetryableOrchestrator(orchestrator, cfg.sagaRetry(), logger.WithField("component", "retryable-saga"))

	ledger := idempotency.NewLedger(deps.tx, deps.processed, deps.outbox,
		idempotency.WithLedgerLogger(logger.WithField("component", "idempotency-ledger")),
		idempotency.WithLedgerMetrics(consumerMetrics),
	)

	router := dispatch.NewRouter(logger.WithField("component", "dispatch-router"))
	registerResourceHandlers(router, cfg.topics().For(domain.AggregateOrder), []orderEventHandler{
		inventory.NewHandler(stockService, deps.outbox, ledger, logger.WithField("component", "inventory-handler")),
		points.NewHandler(pointService, deps.outbox, ledger),
		coupon.NewHandler(couponManager, ledger),
		payment.NewHandler(paymentService, deps.outbox, ledger),
	})

	return &services{
		breakers:        breakers,
		orchestrator:    orchestrator,
		retrying:        retrying,
		couponManager:   couponManager,
		router:          router,
		consumerMetrics: consumerMetrics,
		outboxMetrics:   metrics.NewOutboxMetrics(registerer),
	}
}

// orderEventHandler - потребитель событий заказа, подтверждающий или снимающий свой резерв.
type orderEventHandler interface {
	HandleOrderCreated(ctx context.Context, event domain.Event) error
	HandleOrderCancelled(ctx context.Context, event domain.Event) error
}

func registerResourceHandlers(router *dispatch.Router, topic string, handlers []orderEventHandler) {
	for _, h := range handlers {
		router.Register(topic, domain.EventOrderCreated, h.HandleOrderCreated)
		router.Register(topic, domain.EventOrderCancelled, h.HandleOrderCancelled)
	}
}
