// Package app собирает сервис саги заказов: хранилища, брокер, воркеры, gRPC и служебный HTTP.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/ordersaga/internal/health"
	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/dispatch"
	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/coupon"
	grpcsvc "github.com/vladislavdragonenkov/ordersaga/internal/service/grpc"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/outbox"
	"github.com/vladislavdragonenkov/ordersaga/internal/version"
)

const tracingShutdownTimeout = 5 * time.Second

// Run запускает сервис и блокируется до отмены ctx или фатальной ошибки одного из серверов.
// При штатной остановке возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := log.WithField("component", "app")

	tp, shutdownTracing := initTracing(cfg)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.WithError(err).Warn("tracer provider shutdown failed")
		}
	}()

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	producer, err := initKafkaProducer(cfg.KafkaBrokers, cfg.KafkaClientID, logger)
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	defer closeKafka(producer, logger)

	topics := cfg.topics()
	var publisher, dlq, direct domain.OutboxPublisher
	if producer != nil {
		kafkaPublisher := kafka.NewOutboxPublisher(producer, topics)
		publisher, direct = kafkaPublisher, kafkaPublisher
		dlq = kafka.NewDLQPublisher(producer, topics.DLQ)
	}

	svc := buildServices(cfg, deps, direct, registry, tp, logger)
	if publisher == nil {
		publisher = dispatch.NewLocalPublisher(svc.router, topics.For)
		logger.Info("kafka is not configured, outbox events are dispatched in-process")
	}

	outboxWorker := outbox.NewWorker(deps.outbox, publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(dlq),
		outbox.WithMetrics(svc.outboxMetrics),
		outbox.WithTracerProvider(tp),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxRetries(cfg.OutboxMaxRetries),
		outbox.WithPublishRate(cfg.OutboxPublishRate),
	)
	sweepWorker := coupon.NewSweepWorker(svc.couponManager, cfg.CouponSweepInterval,
		logger.WithField("component", "coupon-sweep-worker"))
	cleanupWorker := idempotency.NewCleanupWorker(deps.processed,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithMetrics(svc.consumerMetrics),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithRetention(cfg.IdempotencyRetention),
	)

	var consumer *kafka.Consumer
	if producer != nil && cfg.KafkaConsumerEnabled {
		if consumer, err = initKafkaConsumer(cfg, producer, svc.router.Dispatch, logger); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}
	healthHandler.RegisterChecker("circuit_breakers", healthcheck.NewBreakerChecker("circuit_breakers", svc.breakers.Snapshot))

	grpcMetrics := promgrpc.NewServerMetrics()
	registry.MustRegister(grpcMetrics)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.RegisterOrderSagaServer(grpcServer, grpcsvc.NewOrderService(
		svc.orchestrator,
		svc.retrying,
		deps.orders,
		deps.outbox,
		svc.breakers,
		logger.WithField("layer", "grpc"),
	))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	httpLis, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen http %s: %w", cfg.MetricsAddr, err)
	}
	httpServer := newHTTPServer(cfg.MetricsAddr, newHTTPHandler(registry, healthHandler))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("метрики и health checks доступны на %s", httpLis.Addr())
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		outboxWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sweepWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		cleanupWorker.Run(gctx)
		return nil
	})
	if consumer != nil {
		if err := consumer.Start(gctx); err != nil {
			startErr := fmt.Errorf("start kafka consumer: %w", err)
			g.Go(func() error { return startErr })
			consumer = nil
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем сервис")
		healthServer.Shutdown()
		stopGRPC(grpcServer, cfg.ShutdownTimeout, logger)
		shutdownHTTP(httpServer, logger)
		if consumer != nil {
			if err := consumer.Stop(); err != nil {
				logger.WithError(err).Warn("failed to stop kafka consumer")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// stopGRPC ждёт завершения активных вызовов не дольше timeout, затем обрывает соединения.
func stopGRPC(server *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}
