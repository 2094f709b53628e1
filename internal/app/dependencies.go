package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/clock"
	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/ordersaga/internal/health"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/ordersaga/internal/storage/redis"
)

const probeTimeout = 2 * time.Second

// runtimeDependencies - хранилища и инфраструктурные адаптеры, выбранные конфигурацией.
type runtimeDependencies struct {
	tx        domain.TxManager
	orders    domain.OrderRepository
	outbox    domain.OutboxRepository
	processed domain.ProcessedEventRepository
	stock     domain.StockRepository
	coupons   domain.CouponRepository
	points    domain.PointRepository
	payments  domain.PaymentRepository

	locker domain.ResourceLocker
	cache  domain.ReservationCache

	checkers map[string]healthcheck.Checker
	closers  []func() error
}

// repositories - общий набор методов memory.Store и postgres.Store.
type repositories interface {
	Orders() domain.OrderRepository
	Outbox() domain.OutboxRepository
	ProcessedEvents() domain.ProcessedEventRepository
	Stock() domain.StockRepository
	Coupons() domain.CouponRepository
	Points() domain.PointRepository
	Payments() domain.PaymentRepository
}

func (d *runtimeDependencies) bind(tx domain.TxManager, repos repositories) {
	d.tx = tx
	d.orders = repos.Orders()
	d.outbox = repos.Outbox()
	d.processed = repos.ProcessedEvents()
	d.stock = repos.Stock()
	d.coupons = repos.Coupons()
	d.points = repos.Points()
	d.payments = repos.Payments()
}

// close закрывает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// initRuntimeDependencies открывает хранилище и, если задан REDIS_ADDR, redis.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}

	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		store := memory.NewStore()
		deps.bind(store, store)
		deps.locker = memory.NewKeyedLocker()
		deps.cache = memory.NewReservationCache(clock.System{})
		if err := seedMemory(ctx, cfg, deps); err != nil {
			return nil, err
		}
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres storage requires POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.PoolConfig{
			MaxOpenConns:    cfg.PostgresMaxOpenConns,
			MaxIdleConns:    cfg.PostgresMaxIdleConns,
			ConnMaxLifetime: cfg.PostgresConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, store.Close)
		if cfg.PostgresAutoMigrate {
			if err := store.Migrator().Up(ctx, 0); err != nil {
				_ = deps.close()
				return nil, fmt.Errorf("auto migrate: %w", err)
			}
		}
		deps.bind(store.TxManager(), store)
		deps.locker = memory.NewKeyedLocker()
		deps.checkers["postgres"] = healthcheck.NewSimpleChecker("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), probeTimeout)
			defer cancel()
			return store.Ping(pingCtx)
		})
		logger.Info("using postgres storage")
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if cfg.RedisAddr != "" {
		client, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			_ = deps.close()
			return nil, err
		}
		deps.closers = append(deps.closers, client.Close)
		deps.locker = redisstore.NewLocker(client, cfg.RedisLockTTL)
		deps.cache = redisstore.NewReservationCache(client)
		deps.checkers["redis"] = redisChecker(client)
		logger.WithField("addr", cfg.RedisAddr).Info("redis lock and reservation cache enabled")
	}

	return deps, nil
}

func redisChecker(client goredis.UniversalClient) healthcheck.Checker {
	return healthcheck.NewSimpleChecker("redis", func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
}

// seedMemory заполняет memory-хранилище начальными остатками из конфигурации.
func seedMemory(ctx context.Context, cfg Config, deps *runtimeDependencies) error {
	stock, err := parseSeed(cfg.SeedStock)
	if err != nil {
		return fmt.Errorf("SEED_STOCK: %w", err)
	}
	for sku, qty := range stock {
		if err := deps.stock.UpsertItem(ctx, domain.StockItem{SKU: sku, OnHand: qty}); err != nil {
			return err
		}
	}

	balances, err := parseSeed(cfg.SeedPoints)
	if err != nil {
		return fmt.Errorf("SEED_POINTS: %w", err)
	}
	for customerID, balance := range balances {
		if err := deps.points.UpsertAccount(ctx, domain.PointAccount{CustomerID: customerID, Balance: balance}); err != nil {
			return err
		}
	}

	coupons, err := parseSeed(cfg.SeedCoupons)
	if err != nil {
		return fmt.Errorf("SEED_COUPONS: %w", err)
	}
	for id, discount := range coupons {
		coupon := domain.Coupon{ID: id, DiscountMinor: discount, Status: domain.CouponStatusAvailable}
		if err := deps.coupons.UpsertCoupon(ctx, coupon); err != nil {
			return err
		}
	}
	return nil
}
