package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/saga"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config - настройки сервиса, читаются из окружения.
type Config struct {
	// серверы
	GRPCAddr        string        `env:"GRPC_ADDR" envDefault:":50051"`
	MetricsAddr     string        `env:"METRICS_ADDR" envDefault:":9090"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// хранилище
	StorageDriver           string        `env:"STORAGE_DRIVER" envDefault:"memory"`
	PostgresDSN             string        `env:"POSTGRES_DSN"`
	PostgresMaxOpenConns    int           `env:"POSTGRES_MAX_OPEN_CONNS" envDefault:"20"`
	PostgresMaxIdleConns    int           `env:"POSTGRES_MAX_IDLE_CONNS" envDefault:"10"`
	PostgresConnMaxLifetime time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME" envDefault:"30m"`
	PostgresAutoMigrate     bool          `env:"POSTGRES_AUTO_MIGRATE" envDefault:"true"`

	// Начальные остатки для memory-хранилища: "sku=qty,...", "customer=balance,...", "coupon=discount,...".
	SeedStock   string `env:"SEED_STOCK"`
	SeedPoints  string `env:"SEED_POINTS"`
	SeedCoupons string `env:"SEED_COUPONS"`

	// redis: пустой адрес оставляет in-process блокировки и кэш
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisLockTTL  time.Duration `env:"REDIS_LOCK_TTL" envDefault:"5s"`

	// kafka: пустой список брокеров включает локальную доставку событий
	KafkaBrokers              string        `env:"KAFKA_BROKERS"`
	KafkaClientID             string        `env:"KAFKA_CLIENT_ID" envDefault:"ordersaga"`
	KafkaConsumerEnabled      bool          `env:"KAFKA_CONSUMER_ENABLED" envDefault:"true"`
	KafkaConsumerGroup        string        `env:"KAFKA_CONSUMER_GROUP" envDefault:"ordersaga-resources"`
	KafkaConsumerMaxRetries   int           `env:"KAFKA_CONSUMER_MAX_RETRIES" envDefault:"3"`
	KafkaConsumerRetryBackoff time.Duration `env:"KAFKA_CONSUMER_RETRY_BACKOFF" envDefault:"200ms"`
	KafkaTopicOrder           string        `env:"KAFKA_TOPIC_ORDER" envDefault:"ordersaga.order.events"`
	KafkaTopicStock           string        `env:"KAFKA_TOPIC_STOCK" envDefault:"ordersaga.stock.events"`
	KafkaTopicPoints          string        `env:"KAFKA_TOPIC_POINTS" envDefault:"ordersaga.points.events"`
	KafkaTopicCoupon          string        `env:"KAFKA_TOPIC_COUPON" envDefault:"ordersaga.coupon.events"`
	KafkaTopicPayment         string        `env:"KAFKA_TOPIC_PAYMENT" envDefault:"ordersaga.payment.events"`
	KafkaTopicDLQ             string        `env:"KAFKA_TOPIC_DLQ" envDefault:"ordersaga.dlq"`

	// circuit breaker
	BreakerThreshold    int           `env:"BREAKER_THRESHOLD" envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"30s"`

	// saga
	SagaRetryMaxAttempts      int           `env:"SAGA_RETRY_MAX_ATTEMPTS" envDefault:"3"`
	SagaRetryInitialDelay     time.Duration `env:"SAGA_RETRY_INITIAL_DELAY" envDefault:"100ms"`
	SagaRetryMaxDelay         time.Duration `env:"SAGA_RETRY_MAX_DELAY" envDefault:"5s"`
	PaymentAuthorizationLimit int64         `env:"PAYMENT_AUTHORIZATION_LIMIT" envDefault:"0"`

	// outbox
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxMaxRetries   int           `env:"OUTBOX_MAX_RETRIES" envDefault:"5"`
	OutboxPublishRate  float64       `env:"OUTBOX_PUBLISH_RATE" envDefault:"0"`

	// купоны
	CouponHoldTTL       time.Duration `env:"COUPON_HOLD_TTL" envDefault:"15m"`
	CouponSweepInterval time.Duration `env:"COUPON_SWEEP_INTERVAL" envDefault:"30s"`
	CouponSweepBatch    int           `env:"COUPON_SWEEP_BATCH" envDefault:"100"`

	// ledger обработанных событий
	IdempotencyRetention        time.Duration `env:"IDEMPOTENCY_RETENTION" envDefault:"168h"`
	IdempotencyCleanupInterval  time.Duration `env:"IDEMPOTENCY_CLEANUP_INTERVAL" envDefault:"1h"`
	IdempotencyCleanupBatchSize int           `env:"IDEMPOTENCY_CLEANUP_BATCH_SIZE" envDefault:"500"`

	// трассировка
	OTELEnabled     bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"ordersaga"`
	OTELSampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// DefaultConfig возвращает значения по умолчанию без чтения окружения.
func DefaultConfig() Config {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: map[string]string{}})
	if err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// LoadConfig читает конфигурацию из окружения и проверяет её.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate отклоняет несовместимые настройки; возвращает все найденные ошибки сразу.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(strings.TrimSpace(c.GRPCAddr) != "", "GRPC_ADDR is required")
	check(strings.TrimSpace(c.MetricsAddr) != "", "METRICS_ADDR is required")
	check(c.ShutdownTimeout > 0, "SHUTDOWN_TIMEOUT must be positive")
	check(c.LogFormat == "text" || c.LogFormat == "json", "LOG_FORMAT must be text or json, got %q", c.LogFormat)

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		check(strings.TrimSpace(c.PostgresDSN) != "", "POSTGRES_DSN is required for postgres storage")
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	for name, raw := range map[string]string{"SEED_STOCK": c.SeedStock, "SEED_POINTS": c.SeedPoints, "SEED_COUPONS": c.SeedCoupons} {
		if _, err := parseSeed(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if c.KafkaBrokers != "" {
		check(c.KafkaConsumerGroup != "", "KAFKA_CONSUMER_GROUP is required when KAFKA_BROKERS is set")
		check(c.KafkaTopicOrder != "" && c.KafkaTopicDLQ != "", "order and DLQ topics are required")
	}

	check(c.BreakerThreshold > 0, "BREAKER_THRESHOLD must be positive")
	check(c.BreakerResetTimeout > 0, "BREAKER_RESET_TIMEOUT must be positive")
	check(c.SagaRetryMaxAttempts > 0, "SAGA_RETRY_MAX_ATTEMPTS must be positive")
	check(c.PaymentAuthorizationLimit >= 0, "PAYMENT_AUTHORIZATION_LIMIT must not be negative")
	check(c.OutboxPollInterval > 0, "OUTBOX_POLL_INTERVAL must be positive")
	check(c.OutboxBatchSize > 0, "OUTBOX_BATCH_SIZE must be positive")
	check(c.OutboxMaxRetries > 0, "OUTBOX_MAX_RETRIES must be positive")
	check(c.OutboxPublishRate >= 0, "OUTBOX_PUBLISH_RATE must not be negative")
	check(c.CouponHoldTTL > 0, "COUPON_HOLD_TTL must be positive")
	check(c.CouponSweepInterval > 0, "COUPON_SWEEP_INTERVAL must be positive")
	check(c.IdempotencyRetention > 0, "IDEMPOTENCY_RETENTION must be positive")
	check(c.OTELSampleRatio >= 0 && c.OTELSampleRatio <= 1, "OTEL_SAMPLE_RATIO must be within [0,1]")

	return errors.Join(errs...)
}

func (c Config) kafkaEnabled() bool {
	return len(splitList(c.KafkaBrokers)) > 0
}

func (c Config) topics() kafka.Topics {
	return kafka.Topics{
		Order:   c.KafkaTopicOrder,
		Stock:   c.KafkaTopicStock,
		Points:  c.KafkaTopicPoints,
		Coupon:  c.KafkaTopicCoupon,
		Payment: c.KafkaTopicPayment,
		DLQ:     c.KafkaTopicDLQ,
	}
}

func (c Config) sagaRetry() saga.RetryConfig {
	cfg := saga.DefaultRetryConfig()
	cfg.MaxAttempts = c.SagaRetryMaxAttempts
	if c.SagaRetryInitialDelay > 0 {
		cfg.InitialDelay = c.SagaRetryInitialDelay
	}
	if c.SagaRetryMaxDelay > 0 {
		cfg.MaxDelay = c.SagaRetryMaxDelay
	}
	return cfg
}

// splitList разбирает список через запятую, пропуская пустые элементы.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseSeed разбирает "key=value,..." с целыми значениями.
func parseSeed(raw string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, pair := range splitList(raw) {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed entry %q, want key=value", pair)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("malformed value in %q", pair)
		}
		out[key] = n
	}
	return out, nil
}
