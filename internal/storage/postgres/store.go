// Package postgres содержит PostgreSQL-реализации репозиториев на драйвере pgx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/database"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	opTimeout = 5 * time.Second
)

// PoolConfig задаёт параметры пула соединений.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c PoolConfig) normalized() PoolConfig {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = defaultConnMaxIdleTime
	}
	return c
}

// Store оборачивает SQL-подключение к PostgreSQL и выдаёт репозитории, разделяющие одну транзакцию.
type Store struct {
	db *sql.DB
	tx *database.SQLTxManager
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	pool = pool.normalized()
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return NewStore(db), nil
}

// NewStore оборачивает уже открытое подключение.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, tx: database.NewTxManager(db)}
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// TxManager возвращает менеджер транзакций, общий для всех репозиториев Store.
func (s *Store) TxManager() domain.TxManager {
	return s.tx
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// Migrator возвращает мигратор встроенных миграций.
func (s *Store) Migrator() *Migrator {
	if s == nil {
		return nil
	}
	return NewMigrator(s.db)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Orders возвращает репозиторий заказов.
func (s *Store) Orders() domain.OrderRepository { return &orderRepository{db: s.db, tx: s.tx} }

// Outbox возвращает репозиторий outbox.
func (s *Store) Outbox() domain.OutboxRepository { return &outboxRepository{db: s.db} }

// ProcessedEvents возвращает ledger обработанных событий.
func (s *Store) ProcessedEvents() domain.ProcessedEventRepository {
	return &processedEventRepository{db: s.db}
}

// Stock возвращает репозиторий остатков.
func (s *Store) Stock() domain.StockRepository { return &stockRepository{db: s.db} }

// Coupons возвращает репозиторий купонов.
func (s *Store) Coupons() domain.CouponRepository { return &couponRepository{db: s.db} }

// Points возвращает репозиторий баллов.
func (s *Store) Points() domain.PointRepository { return &pointRepository{db: s.db} }

// Payments возвращает репозиторий авторизаций.
func (s *Store) Payments() domain.PaymentRepository { return &paymentRepository{db: s.db} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// expectOneRow превращает 0 затронутых строк в errNone.
func expectOneRow(res sql.Result, errNone error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return errNone
	}
	return nil
}

// versionedMiss различает отсутствие записи и конфликт версии после неудачного UPDATE ... AND version = $n.
func versionedMiss(ctx context.Context, q database.Querier, query string, key string, label string) error {
	var one int
	err := q.QueryRowContext(ctx, query, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", label, key, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check %s exists: %w", label, err)
	}
	return fmt.Errorf("%s %s: %w", label, key, domain.ErrVersionConflict)
}

// errNoRowsUpdated - внутренний маркер неудачного условного UPDATE.
var errNoRowsUpdated = errors.New("no rows updated")

func nowUTC() time.Time {
	return time.Now().UTC()
}
