package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

func TestOrderRepositoryCreateInsertsItemsInOneTx(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).
		WithArgs("order-1", 0, "sku-1", int32(2), int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).
		WithArgs("order-1", 1, "sku-2", int32(1), int64(50)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Orders().Create(context.Background(), domain.Order{
		ID:         "order-1",
		CustomerID: "c-1",
		Status:     domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{SKU: "sku-1", Qty: 2, PriceMinor: 100},
			{SKU: "sku-2", Qty: 1, PriceMinor: 50},
		},
		AmountTotal:   250,
		AmountPayable: 250,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepositoryCreateDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := store.Orders().Create(context.Background(), domain.Order{ID: "order-1", CustomerID: "c-1"})
	require.ErrorIs(t, err, domain.ErrOrderExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepositorySaveVersionConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM orders WHERE id = $1")).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	err := store.Orders().Save(context.Background(), domain.Order{ID: "order-1", Version: 3})
	require.ErrorIs(t, err, domain.ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepositorySaveMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM orders")).
		WithArgs("order-404").
		WillReturnRows(sqlmock.NewRows([]string{"one"}))

	err := store.Orders().Save(context.Background(), domain.Order{ID: "order-404"})
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepositoryDeletePending(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM orders WHERE id = $1 AND status = $2")).
		WithArgs("order-1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM orders WHERE id = $1 AND status = $2")).
		WithArgs("order-2", "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Orders().DeletePending(context.Background(), "order-1"))
	err := store.Orders().DeletePending(context.Background(), "order-2")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeRollbackLeavesNoOutboxRow(t *testing.T) {
	store, mock := newMockStore(t)
	failure := errors.New("finalize failed")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_messages")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := store.TxManager().WithTx(context.Background(), func(ctx context.Context) error {
		if err := store.Orders().Save(ctx, domain.Order{ID: "order-1", Status: domain.OrderStatusCreated}); err != nil {
			return err
		}
		if _, err := store.Outbox().Ready(ctx, domain.AggregateOrder, "order-1", domain.EventOrderCreated, []byte(`{}`)); err != nil {
			return err
		}
		return failure
	})
	require.ErrorIs(t, err, failure)
	require.NoError(t, mock.ExpectationsWereMet(), "the outbox insert must be rolled back with the order update")
}

func TestOutboxRepositoryInsertDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_messages")).WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := store.Outbox().Insert(context.Background(), domain.OutboxMessage{ID: "evt-1"})
	require.ErrorIs(t, err, domain.ErrDuplicateEvent)
}

func TestOutboxRepositoryMarkRetry(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE outbox_messages")).
		WithArgs("m-1", "broker down", 3).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("FAILED"))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE outbox_messages")).
		WithArgs("m-2", "broker down", 3).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	status, err := store.Outbox().MarkRetry(context.Background(), "m-1", "broker down", 3)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxStatusFailed, status)

	_, err = store.Outbox().MarkRetry(context.Background(), "m-2", "broker down", 3)
	require.ErrorIs(t, err, domain.ErrOutboxNotFound)
}

func TestOutboxRepositoryMarkSentConditional(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'READY'")).
		WithArgs("m-1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Outbox().MarkSent(context.Background(), "m-1", now)
	require.ErrorIs(t, err, domain.ErrOutboxNotFound)
}

func TestOutboxRepositoryPullReady(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "aggregate_type", "aggregate_id", "event_type", "payload",
		"status", "retry_count", "last_error", "created_at", "published_at",
	}).
		AddRow("m-1", "order", "order-1", "OrderCreated", []byte(`{"a":1}`), "READY", 0, "", created, nil).
		AddRow("m-2", "order", "order-2", "OrderCreated", []byte(`{"a":2}`), "READY", 1, "timeout", created, nil)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at, seq")).WithArgs("READY", 100).WillReturnRows(rows)

	msgs, err := store.Outbox().PullReady(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m-1", msgs[0].ID)
	assert.Equal(t, 1, msgs[1].RetryCount)
	assert.Nil(t, msgs[1].PublishedAt)
}

func TestOutboxRepositoryStats(t *testing.T) {
	store, mock := newMockStore(t)
	oldest := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER")).
		WillReturnRows(sqlmock.NewRows([]string{"ready", "failed", "oldest"}).AddRow(4, 1, oldest))

	stats, err := store.Outbox().Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.ReadyCount)
	assert.Equal(t, 1, stats.FailedCount)
	assert.Equal(t, oldest, stats.OldestReadyAt)
}

func TestProcessedEventRepositoryRecordDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO processed_events")).WillReturnError(&pgconn.PgError{Code: "23505"})
	err := store.ProcessedEvents().Record(context.Background(), domain.ProcessedEvent{
		Consumer: "stock", EventID: "evt-1", Outcome: domain.ProcessedOutcomeSucceeded,
	})
	require.ErrorIs(t, err, domain.ErrDuplicateEvent)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("stock", "evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := store.ProcessedEvents().Exists(context.Background(), "stock", "evt-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStockRepositorySaveItemConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE stock_items")).
		WithArgs(int64(10), int64(3), sqlmock.AnyArg(), "sku-1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM stock_items")).
		WithArgs("sku-1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	err := store.Stock().SaveItem(context.Background(), domain.StockItem{SKU: "sku-1", OnHand: 10, Reserved: 3, Version: 2})
	require.True(t, domain.IsVersionConflict(err), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepositoryListExpiredHolds(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM coupon_holds")).
		WithArgs("reserved", now, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "resource_id", "order_id", "expires_at", "status", "created_at"}).
			AddRow("h-1", "C1", "order-1", now.Add(-time.Minute), "reserved", now.Add(-6*time.Minute)))

	holds, err := store.Coupons().ListExpiredHolds(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, "C1", holds[0].ResourceID)
	assert.True(t, holds[0].Expired(now))
}
