package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// openIntegrationStore поднимает Store на чистой схеме; без ORDERSAGA_POSTGRES_TEST_DSN тест пропускается.
func openIntegrationStore(t *testing.T) *Store {
	t.Helper()

	store := openRawIntegrationStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.Migrator().Up(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	truncateIntegrationTables(t, store)
	return store
}

func openRawIntegrationStore(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("ORDERSAGA_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("ORDERSAGA_POSTGRES_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn, PoolConfig{})
	if err != nil {
		t.Skipf("postgres is not available for integration tests: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func truncateIntegrationTables(t *testing.T, store *Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := store.DB().ExecContext(ctx, `
		TRUNCATE TABLE
			processed_events,
			outbox_messages,
			order_items,
			orders,
			stock_reservations,
			stock_items,
			coupon_holds,
			coupons,
			point_holds,
			point_accounts,
			payment_authorizations
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("truncate integration tables: %v", err)
	}
}
