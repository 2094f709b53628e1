package redis

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "coupon:reservation:r-1", reservationKey("r-1"))
	assert.Equal(t, "lock:coupon:C1", lockKey("coupon:C1"))
}

func TestNextDelayIsBounded(t *testing.T) {
	d := nextDelay(0)
	assert.Equal(t, minRetryDelay, d)
	for i := 0; i < 10; i++ {
		d = nextDelay(d)
	}
	assert.Equal(t, maxRetryDelay, d)
}

func openIntegrationClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := strings.TrimSpace(os.Getenv("ORDERSAGA_REDIS_TEST_ADDR"))
	if addr == "" {
		t.Skip("ORDERSAGA_REDIS_TEST_ADDR is not set")
	}
	client, err := Connect(context.Background(), addr, "", 0)
	if err != nil {
		t.Skipf("redis is not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLockerIntegration_MutualExclusion(t *testing.T) {
	client := openIntegrationClient(t)
	locker := NewLocker(client, 5*time.Second)
	key := "test:" + uuid.NewString()

	var inside, violations int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			unlock, err := locker.Lock(ctx, key)
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.AddInt32(&violations, 1)
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Zero(t, violations)
}

func TestLockerIntegration_ContextCancel(t *testing.T) {
	client := openIntegrationClient(t)
	locker := NewLocker(client, 5*time.Second)
	key := "test:" + uuid.NewString()

	unlock, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, key)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestReservationCacheIntegration(t *testing.T) {
	client := openIntegrationClient(t)
	cache := NewReservationCache(client)
	ctx := context.Background()

	hold := domain.TimedReservation{
		ID:         uuid.NewString(),
		ResourceID: "C1",
		OrderID:    "order-1",
		ExpiresAt:  time.Now().Add(time.Minute).UTC().Truncate(time.Millisecond),
		Status:     domain.TimedReservationReserved,
	}
	require.NoError(t, cache.Put(ctx, hold, time.Minute))

	got, ok, err := cache.Get(ctx, hold.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, hold.ResourceID, got.ResourceID)
	assert.True(t, hold.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, cache.Delete(ctx, hold.ID))
	_, ok, err = cache.Get(ctx, hold.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
