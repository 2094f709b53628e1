// Package redis содержит распределённую блокировку ресурса и кэш удержаний на Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

const (
	defaultLockTTL     = 10 * time.Second
	minRetryDelay      = 5 * time.Millisecond
	maxRetryDelay      = 100 * time.Millisecond
	unlockTimeout      = time.Second
	lockKeyPrefix      = "lock:"
	reservationKeyBase = "coupon:reservation:"
)

// unlockScript удаляет ключ, только если он всё ещё принадлежит владельцу токена.
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker - блокировка ресурса через SET NX PX; TTL защищает от владельца, упавшего с блокировкой.
type Locker struct {
	client goredis.UniversalClient
	ttl    time.Duration
	logger *log.Entry
}

// NewLocker создаёт блокировку поверх client; ttl<=0 означает значение по умолчанию.
func NewLocker(client goredis.UniversalClient, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Locker{
		client: client,
		ttl:    ttl,
		logger: log.WithField("component", "redis-locker"),
	}
}

func lockKey(key string) string {
	return lockKeyPrefix + key
}

// nextDelay удваивает паузу между попытками в пределах [minRetryDelay, maxRetryDelay].
func nextDelay(current time.Duration) time.Duration {
	if current < minRetryDelay {
		return minRetryDelay
	}
	current *= 2
	if current > maxRetryDelay {
		return maxRetryDelay
	}
	return current
}

// Lock повторяет SET NX до успеха или отмены ctx.
func (l *Locker) Lock(ctx context.Context, key string) (domain.UnlockFunc, error) {
	token := uuid.NewString()
	redisKey := lockKey(key)

	delay := time.Duration(0)
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("lock %s: %w", key, ctxErr)
			}
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}

		delay = nextDelay(delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.unlock(redisKey, key, token) })
	}, nil
}

func (l *Locker) unlock(redisKey, key, token string) {
	unlockCtx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()
	if err := unlockScript.Run(unlockCtx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		l.logger.WithError(err).WithField("key", key).Warn("failed to release lock, it will expire by ttl")
	}
}

var _ domain.ResourceLocker = (*Locker)(nil)
