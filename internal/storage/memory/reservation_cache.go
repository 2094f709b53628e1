package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/clock"
	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type cachedReservation struct {
	reservation domain.TimedReservation
	expiresAt   time.Time
}

// ReservationCache - in-memory кэш удержаний с TTL.
type ReservationCache struct {
	mu    sync.RWMutex
	items map[string]cachedReservation
	clock clock.Clock
}

// NewReservationCache создаёт кэш; c == nil означает системные часы.
func NewReservationCache(c clock.Clock) *ReservationCache {
	if c == nil {
		c = clock.System{}
	}
	return &ReservationCache{items: make(map[string]cachedReservation), clock: c}
}

func (c *ReservationCache) Put(_ context.Context, reservation domain.TimedReservation, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[reservation.ID] = cachedReservation{reservation: reservation, expiresAt: c.clock.Now().Add(ttl)}
	return nil
}

func (c *ReservationCache) Get(_ context.Context, id string) (domain.TimedReservation, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[id]
	if !ok || !c.clock.Now().Before(item.expiresAt) {
		return domain.TimedReservation{}, false, nil
	}
	return item.reservation, true, nil
}

func (c *ReservationCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, id)
	return nil
}

var _ domain.ReservationCache = (*ReservationCache)(nil)
