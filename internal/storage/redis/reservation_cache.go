package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// ReservationCache хранит удержания купонов под ключами coupon:reservation:<id>.
type ReservationCache struct {
	client goredis.UniversalClient
}

// NewReservationCache создаёт кэш поверх client.
func NewReservationCache(client goredis.UniversalClient) *ReservationCache {
	return &ReservationCache{client: client}
}

func reservationKey(id string) string {
	return reservationKeyBase + id
}

func (c *ReservationCache) Put(ctx context.Context, reservation domain.TimedReservation, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(reservation)
	if err != nil {
		return fmt.Errorf("marshal reservation: %w", err)
	}
	if err := c.client.Set(ctx, reservationKey(reservation.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache reservation %s: %w", reservation.ID, err)
	}
	return nil
}

func (c *ReservationCache) Get(ctx context.Context, id string) (domain.TimedReservation, bool, error) {
	raw, err := c.client.Get(ctx, reservationKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.TimedReservation{}, false, nil
	}
	if err != nil {
		return domain.TimedReservation{}, false, fmt.Errorf("get cached reservation %s: %w", id, err)
	}

	var reservation domain.TimedReservation
	if err := json.Unmarshal(raw, &reservation); err != nil {
		return domain.TimedReservation{}, false, fmt.Errorf("unmarshal cached reservation %s: %w", id, err)
	}
	return reservation, true, nil
}

func (c *ReservationCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, reservationKey(id)).Err(); err != nil {
		return fmt.Errorf("delete cached reservation %s: %w", id, err)
	}
	return nil
}

var _ domain.ReservationCache = (*ReservationCache)(nil)
