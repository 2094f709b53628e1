package database

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// DefaultConflictAttempts - сколько раз повторяется optimistic-обновление при конфликте версий.
const DefaultConflictAttempts = 3

const conflictBaseDelay = 10 * time.Millisecond

// RetryOnConflict выполняет fn до attempts раз, пока она возвращает domain.ErrVersionConflict.
// fn должна перечитывать запись на каждой попытке. После исчерпания попыток возвращается последний конфликт.
func RetryOnConflict(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultConflictAttempts
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); !domain.IsVersionConflict(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		delay := conflictBaseDelay * time.Duration(1<<uint(attempt))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
