package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// processedEventRepository - in-memory ledger обработанных событий.
type processedEventRepository struct {
	s *Store
}

// Exists сообщает, обработано ли событие потребителем.
func (r *processedEventRepository) Exists(ctx context.Context, consumer, eventID string) (bool, error) {
	defer r.s.lock(ctx)()

	_, ok := r.s.data.processed[processedKey{consumer: consumer, eventID: eventID}]
	return ok, nil
}

// Record фиксирует обработку события.
func (r *processedEventRepository) Record(ctx context.Context, event domain.ProcessedEvent) error {
	defer r.s.lock(ctx)()

	key := processedKey{consumer: event.Consumer, eventID: event.EventID}
	if _, ok := r.s.data.processed[key]; ok {
		return domain.ErrDuplicateEvent
	}
	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = r.s.clock.Now()
	}
	r.s.data.processed[key] = event
	return nil
}

// DeleteBefore удаляет самые старые записи, обработанные раньше before.
func (r *processedEventRepository) DeleteBefore(ctx context.Context, before time.Time, limit int) (int, error) {
	defer r.s.lock(ctx)()

	deleted := 0
	for key, event := range r.s.data.processed {
		if limit > 0 && deleted >= limit {
			break
		}
		if event.ProcessedAt.Before(before) {
			delete(r.s.data.processed, key)
			deleted++
		}
	}
	return deleted, nil
}

var _ domain.ProcessedEventRepository = (*processedEventRepository)(nil)
