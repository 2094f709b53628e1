package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func copyOutbox(m domain.OutboxMessage) domain.OutboxMessage {
	m.Payload = append([]byte(nil), m.Payload...)
	if m.PublishedAt != nil {
		at := *m.PublishedAt
		m.PublishedAt = &at
	}
	return m
}

// outboxRepository - in-memory хранилище transactional outbox.
type outboxRepository struct {
	s *Store
}

// Ready сохраняет событие со статусом READY.
func (r *outboxRepository) Ready(ctx context.Context, aggregateType, aggregateID, eventType string, payload []byte) (domain.OutboxMessage, error) {
	return r.Insert(ctx, domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
	})
}

// Insert сохраняет событие с заданным ID (или генерирует его).
func (r *outboxRepository) Insert(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	defer r.s.lock(ctx)()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, exists := r.s.data.outbox[msg.ID]; exists {
		return domain.OutboxMessage{}, domain.ErrDuplicateEvent
	}
	msg.Status = domain.OutboxStatusReady
	msg.RetryCount = 0
	msg.PublishedAt = nil
	msg.CreatedAt = r.s.clock.Now()

	r.s.data.seq++
	r.s.data.outboxSeq[msg.ID] = r.s.data.seq
	r.s.data.outbox[msg.ID] = copyOutbox(msg)
	return copyOutbox(msg), nil
}

func (r *outboxRepository) sorted(status domain.OutboxStatus, limit int) []domain.OutboxMessage {
	result := make([]domain.OutboxMessage, 0)
	for _, msg := range r.s.data.outbox {
		if msg.Status == status {
			result = append(result, copyOutbox(msg))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return r.s.data.outboxSeq[result[i].ID] < r.s.data.outboxSeq[result[j].ID]
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// PullReady возвращает до limit READY-сообщений в порядке создания.
func (r *outboxRepository) PullReady(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	defer r.s.lock(ctx)()

	if limit <= 0 {
		limit = 100
	}
	return r.sorted(domain.OutboxStatusReady, limit), nil
}

// MarkSent переводит READY-сообщение в SENT.
func (r *outboxRepository) MarkSent(ctx context.Context, id string, publishedAt time.Time) error {
	defer r.s.lock(ctx)()

	msg, ok := r.s.data.outbox[id]
	if !ok || msg.Status != domain.OutboxStatusReady {
		return domain.ErrOutboxNotFound
	}
	msg.Status = domain.OutboxStatusSent
	msg.PublishedAt = &publishedAt
	msg.LastError = ""
	r.s.data.outbox[id] = msg
	return nil
}

// MarkRetry фиксирует неудачную попытку; по достижении maxRetries сообщение становится FAILED.
func (r *outboxRepository) MarkRetry(ctx context.Context, id string, lastError string, maxRetries int) (domain.OutboxStatus, error) {
	defer r.s.lock(ctx)()

	msg, ok := r.s.data.outbox[id]
	if !ok || msg.Status != domain.OutboxStatusReady {
		return "", domain.ErrOutboxNotFound
	}
	msg.RetryCount++
	msg.LastError = lastError
	if msg.RetryCount >= maxRetries {
		msg.Status = domain.OutboxStatusFailed
	}
	r.s.data.outbox[id] = msg
	return msg.Status, nil
}

// ListFailed возвращает dead-letter сообщения.
func (r *outboxRepository) ListFailed(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	defer r.s.lock(ctx)()
	return r.sorted(domain.OutboxStatusFailed, limit), nil
}

// Requeue возвращает FAILED-сообщение в READY.
func (r *outboxRepository) Requeue(ctx context.Context, id string) error {
	defer r.s.lock(ctx)()

	msg, ok := r.s.data.outbox[id]
	if !ok || msg.Status != domain.OutboxStatusFailed {
		return domain.ErrOutboxNotFound
	}
	msg.Status = domain.OutboxStatusReady
	msg.RetryCount = 0
	r.s.data.outbox[id] = msg
	return nil
}

// Stats возвращает размер backlog.
func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	defer r.s.lock(ctx)()

	var stats domain.OutboxStats
	for _, msg := range r.s.data.outbox {
		switch msg.Status {
		case domain.OutboxStatusReady:
			stats.ReadyCount++
			if stats.OldestReadyAt.IsZero() || msg.CreatedAt.Before(stats.OldestReadyAt) {
				stats.OldestReadyAt = msg.CreatedAt
			}
		case domain.OutboxStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
