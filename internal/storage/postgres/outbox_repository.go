package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/database"
)

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, payload, status, retry_count, last_error, created_at, published_at`

type outboxRepository struct {
	db *sql.DB
}

func (r *outboxRepository) Ready(ctx context.Context, aggregateType, aggregateID, eventType string, payload []byte) (domain.OutboxMessage, error) {
	return r.Insert(ctx, domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
	})
}

// Insert пишет READY-строку в транзакции из ctx; повтор ID возвращает ErrDuplicateEvent.
func (r *outboxRepository) Insert(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Payload == nil {
		msg.Payload = []byte{}
	}
	msg.Status = domain.OutboxStatusReady
	msg.RetryCount = 0
	msg.LastError = ""
	msg.PublishedAt = nil
	msg.CreatedAt = nowUTC()

	_, err := database.GetTx(ctx, r.db).ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload, status, retry_count, last_error, created_at
		) VALUES ($1,$2,$3,$4,$5,'READY',0,'',$6)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, msg.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.OutboxMessage{}, domain.ErrDuplicateEvent
		}
		return domain.OutboxMessage{}, fmt.Errorf("insert outbox message: %w", err)
	}
	return msg, nil
}

func (r *outboxRepository) PullReady(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, domain.OutboxStatusReady, limit)
}

func (r *outboxRepository) ListFailed(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, domain.OutboxStatusFailed, limit)
}

func (r *outboxRepository) list(ctx context.Context, status domain.OutboxStatus, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := database.GetTx(ctx, r.db).QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, seq
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("query %s outbox messages: %w", status, err)
	}
	defer rows.Close()

	result := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var (
			msg       domain.OutboxMessage
			rawStatus string
			published sql.NullTime
		)
		if err := rows.Scan(
			&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload,
			&rawStatus, &msg.RetryCount, &msg.LastError, &msg.CreatedAt, &published,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		msg.Status = domain.OutboxStatus(rawStatus)
		if published.Valid {
			at := published.Time.UTC()
			msg.PublishedAt = &at
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return result, nil
}

// MarkSent условен по status='READY': параллельный воркер не может переписать итог.
func (r *outboxRepository) MarkSent(ctx context.Context, id string, publishedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := database.GetTx(ctx, r.db).ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = 'SENT', published_at = $2, last_error = ''
		WHERE id = $1 AND status = 'READY'
	`, id, publishedAt.UTC())
	if err != nil {
		return fmt.Errorf("mark outbox message sent: %w", err)
	}
	return expectOneRow(res, domain.ErrOutboxNotFound)
}

func (r *outboxRepository) MarkRetry(ctx context.Context, id string, lastError string, maxRetries int) (domain.OutboxStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var status string
	err := database.GetTx(ctx, r.db).QueryRowContext(ctx, `
		UPDATE outbox_messages
		SET retry_count = retry_count + 1,
		    last_error = $2,
		    status = CASE WHEN retry_count + 1 >= $3 THEN 'FAILED' ELSE 'READY' END
		WHERE id = $1 AND status = 'READY'
		RETURNING status
	`, id, lastError, maxRetries).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrOutboxNotFound
		}
		return "", fmt.Errorf("mark outbox message retry: %w", err)
	}
	return domain.OutboxStatus(status), nil
}

func (r *outboxRepository) Requeue(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := database.GetTx(ctx, r.db).ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = 'READY', retry_count = 0
		WHERE id = $1 AND status = 'FAILED'
	`, id)
	if err != nil {
		return fmt.Errorf("requeue outbox message: %w", err)
	}
	return expectOneRow(res, domain.ErrOutboxNotFound)
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := database.GetTx(ctx, r.db).QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'READY'),
			COUNT(*) FILTER (WHERE status = 'FAILED'),
			MIN(created_at) FILTER (WHERE status = 'READY')
		FROM outbox_messages
	`).Scan(&stats.ReadyCount, &stats.FailedCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", err)
	}
	if oldest.Valid {
		stats.OldestReadyAt = oldest.Time.UTC()
	}
	return stats, nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
