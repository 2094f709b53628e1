package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/database"
)

type processedEventRepository struct {
	db *sql.DB
}

func (r *processedEventRepository) Exists(ctx context.Context, consumer, eventID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	if err := database.GetTx(ctx, r.db).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM processed_events WHERE consumer = $1 AND event_id = $2)
	`, consumer, eventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return exists, nil
}

// Record опирается на первичный ключ (consumer, event_id): гонка двух доставок даёт ErrDuplicateEvent.
func (r *processedEventRepository) Record(ctx context.Context, event domain.ProcessedEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = nowUTC()
	}
	_, err := database.GetTx(ctx, r.db).ExecContext(ctx, `
		INSERT INTO processed_events (consumer, event_id, event_type, outcome, processed_at)
		VALUES ($1,$2,$3,$4,$5)
	`, event.Consumer, event.EventID, event.EventType, string(event.Outcome), event.ProcessedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateEvent
		}
		return fmt.Errorf("insert processed event: %w", err)
	}
	return nil
}

func (r *processedEventRepository) DeleteBefore(ctx context.Context, before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 1000
	}
	res, err := database.GetTx(ctx, r.db).ExecContext(ctx, `
		DELETE FROM processed_events
		WHERE (consumer, event_id) IN (
			SELECT consumer, event_id
			FROM processed_events
			WHERE processed_at < $1
			ORDER BY processed_at
			LIMIT $2
		)
	`, before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("delete processed events: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

var _ domain.ProcessedEventRepository = (*processedEventRepository)(nil)
