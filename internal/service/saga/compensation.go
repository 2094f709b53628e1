package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/database"
)

// CompensationPublisher доставляет OrderCancelled: сначала напрямую в брокер, при ошибке пишет
// то же событие с тем же ID в outbox. Потребители дедуплицируют по ID.
type CompensationPublisher struct {
	publisher domain.OutboxPublisher
	outbox    domain.OutboxRepository
	logger    *log.Entry
}

// NewCompensationPublisher создаёт публикатор компенсаций; publisher == nil означает только outbox.
func NewCompensationPublisher(publisher domain.OutboxPublisher, outbox domain.OutboxRepository, logger *log.Entry) *CompensationPublisher {
	if logger == nil {
		logger = log.WithField("component", "compensation-publisher")
	}
	return &CompensationPublisher{publisher: publisher, outbox: outbox, logger: logger}
}

// Emit публикует событие; ошибка возвращается, только если не сработал ни один путь.
func (p *CompensationPublisher) Emit(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	logger := p.logger.WithFields(log.Fields{
		"event_id":     msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
	})

	var publishErr error
	if p.publisher != nil {
		if publishErr = p.publisher.Publish(ctx, msg); publishErr == nil {
			logger.Debug("compensation event published")
			return msg, nil
		}
		logger.WithError(publishErr).Warn("direct publish failed, falling back to outbox")
	}

	stored, err := p.outbox.Insert(database.Detach(ctx), msg)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			return msg, nil
		}
		return msg, fmt.Errorf("compensation event %s: publish: %v; outbox: %w", msg.ID, publishErr, err)
	}
	return stored, nil
}
