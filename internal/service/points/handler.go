package points

import (
	"context"
	"encoding/json"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/idempotency"
)

// Consumer - имя потребителя в ledger'е.
const Consumer = "points"

// Handler подтверждает удержание баллов по OrderCreated и снимает его по OrderCancelled.
type Handler struct {
	service *Service
	outbox  domain.OutboxRepository
	ledger  *idempotency.Ledger
	logger  *log.Entry
}

// NewHandler создаёт обработчик событий заказа для сервиса баллов.
func NewHandler(service *Service, outbox domain.OutboxRepository, ledger *idempotency.Ledger) *Handler {
	return &Handler{
		service: service,
		outbox:  outbox,
		ledger:  ledger,
		logger:  log.WithField("component", "points-handler"),
	}
}

// HandleOrderCreated списывает удержанные баллы и публикует PointsConfirmed.
func (h *Handler) HandleOrderCreated(ctx context.Context, event domain.Event) error {
	var payload domain.OrderCreatedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		h.logger.WithError(err).WithField("event_id", event.ID).Error("malformed OrderCreated payload, dropping")
		return nil
	}

	return h.ledger.Run(ctx, Consumer, event, func(ctx context.Context) error {
		hold, ok, err := h.lookup(ctx, payload.Reservations.Point, payload.OrderID)
		if err != nil || !ok {
			return err
		}
		changed, err := h.service.confirm(ctx, &hold)
		if err != nil || !changed {
			return err
		}
		return h.emit(ctx, domain.EventPointsConfirmed, hold, event.ID)
	}, nil)
}

// HandleOrderCancelled возвращает баллы и публикует PointsReleased.
func (h *Handler) HandleOrderCancelled(ctx context.Context, event domain.Event) error {
	var payload domain.OrderCancelledPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		h.logger.WithError(err).WithField("event_id", event.ID).Error("malformed OrderCancelled payload, dropping")
		return nil
	}

	return h.ledger.Run(ctx, Consumer, event, func(ctx context.Context) error {
		hold, ok, err := h.lookup(ctx, payload.Reservations.Point, payload.OrderID)
		if err != nil || !ok {
			return err
		}
		changed, err := h.service.release(ctx, &hold)
		if err != nil || !changed {
			return err
		}
		return h.emit(ctx, domain.EventPointsReleased, hold, event.ID)
	}, nil)
}

// lookup возвращает ok=false, если заказ оплачивался без баллов.
func (h *Handler) lookup(ctx context.Context, holdID, orderID string) (domain.PointHold, bool, error) {
	var (
		hold domain.PointHold
		err  error
	)
	if holdID != "" {
		hold, err = h.service.points.GetHold(ctx, holdID)
	} else {
		hold, err = h.service.points.GetHoldByOrder(ctx, orderID)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.PointHold{}, false, nil
	}
	if err != nil {
		return domain.PointHold{}, false, err
	}
	return hold, true, nil
}

func (h *Handler) emit(ctx context.Context, eventType string, hold domain.PointHold, sourceEventID string) error {
	msg, err := domain.ResourceMessage(domain.AggregatePoints, eventType, domain.ResourceEventPayload{
		OrderID:       hold.OrderID,
		ReservationID: hold.ID,
		SourceEventID: sourceEventID,
		Amount:        hold.Amount,
	})
	if err != nil {
		return err
	}
	_, err = h.outbox.Insert(ctx, msg)
	return err
}
