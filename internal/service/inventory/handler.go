package inventory

import (
	"context"
	"encoding/json"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/idempotency"
)

// Consumer - имя потребителя в ledger'е обработанных событий.
const Consumer = "stock"

// Handler списывает и возвращает сток по событиям заказа, не более одного раза на событие.
type Handler struct {
	service *Service
	stock   domain.StockRepository
	outbox  domain.OutboxRepository
	ledger  *idempotency.Ledger
	logger  *log.Entry
}

// NewHandler создаёт обработчик; outbox должен разделять транзакцию со стоком.
func NewHandler(service *Service, outbox domain.OutboxRepository, ledger *idempotency.Ledger, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "stock-handler")
	}
	return &Handler{
		service: service,
		stock:   service.stock,
		outbox:  outbox,
		ledger:  ledger,
		logger:  logger,
	}
}

// HandleOrderCreated превращает удержание в списание по всем строкам за одну транзакцию.
// Отказ любой строки откатывает все и публикует StockDeductionFailed.
func (h *Handler) HandleOrderCreated(ctx context.Context, event domain.Event) error {
	var payload domain.OrderCreatedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		h.logger.WithError(err).WithField("event_id", event.ID).Error("malformed OrderCreated payload, dropping")
		return nil
	}

	reservationID := payload.Reservations.Stock
	effect := func(ctx context.Context) error {
		reservation, err := h.lookup(ctx, reservationID, payload.OrderID)
		if err != nil {
			return err
		}
		changed, err := h.service.deduct(ctx, &reservation)
		if err != nil || !changed {
			return err
		}
		return h.emit(ctx, domain.EventStockDeducted, domain.ResourceEventPayload{
			OrderID:       payload.OrderID,
			ReservationID: reservation.ID,
			SourceEventID: event.ID,
			Lines:         reservation.Lines,
		})
	}
	onFailure := func(cause error) *domain.OutboxMessage {
		return h.message(domain.EventStockDeductionFailed, domain.ResourceEventPayload{
			OrderID:       payload.OrderID,
			ReservationID: reservationID,
			SourceEventID: event.ID,
			Reason:        cause.Error(),
		})
	}
	return h.ledger.Run(ctx, Consumer, event, effect, onFailure)
}

// HandleOrderCancelled снимает удержание или возвращает списанный сток; отсутствующий резерв пропускается.
func (h *Handler) HandleOrderCancelled(ctx context.Context, event domain.Event) error {
	var payload domain.OrderCancelledPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		h.logger.WithError(err).WithField("event_id", event.ID).Error("malformed OrderCancelled payload, dropping")
		return nil
	}

	effect := func(ctx context.Context) error {
		reservation, err := h.lookup(ctx, payload.Reservations.Stock, payload.OrderID)
		if errors.Is(err, domain.ErrNotFound) {
			h.logger.WithField("order_id", payload.OrderID).Debug("no stock reservation to release")
			return nil
		}
		if err != nil {
			return err
		}
		changed, err := h.service.release(ctx, &reservation)
		if err != nil || !changed {
			return err
		}
		return h.emit(ctx, domain.EventStockReleased, domain.ResourceEventPayload{
			OrderID:       payload.OrderID,
			ReservationID: reservation.ID,
			SourceEventID: event.ID,
			Lines:         reservation.Lines,
		})
	}
	return h.ledger.Run(ctx, Consumer, event, effect, nil)
}

func (h *Handler) lookup(ctx context.Context, reservationID, orderID string) (domain.StockReservation, error) {
	if reservationID != "" {
		return h.stock.GetReservation(ctx, reservationID)
	}
	return h.stock.GetReservationByOrder(ctx, orderID)
}

func (h *Handler) emit(ctx context.Context, eventType string, payload domain.ResourceEventPayload) error {
	msg, err := domain.ResourceMessage(domain.AggregateStock, eventType, payload)
	if err != nil {
		return err
	}
	_, err = h.outbox.Insert(ctx, msg)
	return err
}

func (h *Handler) message(eventType string, payload domain.ResourceEventPayload) *domain.OutboxMessage {
	msg, err := domain.ResourceMessage(domain.AggregateStock, eventType, payload)
	if err != nil {
		h.logger.WithError(err).WithField("order_id", payload.OrderID).Error("failed to build failure event")
		return nil
	}
	return &msg
}
