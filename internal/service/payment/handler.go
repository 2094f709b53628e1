package payment

import (
	"context"
	"encoding/json"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/idempotency"
)

// Consumer - имя потребителя в ledger'е.
const Consumer = "payment"

// Handler захватывает платёж по OrderCreated и отменяет его по OrderCancelled.
type Handler struct {
	service *Service
	outbox  domain.OutboxRepository
	ledger  *idempotency.Ledger
	logger  *log.Entry
}

// NewHandler создаёт обработчик событий заказа для платёжного сервиса.
func NewHandler(service *Service, outbox domain.OutboxRepository, ledger *idempotency.Ledger) *Handler {
	return &Handler{
		service: service,
		outbox:  outbox,
		ledger:  ledger,
		logger:  log.WithField("component", "payment-handler"),
	}
}

// HandleOrderCreated захватывает авторизацию; отказ публикует PaymentCaptureFailed.
func (h *Handler) HandleOrderCreated(ctx context.Context, event domain.Event) error {
	var payload domain.OrderCreatedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		h.logger.WithError(err).WithField("event_id", event.ID).Error("malformed OrderCreated payload, dropping")
		return nil
	}

	effect := func(ctx context.Context) error {
		auth, err := h.lookup(ctx, payload.Reservations.Payment, payload.OrderID)
		if err != nil {
			return err
		}
		changed, err := h.service.capture(ctx, &auth)
		if err != nil || !changed {
			return err
		}
		return h.emit(ctx, domain.EventPaymentCaptured, domain.ResourceEventPayload{
			OrderID:       auth.OrderID,
			ReservationID: auth.ID,
			SourceEventID: event.ID,
			Amount:        auth.AmountMinor,
		})
	}
	onFailure := func(cause error) *domain.OutboxMessage {
		msg, err := domain.ResourceMessage(domain.AggregatePayment, domain.EventPaymentCaptureFailed, domain.ResourceEventPayload{
			OrderID:       payload.OrderID,
			ReservationID: payload.Reservations.Payment,
			SourceEventID: event.ID,
			Reason:        cause.Error(),
		})
		if err != nil {
			h.logger.WithError(err).Error("failed to build failure event")
			return nil
		}
		return &msg
	}
	return h.ledger.Run(ctx, Consumer, event, effect, onFailure)
}

// HandleOrderCancelled отменяет авторизацию, если она была получена.
func (h *Handler) HandleOrderCancelled(ctx context.Context, event domain.Event) error {
	var payload domain.OrderCancelledPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		h.logger.WithError(err).WithField("event_id", event.ID).Error("malformed OrderCancelled payload, dropping")
		return nil
	}

	return h.ledger.Run(ctx, Consumer, event, func(ctx context.Context) error {
		auth, err := h.lookup(ctx, payload.Reservations.Payment, payload.OrderID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = h.service.void(ctx, &auth)
		return err
	}, nil)
}

func (h *Handler) lookup(ctx context.Context, paymentID, orderID string) (domain.PaymentAuthorization, error) {
	if paymentID != "" {
		return h.service.payments.Get(ctx, paymentID)
	}
	return h.service.payments.GetByOrder(ctx, orderID)
}

func (h *Handler) emit(ctx context.Context, eventType string, payload domain.ResourceEventPayload) error {
	msg, err := domain.ResourceMessage(domain.AggregatePayment, eventType, payload)
	if err != nil {
		return err
	}
	_, err = h.outbox.Insert(ctx, msg)
	return err
}
