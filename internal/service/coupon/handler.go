package coupon

import (
	"context"
	"encoding/json"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/idempotency"
)

// Consumer - имя потребителя в ledger'е.
const Consumer = "coupon"

// Handler подтверждает удержание купона по OrderCreated и снимает его по OrderCancelled.
// Блокировка купона берётся до транзакции ledger'а.
type Handler struct {
	manager *Manager
	ledger  *idempotency.Ledger
	logger  *log.Entry
}

// NewHandler создаёт обработчик событий заказа для купонов.
func NewHandler(manager *Manager, ledger *idempotency.Ledger) *Handler {
	return &Handler{
		manager: manager,
		ledger:  ledger,
		logger:  log.WithField("component", "coupon-handler"),
	}
}

// HandleOrderCreated расходует купон; удержание, снятое sweep'ом, даёт CouponConfirmFailed.
func (h *Handler) HandleOrderCreated(ctx context.Context, event domain.Event) error {
	var payload domain.OrderCreatedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		h.logger.WithError(err).WithField("event_id", event.ID).Error("malformed OrderCreated payload, dropping")
		return nil
	}
	reservationID := payload.Reservations.Coupon
	if reservationID == "" {
		return nil
	}

	onFailure := func(cause error) *domain.OutboxMessage {
		msg, err := domain.ResourceMessage(domain.AggregateCoupon, domain.EventCouponConfirmFailed, domain.ResourceEventPayload{
			OrderID:       payload.OrderID,
			ReservationID: reservationID,
			SourceEventID: event.ID,
			Reason:        cause.Error(),
		})
		if err != nil {
			h.logger.WithError(err).Error("failed to build failure event")
			return nil
		}
		return &msg
	}

	return h.guarded(ctx, event, reservationID, h.manager.confirmLocked, onFailure)
}

// HandleOrderCancelled возвращает купон, если удержание ещё существует.
func (h *Handler) HandleOrderCancelled(ctx context.Context, event domain.Event) error {
	var payload domain.OrderCancelledPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		h.logger.WithError(err).WithField("event_id", event.ID).Error("malformed OrderCancelled payload, dropping")
		return nil
	}
	reservationID := payload.Reservations.Coupon
	if reservationID == "" {
		return nil
	}

	cancel := func(ctx context.Context, id string) error {
		err := h.manager.cancelLocked(ctx, id)
		if errors.Is(err, domain.ErrExpiredReservation) {
			// Удержание уже снято отменой или sweep'ом.
			return nil
		}
		return err
	}
	return h.guarded(ctx, event, reservationID, cancel, nil)
}

// guarded берёт блокировку купона и выполняет переход через ledger.
func (h *Handler) guarded(ctx context.Context, event domain.Event, reservationID string,
	transition func(ctx context.Context, id string) error, onFailure idempotency.FailureEvent,
) error {
	hold, err := h.manager.find(ctx, reservationID)
	switch {
	case errors.Is(err, domain.ErrExpiredReservation):
		return h.ledger.Run(ctx, Consumer, event, func(ctx context.Context) error {
			return transition(ctx, reservationID)
		}, onFailure)
	case err != nil:
		return err
	}

	unlock, err := h.manager.lock(ctx, hold.ResourceID)
	if err != nil {
		return err
	}
	defer unlock()

	err = h.ledger.Run(ctx, Consumer, event, func(ctx context.Context) error {
		return transition(ctx, reservationID)
	}, onFailure)
	if err == nil {
		h.manager.evict(ctx, reservationID)
	}
	return err
}
