package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Типы агрегатов outbox.
const (
	AggregateOrder   = "order"
	AggregateStock   = "stock"
	AggregatePoints  = "points"
	AggregateCoupon  = "coupon"
	AggregatePayment = "payment"
)

// Типы доменных событий.
const (
	EventOrderCreated         = "OrderCreated"
	EventOrderCancelled       = "OrderCancelled"
	EventStockDeducted        = "StockDeducted"
	EventStockDeductionFailed = "StockDeductionFailed"
	EventStockReleased        = "StockReleased"
	EventPointsConfirmed      = "PointsConfirmed"
	EventPointsReleased       = "PointsReleased"
	EventCouponConfirmFailed  = "CouponConfirmFailed"
	EventPaymentCaptured      = "PaymentCaptured"
	EventPaymentCaptureFailed = "PaymentCaptureFailed"
)

// Event - входящее событие после разбора конверта брокера.
type Event struct {
	ID            string
	Type          string
	AggregateType string
	AggregateID   string
	Payload       []byte
	Topic         string
}

// OrderCreatedPayload публикуется через outbox после успешной саги.
type OrderCreatedPayload struct {
	OrderID       string         `json:"order_id"`
	CustomerID    string         `json:"customer_id"`
	Items         []OrderItem    `json:"items"`
	CouponID      string         `json:"coupon_id,omitempty"`
	AmountTotal   int64          `json:"amount_total"`
	AmountCoupon  int64          `json:"amount_coupon"`
	AmountPoint   int64          `json:"amount_point"`
	AmountPayable int64          `json:"amount_payable"`
	Reservations  ReservationIDs `json:"reservations"`
	CreatedAt     time.Time      `json:"created_at"`
}

// OrderCancelledPayload - компенсирующее событие; несёт только реально полученные резервы.
type OrderCancelledPayload struct {
	OrderID      string         `json:"order_id"`
	CustomerID   string         `json:"customer_id"`
	FailedStep   SagaStep       `json:"failed_step"`
	Reason       string         `json:"reason"`
	Reservations ReservationIDs `json:"reservations"`
	CancelledAt  time.Time      `json:"cancelled_at"`
}

// ResourceEventPayload описывает результат обработки события сервисом-владельцем ресурса.
type ResourceEventPayload struct {
	OrderID       string            `json:"order_id"`
	ReservationID string            `json:"reservation_id,omitempty"`
	SourceEventID string            `json:"source_event_id"`
	Lines         []ReservationLine `json:"lines,omitempty"`
	Amount        int64             `json:"amount,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// ResourceMessage собирает outbox-сообщение сервиса-владельца ресурса; агрегатом служит заказ.
func ResourceMessage(aggregateType, eventType string, payload ResourceEventPayload) (OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   payload.OrderID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}
