package domain

import (
	"fmt"
	"math"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending - заказ сохранён, сага ещё резервирует ресурсы.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusCreated - все резервы получены, событие OrderCreated записано в outbox.
	OrderStatusCreated OrderStatus = "created"
	// OrderStatusCancelled - сага завершилась неудачей, резервы компенсированы.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// SKU - внешний идентификатор товара.
	SKU string `json:"sku"`
	// Qty - количество единиц товара.
	Qty int32 `json:"qty"`
	// PriceMinor - цена за единицу в минимальных денежных единицах.
	PriceMinor int64 `json:"price_minor"`
}

// ReservationIDs хранит идентификаторы резервов, полученных сагой; нужны только для компенсаций.
type ReservationIDs struct {
	Stock   string `json:"stock,omitempty"`
	Point   string `json:"point,omitempty"`
	Coupon  string `json:"coupon,omitempty"`
	Payment string `json:"payment,omitempty"`
}

// Empty сообщает, что ни одного резерва не получено.
func (r ReservationIDs) Empty() bool {
	return r == ReservationIDs{}
}

// Order агрегирует состояние заказа, его позиции и разбивку суммы.
type Order struct {
	ID            string
	CustomerID    string
	Status        OrderStatus
	Items         []OrderItem
	CouponID      string
	AmountTotal   int64
	AmountCoupon  int64
	AmountPoint   int64
	AmountPayable int64
	Reservations  ReservationIDs
	FailedStep    SagaStep
	FailureReason string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ItemsTotal считает сумму позиций qty * price.
// Переполнение int64 на произведении или на сумме возвращает ErrAmountOverflow.
func ItemsTotal(items []OrderItem) (int64, error) {
	var total int64
	for i, item := range items {
		if item.Qty <= 0 || item.PriceMinor < 0 {
			continue
		}
		if item.PriceMinor > math.MaxInt64/int64(item.Qty) {
			return 0, fmt.Errorf("item %d (%s): %d x %d: %w", i, item.SKU, item.Qty, item.PriceMinor, ErrAmountOverflow)
		}
		line := int64(item.Qty) * item.PriceMinor
		if total > math.MaxInt64-line {
			return 0, fmt.Errorf("item %d (%s): running total: %w", i, item.SKU, ErrAmountOverflow)
		}
		total += line
	}
	return total, nil
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if total, err := ItemsTotal(o.Items); err != nil {
		errs = append(errs, err)
	} else if o.AmountTotal != total {
		errs = append(errs, ErrAmountMismatch)
	}
	if err := o.ValidateAmounts(); err != nil {
		errs = append(errs, err)
	}

	return errs
}

// ValidateAmounts проверяет разбивку суммы: total = coupon + point + payable, все слагаемые неотрицательны.
func (o *Order) ValidateAmounts() error {
	if o.AmountTotal < 0 || o.AmountCoupon < 0 || o.AmountPoint < 0 || o.AmountPayable < 0 {
		return ErrAmountNegative
	}
	if o.AmountTotal != o.AmountCoupon+o.AmountPoint+o.AmountPayable {
		return ErrAmountMismatch
	}
	return nil
}

// Terminal сообщает, что сага по заказу завершена.
func (o *Order) Terminal() bool {
	return o.Status == OrderStatusCreated || o.Status == OrderStatusCancelled
}
