package domain

import (
	"fmt"
	"time"
)

// PointAccount - баланс баллов лояльности клиента.
type PointAccount struct {
	CustomerID string
	Balance    int64
	Held       int64
	Version    int64
	UpdatedAt  time.Time
}

// Available возвращает баллы, которые можно удержать.
func (a PointAccount) Available() int64 {
	return a.Balance - a.Held
}

// Hold удерживает amount баллов.
func (a *PointAccount) Hold(amount int64) error {
	if amount <= 0 {
		return ErrAmountNegative
	}
	if a.Available() < amount {
		return fmt.Errorf("customer %s: available %d points, requested %d: %w", a.CustomerID, a.Available(), amount, ErrReservationRejected)
	}
	a.Held += amount
	return nil
}

// PointHold - удержание баллов под заказ.
type PointHold struct {
	ID         string
	CustomerID string
	OrderID    string
	Amount     int64
	Status     ReservationStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Consume списывает ранее удержанные баллы.
func (a *PointAccount) Consume(amount int64) error {
	if a.Held < amount || a.Balance < amount {
		return fmt.Errorf("customer %s: held %d, balance %d, consume %d: %w", a.CustomerID, a.Held, a.Balance, amount, ErrReservationRejected)
	}
	a.Held -= amount
	a.Balance -= amount
	return nil
}

// ReleaseHold снимает удержание, не трогая баланс.
func (a *PointAccount) ReleaseHold(amount int64) {
	a.Held -= amount
	if a.Held < 0 {
		a.Held = 0
	}
}

// Refund возвращает списанные баллы на баланс.
func (a *PointAccount) Refund(amount int64) {
	a.Balance += amount
}
