package domain

import (
	"fmt"
	"time"
)

// StockItem - складской остаток по SKU с optimistic-версией.
type StockItem struct {
	SKU       string
	OnHand    int64
	Reserved  int64
	Version   int64
	UpdatedAt time.Time
}

// Available возвращает количество, которое ещё можно удержать.
func (s StockItem) Available() int64 {
	return s.OnHand - s.Reserved
}

// Hold удерживает qty единиц без списания остатка.
func (s *StockItem) Hold(qty int32) error {
	if qty <= 0 {
		return ErrItemQtyInvalid
	}
	if s.Available() < int64(qty) {
		return fmt.Errorf("sku %s: available %d, requested %d: %w", s.SKU, s.Available(), qty, ErrReservationRejected)
	}
	s.Reserved += int64(qty)
	return nil
}

// Deduct превращает удержание в списание: уменьшает и остаток, и резерв.
func (s *StockItem) Deduct(qty int32) error {
	if qty <= 0 {
		return ErrItemQtyInvalid
	}
	if s.Reserved < int64(qty) || s.OnHand < int64(qty) {
		return fmt.Errorf("sku %s: reserved %d, on hand %d, deduct %d: %w", s.SKU, s.Reserved, s.OnHand, qty, ErrReservationRejected)
	}
	s.Reserved -= int64(qty)
	s.OnHand -= int64(qty)
	return nil
}

// ReleaseHold снимает удержание, не трогая остаток.
func (s *StockItem) ReleaseHold(qty int32) {
	s.Reserved -= int64(qty)
	if s.Reserved < 0 {
		s.Reserved = 0
	}
}

// Restock возвращает ранее списанное количество (обратная операция к Deduct).
func (s *StockItem) Restock(qty int32) {
	s.OnHand += int64(qty)
}

// StockReservation - удержание стока под заказ; одна запись на заказ.
type StockReservation struct {
	ID        string
	OrderID   string
	Lines     []ReservationLine
	Status    ReservationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
