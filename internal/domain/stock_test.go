package domain

import (
	"errors"
	"testing"
	"time"
)

func TestStockItemHoldDeductRestock(t *testing.T) {
	item := StockItem{SKU: "sku-1", OnHand: 10}

	if err := item.Hold(4); err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	if item.Available() != 6 || item.OnHand != 10 {
		t.Fatalf("hold must not touch on hand: %+v", item)
	}

	if err := item.Hold(7); !errors.Is(err, ErrReservationRejected) {
		t.Fatalf("expected rejection when over available, got %v", err)
	}

	if err := item.Deduct(4); err != nil {
		t.Fatalf("deduct failed: %v", err)
	}
	if item.OnHand != 6 || item.Reserved != 0 {
		t.Fatalf("unexpected state after deduct: %+v", item)
	}

	item.Restock(4)
	if item.OnHand != 10 {
		t.Fatalf("restock must add back deducted qty, got %d", item.OnHand)
	}
}

func TestStockItemDeductWithoutHold(t *testing.T) {
	item := StockItem{SKU: "sku-1", OnHand: 10}
	if err := item.Deduct(1); !errors.Is(err, ErrReservationRejected) {
		t.Fatalf("deduct without hold must be rejected, got %v", err)
	}
}

func TestPointAccountHold(t *testing.T) {
	acc := PointAccount{CustomerID: "c-1", Balance: 100, Held: 80}
	if err := acc.Hold(30); !errors.Is(err, ErrReservationRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if err := acc.Hold(20); err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	if acc.Available() != 0 {
		t.Fatalf("expected nothing available, got %d", acc.Available())
	}
}

func TestTimedReservationExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := TimedReservation{ExpiresAt: now.Add(5 * time.Minute)}

	if r.Expired(now.Add(4 * time.Minute)) {
		t.Fatal("hold must be alive within ttl")
	}
	if !r.Expired(now.Add(5 * time.Minute)) {
		t.Fatal("hold must expire at deadline")
	}
}

func TestSagaStepDependency(t *testing.T) {
	if SagaStepCoupon.Dependency() != DependencyCoupon {
		t.Fatalf("unexpected dependency for coupon step: %s", SagaStepCoupon.Dependency())
	}
	if SagaStepFinalize.Dependency() != "" {
		t.Fatal("local steps have no dependency")
	}
}

func TestPointAccountConsumeAndRefund(t *testing.T) {
	acc := PointAccount{CustomerID: "c-1", Balance: 100}
	if err := acc.Hold(40); err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	if err := acc.Consume(50); !errors.Is(err, ErrReservationRejected) {
		t.Fatalf("consume over held must be rejected, got %v", err)
	}
	if err := acc.Consume(40); err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if acc.Balance != 60 || acc.Held != 0 {
		t.Fatalf("unexpected state after consume: %+v", acc)
	}
	acc.Refund(40)
	if acc.Balance != 100 {
		t.Fatalf("refund must restore balance, got %d", acc.Balance)
	}
}
