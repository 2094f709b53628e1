package domain

import "time"

// CouponStatus описывает доступность купона.
type CouponStatus string

const (
	// CouponStatusAvailable - купон можно удержать.
	CouponStatusAvailable CouponStatus = "available"
	// CouponStatusReserved - купон удерживается под заказ.
	CouponStatusReserved CouponStatus = "reserved"
	// CouponStatusConsumed - купон использован, терминальный статус.
	CouponStatusConsumed CouponStatus = "consumed"
)

// Coupon - ресурс со скидкой, удерживаемый через TimedReservation.
type Coupon struct {
	ID            string
	DiscountMinor int64
	Status        CouponStatus
	Version       int64
	UpdatedAt     time.Time
}
