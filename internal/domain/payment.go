package domain

import "time"

// PaymentStatus описывает состояние авторизации платежа.
type PaymentStatus string

const (
	// PaymentStatusAuthorized - сумма заблокирована у провайдера.
	PaymentStatusAuthorized PaymentStatus = "authorized"
	// PaymentStatusCaptured - деньги списаны в пользу мерчанта.
	PaymentStatusCaptured PaymentStatus = "captured"
	// PaymentStatusVoided - авторизация отменена (компенсация).
	PaymentStatusVoided PaymentStatus = "voided"
)

// PaymentAuthorization описывает авторизацию платежа под заказ.
type PaymentAuthorization struct {
	ID          string
	OrderID     string
	AmountMinor int64
	Status      PaymentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
