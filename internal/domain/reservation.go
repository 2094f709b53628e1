package domain

import "time"

// ReservationStatus отражает статус резерва, выданного зависимостью.
type ReservationStatus string

const (
	// ReservationStatusHeld - ресурс удерживается под заказ, но ещё не списан.
	ReservationStatusHeld ReservationStatus = "held"
	// ReservationStatusConfirmed - удержание подтверждено (товар списан, баллы сняты, платёж захвачен).
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	// ReservationStatusReleased - резерв снят или компенсирован.
	ReservationStatusReleased ReservationStatus = "released"
)

// ReservationLine описывает одну строку резерва стока.
type ReservationLine struct {
	SKU string `json:"sku"`
	Qty int32  `json:"qty"`
}

// ReservationRequest - запрос на резерв к зависимости; OrderID служит ключом идемпотентности.
type ReservationRequest struct {
	ResourceRef string
	OrderID     string
	CustomerID  string
	Amount      int64
	Lines       []ReservationLine
}

// Validate проверяет обязательные поля запроса.
func (r ReservationRequest) Validate() []error {
	var errs []error

	if r.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if r.Amount < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	for _, line := range r.Lines {
		if line.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
	}

	return errs
}

// ReservationResult описывает ответ зависимости на резерв. Сага хранит только ReservationID.
type ReservationResult struct {
	ReservationID string
	Amount        int64
	Status        ReservationStatus
	ExpiresAt     *time.Time
}

// TimedReservationStatus описывает статус удержания с ограниченным временем жизни.
type TimedReservationStatus string

const (
	// TimedReservationReserved - ресурс удерживается до ExpiresAt.
	TimedReservationReserved TimedReservationStatus = "reserved"
	// TimedReservationConsumed - удержание подтверждено, ресурс израсходован.
	TimedReservationConsumed TimedReservationStatus = "consumed"
	// TimedReservationReleased - удержание снято отменой или sweep'ом.
	TimedReservationReleased TimedReservationStatus = "released"
)

// TimedReservation - удержание ресурса с дедлайном. Строка удаляется после любого терминального перехода.
type TimedReservation struct {
	ID         string                 `json:"id"`
	ResourceID string                 `json:"resource_id"`
	OrderID    string                 `json:"order_id"`
	ExpiresAt  time.Time              `json:"expires_at"`
	Status     TimedReservationStatus `json:"status"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Expired сообщает, истёк ли срок удержания к моменту now.
func (r TimedReservation) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
