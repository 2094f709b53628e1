package domain

import (
	"context"
	"errors"
	"net"
)

// Таксономия ошибок саги и потребителей событий.
var (
	// ErrServiceUnavailable - circuit breaker зависимости открыт, вызов не выполнялся.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrReservationRejected - зависимость отказала по бизнес-правилу (нет стока, мало баллов, купон занят).
	ErrReservationRejected = errors.New("reservation rejected")
	// ErrTransientFailure - таймаут или сетевая ошибка; сагу можно повторить целиком.
	ErrTransientFailure = errors.New("transient failure")
	// ErrUnexpected - непредвиденная ошибка зависимости.
	ErrUnexpected = errors.New("unexpected failure")
	// ErrAmountMismatch - нарушено равенство total = coupon + point + payable.
	ErrAmountMismatch = errors.New("order amount mismatch")
	// ErrDuplicateEvent - событие уже обработано (ledger hit).
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrExpiredReservation - резерв истёк или отсутствует.
	ErrExpiredReservation = errors.New("reservation expired or missing")
)

// Ошибки валидации заказа.
var (
	// ErrInvalidRequest - запрос на создание заказа не прошёл валидацию.
	ErrInvalidRequest = errors.New("invalid request")
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы.
	ErrAmountNegative = errors.New("amount must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка, если сумма позиций не помещается в int64.
	ErrAmountOverflow = errors.New("order amount overflows int64")
	// Ошибка отсутствующего идентификатора заказа в резервах.
	ErrOrderIDRequired = errors.New("order_id is required")
)

// Ошибки хранилищ.
var (
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists возвращается при повторном создании заказа с тем же ID.
	ErrOrderExists = errors.New("order already exists")
	// ErrVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrVersionConflict = errors.New("version conflict")
	// ErrNotFound - общая ошибка отсутствия записи (сток, купон, резерв).
	ErrNotFound = errors.New("not found")
	// ErrOutboxNotFound - outbox-сообщение не найдено или уже не в ожидаемом статусе.
	ErrOutboxNotFound = errors.New("outbox message not found")
	// ErrOutboxPublish - ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// Classify приводит произвольную ошибку зависимости к одной из ошибок таксономии.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, ErrReservationRejected),
		errors.Is(err, ErrTransientFailure),
		errors.Is(err, ErrAmountMismatch),
		errors.Is(err, ErrExpiredReservation),
		errors.Is(err, ErrUnexpected):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Join(ErrTransientFailure, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Join(ErrTransientFailure, err)
	}
	return errors.Join(ErrUnexpected, err)
}

// IsBusinessFailure сообщает, что ошибка является окончательным бизнес-отказом, а не сбоем инфраструктуры.
func IsBusinessFailure(err error) bool {
	return errors.Is(err, ErrReservationRejected) ||
		errors.Is(err, ErrExpiredReservation) ||
		errors.Is(err, ErrAmountMismatch) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrNotFound)
}
