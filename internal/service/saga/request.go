package saga

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// CreateOrderItem - позиция запроса на создание заказа.
// Границы qty, price и числа позиций держат сумму заказа в пределах int64.
type CreateOrderItem struct {
	SKU        string `validate:"required,max=64"`
	Qty        int32  `validate:"gt=0,lte=100000"`
	PriceMinor int64  `validate:"gte=0,lte=100000000000"`
}

// CreateOrderRequest - вход саги создания заказа. Пустой OrderID означает, что ID будет сгенерирован.
type CreateOrderRequest struct {
	OrderID     string            `validate:"omitempty,max=64"`
	CustomerID  string            `validate:"required,max=64"`
	Items       []CreateOrderItem `validate:"required,min=1,max=100,dive"`
	PointAmount int64             `validate:"gte=0"`
	CouponID    string            `validate:"omitempty,max=64"`
}

func (r CreateOrderRequest) orderItems() []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, domain.OrderItem{SKU: item.SKU, Qty: item.Qty, PriceMinor: item.PriceMinor})
	}
	return items
}

func (r CreateOrderRequest) reservationLines() []domain.ReservationLine {
	lines := make([]domain.ReservationLine, 0, len(r.Items))
	for _, item := range r.Items {
		lines = append(lines, domain.ReservationLine{SKU: item.SKU, Qty: item.Qty})
	}
	return lines
}

// requiredDependencies возвращает зависимости, через которые пройдёт сага для запроса.
func (r CreateOrderRequest) requiredDependencies() []string {
	deps := []string{domain.DependencyStock}
	if r.PointAmount > 0 {
		deps = append(deps, domain.DependencyPoint)
	}
	if r.CouponID != "" {
		deps = append(deps, domain.DependencyCoupon)
	}
	return append(deps, domain.DependencyPayment)
}

func validateRequest(v *validator.Validate, req CreateOrderRequest) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, strings.Join(msgs, "; "))
}

// StepError - ошибка саги с указанием шага, на котором она произошла.
type StepError struct {
	Step domain.SagaStep
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("saga step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FailedStep извлекает шаг из ошибки саги; ok=false, если ошибка не из саги.
func FailedStep(err error) (domain.SagaStep, bool) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step, true
	}
	return "", false
}

// reasonLabel сворачивает ошибку к метке таксономии для метрик.
func reasonLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, domain.ErrReservationRejected):
		return "rejected"
	case errors.Is(err, domain.ErrTransientFailure):
		return "transient"
	case errors.Is(err, domain.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, domain.ErrExpiredReservation):
		return "expired"
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid_request"
	default:
		return "unexpected"
	}
}
