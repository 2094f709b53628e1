// Package payment реализует авторизацию, захват и отмену платежа под заказ.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// Service - платёжный шлюз внутри процесса: авторизация при резерве, захват по OrderCreated, void при отмене.
type Service struct {
	tx       domain.TxManager
	payments domain.PaymentRepository
	limit    int64
	logger   *log.Entry
}

// Option настраивает Service.
type Option func(*Service)

// WithAuthorizationLimit задаёт максимальную сумму одной авторизации; больше - отказ провайдера.
func WithAuthorizationLimit(limit int64) Option {
	return func(s *Service) {
		s.limit = limit
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService создаёт платёжный сервис.
func NewService(tx domain.TxManager, payments domain.PaymentRepository, opts ...Option) *Service {
	s := &Service{
		tx:       tx,
		payments: payments,
		logger:   log.WithField("component", "payment"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reserve авторизует req.Amount. Повтор по тому же заказу возвращает существующую авторизацию.
func (s *Service) Reserve(ctx context.Context, req domain.ReservationRequest) (domain.ReservationResult, error) {
	if errs := req.Validate(); len(errs) > 0 {
		return domain.ReservationResult{}, fmt.Errorf("payment request: %w: %w", domain.ErrReservationRejected, errors.Join(errs...))
	}
	if s.limit > 0 && req.Amount > s.limit {
		return domain.ReservationResult{}, fmt.Errorf("amount %d exceeds authorization limit %d: %w", req.Amount, s.limit, domain.ErrReservationRejected)
	}

	var result domain.ReservationResult
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.payments.GetByOrder(ctx, req.OrderID)
		switch {
		case err == nil:
			if existing.Status == domain.PaymentStatusVoided {
				return fmt.Errorf("payment for order %s already voided: %w", req.OrderID, domain.ErrReservationRejected)
			}
			if existing.AmountMinor != req.Amount {
				return fmt.Errorf("payment for order %s authorized for %d, requested %d: %w", req.OrderID, existing.AmountMinor, req.Amount, domain.ErrAmountMismatch)
			}
			result = toResult(existing)
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		auth := domain.PaymentAuthorization{
			ID:          uuid.NewString(),
			OrderID:     req.OrderID,
			AmountMinor: req.Amount,
			Status:      domain.PaymentStatusAuthorized,
		}
		if err := s.payments.Create(ctx, auth); err != nil {
			return err
		}
		result = toResult(auth)
		return nil
	})
	if err != nil {
		return domain.ReservationResult{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":   req.OrderID,
		"payment_id": result.ReservationID,
		"amount":     req.Amount,
	}).Debug("payment authorized")
	return result, nil
}

// Confirm захватывает авторизованную сумму.
func (s *Service) Confirm(ctx context.Context, paymentID string) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		auth, err := s.payments.Get(ctx, paymentID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("payment %s: %w", paymentID, domain.ErrExpiredReservation)
			}
			return err
		}
		_, err = s.capture(ctx, &auth)
		return err
	})
}

// Cancel отменяет авторизацию или возвращает захваченный платёж.
func (s *Service) Cancel(ctx context.Context, paymentID string) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		auth, err := s.payments.Get(ctx, paymentID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}
		_, err = s.void(ctx, &auth)
		return err
	})
}

func (s *Service) capture(ctx context.Context, auth *domain.PaymentAuthorization) (bool, error) {
	switch auth.Status {
	case domain.PaymentStatusCaptured:
		return false, nil
	case domain.PaymentStatusVoided:
		return false, fmt.Errorf("payment %s already voided: %w", auth.ID, domain.ErrExpiredReservation)
	}
	auth.Status = domain.PaymentStatusCaptured
	return true, s.payments.Save(ctx, *auth)
}

func (s *Service) void(ctx context.Context, auth *domain.PaymentAuthorization) (bool, error) {
	if auth.Status == domain.PaymentStatusVoided {
		return false, nil
	}
	auth.Status = domain.PaymentStatusVoided
	return true, s.payments.Save(ctx, *auth)
}

func toResult(a domain.PaymentAuthorization) domain.ReservationResult {
	return domain.ReservationResult{
		ReservationID: a.ID,
		Amount:        a.AmountMinor,
		Status:        domain.ReservationStatusHeld,
	}
}

var _ domain.ReservationClient = (*Service)(nil)
