// Package points реализует удержание баллов лояльности под заказ.
package points

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/database"
)

// Service удерживает, списывает и возвращает баллы клиента.
type Service struct {
	tx       domain.TxManager
	points   domain.PointRepository
	attempts int
	logger   *log.Entry
}

// NewService создаёт сервис баллов; logger == nil означает логгер по умолчанию.
func NewService(tx domain.TxManager, points domain.PointRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "points")
	}
	return &Service{
		tx:       tx,
		points:   points,
		attempts: database.DefaultConflictAttempts,
		logger:   logger,
	}
}

// Reserve удерживает req.Amount баллов клиента req.CustomerID. Повтор по тому же заказу возвращает существующее удержание.
func (s *Service) Reserve(ctx context.Context, req domain.ReservationRequest) (domain.ReservationResult, error) {
	if errs := req.Validate(); len(errs) > 0 {
		return domain.ReservationResult{}, fmt.Errorf("points request: %w: %w", domain.ErrReservationRejected, errors.Join(errs...))
	}
	if req.CustomerID == "" || req.Amount <= 0 {
		return domain.ReservationResult{}, fmt.Errorf("points request needs customer and positive amount: %w", domain.ErrReservationRejected)
	}

	var result domain.ReservationResult
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.points.GetHoldByOrder(ctx, req.OrderID)
		switch {
		case err == nil:
			if existing.Status == domain.ReservationStatusReleased {
				return fmt.Errorf("point hold for order %s already released: %w", req.OrderID, domain.ErrReservationRejected)
			}
			result = toResult(existing)
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		if err := s.applyAccount(ctx, req.CustomerID, func(acc *domain.PointAccount) error { return acc.Hold(req.Amount) }); err != nil {
			return err
		}
		hold := domain.PointHold{
			ID:         uuid.NewString(),
			CustomerID: req.CustomerID,
			OrderID:    req.OrderID,
			Amount:     req.Amount,
			Status:     domain.ReservationStatusHeld,
		}
		if err := s.points.CreateHold(ctx, hold); err != nil {
			return err
		}
		result = toResult(hold)
		return nil
	})
	if err != nil {
		return domain.ReservationResult{}, err
	}
	return result, nil
}

// Confirm списывает удержанные баллы.
func (s *Service) Confirm(ctx context.Context, holdID string) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		hold, err := s.points.GetHold(ctx, holdID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("point hold %s: %w", holdID, domain.ErrExpiredReservation)
			}
			return err
		}
		_, err = s.confirm(ctx, &hold)
		return err
	})
}

// Cancel снимает удержание или возвращает списанные баллы; отсутствующее удержание не считается ошибкой.
func (s *Service) Cancel(ctx context.Context, holdID string) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		hold, err := s.points.GetHold(ctx, holdID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}
		_, err = s.release(ctx, &hold)
		return err
	})
}

func (s *Service) confirm(ctx context.Context, hold *domain.PointHold) (bool, error) {
	switch hold.Status {
	case domain.ReservationStatusConfirmed:
		return false, nil
	case domain.ReservationStatusReleased:
		return false, fmt.Errorf("point hold %s already released: %w", hold.ID, domain.ErrExpiredReservation)
	}

	amount := hold.Amount
	if err := s.applyAccount(ctx, hold.CustomerID, func(acc *domain.PointAccount) error { return acc.Consume(amount) }); err != nil {
		return false, err
	}
	hold.Status = domain.ReservationStatusConfirmed
	return true, s.points.SaveHold(ctx, *hold)
}

func (s *Service) release(ctx context.Context, hold *domain.PointHold) (bool, error) {
	amount := hold.Amount
	var mutate func(acc *domain.PointAccount) error
	switch hold.Status {
	case domain.ReservationStatusReleased:
		return false, nil
	case domain.ReservationStatusConfirmed:
		mutate = func(acc *domain.PointAccount) error { acc.Refund(amount); return nil }
	default:
		mutate = func(acc *domain.PointAccount) error { acc.ReleaseHold(amount); return nil }
	}

	if err := s.applyAccount(ctx, hold.CustomerID, mutate); err != nil {
		return false, err
	}
	hold.Status = domain.ReservationStatusReleased
	return true, s.points.SaveHold(ctx, *hold)
}

func (s *Service) applyAccount(ctx context.Context, customerID string, mutate func(acc *domain.PointAccount) error) error {
	return database.RetryOnConflict(ctx, s.attempts, func(ctx context.Context) error {
		acc, err := s.points.GetAccount(ctx, customerID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("no point account for %s: %w", customerID, domain.ErrReservationRejected)
			}
			return err
		}
		if err := mutate(&acc); err != nil {
			return err
		}
		return s.points.SaveAccount(ctx, acc)
	})
}

func toResult(h domain.PointHold) domain.ReservationResult {
	return domain.ReservationResult{ReservationID: h.ID, Amount: h.Amount, Status: h.Status}
}

var _ domain.ReservationClient = (*Service)(nil)
