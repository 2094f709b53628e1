// Package inventory реализует складской сервис: удержание стока сагой и списание по событию OrderCreated.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/database"
)

// Service удерживает, списывает и возвращает сток. Все изменения позиций идут через optimistic-версию.
type Service struct {
	tx       domain.TxManager
	stock    domain.StockRepository
	attempts int
	logger   *log.Entry
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConflictAttempts задаёт число попыток на строку при конфликте версий.
func WithConflictAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// NewService создаёт складской сервис поверх хранилища.
func NewService(tx domain.TxManager, stock domain.StockRepository, opts ...Option) *Service {
	s := &Service{
		tx:       tx,
		stock:    stock,
		attempts: database.DefaultConflictAttempts,
		logger:   log.WithField("component", "inventory"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reserve удерживает все строки запроса в одной транзакции. Повтор по тому же заказу возвращает существующий резерв.
func (s *Service) Reserve(ctx context.Context, req domain.ReservationRequest) (domain.ReservationResult, error) {
	if errs := req.Validate(); len(errs) > 0 {
		return domain.ReservationResult{}, fmt.Errorf("stock request: %w: %w", domain.ErrReservationRejected, errors.Join(errs...))
	}
	if len(req.Lines) == 0 {
		return domain.ReservationResult{}, fmt.Errorf("stock request without lines: %w", domain.ErrReservationRejected)
	}

	var result domain.ReservationResult
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.stock.GetReservationByOrder(ctx, req.OrderID)
		switch {
		case err == nil:
			if existing.Status == domain.ReservationStatusReleased {
				return fmt.Errorf("stock reservation for order %s already released: %w", req.OrderID, domain.ErrReservationRejected)
			}
			result = toResult(existing)
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		for _, line := range req.Lines {
			qty := line.Qty
			if err := s.applyLine(ctx, line.SKU, func(item *domain.StockItem) error { return item.Hold(qty) }); err != nil {
				return err
			}
		}

		reservation := domain.StockReservation{
			ID:      uuid.NewString(),
			OrderID: req.OrderID,
			Lines:   append([]domain.ReservationLine(nil), req.Lines...),
			Status:  domain.ReservationStatusHeld,
		}
		if err := s.stock.CreateReservation(ctx, reservation); err != nil {
			return err
		}
		result = toResult(reservation)
		return nil
	})
	if err != nil {
		return domain.ReservationResult{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":       req.OrderID,
		"reservation_id": result.ReservationID,
		"lines":          len(req.Lines),
	}).Debug("stock held")
	return result, nil
}

// Confirm списывает удержанный сток.
func (s *Service) Confirm(ctx context.Context, reservationID string) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		reservation, err := s.stock.GetReservation(ctx, reservationID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("stock reservation %s: %w", reservationID, domain.ErrExpiredReservation)
			}
			return err
		}
		_, err = s.deduct(ctx, &reservation)
		return err
	})
}

// Cancel снимает удержание или возвращает уже списанный сток. Отсутствующий резерв не считается ошибкой.
func (s *Service) Cancel(ctx context.Context, reservationID string) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		reservation, err := s.stock.GetReservation(ctx, reservationID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.logger.WithField("reservation_id", reservationID).Debug("stock reservation missing, nothing to cancel")
				return nil
			}
			return err
		}
		_, err = s.release(ctx, &reservation)
		return err
	})
}

// deduct переводит HELD-резерв в CONFIRMED. Вызывать внутри транзакции; false означает, что резерв уже списан.
func (s *Service) deduct(ctx context.Context, reservation *domain.StockReservation) (bool, error) {
	switch reservation.Status {
	case domain.ReservationStatusConfirmed:
		return false, nil
	case domain.ReservationStatusReleased:
		return false, fmt.Errorf("stock reservation %s already released: %w", reservation.ID, domain.ErrExpiredReservation)
	}

	for _, line := range reservation.Lines {
		qty := line.Qty
		if err := s.applyLine(ctx, line.SKU, func(item *domain.StockItem) error { return item.Deduct(qty) }); err != nil {
			return false, err
		}
	}
	reservation.Status = domain.ReservationStatusConfirmed
	if err := s.stock.SaveReservation(ctx, *reservation); err != nil {
		return false, err
	}
	return true, nil
}

// release снимает HELD или возвращает CONFIRMED. Вызывать внутри транзакции; false означает, что резерв уже снят.
func (s *Service) release(ctx context.Context, reservation *domain.StockReservation) (bool, error) {
	var mutate func(item *domain.StockItem, qty int32) error
	switch reservation.Status {
	case domain.ReservationStatusReleased:
		return false, nil
	case domain.ReservationStatusConfirmed:
		mutate = func(item *domain.StockItem, qty int32) error { item.Restock(qty); return nil }
	default:
		mutate = func(item *domain.StockItem, qty int32) error { item.ReleaseHold(qty); return nil }
	}

	for _, line := range reservation.Lines {
		qty := line.Qty
		if err := s.applyLine(ctx, line.SKU, func(item *domain.StockItem) error { return mutate(item, qty) }); err != nil {
			return false, err
		}
	}
	reservation.Status = domain.ReservationStatusReleased
	if err := s.stock.SaveReservation(ctx, *reservation); err != nil {
		return false, err
	}
	return true, nil
}

// applyLine перечитывает позицию и применяет mutate, повторяя при конфликте версий.
func (s *Service) applyLine(ctx context.Context, sku string, mutate func(item *domain.StockItem) error) error {
	return database.RetryOnConflict(ctx, s.attempts, func(ctx context.Context) error {
		item, err := s.stock.GetItem(ctx, sku)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("unknown sku %s: %w", sku, domain.ErrReservationRejected)
			}
			return err
		}
		if err := mutate(&item); err != nil {
			return err
		}
		return s.stock.SaveItem(ctx, item)
	})
}

func toResult(r domain.StockReservation) domain.ReservationResult {
	var qty int64
	for _, line := range r.Lines {
		qty += int64(line.Qty)
	}
	return domain.ReservationResult{
		ReservationID: r.ID,
		Amount:        qty,
		Status:        r.Status,
	}
}

var _ domain.ReservationClient = (*Service)(nil)
