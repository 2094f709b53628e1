package coupon

import (
	"context"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// Client адаптирует Manager к domain.ReservationClient. Amount в ответе равен скидке купона.
type Client struct {
	manager *Manager
}

// NewClient создаёт клиент купонного сервиса.
func NewClient(manager *Manager) *Client {
	return &Client{manager: manager}
}

// Reserve удерживает купон req.ResourceRef под заказ req.OrderID.
func (c *Client) Reserve(ctx context.Context, req domain.ReservationRequest) (domain.ReservationResult, error) {
	hold, coupon, err := c.manager.reserve(ctx, req.ResourceRef, req.OrderID)
	if err != nil {
		return domain.ReservationResult{}, err
	}
	expiresAt := hold.ExpiresAt
	return domain.ReservationResult{
		ReservationID: hold.ID,
		Amount:        coupon.DiscountMinor,
		Status:        domain.ReservationStatusHeld,
		ExpiresAt:     &expiresAt,
	}, nil
}

// Confirm расходует купон.
func (c *Client) Confirm(ctx context.Context, reservationID string) error {
	return c.manager.Confirm(ctx, reservationID)
}

// Cancel возвращает купон.
func (c *Client) Cancel(ctx context.Context, reservationID string) error {
	return c.manager.Cancel(ctx, reservationID)
}

var _ domain.ReservationClient = (*Client)(nil)
