// Package grpcsvc публикует сагу создания заказа и административные операции outbox по gRPC.
package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/breaker"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/saga"
)

const (
	defaultListFailedLimit = 100
	maxListFailedLimit     = 1000
)

// OrderService реализует OrderSagaServer.
type OrderService struct {
	saga     saga.Creator
	retrying saga.Creator
	orders   domain.OrderRepository
	outbox   domain.OutboxRepository
	breakers *breaker.Registry
	logger   *log.Entry
}

var _ OrderSagaServer = (*OrderService)(nil)

// NewOrderService конструирует сервис. retrying может быть nil: тогда retry_transient игнорируется.
func NewOrderService(
	orchestrator saga.Creator,
	retrying saga.Creator,
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	breakers *breaker.Registry,
	logger *log.Entry,
) *OrderService {
	if logger == nil {
		logger = log.WithField("component", "grpc-order-service")
	}
	if retrying == nil {
		retrying = orchestrator
	}
	return &OrderService{
		saga:     orchestrator,
		retrying: retrying,
		orders:   orders,
		outbox:   outbox,
		breakers: breakers,
		logger:   logger,
	}
}

type createOrderItem struct {
	SKU        string `json:"sku"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

type createOrderRequest struct {
	OrderID        string            `json:"order_id"`
	CustomerID     string            `json:"customer_id"`
	Items          []createOrderItem `json:"items"`
	PointAmount    int64             `json:"point_amount"`
	CouponID       string            `json:"coupon_id"`
	RetryTransient bool              `json:"retry_transient"`
}

func (r createOrderRequest) toSaga() saga.CreateOrderRequest {
	items := make([]saga.CreateOrderItem, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, saga.CreateOrderItem{SKU: item.SKU, Qty: item.Qty, PriceMinor: item.PriceMinor})
	}
	return saga.CreateOrderRequest{
		OrderID:     r.OrderID,
		CustomerID:  r.CustomerID,
		Items:       items,
		PointAmount: r.PointAmount,
		CouponID:    r.CouponID,
	}
}

// CreateOrder выполняет сагу синхронно. Отменённый заказ в деталях ошибки не передаётся:
// клиент получает код и шаг, состояние доступно через GetOrder.
func (s *OrderService) CreateOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in createOrderRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}

	creator := s.saga
	if in.RetryTransient {
		creator = s.retrying
	}

	order, err := creator.CreateOrder(ctx, in.toSaga())
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":    order.ID,
			"customer_id": in.CustomerID,
		}).Warn("create order failed")
		return nil, toStatus(err)
	}
	return encodeStruct(orderResponse(order))
}

// GetOrder возвращает заказ по order_id.
func (s *OrderService) GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID := stringField(req, "order_id")
	if orderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(orderResponse(order))
}

// ListFailedOutbox возвращает dead-letter строки outbox.
func (s *OrderService) ListFailedOutbox(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit := int(numberField(req, "limit"))
	if limit <= 0 {
		limit = defaultListFailedLimit
	}
	if limit > maxListFailedLimit {
		limit = maxListFailedLimit
	}

	rows, err := s.outbox.ListFailed(ctx, limit)
	if err != nil {
		return nil, toStatus(err)
	}
	messages := make([]outboxView, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, toOutboxView(row))
	}
	return encodeStruct(map[string]any{"messages": messages})
}

// RequeueOutbox возвращает FAILED-строку в READY.
func (s *OrderService) RequeueOutbox(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	if err := s.outbox.Requeue(ctx, id); err != nil {
		return nil, toStatus(err)
	}
	s.logger.WithField("event_id", id).Info("outbox message requeued")
	return encodeStruct(map[string]any{"id": id, "status": string(domain.OutboxStatusReady)})
}

// BreakerStates возвращает снимок circuit breaker'ов.
func (s *OrderService) BreakerStates(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	snapshot := s.breakers.Snapshot()
	views := make([]breakerView, 0, len(snapshot))
	for _, st := range snapshot {
		view := breakerView{
			Name:         st.Name,
			State:        st.State.String(),
			Failures:     st.Failures,
			Threshold:    st.Threshold,
			ResetTimeout: st.ResetTimeout.String(),
		}
		if !st.OpenedAt.IsZero() {
			view.OpenedAt = st.OpenedAt.UTC().Format(time.RFC3339Nano)
		}
		views = append(views, view)
	}
	return encodeStruct(map[string]any{"breakers": views})
}

type orderView struct {
	OrderID       string                `json:"order_id"`
	CustomerID    string                `json:"customer_id"`
	Status        string                `json:"status"`
	Items         []domain.OrderItem    `json:"items"`
	CouponID      string                `json:"coupon_id,omitempty"`
	AmountTotal   int64                 `json:"amount_total"`
	AmountCoupon  int64                 `json:"amount_coupon"`
	AmountPoint   int64                 `json:"amount_point"`
	AmountPayable int64                 `json:"amount_payable"`
	Reservations  domain.ReservationIDs `json:"reservations"`
	FailedStep    string                `json:"failed_step,omitempty"`
	FailureReason string                `json:"failure_reason,omitempty"`
	Version       int64                 `json:"version"`
	CreatedAt     string                `json:"created_at,omitempty"`
}

func orderResponse(order domain.Order) orderView {
	view := orderView{
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		Status:        string(order.Status),
		Items:         order.Items,
		CouponID:      order.CouponID,
		AmountTotal:   order.AmountTotal,
		AmountCoupon:  order.AmountCoupon,
		AmountPoint:   order.AmountPoint,
		AmountPayable: order.AmountPayable,
		Reservations:  order.Reservations,
		FailedStep:    string(order.FailedStep),
		FailureReason: order.FailureReason,
		Version:       order.Version,
	}
	if !order.CreatedAt.IsZero() {
		view.CreatedAt = order.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return view
}

type outboxView struct {
	ID            string `json:"id"`
	AggregateType string `json:"aggregate_type"`
	AggregateID   string `json:"aggregate_id"`
	EventType     string `json:"event_type"`
	RetryCount    int    `json:"retry_count"`
	LastError     string `json:"last_error,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toOutboxView(msg domain.OutboxMessage) outboxView {
	return outboxView{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		RetryCount:    msg.RetryCount,
		LastError:     msg.LastError,
		CreatedAt:     msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

type breakerView struct {
	Name         string `json:"name"`
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	Threshold    int    `json:"threshold"`
	ResetTimeout string `json:"reset_timeout"`
	OpenedAt     string `json:"opened_at,omitempty"`
}

// toStatus переводит ошибки таксономии в коды gRPC.
func toStatus(err error) error {
	step, hasStep := saga.FailedStep(err)
	withStep := func(msg string) string {
		if hasStep {
			return fmt.Sprintf("%s at step %s", msg, step)
		}
		return msg
	}

	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrServiceUnavailable):
		return status.Error(codes.Unavailable, withStep("dependency unavailable, retry shortly"))
	case errors.Is(err, domain.ErrReservationRejected):
		return status.Error(codes.FailedPrecondition, withStep("reservation rejected"))
	case errors.Is(err, domain.ErrExpiredReservation):
		return status.Error(codes.FailedPrecondition, withStep("reservation expired"))
	case errors.Is(err, domain.ErrAmountMismatch):
		return status.Error(codes.InvalidArgument, withStep("order amount mismatch"))
	case errors.Is(err, domain.ErrTransientFailure):
		return status.Error(codes.Aborted, withStep("transient failure, order cancelled"))
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrOutboxNotFound), errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, withStep("internal error"))
	}
}

func decodeStruct(in *structpb.Struct, out any) error {
	if in == nil {
		return errors.New("request is required")
	}
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func encodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func stringField(req *structpb.Struct, name string) string {
	if req == nil {
		return ""
	}
	return req.GetFields()[name].GetStringValue()
}

func numberField(req *structpb.Struct, name string) float64 {
	if req == nil {
		return 0
	}
	return req.GetFields()[name].GetNumberValue()
}
