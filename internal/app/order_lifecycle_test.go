package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/ordersaga/internal/service/grpc"
)

// OrderLifecycleTestSuite проверяет жизненный цикл заказа через gRPC-слой поверх in-process доставки.
type OrderLifecycleTestSuite struct {
	suite.Suite
	stack   *localStack
	service *grpcsvc.OrderService
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	cfg := memoryConfig()
	cfg.PaymentAuthorizationLimit = 2000
	s.stack = newLocalStack(s.T(), cfg)
	s.service = grpcsvc.NewOrderService(
		s.stack.svc.orchestrator,
		s.stack.svc.retrying,
		s.stack.deps.orders,
		s.stack.deps.outbox,
		s.stack.svc.breakers,
		quietLogger(),
	)
}

func (s *OrderLifecycleTestSuite) createOrder(orderID string, qty int) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{
		"order_id":     orderID,
		"customer_id":  "cust-1",
		"items":        []any{map[string]any{"sku": "sku-1", "qty": qty, "price_minor": 500}},
		"point_amount": 100,
		"coupon_id":    "SPRING",
	})
	s.Require().NoError(err)
	return s.service.CreateOrder(context.Background(), req)
}

func (s *OrderLifecycleTestSuite) getOrder(orderID string) map[string]any {
	req, err := structpb.NewStruct(map[string]any{"order_id": orderID})
	s.Require().NoError(err)
	resp, err := s.service.GetOrder(context.Background(), req)
	s.Require().NoError(err)
	return resp.AsMap()
}

func (s *OrderLifecycleTestSuite) TestSuccessfulOrderLifecycle() {
	resp, err := s.createOrder("order-life-1", 2)
	s.Require().NoError(err)
	s.Equal("created", resp.AsMap()["status"])
	s.InDelta(1000-100-250, resp.AsMap()["amount_payable"], 0.001)

	s.stack.drain(s.T())

	order := s.getOrder("order-life-1")
	s.Equal("created", order["status"])
	reservations, ok := order["reservations"].(map[string]any)
	s.Require().True(ok, "reservations must be present: %v", order)
	s.Len(reservations, 4)

	item, err := s.stack.deps.stock.GetItem(context.Background(), "sku-1")
	s.Require().NoError(err)
	s.Equal(int64(8), item.OnHand)
}

func (s *OrderLifecycleTestSuite) TestRejectedOrderLifecycle() {
	_, err := s.createOrder("order-life-2", 6)
	s.Require().Error(err)
	s.Equal(codes.FailedPrecondition, status.Code(err))

	s.stack.drain(s.T())

	order := s.getOrder("order-life-2")
	s.Equal("cancelled", order["status"])
	s.Equal(string(domain.SagaStepPayment), order["failed_step"])

	coupon, err := s.stack.deps.coupons.GetCoupon(context.Background(), "SPRING")
	s.Require().NoError(err)
	s.Equal(domain.CouponStatusAvailable, coupon.Status, "coupon must be released after compensation")
}

func (s *OrderLifecycleTestSuite) TestRepeatedCreateReturnsStoredOrder() {
	_, err := s.createOrder("order-life-3", 1)
	s.Require().NoError(err)

	resp, err := s.createOrder("order-life-3", 1)
	s.Require().NoError(err)
	s.Equal("created", resp.AsMap()["status"])

	s.stack.drain(s.T())
	item, err := s.stack.deps.stock.GetItem(context.Background(), "sku-1")
	s.Require().NoError(err)
	s.Equal(int64(9), item.OnHand, "repeated create must not reserve twice")
}

func TestOrderLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
