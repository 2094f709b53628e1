package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName - полное имя gRPC-сервиса саги.
const ServiceName = "ordersaga.v1.OrderSagaService"

// Имена методов для клиентов и interceptor'ов.
const (
	MethodCreateOrder      = "/" + ServiceName + "/CreateOrder"
	MethodGetOrder         = "/" + ServiceName + "/GetOrder"
	MethodListFailedOutbox = "/" + ServiceName + "/ListFailedOutbox"
	MethodRequeueOutbox    = "/" + ServiceName + "/RequeueOutbox"
	MethodBreakerStates    = "/" + ServiceName + "/BreakerStates"
)

// OrderSagaServer - контракт сервиса. Сообщения передаются как google.protobuf.Struct.
type OrderSagaServer interface {
	CreateOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListFailedOutbox(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RequeueOutbox(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	BreakerStates(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(srv OrderSagaServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(OrderSagaServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc описывает сервис для grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderSagaServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: unaryHandler(MethodCreateOrder, OrderSagaServer.CreateOrder)},
		{MethodName: "GetOrder", Handler: unaryHandler(MethodGetOrder, OrderSagaServer.GetOrder)},
		{MethodName: "ListFailedOutbox", Handler: unaryHandler(MethodListFailedOutbox, OrderSagaServer.ListFailedOutbox)},
		{MethodName: "RequeueOutbox", Handler: unaryHandler(MethodRequeueOutbox, OrderSagaServer.RequeueOutbox)},
		{MethodName: "BreakerStates", Handler: unaryHandler(MethodBreakerStates, OrderSagaServer.BreakerStates)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ordersaga/v1/order_saga.proto",
}

// RegisterOrderSagaServer регистрирует реализацию на сервере.
func RegisterOrderSagaServer(s grpc.ServiceRegistrar, srv OrderSagaServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client - тонкий клиент сервиса поверх grpc.ClientConnInterface.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient создаёт клиента.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateOrder(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCreateOrder, req, opts...)
}

func (c *Client) GetOrder(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetOrder, req, opts...)
}

func (c *Client) ListFailedOutbox(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListFailedOutbox, req, opts...)
}

func (c *Client) RequeueOutbox(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRequeueOutbox, req, opts...)
}

func (c *Client) BreakerStates(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodBreakerStates, req, opts...)
}
