package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeAdmin struct {
	lastMethod string
	lastReq    map[string]any
}

func (f *fakeAdmin) record(method string, req *structpb.Struct) {
	f.lastMethod = method
	f.lastReq = req.AsMap()
}

func (f *fakeAdmin) GetOrder(_ context.Context, req *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	f.record("GetOrder", req)
	if req.AsMap()["order_id"] == "missing" {
		return nil, status.Error(codes.NotFound, "order not found")
	}
	return structpb.NewStruct(map[string]any{"order_id": req.AsMap()["order_id"], "status": "created"})
}

func (f *fakeAdmin) ListFailedOutbox(_ context.Context, req *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	f.record("ListFailedOutbox", req)
	return structpb.NewStruct(map[string]any{"messages": []any{map[string]any{"id": "evt-1", "status": "FAILED"}}})
}

func (f *fakeAdmin) RequeueOutbox(_ context.Context, req *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	f.record("RequeueOutbox", req)
	return structpb.NewStruct(map[string]any{"id": req.AsMap()["id"], "status": "READY"})
}

func (f *fakeAdmin) BreakerStates(_ context.Context, req *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	f.record("BreakerStates", req)
	return structpb.NewStruct(map[string]any{"breakers": []any{map[string]any{"name": "payment", "state": "OPEN"}}})
}

func run(t *testing.T, args ...string) (*fakeAdmin, string, string, error) {
	t.Helper()
	admin := &fakeAdmin{}
	var addr string
	dial := func(a string) (adminClient, func() error, error) {
		addr = a
		return admin, func() error { return nil }, nil
	}
	var out bytes.Buffer
	err := newCommand(dial, &out).Run(context.Background(), append([]string{"outbox-admin"}, args...))
	return admin, addr, out.String(), err
}

func TestFailed_PassesLimit(t *testing.T) {
	admin, addr, out, err := run(t, "--addr", "saga:50051", "failed", "--limit", "5")
	require.NoError(t, err)

	assert.Equal(t, "saga:50051", addr)
	assert.Equal(t, "ListFailedOutbox", admin.lastMethod)
	assert.InDelta(t, 5.0, admin.lastReq["limit"], 0.001)
	assert.Contains(t, out, `"id": "evt-1"`)
}

func TestRequeue(t *testing.T) {
	admin, _, out, err := run(t, "requeue", "evt-7")
	require.NoError(t, err)

	assert.Equal(t, "evt-7", admin.lastReq["id"])
	assert.Contains(t, out, `"status": "READY"`)
}

func TestRequeue_RequiresID(t *testing.T) {
	_, _, _, err := run(t, "requeue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outbox id is required")
}

func TestOrder_NotFound(t *testing.T) {
	_, _, _, err := run(t, "order", "missing")
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestBreakers(t *testing.T) {
	_, addr, out, err := run(t, "breakers")
	require.NoError(t, err)

	assert.Equal(t, "localhost:50051", addr)
	assert.Contains(t, out, `"state": "OPEN"`)
}
