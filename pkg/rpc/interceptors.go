package rpc

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RequestIDKey is the outgoing metadata key carrying the request ID of a call.
const RequestIDKey = "x-request-id"

// unaryInterceptor tags the call with a new request ID, logs it and records
// its metrics.
func (m *metrics) unaryInterceptor(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	requestID := uuid.NewString()
	ctx = metadata.AppendToOutgoingContext(ctx, RequestIDKey, requestID)
	start := time.Now()
	err := invoker(ctx, method, req, reply, cc, opts...)
	elapsed := time.Since(start)
	code := status.Code(err)
	m.record(ctx, method, code, elapsed)
	slog.Debug("rpc call", "command", method, "request_id", requestID, "code", code.String(), "duration", elapsed)
	return err
}

// RequestID returns the request ID of an incoming call, or "" if there is
// none.
func RequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if ids := md.Get(RequestIDKey); len(ids) > 0 {
		return ids[0]
	}
	return ""
}
