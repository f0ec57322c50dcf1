package grpcx

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Dakshin211/soulsync-vibes-connect/pkg/logger"
)

const (
	defaultCallTimeout = 10 * time.Second
	mdRequestID        = "x-request-id"
)

// UnaryServerInterceptor: req_id и rpc в контексте логгера, recovery, deadline
// по умолчанию (timeout <= 0 — 10 секунд) и строка лога на вызов.
func UnaryServerInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		reqID := requestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(mdRequestID, reqID))
		ctx = logger.With(ctx, slog.String("req_id", reqID), slog.String("rpc", info.FullMethod))

		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "grpc panic", "panic", r, "stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal server error")
			}
			code := status.Code(err)
			level := slog.LevelInfo
			if !quiet(code) {
				level = slog.LevelWarn
			}
			attrs := []any{"code", code.String(), "dur_ms", time.Since(start).Milliseconds()}
			if err != nil {
				attrs = append(attrs, "err", err.Error())
			}
			slog.Log(ctx, level, "grpc unary", attrs...)
		}()

		return handler(ctx, req)
	}
}

func requestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if id := first(md.Get(mdRequestID)); id != "" && len(id) <= 64 {
			return id
		}
	}
	return uuid.NewString()
}

// quiet: OK и ошибки клиента пишутся на info.
func quiet(c codes.Code) bool {
	switch c {
	case codes.OK, codes.NotFound, codes.InvalidArgument, codes.FailedPrecondition, codes.Unauthenticated:
		return true
	}
	return false
}
