package logger

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// AttrsFromCtx: атрибуты, положенные через With, плюс trace_id/span_id
// активного span.
func AttrsFromCtx(ctx context.Context) []slog.Attr {
	attrs := contextAttrs(ctx)
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return attrs
	}

	out := make([]slog.Attr, 0, len(attrs)+2)
	out = append(out, attrs...)
	return append(out,
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

// traceHandler дописывает атрибуты контекста к каждой записи.
type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := AttrsFromCtx(ctx); len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{h.Handler.WithGroup(name)}
}
