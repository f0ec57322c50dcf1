package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/Dakshin211/soulsync-vibes-connect/pkg/logger"
)

func TestDetectEnv(t *testing.T) {
	t.Setenv("SOULSYNC_ENV", "")
	t.Setenv("APP_ENV", "")
	assert.Equal(t, logger.EnvDev, logger.DetectEnv())

	t.Setenv("APP_ENV", "staging")
	assert.Equal(t, logger.EnvStage, logger.DetectEnv())

	t.Setenv("SOULSYNC_ENV", "production")
	assert.Equal(t, logger.EnvProd, logger.DetectEnv())
}

func TestParseEnv(t *testing.T) {
	assert.Equal(t, logger.EnvProd, logger.ParseEnv(" PROD "))
	assert.Equal(t, logger.EnvStage, logger.ParseEnv("preprod"))
	assert.Equal(t, logger.EnvDev, logger.ParseEnv("qa"))
}

func TestInit_DevStd_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	l := logger.Init(logger.Config{
		Service: "demo",
		Version: "v0.0.1",
		Env:     logger.EnvDev,
		Backend: logger.BackendStd,
		Level:   slog.LevelDebug,
		Output:  &buf,
	})
	l.Info("Hello world")

	out := buf.String()
	assert.False(t, strings.HasPrefix(out, "{"), "expected text output, got %s", out)
	assert.Contains(t, out, "Hello world")
	assert.Contains(t, out, "service=demo")
	assert.Contains(t, out, "env=dev")
}

func TestInit_ProdZap_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := logger.Init(logger.Config{
		Service:          "demo",
		Version:          "1.2.3",
		Env:              logger.EnvProd,
		Backend:          logger.BackendZap,
		Level:            slog.LevelInfo,
		Output:           &buf,
		SampleInitial:    100000,
		SampleThereafter: 100000,
	})
	l.Info("booted", slog.String("k", "v"))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m), "expected JSON line, got %s", buf.String())
	assert.Equal(t, "booted", m["msg"])
	assert.Equal(t, "demo", m["service"])
	assert.Equal(t, "prod", m["env"])
	assert.Equal(t, "1.2.3", m["version"])
	assert.Equal(t, "INFO", m["level"])
	assert.Equal(t, "v", m["k"])
}

func TestInit_TraceIDsFromContext(t *testing.T) {
	var buf bytes.Buffer
	l := logger.Init(logger.Config{
		Service: "demo",
		Env:     logger.EnvStage,
		Backend: logger.BackendStd,
		Output:  &buf,
	})

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
		SpanID:     trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	l.InfoContext(ctx, "with trace")

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m), "expected JSON in stage, got %s", buf.String())
	assert.Equal(t, "with trace", m["msg"])
	assert.Equal(t, sc.TraceID().String(), m["trace_id"])
	assert.Equal(t, sc.SpanID().String(), m["span_id"])
}

func TestAttrsFromCtx_NoSpan(t *testing.T) {
	assert.Nil(t, logger.AttrsFromCtx(context.Background()))
}

func TestWith_ContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := logger.Init(logger.Config{
		Service: "demo",
		Env:     logger.EnvProd,
		Backend: logger.BackendStd,
		Output:  &buf,
	})

	ctx := logger.With(context.Background(), slog.String("req_id", "r-1"))
	ctx = logger.With(ctx, slog.String("user_id", "alice"))
	l.InfoContext(ctx, "joined")

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m), buf.String())
	assert.Equal(t, "r-1", m["req_id"])
	assert.Equal(t, "alice", m["user_id"])

	// родительский контекст не меняется
	parent := logger.With(context.Background(), slog.String("a", "b"))
	_ = logger.With(parent, slog.String("c", "d"))
	assert.Len(t, logger.AttrsFromCtx(parent), 1)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logger.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, logger.ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, logger.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, logger.ParseLevel("whatever"))
}
