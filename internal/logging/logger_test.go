package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fyrsmithlabs/docsearch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestLogger_ContextAwareMethods(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRequestID(context.Background(), "req-123")

	tests := []struct {
		name  string
		log   func()
		level zapcore.Level
	}{
		{"trace", func() { tl.Trace(ctx, "msg") }, TraceLevel},
		{"debug", func() { tl.Debug(ctx, "msg") }, zapcore.DebugLevel},
		{"info", func() { tl.Info(ctx, "msg") }, zapcore.InfoLevel},
		{"warn", func() { tl.Warn(ctx, "msg") }, zapcore.WarnLevel},
		{"error", func() { tl.Error(ctx, "msg") }, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl.Reset()
			tt.log()

			logs := tl.All()
			require.Len(t, logs, 1)
			assert.Equal(t, tt.level, logs[0].Level)
			assert.Equal(t, "req-123", logs[0].ContextMap()["request_id"])
		})
	}
}

func TestContextFields_Trace(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	fields := ContextFields(ctx)
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", enc.Fields["trace_id"])
	assert.Equal(t, "0102030405060708", enc.Fields["span_id"])
}

func TestWithRequestID_RejectsUnsafeValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(WithRequestID(ctx, "")))
	assert.Empty(t, RequestIDFromContext(WithRequestID(ctx, "bad id\n")))
	assert.Equal(t, "abc_DEF-1", RequestIDFromContext(WithRequestID(ctx, "abc_DEF-1")))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"trace", TraceLevel},
		{"WARN", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{" debug ", zapcore.DebugLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		lvl, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, lvl, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings("debug", "console")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromSettings("nope", "")
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stream = ""
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Output.Stream = "file"
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Sampling.Tick = 0
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Redaction.Patterns = []string{"("}
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Fields = map[string]string{"k": ""}
	assert.Error(t, cfg.Validate())
}

func newBufferedRedactingLogger(t *testing.T) (*zap.Logger, *bytes.Buffer) {
	t.Helper()
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)
	buf := &bytes.Buffer{}
	core := zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel)
	return zap.New(core), buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestRedactingEncoder_PerCallFields(t *testing.T) {
	z, buf := newBufferedRedactingLogger(t)

	z.Info("login", zap.String("api_key", "sk-abc"), zap.String("user", "alice"))

	out := decodeLine(t, buf)
	assert.Equal(t, "[REDACTED]", out["api_key"])
	assert.Equal(t, "alice", out["user"])
}

func TestRedactingEncoder_WithFields(t *testing.T) {
	z, buf := newBufferedRedactingLogger(t)

	z.With(zap.String("Authorization", "Bearer xyz")).Info("request")

	out := decodeLine(t, buf)
	assert.Equal(t, "[REDACTED]", out["Authorization"])
}

func TestRedactingEncoder_ValuePattern(t *testing.T) {
	z, buf := newBufferedRedactingLogger(t)

	z.Info("call upstream with bearer abc123", zap.String("header", "Bearer abc123"))

	out := decodeLine(t, buf)
	assert.Equal(t, "[REDACTED:pattern]", out["header"])
	assert.NotContains(t, out["msg"], "abc123")
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: false})
	require.NoError(t, err)
	buf := &bytes.Buffer{}
	zap.New(zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.InfoLevel)).
		Info("x", zap.String("password", "visible"))

	assert.Equal(t, "visible", decodeLine(t, buf)["password"])
}

func TestSecretField(t *testing.T) {
	f := Secret("api_key", config.Secret("sk-1234567890abcdef"))
	assert.Equal(t, "[REDACTED:19]", f.String)
}

func TestEncodeLevel_Trace(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{})
	require.NoError(t, err)
	buf := &bytes.Buffer{}
	zap.New(zapcore.NewCore(enc, zapcore.AddSync(buf), TraceLevel)).Log(TraceLevel, "deep")

	assert.Equal(t, "trace", decodeLine(t, buf)["level"])
}

func TestSampledCore_ErrorsNeverSampled(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled:    true,
		Tick:       time.Minute,
		Initial:    1,
		Thereafter: 0,
	})
	z := zap.New(sampled)

	for i := 0; i < 5; i++ {
		z.Info("repeated")
		z.Error("failure")
	}

	assert.Equal(t, 1, observed.FilterMessage("repeated").Len())
	assert.Equal(t, 5, observed.FilterMessage("failure").Len())
}

func TestTestLogger_AssertField(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "stored batch", zap.String("batch_id", "b1"), zap.Int("count", 3))

	tl.AssertField(t, "stored", "batch_id", "b1")
	tl.AssertField(t, "stored", "count", int64(3))
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "stored")
}
