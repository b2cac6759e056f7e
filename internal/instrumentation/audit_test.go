package instrumentation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	testEmail       = "jane@example.com"
	testDomain      = "example.com"
	testSessionHash = "3f2a9c1b"
	testToolStatus  = "session_status"
	testToolGet     = "upstream_get"
)

func attrsByKey(attrs []slog.Attr) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		m[attr.Key] = attr.Value.String()
	}
	return m
}

func TestToolInvocation_Complete(t *testing.T) {
	ti := NewToolInvocation(testToolStatus)
	require.False(t, ti.StartTime.IsZero())

	ti.CompleteSuccess()
	assert.True(t, ti.Success)
	assert.Equal(t, StatusSuccess, ti.Status())
	assert.GreaterOrEqual(t, ti.Duration.Nanoseconds(), int64(0))
	assert.Empty(t, ti.Error)

	ti = NewToolInvocation(testToolGet).CompleteWithError(errors.New("upstream returned 502"))
	assert.False(t, ti.Success)
	assert.Equal(t, StatusError, ti.Status())
	assert.Equal(t, "upstream returned 502", ti.Error)
}

func TestToolInvocation_LogAttrs(t *testing.T) {
	ti := NewToolInvocation(testToolGet).
		WithUser(testEmail).
		WithSession(testSessionHash, TransportSSE).
		WithOperation(OperationGet).
		CompleteWithError(errors.New("boom"))

	tests := []struct {
		name       string
		includePII bool
		want       map[string]string
		absent     []string
	}{
		{
			name: "domain only",
			want: map[string]string{
				"tool":        testToolGet,
				"user_domain": testDomain,
				"session":     testSessionHash,
				"transport":   TransportSSE,
				"operation":   OperationGet,
				"error":       "boom",
			},
			absent: []string{"user"},
		},
		{
			name:       "with PII",
			includePII: true,
			want: map[string]string{
				"user":    testEmail,
				"session": testSessionHash,
			},
			absent: []string{"user_domain"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := attrsByKey(ti.LogAttrs(tt.includePII))
			for k, v := range tt.want {
				assert.Equal(t, v, attrs[k], k)
			}
			for _, k := range tt.absent {
				assert.NotContains(t, attrs, k)
			}
		})
	}
}

func TestToolInvocation_LogAttrsOmitsEmptyFields(t *testing.T) {
	attrs := attrsByKey(NewToolInvocation(testToolStatus).CompleteSuccess().LogAttrs(false))

	for _, k := range []string{"session", "transport", "operation", "trace_id", "span_id", "error"} {
		assert.NotContains(t, attrs, k)
	}
}

func TestToolInvocation_WithSpanContext(t *testing.T) {
	ti := NewToolInvocation(testToolStatus).WithSpanContext(context.Background())
	assert.Empty(t, ti.TraceID)
	assert.Empty(t, ti.SpanID)

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "tool."+testToolStatus)
	defer span.End()

	ti = NewToolInvocation(testToolStatus).WithSpanContext(ctx)
	assert.Equal(t, span.SpanContext().TraceID().String(), ti.TraceID)
	assert.Equal(t, span.SpanContext().SpanID().String(), ti.SpanID)
}

func TestAuditLogger_LogToolInvocation(t *testing.T) {
	tests := []struct {
		name      string
		cfg       AuditLoggingConfig
		wantLines int
		wantEmail bool
	}{
		{name: "default", cfg: AuditLoggingConfig{Enabled: true}, wantLines: 2},
		{name: "include PII", cfg: AuditLoggingConfig{Enabled: true, IncludePII: true}, wantLines: 2, wantEmail: true},
		{name: "disabled", cfg: AuditLoggingConfig{}, wantLines: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			al := NewAuditLoggerWithConfig(slog.New(slog.NewJSONHandler(&buf, nil)), tt.cfg)

			al.LogToolInvocation(NewToolInvocation(testToolStatus).WithUser(testEmail).CompleteSuccess())
			al.LogToolInvocation(NewToolInvocation(testToolGet).WithUser(testEmail).CompleteWithError(errors.New("boom")))

			out := strings.TrimSpace(buf.String())
			if tt.wantLines == 0 {
				assert.Empty(t, out)
				return
			}

			lines := strings.Split(out, "\n")
			require.Len(t, lines, tt.wantLines)

			var ok, failed map[string]any
			require.NoError(t, json.Unmarshal([]byte(lines[0]), &ok))
			require.NoError(t, json.Unmarshal([]byte(lines[1]), &failed))
			assert.Equal(t, "tool_executed", ok["msg"])
			assert.Equal(t, "INFO", ok["level"])
			assert.Equal(t, "tool_failed", failed["msg"])
			assert.Equal(t, "WARN", failed["level"])
			assert.Equal(t, tt.wantEmail, strings.Contains(out, testEmail))
		})
	}
}

func TestAuditLogger_Nil(t *testing.T) {
	var al *AuditLogger
	assert.NotPanics(t, func() { al.LogToolInvocation(NewToolInvocation(testToolStatus).CompleteSuccess()) })

	assert.NotNil(t, NewAuditLogger(nil).logger)
}
