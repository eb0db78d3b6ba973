package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatalf("expected noop logger")
	}
	if Logger(nil) != NoopLogger() {
		t.Fatalf("expected noop logger for nil context")
	}
}

func TestContextValues(t *testing.T) {
	logger := zap.NewExample()
	ctx := WithLogger(context.Background(), logger)
	ctx = WithTrace(ctx, TraceInfo{TraceID: "abc", SpanID: "def", Sampled: true})
	ctx = WithSession(ctx, "01J0SESSION")

	if Logger(ctx) != logger {
		t.Fatalf("expected stored logger")
	}
	if TraceID(ctx) != "abc" {
		t.Fatalf("unexpected trace id %q", TraceID(ctx))
	}
	if Session(ctx) != "01J0SESSION" {
		t.Fatalf("unexpected session %q", Session(ctx))
	}
}
