package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// withSpanRecorder installs a recording TracerProvider as the global provider
// for the duration of the test.
func withSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestStartSessionSpanCarriesSessionID(t *testing.T) {
	recorder := withSpanRecorder(t)

	_, span := StartSessionSpan(context.Background(), "dictation.finalize", "sess-42")
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].Name(); got != "dictation.finalize" {
		t.Errorf("span name = %q, want %q", got, "dictation.finalize")
	}
	var sessionID string
	for _, attr := range spans[0].Attributes() {
		if attr.Key == attribute.Key("voxscribe.session_id") {
			sessionID = attr.Value.AsString()
		}
	}
	if sessionID != "sess-42" {
		t.Errorf("voxscribe.session_id = %q, want %q", sessionID, "sess-42")
	}
}

func TestCorrelationIDEmptyWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID on bare context = %q, want empty", got)
	}
}

func TestLoggerAttachesTraceIDs(t *testing.T) {
	withSpanRecorder(t)

	ctx, span := StartSpan(context.Background(), "test")
	defer span.End()

	if got := CorrelationID(ctx); got == "" {
		t.Error("CorrelationID empty inside active span")
	}
	if Logger(ctx) == nil {
		t.Fatal("Logger returned nil")
	}
}
