package middleware

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/busy-dog/fetch-driver/internal/testutil"
	"github.com/busy-dog/fetch-driver/pkg/driver"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return sr, tp
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracing(t *testing.T) {
	sr, tp := newRecorder(t)
	srv := testutil.NewEchoServer(t)

	d := driver.New(
		driver.WithBaseURL(srv.URL),
		driver.WithLogger(testutil.DiscardLogger()),
		driver.WithRandomID(func() string { return "trace-1" }),
		driver.WithMiddleware(driver.On("*", Tracing(tp.Tracer("test")))),
	)

	if _, err := d.Post(context.Background(), "/post", map[string]int{"a": 1}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "driver.request" {
		t.Errorf("Name() = %q", span.Name())
	}
	got := attrs(span)
	if got["fetchdrive.request_id"].AsString() != "trace-1" {
		t.Errorf("request_id = %v", got["fetchdrive.request_id"])
	}
	if got["http.request.method"].AsString() != http.MethodPost {
		t.Errorf("method = %v", got["http.request.method"])
	}
	if got["http.response.status_code"].AsInt64() != http.StatusOK {
		t.Errorf("status = %v", got["http.response.status_code"])
	}
	if got["fetchdrive.response_type"].AsString() != "json" {
		t.Errorf("response_type = %v", got["fetchdrive.response_type"])
	}
	if span.Status().Code == codes.Error {
		t.Errorf("Status() = %v, want unset", span.Status())
	}
}

func TestTracingRecordsErrors(t *testing.T) {
	sr, tp := newRecorder(t)
	boom := errors.New("boom")

	c := driver.NewContext("/fail", driver.ContextOptions{})
	err := Tracing(tp.Tracer("test"))(context.Background(), c, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Tracing() error = %v, want boom", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error || spans[0].Status().Description != "boom" {
		t.Errorf("Status() = %v", spans[0].Status())
	}
	if len(spans[0].Events()) == 0 {
		t.Error("error event not recorded")
	}
}

func TestTracingServerError(t *testing.T) {
	sr, tp := newRecorder(t)

	c := driver.NewContext("/down", driver.ContextOptions{})
	err := Tracing(tp.Tracer("test"))(context.Background(), c, func(context.Context) error {
		c.Res.Status = http.StatusBadGateway
		return nil
	})
	if err != nil {
		t.Fatalf("Tracing() error = %v", err)
	}
	if spans := sr.Ended(); len(spans) != 1 || spans[0].Status().Code != codes.Error {
		t.Errorf("spans = %v, want one error span", spans)
	}
}
