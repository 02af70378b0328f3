package middleware

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/busy-dog/fetch-driver/pkg/compose"
	"github.com/busy-dog/fetch-driver/pkg/driver"
)

const tracerName = "github.com/busy-dog/fetch-driver/pkg/middleware"

// Tracing wraps the rest of the chain in a client span. A nil tracer uses
// the global provider.
func Tracing(tracer trace.Tracer) driver.Middleware {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return func(ctx context.Context, c *driver.Context, next compose.Next) error {
		ctx, span := tracer.Start(ctx, "driver.request",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("fetchdrive.request_id", c.ID),
				attribute.String("url.path", c.Path),
			),
		)
		defer span.End()

		err := next(ctx)

		span.SetAttributes(
			attribute.String("http.request.method", c.Req.Method),
			attribute.String("url.full", c.API),
		)
		if c.Res.Status != 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", c.Res.Status))
		}
		if c.Res.Type != "" {
			span.SetAttributes(attribute.String("fetchdrive.response_type", c.Res.Type))
		}

		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case c.Res.Status >= 500:
			span.SetStatus(codes.Error, fmt.Sprintf("status %d", c.Res.Status))
		}
		return err
	}
}
