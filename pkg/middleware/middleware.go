// Package middleware provides driver middleware for logging, request ids,
// default headers, tracing, rate limiting and local responses.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/busy-dog/fetch-driver/pkg/compose"
	"github.com/busy-dog/fetch-driver/pkg/driver"
)

// RequestIDHeader carries the driver request id to the server.
const RequestIDHeader = "X-Request-ID"

// Logging logs requests with structured logging, once when they start and
// once when they complete or fail.
func Logging(logger *slog.Logger) driver.Middleware {
	return func(ctx context.Context, c *driver.Context, next compose.Next) error {
		start := time.Now()

		logger.Info("request started",
			slog.String("request_id", c.ID),
			slog.String("api", c.API),
		)

		err := next(ctx)

		attrs := []slog.Attr{
			slog.String("request_id", c.ID),
			slog.String("method", c.Req.Method),
			slog.String("api", c.API),
			slog.Int("status", c.Res.Status),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
			logger.LogAttrs(ctx, slog.LevelError, "request failed", attrs...)
			return err
		}
		logger.LogAttrs(ctx, slog.LevelInfo, "request completed", attrs...)
		return nil
	}
}

// RequestID sends the context id as X-Request-ID unless the caller set one.
func RequestID() driver.Middleware {
	return func(ctx context.Context, c *driver.Context, next compose.Next) error {
		if c.Req.Header.Get(RequestIDHeader) == "" {
			c.Req.Header.Set(RequestIDHeader, c.ID)
		}
		return next(ctx)
	}
}

// Headers adds every header in defaults that the request does not already
// carry.
func Headers(defaults http.Header) driver.Middleware {
	return func(ctx context.Context, c *driver.Context, next compose.Next) error {
		for name, values := range defaults {
			if len(values) == 0 || c.Req.Header.Get(name) != "" {
				continue
			}
			for _, v := range values {
				c.Req.Header.Add(name, v)
			}
		}
		return next(ctx)
	}
}

// UserAgent sets the User-Agent header unless the caller set one.
func UserAgent(ua string) driver.Middleware {
	return Headers(http.Header{"User-Agent": {ua}})
}

// RateLimit waits for limiter before letting a request through. A
// cancelled context fails the request without sending it.
func RateLimit(limiter *rate.Limiter) driver.Middleware {
	return func(ctx context.Context, c *driver.Context, next compose.Next) error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		return next(ctx)
	}
}

// Static answers every request it sees locally with status and body, without
// running the rest of the chain.
func Static(status int, body any) driver.Middleware {
	return func(ctx context.Context, c *driver.Context, next compose.Next) error {
		c.Res.Status = status
		c.Res.Body = body
		if c.Res.Type == "" {
			c.Res.Type = driver.DefaultType
		}
		return nil
	}
}
