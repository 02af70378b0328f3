package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/busy-dog/fetch-driver/pkg/compose"
	"github.com/busy-dog/fetch-driver/pkg/driver"
	"github.com/busy-dog/fetch-driver/pkg/tocurl"
)

// Middleware records every request that passes through it once the rest of
// the chain has finished. Failing to write the journal is logged and does
// not fail the request.
func Middleware(store *Store, logger *slog.Logger) driver.Middleware {
	return func(ctx context.Context, c *driver.Context, next compose.Next) error {
		start := time.Now()
		err := next(ctx)

		entry := &Entry{
			ID:           c.ID,
			Method:       c.Req.Method,
			API:          c.API,
			Curl:         tocurl.ToCurl(c.API, c.Req),
			Status:       c.Res.Status,
			ResponseType: c.Res.Type,
			Duration:     time.Since(start),
		}
		if err != nil {
			entry.Error = err.Error()
		}

		if recErr := store.Record(context.WithoutCancel(ctx), entry); recErr != nil {
			logger.Warn("failed to journal request",
				slog.String("request_id", c.ID),
				slog.String("error", recErr.Error()),
			)
		}
		return err
	}
}
