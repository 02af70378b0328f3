package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"

	"github.com/busy-dog/fetch-driver/internal/config"
	"github.com/busy-dog/fetch-driver/internal/journal"
	"github.com/busy-dog/fetch-driver/internal/telemetry"
	"github.com/busy-dog/fetch-driver/internal/transport"
	"github.com/busy-dog/fetch-driver/pkg/driver"
	"github.com/busy-dog/fetch-driver/pkg/match"
	"github.com/busy-dog/fetch-driver/pkg/middleware"
	"github.com/busy-dog/fetch-driver/pkg/tocurl"
)

// app holds everything a command needs, built once from config.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	driver   *driver.Driver
	journal  *journal.Store
	shutdown func(context.Context) error
}

type appOptions struct {
	// curl, when set, receives the curl rendering of every request.
	curl io.Writer
	// traces receives exported spans when telemetry is enabled.
	traces io.Writer
	logs   io.Writer
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	logger, err := newLogger(cfg.Log, opts.logs)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		shutdown: func(context.Context) error { return nil },
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(cfg.Telemetry.ServiceName, opts.traces, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		a.shutdown = shutdown
	}

	regs := []driver.Registration{
		driver.On(match.Any, middleware.Logging(logger)),
		driver.On(match.Any, middleware.RequestID()),
		driver.On(match.Any, middleware.UserAgent(cfg.Driver.UserAgent)),
	}
	if len(cfg.Driver.Headers) > 0 {
		defaults := make(http.Header, len(cfg.Driver.Headers))
		for name, value := range cfg.Driver.Headers {
			defaults.Set(name, value)
		}
		regs = append(regs, driver.On(match.Any, middleware.Headers(defaults)))
	}
	if cfg.Driver.RateLimit > 0 {
		limiter := rate.NewLimiter(rate.Limit(cfg.Driver.RateLimit), max(cfg.Driver.Burst, 1))
		regs = append(regs, driver.On(match.Any, middleware.RateLimit(limiter)))
	}
	if cfg.Telemetry.Enabled {
		regs = append(regs, driver.On(match.Any, middleware.Tracing(nil)))
	}
	if cfg.Journal.Path != "" {
		if dir := filepath.Dir(cfg.Journal.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create journal directory: %w", err)
			}
		}
		store, err := journal.New(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		a.journal = store
		regs = append(regs, driver.On(match.Any, journal.Middleware(store, logger)))
	}

	var hooks driver.Hooks
	if opts.curl != nil {
		w := opts.curl
		hooks.BeforeFetch = tocurl.Hook(func(cmd string) {
			fmt.Fprintln(w, cmd)
		})
	}

	a.driver = driver.New(
		driver.WithLogger(logger),
		driver.WithBaseURL(cfg.Driver.BaseURL),
		driver.WithMiddleware(regs...),
		driver.WithHooks(hooks),
		driver.WithHTTPClient(transport.NewClient(transport.Options{
			DenyPrivate:    cfg.Driver.DenyPrivate,
			DisableTracing: !cfg.Telemetry.Enabled,
		})),
	)
	return a, nil
}

func (a *app) Close(ctx context.Context) {
	if err := a.shutdown(ctx); err != nil {
		a.logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Error("failed to close journal", slog.String("error", err.Error()))
		}
	}
}

// parseHeader splits a curl style "Name: value" header.
func parseHeader(s string) (string, string, error) {
	name, value, ok := strings.Cut(s, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", "", fmt.Errorf("invalid header %q, want \"Name: value\"", s)
	}
	return name, strings.TrimSpace(value), nil
}

// requestData turns a --data argument into driver data. JSON objects and
// arrays are sent as JSON; GET and HEAD data is used as search params.
func requestData(method, data string) (any, error) {
	if data == "" {
		return nil, nil
	}
	if method == http.MethodGet || method == http.MethodHead {
		return driver.SearchParams(data)
	}
	trimmed := strings.TrimSpace(data)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
			return nil, fmt.Errorf("invalid JSON data: %w", err)
		}
		return v, nil
	}
	return data, nil
}

// writeBody prints a decoded response body. Blobs are saved to a file named
// after output, or after the last API path segment.
func writeBody(w io.Writer, api, output string, body any) error {
	switch v := body.(type) {
	case nil:
		return nil
	case string:
		if output != "" {
			return os.WriteFile(output, []byte(v), 0o644)
		}
		_, err := io.WriteString(w, v)
		return err
	case driver.Blob:
		name := output
		if name == "" {
			name = driver.FileName(api)
		}
		if name == "" {
			return fmt.Errorf("cannot name attachment for %s, use --output", api)
		}
		if err := os.WriteFile(name, v.Data, 0o644); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "saved %d bytes to %s\n", v.Size(), name)
		return err
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		if output != "" {
			return os.WriteFile(output, data, 0o644)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}
}
