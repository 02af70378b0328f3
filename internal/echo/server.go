// Package echo serves an httpbin style API that reflects requests back as
// JSON. It backs the driver tests and the `fetchdrive echo` command.
package echo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// MaxDelay caps /delay/{seconds}.
const MaxDelay = 10 * time.Second

// Server is the echo API.
type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
	server *http.Server
}

// New builds the echo router. It listens on port once started.
func New(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "fetchdrive-echo")
	})

	r.HandleFunc("/get", echoRequest)
	r.HandleFunc("/post", echoRequest)
	r.HandleFunc("/put", echoRequest)
	r.HandleFunc("/patch", echoRequest)
	r.HandleFunc("/delete", echoRequest)
	r.HandleFunc("/anything", echoRequest)
	r.HandleFunc("/anything/*", echoRequest)
	r.HandleFunc("/delay/{seconds}", delay)
	r.HandleFunc("/bytes/{n}", byteStream)
	r.HandleFunc("/status/{code}", status)
	r.HandleFunc("/attachment/{name}", attachment)
	r.Get("/html", text("text/html; charset=utf-8", "<!DOCTYPE html><html><body><h1>Echo</h1><p>Hello from echo.</p></body></html>"))
	r.Get("/xml", text("application/xml", `<?xml version="1.0"?><echo>hello</echo>`))
	r.Get("/text", text("text/plain; charset=utf-8", "hello"))
	r.Get("/encoding/latin1", latin1)
	r.Get("/bare", bare)

	return &Server{
		Router: r,
		Port:   port,
		logger: logger,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// Start serves until Shutdown is called, when it returns nil.
func (s *Server) Start() error {
	s.logger.Info("starting echo server", slog.Int("port", s.Port))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
