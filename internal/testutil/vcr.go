// Package testutil holds helpers shared by tests: VCR cassettes for
// replaying recorded exchanges and a throwaway echo server.
package testutil

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"

	"github.com/busy-dog/fetch-driver/internal/echo"
)

// NewVCRRecorder opens testdata/fixtures/<cassetteName>.yaml for replay, or
// records it when VCR_MODE=record.
func NewVCRRecorder(t *testing.T, cassetteName string) (*recorder.Recorder, func()) {
	t.Helper()

	mode := recorder.ModeReplaying
	if os.Getenv("VCR_MODE") == "record" {
		mode = recorder.ModeRecording
	}

	cassettePath := filepath.Join("testdata", "fixtures", cassetteName)

	r, err := recorder.NewAsMode(cassettePath, mode, nil)
	if err != nil {
		t.Fatalf("Failed to create VCR recorder: %v", err)
	}

	// Requests are matched on method and URL only
	r.SetMatcher(func(r *http.Request, i cassette.Request) bool {
		return r.Method == i.Method && r.URL.String() == i.URL
	})

	// Request ids and trace headers differ on every run
	r.AddFilter(func(i *cassette.Interaction) error {
		delete(i.Request.Headers, "X-Request-Id")
		delete(i.Request.Headers, "Traceparent")
		return nil
	})

	cleanup := func() {
		if err := r.Stop(); err != nil {
			t.Errorf("Failed to stop VCR recorder: %v", err)
		}
	}

	return r, cleanup
}

// VCRHTTPClient returns an HTTP client configured to use the VCR recorder.
func VCRHTTPClient(r *recorder.Recorder) *http.Client {
	return &http.Client{
		Transport: r,
	}
}

// NewEchoServer starts an echo server for the duration of the test.
func NewEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(echo.New(0, DiscardLogger()))
	t.Cleanup(srv.Close)
	return srv
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
