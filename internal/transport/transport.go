// Package transport builds the default Fetcher used by drivers.
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrPrivateAddress is returned when DenyPrivate blocks a dial.
var ErrPrivateAddress = errors.New("access to private IP is denied")

// Options configure NewClient.
type Options struct {
	// Timeout bounds the whole exchange, zero means no limit.
	Timeout time.Duration
	// DenyPrivate rejects connections to loopback, private and link local
	// addresses.
	DenyPrivate bool
	// DisableTracing skips the otelhttp instrumentation.
	DisableTracing bool
}

// NewTransport returns a clone of http.DefaultTransport that also serves
// data: URLs.
func NewTransport(opts Options) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if opts.DenyPrivate {
		dialer := &net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
			Control:   denyPrivate,
		}
		t.DialContext = dialer.DialContext
	}
	t.RegisterProtocol("data", DataRoundTripper{})
	return t
}

// NewClient returns an http.Client over NewTransport, instrumented with
// OpenTelemetry unless disabled.
func NewClient(opts Options) *http.Client {
	var rt http.RoundTripper = NewTransport(opts)
	if !opts.DisableTracing {
		rt = otelhttp.NewTransport(rt)
	}
	return &http.Client{
		Transport: rt,
		Timeout:   opts.Timeout,
	}
}

// denyPrivate runs after name resolution and before the connection is made.
func denyPrivate(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("split dial address %q: %w", address, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("failed to parse remote IP for %q", address)
	}
	if IsPrivate(ip) {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, ip)
	}
	return nil
}

// IsPrivate reports whether ip is loopback, private, link local or
// unspecified.
func IsPrivate(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
