package driver

import (
	"context"
	"net/http"
	"time"
)

// Options describe a single request.
type Options struct {
	API    string
	Data   any
	Method string
	Header http.Header
	// Signal overrides the context the request is sent with.
	Signal  context.Context
	Timeout time.Duration
	// Use appends middleware after the registered ones for this call only.
	Use       []Middleware
	Receiver  Receiver
	Parse     ParseFunc
	Stringify StringifyFunc
	Client    Fetcher
}

// Init adjusts Options.
type Init func(*Options)

// NewOptions builds Options for api and data.
func NewOptions(api string, data any, inits ...Init) Options {
	opts := Options{API: api, Data: data}
	for _, apply := range inits {
		apply(&opts)
	}
	return opts
}

// Header adds a request header.
func Header(key, value string) Init {
	return func(o *Options) {
		if o.Header == nil {
			o.Header = make(http.Header)
		}
		o.Header.Add(key, value)
	}
}

// Method sets the request method, overriding the inferred one.
func Method(method string) Init {
	return func(o *Options) {
		o.Method = method
	}
}

// Timeout aborts the request when it has not completed after d.
func Timeout(d time.Duration) Init {
	return func(o *Options) {
		o.Timeout = d
	}
}

// Signal sends the request with ctx instead of the caller context.
func Signal(ctx context.Context) Init {
	return func(o *Options) {
		o.Signal = ctx
	}
}

// Use adds per call middleware.
func Use(mws ...Middleware) Init {
	return func(o *Options) {
		o.Use = append(o.Use, mws...)
	}
}

// Receive streams the response body, reporting progress to r.
func Receive(r Receiver) Init {
	return func(o *Options) {
		o.Receiver = r
	}
}

// ParseWith decodes this response with parse.
func ParseWith(parse ParseFunc) Init {
	return func(o *Options) {
		o.Parse = parse
	}
}

// StringifyWith serializes this request data with fn.
func StringifyWith(fn StringifyFunc) Init {
	return func(o *Options) {
		o.Stringify = fn
	}
}

// Client sends this request with f instead of the driver's Fetcher.
func Client(f Fetcher) Init {
	return func(o *Options) {
		o.Client = f
	}
}
