package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/busy-dog/fetch-driver/internal/transport"
	"github.com/busy-dog/fetch-driver/pkg/compose"
	"github.com/busy-dog/fetch-driver/pkg/match"
)

// Methods are the verbs that get a shortcut on every Driver.
var Methods = []string{
	http.MethodGet,
	http.MethodPut,
	http.MethodPost,
	http.MethodHead,
	http.MethodTrace,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodConnect,
	http.MethodOptions,
}

// Fetcher sends HTTP requests. *http.Client implements it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Middleware intercepts a request. Calling next runs the rest of the chain
// and finally the exchange with the server.
type Middleware = compose.Middleware[*Context]

// HookFunc runs at a fixed point of the exchange.
type HookFunc func(ctx context.Context, c *Context) error

// Hooks are optional callbacks around the init, fetch and parse phases.
type Hooks struct {
	BeforeInit  HookFunc
	AfterInit   HookFunc
	BeforeFetch HookFunc
	AfterFetch  HookFunc
	BeforeParse HookFunc
	AfterParse  HookFunc
}

// Predicate selects middleware by inspecting a copy of the request context.
type Predicate func(c *Context) bool

// Registration binds a middleware to either a path glob or a predicate.
type Registration struct {
	Pattern    string
	Predicate  Predicate
	Middleware Middleware
}

// On registers mw for request paths matching pattern.
func On(pattern string, mw Middleware) Registration {
	return Registration{Pattern: pattern, Middleware: mw}
}

// When registers mw for requests accepted by pred.
func When(pred Predicate, mw Middleware) Registration {
	return Registration{Predicate: pred, Middleware: mw}
}

func (r Registration) matches(c *Context) bool {
	if r.Predicate != nil {
		return r.Predicate(c.Clone())
	}
	return match.IsMatch(c.Path, r.Pattern)
}

// DriveFunc issues a request and returns the decoded response body.
type DriveFunc func(ctx context.Context, api string, data any, inits ...Init) (any, error)

// Driver runs requests through matched middleware, hooks and a parser.
type Driver struct {
	mu       sync.RWMutex
	registry []Registration

	hooks     Hooks
	randomID  func() string
	parse     ParseFunc
	stringify StringifyFunc
	client    Fetcher
	baseURL   string
	logger    *slog.Logger

	methods map[string]DriveFunc
}

// Option configures a Driver.
type Option func(*Driver)

// WithMiddleware registers middleware in order.
func WithMiddleware(regs ...Registration) Option {
	return func(d *Driver) {
		d.registry = append(d.registry, regs...)
	}
}

// WithHooks sets the lifecycle hooks.
func WithHooks(hooks Hooks) Option {
	return func(d *Driver) {
		d.hooks = hooks
	}
}

// WithRandomID sets the generator for request ids.
func WithRandomID(fn func() string) Option {
	return func(d *Driver) {
		d.randomID = fn
	}
}

// WithParser replaces the default body parser.
func WithParser(parse ParseFunc) Option {
	return func(d *Driver) {
		d.parse = parse
	}
}

// WithStringify replaces the JSON serializer for request data.
func WithStringify(fn StringifyFunc) Option {
	return func(d *Driver) {
		d.stringify = fn
	}
}

// WithHTTPClient sets the Fetcher used to send requests.
func WithHTTPClient(client Fetcher) Option {
	return func(d *Driver) {
		d.client = client
	}
}

// WithBaseURL resolves relative targets against baseURL.
func WithBaseURL(baseURL string) Option {
	return func(d *Driver) {
		d.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// New creates a Driver.
func New(opts ...Option) *Driver {
	d := &Driver{
		randomID:  NewID,
		parse:     Parse,
		stringify: defaultStringify,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		d.client = transport.NewClient(transport.Options{})
	}

	d.methods = make(map[string]DriveFunc, len(Methods))
	for _, verb := range Methods {
		d.methods[verb] = func(ctx context.Context, api string, data any, inits ...Init) (any, error) {
			opts := NewOptions(api, data, inits...)
			opts.Method = verb
			return d.DriveOptions(ctx, opts)
		}
	}
	return d
}

func defaultStringify(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Use registers mw for request paths matching the glob pattern.
func (d *Driver) Use(pattern string, mw Middleware) *Driver {
	return d.register(On(pattern, mw))
}

// UseFunc registers mw for requests accepted by pred.
func (d *Driver) UseFunc(pred Predicate, mw Middleware) *Driver {
	return d.register(When(pred, mw))
}

func (d *Driver) register(reg Registration) *Driver {
	if reg.Middleware == nil {
		panic("driver: nil middleware")
	}
	d.mu.Lock()
	d.registry = append(d.registry, reg)
	d.mu.Unlock()
	return d
}

func (d *Driver) matched(c *Context) []Middleware {
	d.mu.RLock()
	registry := make([]Registration, len(d.registry))
	copy(registry, d.registry)
	d.mu.RUnlock()

	var mws []Middleware
	for _, reg := range registry {
		if reg.matches(c) {
			mws = append(mws, reg.Middleware)
		}
	}
	return mws
}

// Request runs a request and returns its finished Context. The caller must
// Close the returned context. On error the context is released and only the
// error is returned.
func (d *Driver) Request(ctx context.Context, opts Options) (*Context, error) {
	stringify := opts.Stringify
	if stringify == nil {
		stringify = d.stringify
	}

	c := NewContext(opts.API, ContextOptions{
		ID:        d.randomID(),
		Data:      opts.Data,
		Method:    opts.Method,
		Header:    opts.Header,
		Signal:    opts.Signal,
		Stringify: stringify,
	})

	mws := append(d.matched(c), opts.Use...)
	pipeline := compose.Compose(mws)

	err := pipeline(ctx, c, func(ctx context.Context) error {
		return d.exchange(ctx, c, opts)
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// exchange is the terminal step of every pipeline.
func (d *Driver) exchange(ctx context.Context, c *Context, opts Options) error {
	if err := runHook(ctx, d.hooks.BeforeInit, c); err != nil {
		return err
	}
	if err := c.Init(); err != nil {
		return err
	}
	if err := runHook(ctx, d.hooks.AfterInit, c); err != nil {
		return err
	}

	c.InitAbort(ctx, opts.Timeout)

	if err := runHook(ctx, d.hooks.BeforeFetch, c); err != nil {
		return err
	}

	req, err := d.newHTTPRequest(ctx, c)
	if err != nil {
		return err
	}

	client := opts.Client
	if client == nil {
		client = d.client
	}

	d.logger.Debug("fetching",
		slog.String("request_id", c.ID),
		slog.String("method", req.Method),
		slog.String("url", req.URL.String()),
	)

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	c.Res.Raw = res

	if err := runHook(ctx, d.hooks.AfterFetch, c); err != nil {
		return err
	}

	c.DecodeHeader(res)

	if err := runHook(ctx, d.hooks.BeforeParse, c); err != nil {
		return err
	}

	parse := opts.Parse
	if parse == nil {
		parse = d.parse
	}
	if err := parse(res, c, ParseExtra{Receiver: opts.Receiver}); err != nil {
		return err
	}

	return runHook(ctx, d.hooks.AfterParse, c)
}

func runHook(ctx context.Context, hook HookFunc, c *Context) error {
	if hook == nil {
		return nil
	}
	return hook(ctx, c)
}

func (d *Driver) newHTTPRequest(ctx context.Context, c *Context) (*http.Request, error) {
	signal := c.Req.Signal
	if signal == nil {
		signal = ctx
	}

	body, contentType, err := bodyReader(c.Req.Body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(signal, c.Req.Method, d.resolve(c.API), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header = c.Req.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func (d *Driver) resolve(api string) string {
	if d.baseURL == "" {
		return api
	}
	if u, err := url.Parse(api); err == nil && u.IsAbs() {
		return api
	}
	return d.baseURL + "/" + strings.TrimPrefix(api, "/")
}

// Drive issues a request to api with data and returns the decoded body.
func (d *Driver) Drive(ctx context.Context, api string, data any, inits ...Init) (any, error) {
	return d.DriveOptions(ctx, NewOptions(api, data, inits...))
}

// DriveOptions issues the request described by opts and returns the decoded
// body. A streamed body is read to the end before returning, so the receiver
// sees every chunk.
func (d *Driver) DriveOptions(ctx context.Context, opts Options) (any, error) {
	c, err := d.Request(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if opts.Receiver != nil && c.Res.Body == nil && c.Res.Raw != nil && c.Res.Raw.Body != nil {
		if _, err := io.Copy(io.Discard, c.Res.Raw.Body); err != nil {
			return nil, fmt.Errorf("read streamed body: %w", err)
		}
	}
	return c.Res.Body, nil
}

// Method returns the shortcut for verb.
func (d *Driver) Method(verb string) (DriveFunc, bool) {
	fn, ok := d.methods[strings.ToUpper(verb)]
	return fn, ok
}

// Get drives a GET request.
func (d *Driver) Get(ctx context.Context, api string, data any, inits ...Init) (any, error) {
	return d.methods[http.MethodGet](ctx, api, data, inits...)
}

// Put drives a PUT request.
func (d *Driver) Put(ctx context.Context, api string, data any, inits ...Init) (any, error) {
	return d.methods[http.MethodPut](ctx, api, data, inits...)
}

// Post drives a POST request.
func (d *Driver) Post(ctx context.Context, api string, data any, inits ...Init) (any, error) {
	return d.methods[http.MethodPost](ctx, api, data, inits...)
}

// Head drives a HEAD request.
func (d *Driver) Head(ctx context.Context, api string, data any, inits ...Init) (any, error) {
	return d.methods[http.MethodHead](ctx, api, data, inits...)
}

// Trace drives a TRACE request.
func (d *Driver) Trace(ctx context.Context, api string, data any, inits ...Init) (any, error) {
	return d.methods[http.MethodTrace](ctx, api, data, inits...)
}

// Patch drives a PATCH request.
func (d *Driver) Patch(ctx context.Context, api string, data any, inits ...Init) (any, error) {
	return d.methods[http.MethodPatch](ctx, api, data, inits...)
}

// Delete drives a DELETE request.
func (d *Driver) Delete(ctx context.Context, api string, data any, inits ...Init) (any, error) {
	return d.methods[http.MethodDelete](ctx, api, data, inits...)
}

// Connect drives a CONNECT request.
func (d *Driver) Connect(ctx context.Context, api string, data any, inits ...Init) (any, error) {
	return d.methods[http.MethodConnect](ctx, api, data, inits...)
}

// Options drives a OPTIONS request.
func (d *Driver) Options(ctx context.Context, api string, data any, inits ...Init) (any, error) {
	return d.methods[http.MethodOptions](ctx, api, data, inits...)
}

// As converts a decoded body to T, re-decoding JSON values when the dynamic
// type differs.
func As[T any](body any) (T, error) {
	var out T
	if v, ok := body.(T); ok {
		return v, nil
	}
	if body == nil {
		return out, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return out, fmt.Errorf("convert body: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("convert body to %T: %w", out, err)
	}
	return out, nil
}
