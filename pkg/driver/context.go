package driver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/copystructure"

	"github.com/busy-dog/fetch-driver/internal/mimetype"
)

// DefaultType is the response type used when a response has no Content-Type.
const DefaultType = "txt"

// StringifyFunc serializes plain object request data.
type StringifyFunc func(v any) ([]byte, error)

// Request is the request description handed to the Fetcher.
type Request struct {
	Method string
	Header http.Header
	Body   any

	// Signal overrides the context the request is sent with.
	Signal context.Context
}

// Response is filled in progressively while a request runs.
type Response struct {
	// Type is the extension for the response media type, e.g. "json".
	Type    string
	Charset string
	Raw     *http.Response
	Header  http.Header
	Status  int
	Body    any
}

// ContextOptions seed a new Context.
type ContextOptions struct {
	ID        string
	Data      any
	Method    string
	Header    http.Header
	Signal    context.Context
	Stringify StringifyFunc
}

// Context carries the state of a single request through middleware, hooks
// and the parser. It is not safe for use by multiple goroutines.
type Context struct {
	ID   string
	API  string
	URL  *url.URL
	Path string
	Data any
	Req  *Request
	Res  *Response

	stringify StringifyFunc
	cancel    context.CancelFunc
}

// NewID returns a random request identifier.
func NewID() string {
	return uuid.NewString()
}

// NewContext creates the context for a request to api.
func NewContext(api string, opts ContextOptions) *Context {
	id := opts.ID
	if id == "" {
		id = NewID()
	}

	header := make(http.Header)
	for k, v := range opts.Header {
		header[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}

	c := &Context{
		ID:   id,
		Data: opts.Data,
		Req: &Request{
			Method: strings.ToUpper(opts.Method),
			Header: header,
			Signal: opts.Signal,
		},
		Res:       &Response{},
		stringify: opts.Stringify,
	}
	c.setAPI(api)
	return c
}

func (c *Context) setAPI(api string) {
	c.API = api
	c.URL = nil
	c.Path, _, _ = strings.Cut(api, "?")

	u, err := url.Parse(api)
	if err != nil || !u.IsAbs() {
		return
	}
	c.URL = u
	c.Path = u.Path
}

// Init merges query data into the target, materializes the request body and
// infers the method. It must be called once per context.
func (c *Context) Init() error {
	c.initAPI()
	if err := c.initBody(); err != nil {
		return err
	}
	c.initMethod()
	return nil
}

func (c *Context) initAPI() {
	params, ok := c.Data.(url.Values)
	if !ok {
		return
	}

	target, fragment, hasFragment := strings.Cut(c.API, "#")
	path, existing, _ := strings.Cut(target, "?")

	var parts []string
	if encoded := params.Encode(); encoded != "" {
		parts = append(parts, encoded)
	}
	if existing != "" {
		parts = append(parts, existing)
	}

	api := path
	if len(parts) > 0 {
		api += "?" + strings.Join(parts, "&")
	}
	if hasFragment {
		api += "#" + fragment
	}
	c.setAPI(api)
}

func (c *Context) initBody() error {
	if c.Req.Body != nil || c.Data == nil {
		return nil
	}
	if _, ok := c.Data.(url.Values); ok {
		return nil
	}
	if isRawBody(c.Data) {
		c.Req.Body = c.Data
		return nil
	}
	if !isPlainObject(c.Data) {
		return nil
	}

	stringify := c.stringify
	if stringify == nil {
		stringify = defaultStringify
	}
	body, err := stringify(c.Data)
	if err != nil {
		return fmt.Errorf("serialize request data: %w", err)
	}
	c.Req.Body = string(body)
	if c.Req.Header.Get("Content-Type") == "" {
		c.Req.Header.Set("Content-Type", "application/json")
	}
	return nil
}

func (c *Context) initMethod() {
	if c.Req.Method != "" {
		return
	}
	if c.Req.Body == nil {
		c.Req.Method = http.MethodGet
	} else {
		c.Req.Method = http.MethodPost
	}
}

// InitAbort bounds the request by timeout. The deadline derives from
// Req.Signal when set, else from ctx. A non-positive timeout leaves the
// request untouched.
func (c *Context) InitAbort(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	parent := c.Req.Signal
	if parent == nil {
		parent = ctx
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.Req.Signal, c.cancel = context.WithTimeout(parent, timeout)
}

// DecodeHeader derives Res.Type and Res.Charset from the Content-Type of res.
func (c *Context) DecodeHeader(res *http.Response) {
	contentType := ""
	if res != nil {
		contentType = res.Header.Get("Content-Type")
	}
	if strings.TrimSpace(contentType) == "" {
		if c.Res.Type == "" {
			c.Res.Type = DefaultType
		}
		return
	}

	fields := strings.Split(contentType, ";")
	for _, field := range fields {
		if c.Res.Type != "" {
			break
		}
		if strings.Contains(field, "=") {
			continue
		}
		if ext, ok := mimetype.Extension(field); ok {
			c.Res.Type = ext
		}
	}

	if charset, ok := mimetype.Params(fields)["charset"]; ok && charset != "" {
		c.Res.Charset = charset
	}
}

// Clone returns an independent copy of the context for read-only inspection.
// Readers in Data or Req.Body are shared and Res.Raw is not carried over.
func (c *Context) Clone() *Context {
	clone := &Context{
		ID:        c.ID,
		API:       c.API,
		Path:      c.Path,
		Data:      deepCopy(c.Data),
		stringify: c.stringify,
	}
	if c.URL != nil {
		u := *c.URL
		if c.URL.User != nil {
			user := *c.URL.User
			u.User = &user
		}
		clone.URL = &u
	}
	if c.Req != nil {
		clone.Req = &Request{
			Method: c.Req.Method,
			Header: c.Req.Header.Clone(),
			Body:   deepCopy(c.Req.Body),
			Signal: c.Req.Signal,
		}
		if clone.Req.Header == nil {
			clone.Req.Header = make(http.Header)
		}
	}
	if c.Res != nil {
		clone.Res = &Response{
			Type:    c.Res.Type,
			Charset: c.Res.Charset,
			Header:  c.Res.Header.Clone(),
			Status:  c.Res.Status,
			Body:    deepCopy(c.Res.Body),
		}
	}
	return clone
}

// Close releases the abort timer and the raw response body.
func (c *Context) Close() error {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.Res != nil && c.Res.Raw != nil && c.Res.Raw.Body != nil {
		return c.Res.Raw.Body.Close()
	}
	return nil
}

func deepCopy(v any) any {
	if v == nil {
		return nil
	}
	if _, ok := v.(io.Reader); ok {
		return v
	}
	if !isPlainObject(v) {
		return v
	}
	copied, err := copystructure.Copy(v)
	if err != nil {
		return v
	}
	return copied
}
