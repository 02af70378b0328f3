package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/busy-dog/fetch-driver/internal/testutil"
	"github.com/busy-dog/fetch-driver/pkg/compose"
)

type reply struct {
	Args    map[string]any    `json:"args"`
	Data    string            `json:"data"`
	Files   map[string]string `json:"files"`
	Form    map[string]any    `json:"form"`
	Headers map[string]string `json:"headers"`
	JSON    any               `json:"json"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
}

func newDriver(t *testing.T, opts ...Option) *Driver {
	t.Helper()
	srv := testutil.NewEchoServer(t)
	opts = append([]Option{WithBaseURL(srv.URL), WithLogger(testutil.DiscardLogger())}, opts...)
	return New(opts...)
}

// replyOf decodes the echo reply of a drive call: replyOf(t)(d.Get(...)).
func replyOf(t *testing.T) func(body any, err error) reply {
	return func(body any, err error) reply {
		t.Helper()
		if err != nil {
			t.Fatalf("drive error = %v", err)
		}
		r, err := As[reply](body)
		if err != nil {
			t.Fatalf("As() error = %v", err)
		}
		return r
	}
}

func TestDriveGetWithSearchParams(t *testing.T) {
	d := newDriver(t)

	body, err := d.Drive(context.Background(), "/get?b=2", url.Values{"a": {"1"}})
	r := replyOf(t)(body, err)

	if r.Method != http.MethodGet {
		t.Errorf("Method = %q, want GET", r.Method)
	}
	if r.Args["a"] != "1" || r.Args["b"] != "2" {
		t.Errorf("Args = %v, want a=1 b=2", r.Args)
	}
	if !strings.HasSuffix(r.URL, "/get?a=1&b=2") {
		t.Errorf("URL = %q", r.URL)
	}
}

func TestDrivePostJSON(t *testing.T) {
	d := newDriver(t)

	body, err := d.Drive(context.Background(), "/post", map[string]any{"name": "driver"})
	r := replyOf(t)(body, err)

	if r.Method != http.MethodPost {
		t.Errorf("Method = %q, want POST", r.Method)
	}
	if r.Headers["Content-Type"] != "application/json" {
		t.Errorf("Content-Type = %q", r.Headers["Content-Type"])
	}
	if obj, ok := r.JSON.(map[string]any); !ok || obj["name"] != "driver" {
		t.Errorf("JSON = %v", r.JSON)
	}
}

func TestDriveBodies(t *testing.T) {
	d := newDriver(t)
	ctx := context.Background()

	t.Run("form", func(t *testing.T) {
		form := NewForm().
			Append("k", "v").
			AppendFile("file", "a.txt", Blob{Type: "text/plain", Data: []byte("hi")})
		r := replyOf(t)(d.Post(ctx, "/anything/form", form))
		if r.Form["k"] != "v" {
			t.Errorf("Form = %v", r.Form)
		}
		if r.Files["file"] != "hi" {
			t.Errorf("Files = %v", r.Files)
		}
	})

	t.Run("urlencoded", func(t *testing.T) {
		r := replyOf(t)(d.Post(ctx, "/anything", url.Values{"q": {"go"}}))
		if r.Args["q"] != "go" {
			t.Errorf("Args = %v, search params should go to the query", r.Args)
		}
		if r.Data != "" {
			t.Errorf("Data = %q, want no body", r.Data)
		}
	})

	t.Run("raw string", func(t *testing.T) {
		r := replyOf(t)(d.Put(ctx, "/put", "plain body", Header("Content-Type", "text/plain")))
		if r.Method != http.MethodPut || r.Data != "plain body" {
			t.Errorf("reply = %+v", r)
		}
	})

	t.Run("blob", func(t *testing.T) {
		blob := Blob{Type: "application/octet-stream", Data: []byte{1, 2, 3}}
		r := replyOf(t)(d.Post(ctx, "/post", blob))
		if r.Headers["Content-Type"] != "application/octet-stream" || len(r.Data) != 3 {
			t.Errorf("reply = %+v", r)
		}
	})
}

func TestMethodShortcuts(t *testing.T) {
	d := newDriver(t)
	ctx := context.Background()

	shortcuts := map[string]DriveFunc{
		http.MethodGet:    d.Get,
		http.MethodPut:    d.Put,
		http.MethodPost:   d.Post,
		http.MethodPatch:  d.Patch,
		http.MethodDelete: d.Delete,
	}
	for verb, fn := range shortcuts {
		r := replyOf(t)(fn(ctx, "/anything", nil))
		if r.Method != verb {
			t.Errorf("%s shortcut sent %q", verb, r.Method)
		}
	}

	fn, ok := d.Method("patch")
	if !ok {
		t.Fatal("Method(patch) not found")
	}
	if r := replyOf(t)(fn(ctx, "/anything", nil)); r.Method != http.MethodPatch {
		t.Errorf("Method(patch) sent %q", r.Method)
	}
	if _, ok := d.Method("BREW"); ok {
		t.Error("Method(BREW) should not exist")
	}

	body, err := d.Head(ctx, "/get", nil)
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if body != nil {
		t.Errorf("Head() body = %v, want nil", body)
	}

	if len(Methods) != 9 {
		t.Errorf("len(Methods) = %d, want 9", len(Methods))
	}
}

func TestMiddlewareSelection(t *testing.T) {
	var calls []string
	record := func(name string) Middleware {
		return func(ctx context.Context, c *Context, next compose.Next) error {
			calls = append(calls, name+">")
			err := next(ctx)
			calls = append(calls, "<"+name)
			return err
		}
	}

	d := newDriver(t)
	d.Use("*", record("all")).
		Use("/get", record("get")).
		Use("/post", record("post")).
		Use("!/post", record("not-post")).
		UseFunc(func(c *Context) bool { return c.Req.Method == "" }, record("pred"))

	_, err := d.Drive(context.Background(), "/get", nil, Use(record("call")))
	if err != nil {
		t.Fatalf("Drive() error = %v", err)
	}

	want := []string{"all>", "get>", "not-post>", "pred>", "call>", "<call", "<pred", "<not-post", "<get", "<all"}
	if !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestPredicateSeesClone(t *testing.T) {
	d := newDriver(t)
	d.UseFunc(func(c *Context) bool {
		c.Req.Header.Set("X-Mutated", "yes")
		c.Path = "/elsewhere"
		return false
	}, func(ctx context.Context, c *Context, next compose.Next) error {
		t.Error("middleware should not run")
		return next(ctx)
	})

	body, err := d.Drive(context.Background(), "/get", nil)
	r := replyOf(t)(body, err)
	if _, ok := r.Headers["X-Mutated"]; ok {
		t.Error("predicate mutation leaked into the request")
	}
}

func TestMiddlewareShortCircuit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	d := New(WithBaseURL(srv.URL), WithLogger(testutil.DiscardLogger()))
	d.Use("/cached/*", func(ctx context.Context, c *Context, next compose.Next) error {
		c.Res.Status = http.StatusOK
		c.Res.Body = "from cache"
		return nil
	})

	body, err := d.Get(context.Background(), "/cached/item", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if body != "from cache" {
		t.Errorf("body = %v, want from cache", body)
	}
	if hits.Load() != 0 {
		t.Errorf("server hit %d times, want 0", hits.Load())
	}
}

func TestMiddlewareRecovers(t *testing.T) {
	boom := errors.New("boom")
	d := newDriver(t, WithHooks(Hooks{
		BeforeFetch: func(ctx context.Context, c *Context) error { return boom },
	}))
	d.Use("/get", func(ctx context.Context, c *Context, next compose.Next) error {
		if err := next(ctx); err != nil {
			if !errors.Is(err, boom) {
				t.Errorf("next() error = %v, want boom", err)
			}
			c.Res.Body = "recovered"
		}
		return nil
	})

	body, err := d.Get(context.Background(), "/get", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if body != "recovered" {
		t.Errorf("body = %v, want recovered", body)
	}

	if _, err := d.Get(context.Background(), "/anything", nil); !errors.Is(err, boom) {
		t.Errorf("unrecovered error = %v, want boom", err)
	}
}

func TestNextCalledTwice(t *testing.T) {
	d := newDriver(t)
	d.Use("*", func(ctx context.Context, c *Context, next compose.Next) error {
		if err := next(ctx); err != nil {
			return err
		}
		return next(ctx)
	})

	c, err := d.Request(context.Background(), NewOptions("/get", nil))
	if !errors.Is(err, compose.ErrNextCalledMultipleTimes) {
		t.Fatalf("Request() error = %v, want ErrNextCalledMultipleTimes", err)
	}
	if c != nil {
		t.Error("Request() returned a context on error")
	}
}

func TestTimeout(t *testing.T) {
	d := newDriver(t)

	start := time.Now()
	_, err := d.Get(context.Background(), "/delay/2", nil, Timeout(50*time.Millisecond))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Get() error = %v, want deadline exceeded", err)
	}
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		t.Errorf("error %T is not the client's *url.Error", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout did not abort the request promptly")
	}
}

func TestSignalOverride(t *testing.T) {
	d := newDriver(t)

	signal, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Get(context.Background(), "/get", nil, Signal(signal))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Get() error = %v, want canceled", err)
	}
}

func TestHooksOrder(t *testing.T) {
	var order []string
	hook := func(name string, check func(c *Context)) HookFunc {
		return func(ctx context.Context, c *Context) error {
			order = append(order, name)
			if check != nil {
				check(c)
			}
			return nil
		}
	}

	d := newDriver(t, WithHooks(Hooks{
		BeforeInit: hook("BeforeInit", func(c *Context) {
			if c.Req.Method != "" {
				t.Errorf("method %q set before init", c.Req.Method)
			}
		}),
		AfterInit: hook("AfterInit", func(c *Context) {
			if c.Req.Method != http.MethodPost {
				t.Errorf("method = %q after init", c.Req.Method)
			}
		}),
		BeforeFetch: hook("BeforeFetch", nil),
		AfterFetch: hook("AfterFetch", func(c *Context) {
			if c.Res.Raw == nil {
				t.Error("Raw not set after fetch")
			}
			if c.Res.Type != "" {
				t.Errorf("Type = %q before DecodeHeader", c.Res.Type)
			}
		}),
		BeforeParse: hook("BeforeParse", func(c *Context) {
			if c.Res.Type != "json" {
				t.Errorf("Type = %q before parse", c.Res.Type)
			}
		}),
		AfterParse: hook("AfterParse", func(c *Context) {
			if c.Res.Body == nil {
				t.Error("Body not set after parse")
			}
		}),
	}))

	if _, err := d.Drive(context.Background(), "/post", []int{1}); err != nil {
		t.Fatalf("Drive() error = %v", err)
	}

	want := []string{"BeforeInit", "AfterInit", "BeforeFetch", "AfterFetch", "BeforeParse", "AfterParse"}
	if !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestHookErrorStopsExchange(t *testing.T) {
	boom := errors.New("stop")
	var after bool
	d := newDriver(t, WithHooks(Hooks{
		AfterInit:   func(ctx context.Context, c *Context) error { return boom },
		BeforeFetch: func(ctx context.Context, c *Context) error { after = true; return nil },
	}))

	if _, err := d.Get(context.Background(), "/get", nil); !errors.Is(err, boom) {
		t.Fatalf("Get() error = %v, want stop", err)
	}
	if after {
		t.Error("BeforeFetch ran after a failing hook")
	}
}

func TestRequestContext(t *testing.T) {
	d := newDriver(t, WithRandomID(func() string { return "req-1" }))

	c, err := d.Request(context.Background(), NewOptions("/status/201", nil, Method(http.MethodPost)))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	defer c.Close()

	if c.ID != "req-1" {
		t.Errorf("ID = %q, want req-1", c.ID)
	}
	if c.Res.Status != http.StatusCreated {
		t.Errorf("Status = %d, want 201", c.Res.Status)
	}
	if c.Res.Raw == nil {
		t.Error("Raw is nil")
	}
}

func TestStreamingThroughDriver(t *testing.T) {
	d := newDriver(t)

	var mu sync.Mutex
	var last Progress
	c, err := d.Request(context.Background(), NewOptions("/bytes/5000", nil, Receive(func(p Progress) {
		mu.Lock()
		last = p
		mu.Unlock()
	})))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	defer c.Close()

	if c.Res.Body != nil {
		t.Errorf("Body = %v, want nil while streaming", c.Res.Body)
	}
	data, err := io.ReadAll(c.Res.Raw.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(data) != 5000 {
		t.Errorf("read %d bytes, want 5000", len(data))
	}

	mu.Lock()
	defer mu.Unlock()
	if last.Percentage != 100 || !last.Done {
		t.Errorf("last progress = %v%% done=%v", last.Percentage, last.Done)
	}
}

func TestDriveReceiverReachesDone(t *testing.T) {
	d := newDriver(t)

	var calls int
	var received int
	var last Progress
	body, err := d.Get(context.Background(), "/bytes/200000", nil, Receive(func(p Progress) {
		calls++
		received += len(p.Value)
		last = p
	}))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if body != nil {
		t.Errorf("body = %v, want nil while streaming", body)
	}

	// The receiver runs on the pump goroutine, but Get only returns after
	// the pump delivered its last chunk.
	if calls < 2 {
		t.Errorf("receiver calls = %d, want every chunk", calls)
	}
	if received != 200000 {
		t.Errorf("received %d bytes, want 200000", received)
	}
	if !last.Done || last.Percentage != 100 {
		t.Errorf("last progress = %v%% done=%v, want 100%% done", last.Percentage, last.Done)
	}
}

func TestAttachmentAndText(t *testing.T) {
	d := newDriver(t)
	ctx := context.Background()

	body, err := d.Get(ctx, "/attachment/report.csv", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	blob, ok := body.(Blob)
	if !ok || string(blob.Data) != "attachment:report.csv" {
		t.Errorf("body = %#v, want attachment blob", body)
	}

	body, err = d.Get(ctx, "/encoding/latin1", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if body != "café" {
		t.Errorf("body = %q, want café", body)
	}

	c, err := d.Request(ctx, NewOptions("/bare", nil))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	defer c.Close()
	if c.Res.Type != DefaultType || c.Res.Body != "plain plain " {
		t.Errorf("Type = %q Body = %q", c.Res.Type, c.Res.Body)
	}
}

func TestDataURL(t *testing.T) {
	d := New(WithLogger(testutil.DiscardLogger()))
	ctx := context.Background()

	body, err := d.Drive(ctx, "data:,Hello%20World!", nil)
	if err != nil {
		t.Fatalf("Drive() error = %v", err)
	}
	if body != "Hello World!" {
		t.Errorf("body = %v, want Hello World!", body)
	}

	c, err := d.Request(ctx, NewOptions("data:application/json;base64,eyJvayI6dHJ1ZX0=", nil))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	defer c.Close()
	if c.Res.Type != "json" || c.Res.Status != http.StatusOK {
		t.Errorf("Type = %q Status = %d", c.Res.Type, c.Res.Status)
	}
	if obj, ok := c.Res.Body.(map[string]any); !ok || obj["ok"] != true {
		t.Errorf("Body = %v", c.Res.Body)
	}
}

func TestPerCallClientAndParser(t *testing.T) {
	d := newDriver(t)
	var parsed bool
	_, err := d.Get(context.Background(), "/get", nil,
		Client(http.DefaultClient),
		ParseWith(func(res *http.Response, c *Context, extra ParseExtra) error {
			parsed = true
			return Parse(res, c, extra)
		}),
	)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !parsed {
		t.Error("per call parser not used")
	}
}

func TestStringifyOverride(t *testing.T) {
	d := newDriver(t, WithStringify(func(v any) ([]byte, error) {
		return []byte(`{"custom":true}`), nil
	}))

	r := replyOf(t)(d.Post(context.Background(), "/post", map[string]int{"a": 1}))
	if obj, ok := r.JSON.(map[string]any); !ok || obj["custom"] != true {
		t.Errorf("JSON = %v", r.JSON)
	}

	r = replyOf(t)(d.Post(context.Background(), "/post", map[string]int{"a": 1},
		StringifyWith(func(v any) ([]byte, error) { return []byte(`[1]`), nil })))
	if list, ok := r.JSON.([]any); !ok || len(list) != 1 {
		t.Errorf("JSON = %v", r.JSON)
	}
}

func TestBaseURLResolution(t *testing.T) {
	d := New(WithBaseURL("https://api.example.com/v1/"))
	tests := map[string]string{
		"/users":              "https://api.example.com/v1/users",
		"users?x=1":           "https://api.example.com/v1/users?x=1",
		"http://other.test/a": "http://other.test/a",
		"data:,inline":        "data:,inline",
	}
	for api, want := range tests {
		if got := d.resolve(api); got != want {
			t.Errorf("resolve(%q) = %q, want %q", api, got, want)
		}
	}
}

func TestConcurrentRequests(t *testing.T) {
	d := newDriver(t)
	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			body, err := d.Get(context.Background(), "/get", url.Values{"i": {fmt.Sprint(i)}})
			if err != nil {
				errs <- err
				return
			}
			r, err := As[reply](body)
			if err != nil {
				errs <- err
				return
			}
			if r.Args["i"] != fmt.Sprint(i) {
				errs <- fmt.Errorf("request %d got args %v", i, r.Args)
			}
		}()
		go func() {
			defer wg.Done()
			d.Use("/never", func(ctx context.Context, c *Context, next compose.Next) error { return next(ctx) })
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestVCRReplay(t *testing.T) {
	rec, cleanup := testutil.NewVCRRecorder(t, "driver_replay")
	defer cleanup()

	d := New(WithHTTPClient(testutil.VCRHTTPClient(rec)), WithLogger(testutil.DiscardLogger()))
	body, err := d.Get(context.Background(), "https://echo.fetchdrive.test/get", url.Values{"q": {"replay"}})
	r := replyOf(t)(body, err)

	if r.Args["q"] != "replay" {
		t.Errorf("Args = %v", r.Args)
	}
	if r.URL != "https://echo.fetchdrive.test/get?q=replay" {
		t.Errorf("URL = %q", r.URL)
	}
}

func TestAs(t *testing.T) {
	type point struct {
		X int `json:"x"`
	}
	p, err := As[point](map[string]any{"x": 3})
	if err != nil || p.X != 3 {
		t.Errorf("As[point]() = %v, %v", p, err)
	}
	s, err := As[string]("direct")
	if err != nil || s != "direct" {
		t.Errorf("As[string]() = %q, %v", s, err)
	}
	if _, err := As[int]("nope"); err == nil {
		t.Error("As[int](string) expected error")
	}
	if zero, err := As[point](nil); err != nil || zero.X != 0 {
		t.Errorf("As[point](nil) = %v, %v", zero, err)
	}
}
