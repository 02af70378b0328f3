package driver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

const streamChunkSize = 32 * 1024

// Progress reports a chunk read while streaming a response body.
type Progress struct {
	// Size is the declared length of the body.
	Size int64
	// Value is the chunk just read.
	Value []byte
	// Reader is the original response body being drained.
	Reader  io.ReadCloser
	Context *Context
	// Percentage of Size consumed so far. It exceeds 100 when the server
	// sends more than it declared.
	Percentage float64
	Done       bool
}

// Receiver is called for every streamed chunk. It runs on the goroutine that
// pumps the body, as the caller reads Res.Raw.Body.
type Receiver func(p Progress)

// ParseExtra holds per request parser inputs.
type ParseExtra struct {
	Receiver Receiver
}

// ParseFunc decodes res into c.Res.
type ParseFunc func(res *http.Response, c *Context, extra ParseExtra) error

// IsRawText reports whether a response type is decoded as text.
func IsRawText(typ string) bool {
	switch typ {
	case "txt", "css", "xml", "html", "plain", "richtext", "javascript":
		return true
	}
	return false
}

// Parse is the default ParseFunc.
//
// A 2xx response with a positive declared length is streamed when a receiver
// is set: Res.Raw is replaced by a response whose body re-emits every chunk
// and Res.Body stays nil. Otherwise attachments decode to a Blob, json to a
// generic value and text types to a string. Any other type leaves the body
// unread.
func Parse(res *http.Response, c *Context, extra ParseExtra) error {
	c.Res.Status = res.StatusCode
	c.Res.Header = res.Header

	if res.Body == nil {
		return nil
	}

	success := res.StatusCode >= 200 && res.StatusCode < 300
	if success && extra.Receiver != nil {
		if size := declaredLength(res); size > 0 {
			c.Res.Raw = stream(res, c, size, extra.Receiver)
			return nil
		}
	}

	switch {
	case strings.Contains(res.Header.Get("Content-Disposition"), "attachment"):
		data, err := io.ReadAll(res.Body)
		if err != nil {
			return fmt.Errorf("read attachment body: %w", err)
		}
		c.Res.Body = Blob{Type: res.Header.Get("Content-Type"), Data: data}
	case c.Res.Type == "json":
		data, err := io.ReadAll(res.Body)
		if err != nil {
			return fmt.Errorf("read json body: %w", err)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		var body any
		if err := json.Unmarshal(data, &body); err != nil {
			return fmt.Errorf("decode json body: %w", err)
		}
		c.Res.Body = body
	case c.Res.Type == "" || IsRawText(c.Res.Type):
		text, err := readText(res.Body, c.Res.Charset)
		if err != nil {
			return fmt.Errorf("read text body: %w", err)
		}
		c.Res.Body = text
	}
	return nil
}

func declaredLength(res *http.Response) int64 {
	if v := res.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return res.ContentLength
}

func readText(r io.Reader, charset string) (string, error) {
	if charset != "" && !strings.EqualFold(charset, "utf-8") {
		if enc, err := htmlindex.Get(charset); err == nil {
			r = enc.NewDecoder().Reader(r)
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// stream pumps res.Body through a pipe, reporting each chunk to receiver. The
// returned response keeps the status and headers of res.
func stream(res *http.Response, c *Context, size int64, receiver Receiver) *http.Response {
	pr, pw := io.Pipe()
	src := res.Body

	go func() {
		defer src.Close()

		var consumed int64
		buf := make([]byte, streamChunkSize)
		for {
			n, err := src.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				consumed += int64(n)

				percentage := 100 * float64(consumed) / float64(size)
				receiver(Progress{
					Size:       size,
					Value:      chunk,
					Reader:     src,
					Context:    c,
					Percentage: percentage,
					Done:       percentage == 100 || err == io.EOF,
				})

				if _, werr := pw.Write(chunk); werr != nil {
					return
				}
			}
			if err == io.EOF {
				pw.Close()
				return
			}
			if err != nil {
				pw.CloseWithError(err)
				return
			}
		}
	}()

	raw := *res
	raw.Header = res.Header.Clone()
	raw.Body = pr
	return &raw
}
