package echo

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	maxBytes      = 1 << 20
	bytesChunk    = 1024
	maxFormMemory = 8 << 20
)

// Reply is the JSON document returned by the reflecting routes.
type Reply struct {
	Args    map[string]any    `json:"args"`
	Data    string            `json:"data"`
	Files   map[string]string `json:"files"`
	Form    map[string]any    `json:"form"`
	Headers map[string]string `json:"headers"`
	JSON    any               `json:"json"`
	Method  string            `json:"method"`
	Origin  string            `json:"origin"`
	URL     string            `json:"url"`
}

func echoRequest(w http.ResponseWriter, r *http.Request) {
	reply, err := newReply(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func newReply(r *http.Request) (*Reply, error) {
	reply := &Reply{
		Args:    flatten(r.URL.Query()),
		Files:   map[string]string{},
		Form:    map[string]any{},
		Headers: make(map[string]string, len(r.Header)),
		Method:  r.Method,
		Origin:  r.RemoteAddr,
		URL:     requestURL(r),
	}
	for k := range r.Header {
		reply.Headers[k] = r.Header.Get(k)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			return nil, err
		}
		reply.Form = flatten(r.MultipartForm.Value)
		for name, headers := range r.MultipartForm.File {
			if len(headers) == 0 {
				continue
			}
			f, err := headers[0].Open()
			if err != nil {
				return nil, err
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, err
			}
			reply.Files[name] = string(data)
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		reply.Form = flatten(r.PostForm)
	default:
		if r.Body == nil {
			break
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		reply.Data = string(data)
		var v any
		if json.Unmarshal(data, &v) == nil {
			reply.JSON = v
		}
	}
	return reply, nil
}

// flatten keeps single values as strings and repeated ones as lists.
func flatten(values map[string][]string) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) == 1 {
			out[k] = v[0]
		} else {
			out[k] = v
		}
	}
	return out
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func delay(w http.ResponseWriter, r *http.Request) {
	seconds, err := strconv.ParseFloat(chi.URLParam(r, "seconds"), 64)
	if err != nil || seconds < 0 {
		http.Error(w, "invalid delay", http.StatusBadRequest)
		return
	}
	d := min(time.Duration(seconds*float64(time.Second)), MaxDelay)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-r.Context().Done():
		return
	}
	echoRequest(w, r)
}

// byteStream writes n deterministic bytes in flushed chunks.
func byteStream(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 0 || n > maxBytes {
		http.Error(w, "invalid byte count", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	chunk := make([]byte, bytesChunk)
	for written := 0; written < n; {
		size := min(bytesChunk, n-written)
		for i := range size {
			chunk[i] = byte('a' + (written+i)%26)
		}
		if _, err := w.Write(chunk[:size]); err != nil {
			return
		}
		written += size
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func status(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(chi.URLParam(r, "code"))
	if err != nil || code < 100 || code > 599 {
		http.Error(w, "invalid status code", http.StatusBadRequest)
		return
	}
	w.WriteHeader(code)
}

func attachment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	_, _ = io.WriteString(w, "attachment:"+name)
}

func text(contentType, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = io.WriteString(w, body)
	}
}

// latin1 answers "café" encoded as ISO-8859-1.
func latin1(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=ISO-8859-1")
	_, _ = w.Write([]byte{'c', 'a', 'f', 0xE9})
}

// bare answers without a Content-Type header.
func bare(w http.ResponseWriter, r *http.Request) {
	w.Header()["Content-Type"] = nil
	_, _ = io.WriteString(w, strings.Repeat("plain ", 2))
}
