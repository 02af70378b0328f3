package driver

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"reflect"
	"strings"

	"github.com/google/go-querystring/query"
)

// Blob is an opaque binary payload with a media type. Attachment responses
// decode to a Blob, and a Blob request body sends Type as its Content-Type.
type Blob struct {
	Type string
	Data []byte
}

// Size returns the number of bytes in the blob.
func (b Blob) Size() int { return len(b.Data) }

// FormField is one entry of a Form. File is nil for plain values.
type FormField struct {
	Name     string
	Value    string
	Filename string
	File     *Blob
}

// Form is an ordered multipart form body.
type Form struct {
	Fields []FormField
}

// NewForm returns an empty form.
func NewForm() *Form {
	return &Form{}
}

// Append adds a plain field.
func (f *Form) Append(name, value string) *Form {
	f.Fields = append(f.Fields, FormField{Name: name, Value: value})
	return f
}

// AppendFile adds a file field.
func (f *Form) AppendFile(name, filename string, file Blob) *Form {
	f.Fields = append(f.Fields, FormField{Name: name, Filename: filename, File: &file})
	return f
}

func (f *Form) encode() (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, field := range f.Fields {
		if field.File == nil {
			if err := w.WriteField(field.Name, field.Value); err != nil {
				return nil, "", err
			}
			continue
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field.Name, field.Filename))
		contentType := field.File.Type
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(field.File.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// isRawBody reports whether v is sent as-is instead of being serialized.
func isRawBody(v any) bool {
	switch b := v.(type) {
	case *Blob:
		return b != nil
	case *Form:
		return b != nil
	case []byte, string, io.Reader, Blob:
		return true
	}
	return false
}

// isPlainObject reports whether v is a map, struct, slice or array (or a
// non-nil pointer to one), the kinds serialized to JSON.
func isPlainObject(v any) bool {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
		return true
	}
	return false
}

// bodyReader turns a request body into a reader plus the content type it
// implies, if any.
func bodyReader(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(b), "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	case Blob:
		return bytes.NewReader(b.Data), b.Type, nil
	case *Blob:
		if b == nil {
			return nil, "", nil
		}
		return bytes.NewReader(b.Data), b.Type, nil
	case *Form:
		if b == nil {
			return nil, "", nil
		}
		buf, contentType, err := b.encode()
		if err != nil {
			return nil, "", fmt.Errorf("encode form body: %w", err)
		}
		return buf, contentType, nil
	case url.Values:
		return strings.NewReader(b.Encode()), "application/x-www-form-urlencoded", nil
	case io.Reader:
		return b, "", nil
	default:
		return nil, "", fmt.Errorf("unsupported request body type %T", body)
	}
}

// SearchParams builds query parameters from url.Values, a query string, a
// slice of "key=value" strings, a map, or a struct tagged for
// github.com/google/go-querystring. Nil values in maps are skipped.
func SearchParams(v any) (url.Values, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case url.Values:
		return p, nil
	case string:
		return url.ParseQuery(strings.TrimPrefix(p, "?"))
	case []string:
		pairs := make([]string, 0, len(p))
		for _, pair := range p {
			if strings.Contains(pair, "=") {
				pairs = append(pairs, strings.TrimSpace(pair))
			}
		}
		return url.ParseQuery(strings.Join(pairs, "&"))
	case map[string]string:
		values := make(url.Values, len(p))
		for k, val := range p {
			values.Set(k, val)
		}
		return values, nil
	case map[string]any:
		values := make(url.Values, len(p))
		for k, val := range p {
			if val == nil {
				continue
			}
			values.Set(k, fmt.Sprint(val))
		}
		return values, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("unsupported search params type %T", v)
	}
	values, err := query.Values(v)
	if err != nil {
		return nil, fmt.Errorf("encode search params: %w", err)
	}
	return values, nil
}

// FileName returns the last path segment of api, ignoring any query string.
func FileName(api string) string {
	path, _, _ := strings.Cut(api, "?")
	path, _, _ = strings.Cut(path, "#")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
