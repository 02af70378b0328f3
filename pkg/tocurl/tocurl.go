// Package tocurl renders a driver request as an equivalent curl command.
package tocurl

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/vincent-petithory/dataurl"

	"github.com/busy-dog/fetch-driver/pkg/driver"
)

// Method returns the -X flag. Unknown verbs fall back to GET.
func Method(method string) string {
	verb := strings.ToUpper(method)
	if slices.Contains(driver.Methods, verb) {
		return "-X " + verb
	}
	return "-X " + http.MethodGet
}

var headerEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Header returns one -H flag per header, with lower-cased names in sorted
// order. Content-Length is left to curl.
func Header(header http.Header) string {
	names := make([]string, 0, len(header))
	values := make(map[string]string, len(header))
	for name, vals := range header {
		lower := strings.ToLower(name)
		if lower == "content-length" || len(vals) == 0 {
			continue
		}
		if _, seen := values[lower]; !seen {
			names = append(names, lower)
		} else {
			vals = append([]string{values[lower]}, vals...)
		}
		values[lower] = strings.Join(vals, ", ")
	}
	slices.Sort(names)

	flags := make([]string, 0, len(names))
	for _, name := range names {
		flags = append(flags, fmt.Sprintf(`-H "%s: %s"`, name, headerEscaper.Replace(values[name])))
	}
	return strings.Join(flags, " ")
}

// Body returns the flags sending body. Forms become -F fields, everything
// else a single --data-binary argument. Streams cannot be rendered without
// consuming them and yield "".
func Body(body any) (string, error) {
	switch b := body.(type) {
	case nil:
		return "", nil
	case *driver.Form:
		if b == nil {
			return "", nil
		}
		return formFields(b), nil
	case string:
		return dataBinary(b), nil
	case []byte:
		return dataBinary(base64.StdEncoding.EncodeToString(b)), nil
	case driver.Blob:
		return dataBinary(base64.StdEncoding.EncodeToString(b.Data)), nil
	case *driver.Blob:
		if b == nil {
			return "", nil
		}
		return dataBinary(base64.StdEncoding.EncodeToString(b.Data)), nil
	case url.Values:
		return dataBinary(b.Encode()), nil
	case io.Reader:
		return "", nil
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("render curl body: %w", err)
	}
	return dataBinary(string(data)), nil
}

func dataBinary(s string) string {
	return "--data-binary '" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func formFields(form *driver.Form) string {
	flags := make([]string, 0, len(form.Fields))
	for _, field := range form.Fields {
		value := field.Value
		if field.File != nil {
			value = dataURL(*field.File)
		}
		flags = append(flags, fmt.Sprintf(`-F "%s=%s"`, field.Name, headerEscaper.Replace(value)))
	}
	return strings.Join(flags, " ")
}

func dataURL(blob driver.Blob) string {
	mt := dataurl.MediaType{Type: "application", Subtype: "octet-stream", Params: map[string]string{}}
	if mediaType, params, err := mime.ParseMediaType(blob.Type); err == nil {
		if typ, subtype, ok := strings.Cut(mediaType, "/"); ok {
			mt = dataurl.MediaType{Type: typ, Subtype: subtype, Params: params}
		}
	}
	du := &dataurl.DataURL{MediaType: mt, Encoding: dataurl.EncodingBase64, Data: blob.Data}
	return du.String()
}

// Compress returns --compressed when the request negotiates an encoding.
func Compress(header http.Header) string {
	if header.Get("Accept-Encoding") != "" {
		return "--compressed"
	}
	return ""
}

// ToCurl renders uri and req as a curl command line. A nil req renders a
// plain GET. A body that cannot be rendered is replaced by a trailing shell
// comment naming the error.
func ToCurl(uri string, req *driver.Request) string {
	if req == nil {
		req = &driver.Request{}
	}
	body, err := Body(req.Body)
	omitted := ""
	if err != nil {
		omitted = "# body omitted: " + err.Error()
	}

	parts := []string{
		"curl",
		`"` + uri + `"`,
		Method(req.Method),
		Header(req.Header),
		body,
		Compress(req.Header),
		omitted,
	}
	parts = slices.DeleteFunc(parts, func(s string) bool { return s == "" })
	return strings.Join(parts, " ")
}

// Hook returns a BeforeFetch hook that passes every request to echo as a curl
// command.
func Hook(echo func(string)) driver.HookFunc {
	return func(ctx context.Context, c *driver.Context) error {
		echo(ToCurl(c.API, c.Req))
		return nil
	}
}
