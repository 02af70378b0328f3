// Package mimetype maps media types to short extension tags and reads the
// charset parameter of a Content-Type value.
package mimetype

import (
	"mime"
	"strings"
)

// extensions follows the mime-db preferred extension for the types a response
// decoder cares about. Script types are tagged "javascript" so they decode as
// text.
var extensions = map[string]string{
	"application/json":                  "json",
	"application/ld+json":               "jsonld",
	"application/problem+json":          "json",
	"application/xml":                   "xml",
	"application/javascript":            "javascript",
	"application/x-javascript":          "javascript",
	"application/octet-stream":          "bin",
	"application/pdf":                   "pdf",
	"application/zip":                   "zip",
	"application/gzip":                  "gz",
	"application/wasm":                  "wasm",
	"application/x-www-form-urlencoded": "urlencoded",
	"multipart/form-data":               "form",
	"text/plain":                        "txt",
	"text/html":                         "html",
	"text/css":                          "css",
	"text/csv":                          "csv",
	"text/xml":                          "xml",
	"text/markdown":                     "md",
	"text/richtext":                     "richtext",
	"text/javascript":                   "javascript",
	"text/event-stream":                 "event-stream",
	"image/gif":                         "gif",
	"image/png":                         "png",
	"image/jpeg":                        "jpeg",
	"image/webp":                        "webp",
	"image/avif":                        "avif",
	"image/svg+xml":                     "svg",
	"image/x-icon":                      "ico",
	"audio/mpeg":                        "mp3",
	"video/mp4":                         "mp4",
	"font/woff2":                        "woff2",
}

// Extension returns the extension tag for a media type such as
// "application/json". Parameters and surrounding whitespace are ignored.
// Types outside the built-in table fall back to the mime package registry.
func Extension(mediaType string) (string, bool) {
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	if mediaType == "" || !strings.Contains(mediaType, "/") {
		return "", false
	}
	if ext, ok := extensions[mediaType]; ok {
		return ext, true
	}
	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return "", false
	}
	return strings.TrimPrefix(exts[0], "."), true
}

// Params parses "key=value" fields, as produced by splitting a Content-Type
// value on ";". Fields without "=" are skipped, keys are lower-cased and
// surrounding quotes are removed from values.
func Params(fields []string) map[string]string {
	params := make(map[string]string)
	for _, field := range fields {
		key, value, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		params[key] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	return params
}

// Charset returns the charset parameter of a Content-Type value.
func Charset(contentType string) (string, bool) {
	charset, ok := Params(strings.Split(contentType, ";"))["charset"]
	return charset, ok && charset != ""
}
