package transport

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/vincent-petithory/dataurl"
)

// DataRoundTripper answers data: URLs (RFC 2397) locally with a 200
// response carrying the decoded payload.
type DataRoundTripper struct{}

func (DataRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		req.Body.Close()
	}
	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	du, err := dataurl.DecodeString(req.URL.String())
	if err != nil {
		return nil, fmt.Errorf("decode data url: %w", err)
	}

	header := make(http.Header)
	header.Set("Content-Type", du.MediaType.String())
	header.Set("Content-Length", strconv.Itoa(len(du.Data)))

	body := du.Data
	if req.Method == http.MethodHead {
		body = nil
	}

	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(du.Data)),
		Request:       req,
	}, nil
}
