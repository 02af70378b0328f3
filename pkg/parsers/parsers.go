// Package parsers holds alternative driver.ParseFunc implementations.
package parsers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/kaptinlin/jsonrepair"

	"github.com/busy-dog/fetch-driver/pkg/driver"
)

// LenientJSON decodes json responses like driver.Parse, but repairs
// malformed documents (trailing commas, single quotes, unquoted keys,
// truncated input) before giving up. Other responses, and streamed ones, are
// left to driver.Parse.
func LenientJSON(res *http.Response, c *driver.Context, extra driver.ParseExtra) error {
	if c.Res.Type != "json" || extra.Receiver != nil || isAttachment(res) || res.Body == nil {
		return driver.Parse(res, c, extra)
	}

	c.Res.Status = res.StatusCode
	c.Res.Header = res.Header

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read json body: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}

	var body any
	if err := json.Unmarshal(data, &body); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(string(data))
		if repairErr != nil {
			return fmt.Errorf("decode json body: %w (repair: %v)", err, repairErr)
		}
		if err := json.Unmarshal([]byte(repaired), &body); err != nil {
			return fmt.Errorf("decode repaired json body: %w", err)
		}
	}
	c.Res.Body = body
	return nil
}

// Markdown parses like driver.Parse and then converts html bodies to
// Markdown.
func Markdown(res *http.Response, c *driver.Context, extra driver.ParseExtra) error {
	if err := driver.Parse(res, c, extra); err != nil {
		return err
	}
	html, ok := c.Res.Body.(string)
	if !ok || c.Res.Type != "html" {
		return nil
	}
	markdown, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return fmt.Errorf("convert html to markdown: %w", err)
	}
	c.Res.Body = markdown
	return nil
}

// Chain runs the first parser whose type tag matches the response, falling
// back to driver.Parse.
func Chain(byType map[string]driver.ParseFunc) driver.ParseFunc {
	return func(res *http.Response, c *driver.Context, extra driver.ParseExtra) error {
		if parse, ok := byType[c.Res.Type]; ok && parse != nil {
			return parse(res, c, extra)
		}
		return driver.Parse(res, c, extra)
	}
}

func isAttachment(res *http.Response) bool {
	return strings.Contains(res.Header.Get("Content-Disposition"), "attachment")
}
