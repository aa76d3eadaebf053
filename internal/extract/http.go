package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// maxFetchBytes caps a single HTTP fetch. Larger documents are truncated,
// matching the prompt-side content cap downstream.
const maxFetchBytes = 10 << 20

// HTTPExtractor fetches a URL and strips HTML down to readable text.
type HTTPExtractor struct {
	client *http.Client
}

// NewHTTPExtractor constructs an HTTPExtractor with a bounded timeout.
func NewHTTPExtractor() *HTTPExtractor {
	return &HTTPExtractor{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// Extract fetches ref and returns its text content. HTML responses are
// reduced to visible text; other content types are returned as-is.
func (e *HTTPExtractor) Extract(ctx context.Context, ref string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", &ExtractError{
			Code:      CodeUnreachable,
			Message:   "invalid url: " + err.Error(),
			Retryable: false,
		}
	}
	req.Header.Set("User-Agent", "twind-ingest/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", &ExtractError{
			Code:      CodeUnreachable,
			Message:   "fetch failed: " + err.Error(),
			Retryable: true,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ExtractError{
			Code:      CodeUnreachable,
			Message:   fmt.Sprintf("fetch failed: HTTP %d", resp.StatusCode),
			Retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", &ExtractError{
			Code:      CodeUnreachable,
			Message:   "read body: " + err.Error(),
			Retryable: true,
		}
	}

	body := string(data)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		body = StripHTML(body)
	}
	return body, nil
}

// StripHTML reduces an HTML document to its visible text.
func StripHTML(s string) string {
	s = scriptRe.ReplaceAllString(s, "")
	s = tagRe.ReplaceAllString(s, "\n")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
