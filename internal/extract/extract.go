// Package extract turns content references (files, URLs) into raw text for
// the processing pipeline. Extractors are boundary collaborators: the
// built-in set covers plain text and generic HTTP fetches, and connectors
// for richer providers register themselves at startup.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Kind identifies the provider family a content reference belongs to.
type Kind string

const (
	// KindFile is a local file path or inline text upload.
	KindFile Kind = "file"
	// KindHTTP is a generic web page or raw document URL.
	KindHTTP Kind = "http"
	// KindYouTube is a YouTube video URL (transcript connector).
	KindYouTube Kind = "youtube"
	// KindPodcast is a podcast RSS feed URL (audio connector).
	KindPodcast Kind = "podcast"
	// KindXThread is an X (Twitter) thread URL.
	KindXThread Kind = "x_thread"
)

// Error codes surfaced on failed extractions.
const (
	// CodeUnreachable means the upstream could not be fetched.
	CodeUnreachable = "source_unreachable"
	// CodeEmpty means extraction succeeded but produced no text.
	CodeEmpty = "empty_extraction"
	// CodeUnsupported means no extractor is registered for the reference.
	CodeUnsupported = "unsupported_source"
)

// ExtractError is the structured failure returned by extractors. Retryable
// distinguishes transient upstream trouble from permanently bad references.
type ExtractError struct {
	// Code is a stable machine-readable failure code.
	Code string
	// Message is the human-readable description.
	Message string
	// Retryable marks failures worth re-attempting with backoff.
	Retryable bool
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract: %s: %s", e.Code, e.Message)
}

// Retryable reports whether err is an extraction failure worth retrying.
// Unknown errors default to retryable so transient infrastructure trouble
// is not dead-lettered prematurely.
func Retryable(err error) bool {
	var ee *ExtractError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return true
}

// Extractor turns one content reference into raw text.
type Extractor interface {
	// Extract fetches and extracts the text behind ref. Failures are
	// *ExtractError values.
	Extract(ctx context.Context, ref string) (string, error)
}

// Classify maps a content reference to its provider kind. Pure function,
// no network access.
func Classify(ref string) Kind {
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return KindFile
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	switch {
	case host == "youtube.com" || host == "youtu.be" || host == "m.youtube.com":
		return KindYouTube
	case host == "x.com" || host == "twitter.com":
		return KindXThread
	case strings.HasSuffix(u.Path, ".rss") || strings.HasSuffix(u.Path, ".xml") || strings.Contains(u.Path, "/feed"):
		return KindPodcast
	default:
		return KindHTTP
	}
}

// Registry maps provider kinds to their extractors. Safe for concurrent use
// once populated; registration happens during startup.
type Registry struct {
	mu         sync.RWMutex
	extractors map[Kind]Extractor
}

// NewRegistry returns a registry with the built-in extractors installed.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[Kind]Extractor)}
	r.Register(KindFile, &FileExtractor{})
	r.Register(KindHTTP, NewHTTPExtractor())
	return r
}

// Register installs an extractor for a provider kind, replacing any
// previous registration.
func (r *Registry) Register(kind Kind, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[kind] = e
}

// Extract classifies ref and dispatches to the registered extractor. A
// whitespace-only result is a terminal empty-extraction error; the pipeline
// never invents text.
func (r *Registry) Extract(ctx context.Context, ref string) (string, error) {
	kind := Classify(ref)

	r.mu.RLock()
	e, ok := r.extractors[kind]
	r.mu.RUnlock()
	if !ok {
		return "", &ExtractError{
			Code:      CodeUnsupported,
			Message:   fmt.Sprintf("no extractor registered for %s sources", kind),
			Retryable: false,
		}
	}

	text, err := e.Extract(ctx, ref)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", &ExtractError{
			Code:      CodeEmpty,
			Message:   fmt.Sprintf("%s source produced no text", kind),
			Retryable: false,
		}
	}
	return text, nil
}
