package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mirrorform/twind-go/internal/retrieval"
	"github.com/mirrorform/twind-go/internal/store"
	"github.com/mirrorform/twind-go/internal/verified"
	"github.com/prometheus/client_golang/prometheus"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Must be long enough for SSE retrieval streams.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives the server's Prometheus metrics and backs /metrics.
	// If nil, a private registry is created.
	Registry *prometheus.Registry
}

// retriever is the interface the retrieve handlers call. *retrieval.Engine
// satisfies it; tests inject a fake.
type retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
	Stream(ctx context.Context, req retrieval.Request) <-chan retrieval.Event
}

// Server is the HTTP API for source ingestion, retrieval, and verified
// answer management.
type Server struct {
	// store is the relational store backing sources, jobs, and grants.
	store *store.Store
	// retriever runs retrieval requests; *retrieval.Engine in production.
	retriever retriever
	// verified manages owner-curated answers.
	verified *verified.Manager
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// metrics holds the server's Prometheus instruments.
	metrics *serverMetrics
	// registry backs the /metrics endpoint.
	registry *prometheus.Registry
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// createSourceRequest is the JSON body for POST /api/sources. Exactly one of
// Ref and Content must be set.
type createSourceRequest struct {
	// TenantID is the digital twin the content belongs to.
	TenantID string `json:"tenant_id"`
	// DisplayName is the human-readable source label used in citations.
	DisplayName string `json:"display_name"`
	// OriginURL is the upstream location, if any.
	OriginURL string `json:"origin_url,omitempty"`
	// Ref is a content reference (file path or URL) for the extractors.
	Ref string `json:"ref,omitempty"`
	// Content is inline text, bypassing extraction.
	Content string `json:"content,omitempty"`
	// Priority orders the ingestion job relative to other queued work.
	Priority int `json:"priority,omitempty"`
}

// createSourceResponse is the JSON response for POST /api/sources.
type createSourceResponse struct {
	// SourceID identifies the created (or deduplicated) source.
	SourceID string `json:"source_id"`
	// JobID identifies the queued ingestion job.
	JobID string `json:"job_id"`
	// Status is the source's current lifecycle status.
	Status string `json:"status"`
}

// retrieveRequest is the JSON body for POST /api/retrieve.
type retrieveRequest struct {
	// TenantID selects the digital twin to query.
	TenantID string `json:"tenant_id"`
	// Query is the end user's question.
	Query string `json:"query"`
	// PermissionGroup is the caller's access group. Empty means owner.
	PermissionGroup string `json:"permission_group,omitempty"`
	// TopK overrides the default result depth.
	TopK int `json:"top_k,omitempty"`
}

// createVerifiedRequest is the JSON body for POST /api/verified.
type createVerifiedRequest struct {
	// TenantID is the digital twin the answer belongs to.
	TenantID string `json:"tenant_id"`
	// Question is the exact question the answer covers.
	Question string `json:"question"`
	// Answer is the owner's canonical answer.
	Answer string `json:"answer"`
}

// jobResponse is the JSON shape of a job in API responses.
type jobResponse struct {
	ID            string `json:"id"`
	SourceID      string `json:"source_id"`
	TenantID      string `json:"tenant_id"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	RetryCount    int    `json:"retry_count"`
	LastError     string `json:"last_error,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// errorResponse is the JSON body for API errors.
type errorResponse struct {
	Error string `json:"error"`
}
