// Package server implements the HTTP API for the digital twin platform:
// source submission, retrieval (blocking and SSE), verified answer
// management, and dead-letter inspection. The server is started by the
// `twind serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mirrorform/twind-go/internal/logging"
	"github.com/mirrorform/twind-go/internal/store"
	"github.com/mirrorform/twind-go/internal/verified"
)

// New constructs a Server from its dependencies and config.
func New(st *store.Store, ret retriever, ver *verified.Manager, cfg *Config) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("server: store must not be nil")
	}
	if ret == nil {
		return nil, fmt.Errorf("server: retriever must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}

	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		store:     st,
		retriever: ret,
		verified:  ver,
		cfg:       cfg,
		log:       log,
		metrics:   newServerMetrics(registry),
		registry:  registry,
		pingers:   cfg.Pingers,
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	if cfg.APIKey == "" {
		log.Warn("server: API key not configured, authentication disabled")
	}

	protected := func(pattern string, h http.HandlerFunc) (string, http.Handler) {
		return pattern, authMiddleware(cfg.APIKey, rl.middleware(h))
	}

	mux := http.NewServeMux()
	mux.Handle(protected("POST /api/sources", s.handleSourceCreate))
	mux.Handle(protected("DELETE /api/sources/{id}", s.handleSourceDelete))
	mux.Handle(protected("POST /api/retrieve", s.handleRetrieve))
	mux.Handle(protected("GET /api/retrieve/stream", s.handleRetrieveStream))
	mux.Handle(protected("GET /api/jobs/dead-letter", s.handleDeadLetters))
	mux.Handle(protected("POST /api/jobs/{id}/replay", s.handleJobReplay))
	mux.Handle(protected("POST /api/verified", s.handleVerifiedCreate))
	mux.Handle(protected("GET /api/verified", s.handleVerifiedList))
	mux.Handle(protected("DELETE /api/verified/{id}", s.handleVerifiedDeactivate))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, s.metrics, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends a JSON error body. Internal details never reach the
// client; callers log them and pass a generic message here.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
