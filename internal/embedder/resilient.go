package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ResilientConfig tunes the failure handling around a backend embedder.
type ResilientConfig struct {
	// Timeout bounds a single Embed call, retries included.
	Timeout time.Duration `yaml:"timeout"`
	// MaxRetries is the number of in-call retries on transient failure.
	MaxRetries int `yaml:"max_retries"`
	// RetryBaseDelay seeds the exponential retry backoff.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	// MaxConcurrent bounds in-flight backend calls.
	MaxConcurrent int `yaml:"max_concurrent"`
	// RequestsPerSecond rate-limits calls to the backend. Zero disables.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// BreakerThreshold is the consecutive failures before the circuit opens.
	BreakerThreshold int `yaml:"breaker_threshold"`
	// BreakerCooldown is how long the circuit stays open.
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// withDefaults fills unset fields with production defaults.
func (c ResilientConfig) withDefaults() ResilientConfig {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 60 * time.Second
	}
	return c
}

// Resilient wraps a backend Embedder with per-call timeout, bounded retry,
// bounded concurrency, optional rate limiting, and a circuit breaker. When
// the primary's circuit is open (or the primary exhausts its retries) and a
// fallback backend is configured, the call fails over to the fallback.
type Resilient struct {
	primary  Embedder
	fallback Embedder
	cfg      ResilientConfig

	brk     *breaker
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewResilient wraps primary with the failure-handling layer. fallback may be
// nil when no secondary backend is configured.
func NewResilient(primary, fallback Embedder, cfg ResilientConfig, log *slog.Logger) *Resilient {
	cfg = cfg.withDefaults()
	r := &Resilient{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		brk:      newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		log:      log,
	}
	if cfg.RequestsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return r
}

// Embed converts texts into embeddings via the primary backend, failing over
// to the fallback when the primary is unavailable.
func (r *Resilient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("embedder: acquire slot: %w", err)
	}
	defer r.sem.Release(1)

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedder: rate limit wait: %w", err)
		}
	}

	vecs, err := r.embedPrimary(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	if r.fallback == nil {
		return nil, err
	}

	r.log.Warn("embedder: primary failed, using fallback backend",
		slog.String("error", err.Error()),
	)
	vecs, ferr := r.fallback.Embed(ctx, texts)
	if ferr != nil {
		return nil, fmt.Errorf("embedder: primary (%v) and fallback both failed: %w", err, ferr)
	}
	return vecs, nil
}

// embedPrimary runs the primary backend behind the circuit breaker, retrying
// transient errors with exponential backoff.
func (r *Resilient) embedPrimary(ctx context.Context, texts []string) ([][]float32, error) {
	if !r.brk.allow() {
		return nil, ErrBreakerOpen
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.RetryBaseDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.cfg.MaxRetries)), ctx)

	var vecs [][]float32
	err := backoff.Retry(func() error {
		var callErr error
		vecs, callErr = r.primary.Embed(ctx, texts)
		return callErr
	}, policy)

	r.brk.record(err)
	if err != nil {
		return nil, err
	}
	return vecs, nil
}
