// Package jobs runs the background worker pool. Workers poll the store for
// queued jobs, claim them atomically, and dispatch to registered handlers.
// Failed jobs retry with exponential backoff until the attempt budget is
// spent, then park in the dead-letter state for manual replay.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirrorform/twind-go/internal/extract"
	"github.com/mirrorform/twind-go/internal/logging"
	"github.com/mirrorform/twind-go/internal/store"
)

// Handler processes one claimed job. A nil return completes the job; an
// error return triggers the retry policy.
type Handler func(ctx context.Context, job *store.Job) error

// Config tunes the worker pool.
type Config struct {
	// Workers is the number of polling goroutines. Defaults to 4.
	Workers int `yaml:"workers"`

	// PollInterval is how long an idle worker sleeps between claim
	// attempts. Defaults to 1s.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxAttempts is the attempt budget per job before dead-lettering.
	// Defaults to 3.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase seeds the retry delay: base * 2^retry_count, jittered.
	// Defaults to 30s.
	BackoffBase time.Duration `yaml:"backoff_base"`
}

// withDefaults fills unset fields with production defaults.
func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 30 * time.Second
	}
	return c
}

// Pool is the worker pool. Workers share nothing but the store handle, so
// adding workers never introduces coordination beyond the claim UPDATE.
type Pool struct {
	store    *store.Store
	cfg      Config
	log      *slog.Logger
	metrics  *workerMetrics
	workerID string

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewPool constructs a Pool. workerID identifies this process in claimed
// job rows. Metrics register against reg.
func NewPool(st *store.Store, workerID string, cfg Config, reg prometheus.Registerer, log *slog.Logger) *Pool {
	return &Pool{
		store:    st,
		cfg:      cfg.withDefaults(),
		log:      log,
		metrics:  newWorkerMetrics(reg),
		workerID: workerID,
		handlers: make(map[string]Handler),
	}
}

// Register installs the handler for a job type.
func (p *Pool) Register(jobType string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[jobType] = h
}

// Run starts the workers and blocks until ctx is canceled and every
// in-flight job has finished.
func (p *Pool) Run(ctx context.Context) {
	p.log.Info("jobs: worker pool starting",
		slog.Int("workers", p.cfg.Workers),
		slog.String("worker_id", p.workerID),
	)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.runWorker(ctx, n)
		}(i)
	}
	wg.Wait()
	p.log.Info("jobs: worker pool stopped")
}

// runWorker is one polling loop. Cancellation stops new claims; the job in
// flight finishes on a detached context.
func (p *Pool) runWorker(ctx context.Context, n int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.store.ClaimNext(ctx, p.workerID)
		if err != nil {
			if errors.Is(err, store.ErrNoJob) {
				p.observeQueueDepth(ctx)
				p.sleep(ctx)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.log.Error("jobs: claim failed",
				slog.Int("worker", n),
				slog.String("error", err.Error()),
			)
			p.sleep(ctx)
			continue
		}

		// Finish the claimed job even if shutdown starts mid-flight.
		p.handle(context.WithoutCancel(ctx), job)
	}
}

// handle dispatches one claimed job and applies the retry policy to the
// outcome.
func (p *Pool) handle(ctx context.Context, job *store.Job) {
	ctx = logging.WithCorrelation(ctx, job.CorrelationID())
	log := p.log.With(
		slog.String("job_id", job.ID),
		slog.String("job_type", job.JobType),
		slog.String("tenant_id", job.TenantID),
		slog.String("correlation_id", job.CorrelationID()),
		slog.Int("retry_count", job.RetryCount),
	)

	p.mu.RLock()
	h, ok := p.handlers[job.JobType]
	p.mu.RUnlock()
	if !ok {
		log.Error("jobs: no handler registered, dead-lettering")
		p.finishJob(ctx, job, fmt.Errorf("no handler registered for job type %q", job.JobType), false)
		return
	}

	p.metrics.jobsInFlight.Inc()
	start := time.Now()
	err := h(ctx, job)
	p.metrics.jobsInFlight.Dec()
	p.metrics.jobDurationSeconds.WithLabelValues(job.JobType).Observe(time.Since(start).Seconds())

	if err == nil {
		if cerr := p.store.CompleteJob(ctx, job.ID); cerr != nil {
			log.Error("jobs: failed to mark complete", slog.String("error", cerr.Error()))
			return
		}
		p.metrics.jobsTotal.WithLabelValues(job.JobType, "complete").Inc()
		log.Info("jobs: job complete", slog.Duration("took", time.Since(start)))
		return
	}

	log.Warn("jobs: job failed", slog.String("error", err.Error()))
	p.finishJob(ctx, job, err, extract.Retryable(err))
}

// finishJob routes a failed job to requeue or dead-letter per the retry
// policy: terminal errors and exhausted budgets park immediately.
func (p *Pool) finishJob(ctx context.Context, job *store.Job, jobErr error, retryable bool) {
	if !retryable || job.RetryCount+1 >= p.cfg.MaxAttempts {
		if err := p.store.DeadLetterJob(ctx, job.ID, jobErr.Error()); err != nil {
			p.log.Error("jobs: failed to dead-letter", slog.String("job_id", job.ID), slog.String("error", err.Error()))
			return
		}
		p.metrics.jobsTotal.WithLabelValues(job.JobType, "dead_letter").Inc()
		return
	}

	delay := backoffDelay(p.cfg.BackoffBase, job.RetryCount)
	next := time.Now().Add(delay).Unix()
	if err := p.store.RequeueJob(ctx, job.ID, jobErr.Error(), next); err != nil {
		p.log.Error("jobs: failed to requeue", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return
	}
	p.metrics.jobsTotal.WithLabelValues(job.JobType, "requeued").Inc()
	p.log.Info("jobs: job requeued",
		slog.String("job_id", job.ID),
		slog.Duration("delay", delay),
	)
}

// backoffDelay computes base * 2^retryCount with ±25% jitter. The jitter
// spreads retries from jobs that failed together.
func backoffDelay(base time.Duration, retryCount int) time.Duration {
	if retryCount > 16 {
		retryCount = 16
	}
	delay := base << uint(retryCount)
	jitter := 0.75 + rand.Float64()*0.5 //nolint:gosec // scheduling jitter, not crypto
	return time.Duration(float64(delay) * jitter)
}

// observeQueueDepth refreshes the queue depth gauge on idle polls.
func (p *Pool) observeQueueDepth(ctx context.Context) {
	depth, err := p.store.QueueDepth(ctx)
	if err != nil {
		return
	}
	p.metrics.queueDepth.Set(float64(depth))
}

// sleep waits one poll interval or until cancellation.
func (p *Pool) sleep(ctx context.Context) {
	t := time.NewTimer(p.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
