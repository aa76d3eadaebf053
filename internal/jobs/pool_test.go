package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirrorform/twind-go/internal/extract"
	"github.com/mirrorform/twind-go/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestPool(t *testing.T, st *store.Store) *Pool {
	t.Helper()
	return NewPool(st, "test-worker", Config{
		Workers:      2,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  3,
		BackoffBase:  time.Millisecond,
	}, prometheus.NewRegistry(), slog.New(slog.DiscardHandler))
}

// waitForStatus polls until the job reaches want or the deadline passes.
func waitForStatus(t *testing.T, st *store.Store, id string, want store.JobStatus) *store.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := st.GetJob(context.Background(), id)
	t.Fatalf("job never reached %s, stuck at %s (retry_count=%d)", want, job.Status, job.RetryCount)
	return nil
}

func Test_Pool_CompletesJob(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	pool := newTestPool(t, st)

	var handled int32
	pool.Register("ingestion", func(_ context.Context, _ *store.Job) error {
		atomic.AddInt32(&handled, 1)
		return nil
	})

	id, err := st.EnqueueJob(context.Background(), "src-1", "t", "ingestion", 0, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { pool.Run(ctx); close(done) }()

	job := waitForStatus(t, st, id, store.StatusComplete)
	if job.RetryCount != 0 {
		t.Errorf("retry_count: want 0, got %d", job.RetryCount)
	}
	if atomic.LoadInt32(&handled) != 1 {
		t.Errorf("handler ran %d times, want 1", handled)
	}

	cancel()
	<-done
}

func Test_Pool_ThreeStrikesDeadLetters(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	pool := newTestPool(t, st)

	var attempts int32
	pool.Register("ingestion", func(_ context.Context, _ *store.Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("transient backend trouble")
	})

	id, err := st.EnqueueJob(context.Background(), "src-1", "t", "ingestion", 0, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { pool.Run(ctx); close(done) }()

	job := waitForStatus(t, st, id, store.StatusDeadLetter)
	cancel()
	<-done

	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts: want exactly 3, got %d", got)
	}
	if job.Error == "" {
		t.Error("dead-letter job carries no error")
	}
}

func Test_Pool_TerminalErrorSkipsRetries(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	pool := newTestPool(t, st)

	var attempts int32
	pool.Register("ingestion", func(_ context.Context, _ *store.Job) error {
		atomic.AddInt32(&attempts, 1)
		return &extract.ExtractError{Code: extract.CodeEmpty, Message: "no text", Retryable: false}
	})

	id, err := st.EnqueueJob(context.Background(), "src-1", "t", "ingestion", 0, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { pool.Run(ctx); close(done) }()

	waitForStatus(t, st, id, store.StatusDeadLetter)
	cancel()
	<-done

	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("terminal failure retried: %d attempts", got)
	}
}

func Test_Pool_UnknownJobTypeDeadLetters(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	pool := newTestPool(t, st)

	id, err := st.EnqueueJob(context.Background(), "src-1", "t", "mystery", 0, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { pool.Run(ctx); close(done) }()

	waitForStatus(t, st, id, store.StatusDeadLetter)
	cancel()
	<-done
}

func Test_Pool_ReplayAfterDeadLetterSucceeds(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	pool := newTestPool(t, st)

	// Fail until the flag flips, simulating a fixed upstream.
	var healthy atomic.Bool
	pool.Register("ingestion", func(_ context.Context, _ *store.Job) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("still broken")
	})

	id, err := st.EnqueueJob(context.Background(), "src-1", "t", "ingestion", 0, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { pool.Run(ctx); close(done) }()

	waitForStatus(t, st, id, store.StatusDeadLetter)

	healthy.Store(true)
	if err := st.ReplayJob(context.Background(), id); err != nil {
		t.Fatalf("replay: %v", err)
	}

	job := waitForStatus(t, st, id, store.StatusComplete)
	if job.RetryCount != 0 {
		t.Errorf("replayed job retry_count: want 0, got %d", job.RetryCount)
	}

	cancel()
	<-done
}

func Test_BackoffDelay_JitterBounds(t *testing.T) {
	t.Parallel()

	base := 30 * time.Second
	for retry := 0; retry < 4; retry++ {
		expected := base << uint(retry)
		lo := time.Duration(float64(expected) * 0.75)
		hi := time.Duration(float64(expected) * 1.25)
		for i := 0; i < 100; i++ {
			d := backoffDelay(base, retry)
			if d < lo || d > hi {
				t.Fatalf("retry %d: delay %v outside [%v, %v]", retry, d, lo, hi)
			}
		}
	}
}

func Test_BackoffDelay_MonotonicAcrossRetries(t *testing.T) {
	t.Parallel()

	// Jitter is ±25% while the base doubles, so every delay sampled at
	// retry r must exceed every delay sampled at retry r-1.
	base := time.Minute
	sample := func(retry int) (lo, hi time.Duration) {
		lo, hi = time.Duration(1<<62), 0
		for i := 0; i < 100; i++ {
			d := backoffDelay(base, retry)
			if d < lo {
				lo = d
			}
			if d > hi {
				hi = d
			}
		}
		return lo, hi
	}

	_, prevHi := sample(0)
	for retry := 1; retry < 4; retry++ {
		lo, hi := sample(retry)
		if lo <= prevHi {
			t.Fatalf("retry %d backoff overlaps previous: min %v <= prior max %v", retry, lo, prevHi)
		}
		prevHi = hi
	}
}
