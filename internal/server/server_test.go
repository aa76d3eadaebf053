package server

import (
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirrorform/twind-go/internal/retrieval"
	"github.com/mirrorform/twind-go/internal/store"
	"github.com/mirrorform/twind-go/internal/vecstore"
	"github.com/mirrorform/twind-go/internal/verified"
)

// fakeRetriever returns a canned result. Stream derives its events from the
// same result so both code paths stay consistent in tests.
type fakeRetriever struct {
	res *retrieval.Result
	err error
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ retrieval.Request) (*retrieval.Result, error) {
	return f.res, f.err
}

func (f *fakeRetriever) Stream(ctx context.Context, _ retrieval.Request) <-chan retrieval.Event {
	out := make(chan retrieval.Event)
	go func() {
		defer close(out)
		if f.err != nil {
			return
		}
		meta := retrieval.Event{
			Type:                 retrieval.EventMetadata,
			Citations:            f.res.Citations,
			Confidence:           f.res.Confidence,
			InsufficientEvidence: f.res.InsufficientEvidence,
		}
		select {
		case out <- meta:
		case <-ctx.Done():
			return
		}
		for i := range f.res.Contexts {
			select {
			case out <- retrieval.Event{Type: retrieval.EventContext, Context: &f.res.Contexts[i]}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// nullIndex satisfies vecstore.Index without a backend.
type nullIndex struct{}

func (nullIndex) EnsureNamespace(context.Context, string) error              { return nil }
func (nullIndex) Upsert(context.Context, string, []vecstore.Point) error     { return nil }
func (nullIndex) Search(context.Context, string, vecstore.Query) ([]vecstore.Hit, error) {
	return nil, nil
}
func (nullIndex) DeleteBySource(context.Context, string, string) error { return nil }
func (nullIndex) DeletePoints(context.Context, string, []string) error { return nil }
func (nullIndex) DropNamespace(context.Context, string) error          { return nil }
func (nullIndex) Close() error                                         { return nil }

type nullEmbedder struct{}

func (nullEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

// newTestServer builds a fully wired Server on an in-memory store, a fake
// retriever, and a fresh metrics registry.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWith(t, &fakeRetriever{res: &retrieval.Result{InsufficientEvidence: true}})
}

func newTestServerWith(t *testing.T, ret retriever) *Server {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	log := slog.New(slog.DiscardHandler)
	ver := verified.NewManager(st, nullIndex{}, nullEmbedder{}, log)

	s, err := New(st, ret, ver, &Config{
		Logger:   log,
		Registry: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s
}
