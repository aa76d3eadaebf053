package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirrorform/twind-go/internal/config"
	"github.com/mirrorform/twind-go/internal/embedder"
	"github.com/mirrorform/twind-go/internal/extract"
	"github.com/mirrorform/twind-go/internal/jobs"
	"github.com/mirrorform/twind-go/internal/llm"
	"github.com/mirrorform/twind-go/internal/processor"
	"github.com/mirrorform/twind-go/internal/provider"
	"github.com/mirrorform/twind-go/internal/store"
	"github.com/mirrorform/twind-go/internal/tracing"
	"github.com/mirrorform/twind-go/internal/vecstore"
	"github.com/mirrorform/twind-go/internal/verified"
)

// services bundles the shared backend dependencies built from configuration.
// Close releases them in reverse construction order.
type services struct {
	store    *store.Store
	index    *vecstore.QdrantIndex
	embed    embedder.Embedder
	client   *llm.Client
	verified *verified.Manager
}

// Close releases the underlying connections.
func (s *services) Close() {
	if s.index != nil {
		_ = s.index.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// buildServices opens the relational store, connects to Qdrant, and
// constructs the embedder, chat model client, and verified answer manager.
func buildServices(ctx context.Context, cfg *config.Config, log *slog.Logger) (*services, error) {
	dbPath := cfg.Store.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("store: resolve default DB path: %w", err)
		}
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}
	log.Info("store opened", slog.String("path", dbPath))

	if err := embedder.Validate(cfg.Embedding.Primary, log); err != nil {
		st.Close()
		return nil, fmt.Errorf("embedder: %w", err)
	}
	primary, err := embedder.New(cfg.Embedding.Primary)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("embedder: %w", err)
	}
	var fallback embedder.Embedder
	if cfg.Embedding.Fallback != nil {
		fallback, err = embedder.New(*cfg.Embedding.Fallback)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("embedder fallback: %w", err)
		}
	}
	emb := embedder.NewResilient(primary, fallback, cfg.Embedding.Resilience.ResilientConfig(), log)

	qcfg := cfg.Qdrant
	if qcfg.VectorSize == 0 {
		qcfg.VectorSize = uint64(cfg.Embedding.Primary.DefaultDimensions()) //nolint:gosec // dimensions are bounded
	}
	index, err := vecstore.NewQdrantIndex(&qcfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("vecstore: %w", err)
	}
	log.Info("qdrant index ready",
		slog.String("host", qcfg.Host),
		slog.Int("port", qcfg.Port),
		slog.Uint64("vector_size", qcfg.VectorSize),
	)

	chatModel, err := provider.New(ctx, &cfg.Model)
	if err != nil {
		index.Close()
		st.Close()
		return nil, fmt.Errorf("provider: %w", err)
	}
	log.Info("provider initialised", slog.String("backend", string(cfg.Model.Backend)))

	client := llm.NewClient(chatModel, cfg.LLM.ClientConfig(), log)
	ver := verified.NewManager(st, index, emb, log)

	return &services{
		store:    st,
		index:    index,
		embed:    emb,
		client:   client,
		verified: ver,
	}, nil
}

// buildPool constructs a job pool wired with the ingestion and deletion
// handlers. The caller runs it.
func buildPool(svc *services, cfg *config.Config, reg prometheus.Registerer, log *slog.Logger) *jobs.Pool {
	enricher := processor.NewLLMEnricher(svc.client, log)
	proc := processor.New(svc.store, svc.index, svc.embed, enricher, cfg.Processor, log)

	pool := jobs.NewPool(svc.store, workerID(), cfg.Worker.JobsConfig(), reg, log)
	pool.Register(jobs.TypeIngestion, jobs.NewIngestionHandler(svc.store, extract.NewRegistry(), proc))
	pool.Register(jobs.TypeDeletion, jobs.NewDeletionHandler(proc))
	return pool
}

// workerID identifies this process in job claims.
func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "twind"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// setupTracing enables Langfuse tracing when the env keys are present.
// The returned flush must be called before exit.
func setupTracing(log *slog.Logger) func() {
	handler, flush, ok := tracing.Setup()
	if !ok {
		log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
		return func() {}
	}
	callbacks.AppendGlobalHandlers(handler)
	log.Info("langfuse tracing enabled")
	return flush
}
