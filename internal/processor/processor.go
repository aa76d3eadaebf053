// Package processor implements the content processing pipeline: chunk,
// enrich, embed, and index one source's raw text. Invoked by the job worker
// for ingestion jobs and by `twind ingest` for one-shot runs.
package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mirrorform/twind-go/internal/embedder"
	"github.com/mirrorform/twind-go/internal/store"
	"github.com/mirrorform/twind-go/internal/vecstore"
)

// Config holds the processing parameters.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to 1000 if zero.
	ChunkSize int `yaml:"chunk_size"`

	// ChunkOverlap is the number of characters shared by consecutive
	// chunks. Defaults to 200 if zero.
	ChunkOverlap int `yaml:"chunk_overlap"`

	// UpsertBatchSize is the number of points per vector upsert request.
	// Defaults to 100 if zero.
	UpsertBatchSize int `yaml:"upsert_batch_size"`
}

// withDefaults fills unset fields with production defaults.
func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = 200
	}
	if c.UpsertBatchSize <= 0 {
		c.UpsertBatchSize = 100
	}
	return c
}

// Processor orchestrates the chunk, enrich, embed, index flow for a source.
type Processor struct {
	store  *store.Store
	index  vecstore.Index
	embed  embedder.Embedder
	enrich Enricher
	cfg    Config
	log    *slog.Logger
}

// New constructs a Processor.
func New(st *store.Store, index vecstore.Index, embed embedder.Embedder, enrich Enricher, cfg Config, log *slog.Logger) *Processor {
	return &Processor{
		store:  st,
		index:  index,
		embed:  embed,
		enrich: enrich,
		cfg:    cfg.withDefaults(),
		log:    log,
	}
}

// Process runs the full pipeline for one source's extracted text and
// returns the number of chunks indexed. Reprocessing the same text replaces
// both the chunk rows and the vector points wholesale, so a retried job
// converges on the same end state.
func (p *Processor) Process(ctx context.Context, tenantID, sourceID, rawText string) (int, error) {
	if err := p.store.SetSourceStatus(ctx, sourceID, store.SourceProcessing); err != nil {
		return 0, fmt.Errorf("processor: mark processing: %w", err)
	}

	n, err := p.process(ctx, tenantID, sourceID, rawText)
	if err != nil {
		return 0, err
	}

	if err := p.store.SetSourceLive(ctx, sourceID, n); err != nil {
		return 0, fmt.Errorf("processor: mark live: %w", err)
	}
	p.log.Info("processor: source live",
		slog.String("source_id", sourceID),
		slog.String("tenant_id", tenantID),
		slog.Int("chunks", n),
	)
	return n, nil
}

func (p *Processor) process(ctx context.Context, tenantID, sourceID, rawText string) (int, error) {
	chunks := Chunk(rawText, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return 0, p.fail(ctx, sourceID, "extract", "empty_text", "source produced no chunks")
	}

	// Enrich sequentially; the completion client already bounds concurrency
	// and a slow chunk should not fail the source.
	enrichments := make([]Enrichment, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		enr, err := p.enrich.EnrichChunk(ctx, c)
		if err != nil {
			return 0, p.fail(ctx, sourceID, "enrich", "enrich_failed", err.Error())
		}
		enrichments[i] = enr
		texts[i] = EnrichedText(c, enr.Questions)
	}

	vectors, err := p.embed.Embed(ctx, texts)
	if err != nil {
		return 0, p.fail(ctx, sourceID, "embed", "embed_failed", err.Error())
	}
	if len(vectors) != len(chunks) {
		return 0, p.fail(ctx, sourceID, "embed", "embed_failed",
			fmt.Sprintf("expected %d vectors, got %d", len(chunks), len(vectors)))
	}

	rows := make([]store.Chunk, len(chunks))
	points := make([]vecstore.Point, len(chunks))
	for i, c := range chunks {
		chunkID := uuid.NewString()
		vectorID := uuid.NewString()
		rows[i] = store.Chunk{
			ID:               chunkID,
			SourceID:         sourceID,
			Seq:              i,
			Content:          c,
			VectorID:         vectorID,
			SyntheticQueries: enrichments[i].Questions,
			Category:         enrichments[i].Category,
			Tone:             enrichments[i].Tone,
		}
		points[i] = vecstore.Point{
			ID:       vectorID,
			Vector:   vectors[i],
			Text:     c,
			SourceID: sourceID,
			ChunkID:  chunkID,
			Category: enrichments[i].Category,
			Tone:     enrichments[i].Tone,
		}
	}

	// Replace, never merge: old vectors go first so a duplicate upsert is
	// impossible, then the chunk rows swap transactionally. A crash between
	// the two stores is healed by re-running the same source.
	if err := p.index.DeleteBySource(ctx, tenantID, sourceID); err != nil {
		return 0, p.fail(ctx, sourceID, "index", "index_delete_failed", err.Error())
	}
	if err := p.store.ReplaceChunks(ctx, sourceID, rows); err != nil {
		return 0, p.fail(ctx, sourceID, "index", "chunk_replace_failed", err.Error())
	}
	for start := 0; start < len(points); start += p.cfg.UpsertBatchSize {
		end := start + p.cfg.UpsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		if err := p.index.Upsert(ctx, tenantID, points[start:end]); err != nil {
			return 0, p.fail(ctx, sourceID, "index", "vector_upsert_failed", err.Error())
		}
	}

	return len(chunks), nil
}

// fail records a structured failure on the source and returns it as an error.
func (p *Processor) fail(ctx context.Context, sourceID, step, code, msg string) error {
	failure := store.SourceFailure{Code: code, Message: msg, Step: step}
	if err := p.store.SetSourceError(ctx, sourceID, failure); err != nil {
		p.log.Error("processor: failed to record source error",
			slog.String("source_id", sourceID),
			slog.String("error", err.Error()),
		)
	}
	return fmt.Errorf("processor: %s: %s: %s", step, code, msg)
}

// DeleteSource removes a source everywhere: vector points first, then the
// relational rows. Citations referencing the source resolve to nothing once
// the rows are gone.
func (p *Processor) DeleteSource(ctx context.Context, tenantID, sourceID string) error {
	if err := p.index.DeleteBySource(ctx, tenantID, sourceID); err != nil {
		return fmt.Errorf("processor: delete vectors: %w", err)
	}
	if err := p.store.DeleteSource(ctx, sourceID); err != nil {
		return fmt.Errorf("processor: delete rows: %w", err)
	}
	p.log.Info("processor: source deleted",
		slog.String("source_id", sourceID),
		slog.String("tenant_id", tenantID),
	)
	return nil
}
