// Package retrieval answers tenant queries with a verified-first hybrid
// pipeline: exact verified answers short-circuit everything, otherwise the
// query is expanded, searched across variants, fused with reciprocal rank
// fusion, permission-filtered, and reranked. The engine never surfaces raw
// pipeline errors to callers; a failed retrieval degrades to an explicit
// insufficient-evidence result.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirrorform/twind-go/internal/embedder"
	"github.com/mirrorform/twind-go/internal/llm"
	"github.com/mirrorform/twind-go/internal/store"
	"github.com/mirrorform/twind-go/internal/vecstore"
	"github.com/mirrorform/twind-go/internal/verified"
	"github.com/prometheus/client_golang/prometheus"
)

// Request is one retrieval call.
type Request struct {
	// Query is the end user's question.
	Query string

	// TenantID selects the digital twin to query.
	TenantID string

	// PermissionGroup is the caller's access group. Empty means the tenant
	// owner, who sees everything.
	PermissionGroup string

	// TopK is the number of contexts to return. Zero selects the default.
	TopK int
}

// Context is one retrieved passage, ordered by final score.
type Context struct {
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	SourceID   string  `json:"source_id,omitempty"`
	ChunkID    string  `json:"chunk_id,omitempty"`
	IsVerified bool    `json:"is_verified"`
	Category   string  `json:"category,omitempty"`
	Tone       string  `json:"tone,omitempty"`
}

// Result is the outcome of a retrieval. When no usable context survives the
// pipeline, InsufficientEvidence is set instead of returning an empty list
// silently, so callers can distinguish "nothing known" from "nothing asked".
type Result struct {
	Contexts             []Context        `json:"contexts"`
	Citations            []store.Citation `json:"citations"`
	Confidence           float64          `json:"confidence"`
	InsufficientEvidence bool             `json:"insufficient_evidence"`
}

// Config tunes the retrieval pipeline.
type Config struct {
	// TopK is the default number of contexts returned per request.
	TopK int `yaml:"top_k"`

	// MaxParaphrases caps query expansion output.
	MaxParaphrases int `yaml:"max_paraphrases"`

	// GeneralTopK is the per-variant vector search depth.
	GeneralTopK int `yaml:"general_top_k"`

	// VerifiedTopK is the depth of the verified-only vector search.
	VerifiedTopK int `yaml:"verified_top_k"`

	// VerifiedBoostThreshold is the similarity above which a verified
	// near-match is boosted to full confidence.
	VerifiedBoostThreshold float64 `yaml:"verified_boost_threshold"`

	// WorkingSetSize caps the candidate set handed to the reranker.
	WorkingSetSize int `yaml:"working_set_size"`

	// VerifiedGateTimeout bounds the exact-match lookup.
	VerifiedGateTimeout time.Duration `yaml:"verified_gate_timeout"`

	// SearchTimeout bounds the fan-out search phase. Variants still in
	// flight at expiry are dropped and the partial result set is fused.
	SearchTimeout time.Duration `yaml:"search_timeout"`
}

// withDefaults fills unset fields with production defaults.
func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.MaxParaphrases <= 0 {
		c.MaxParaphrases = 3
	}
	if c.GeneralTopK <= 0 {
		c.GeneralTopK = 20
	}
	if c.VerifiedTopK <= 0 {
		c.VerifiedTopK = 5
	}
	if c.VerifiedBoostThreshold <= 0 {
		c.VerifiedBoostThreshold = 0.3
	}
	if c.WorkingSetSize <= 0 {
		c.WorkingSetSize = 30
	}
	if c.VerifiedGateTimeout <= 0 {
		c.VerifiedGateTimeout = 2 * time.Second
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = 20 * time.Second
	}
	return c
}

// Engine runs the retrieval pipeline. Safe for concurrent use.
type Engine struct {
	store    *store.Store
	index    vecstore.Index
	embed    embedder.Embedder
	client   *llm.Client
	verified *verified.Manager
	cfg      Config
	metrics  *engineMetrics
	rerank   *reranker
	log      *slog.Logger
}

// NewEngine wires the retrieval pipeline. The prometheus registry scopes
// metric registration so tests can stay hermetic.
func NewEngine(st *store.Store, index vecstore.Index, embed embedder.Embedder, client *llm.Client, ver *verified.Manager, cfg Config, reg prometheus.Registerer, log *slog.Logger) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		store:    st,
		index:    index,
		embed:    embed,
		client:   client,
		verified: ver,
		cfg:      cfg,
		metrics:  newEngineMetrics(reg),
		rerank:   &reranker{client: client, log: log},
		log:      log,
	}
}

// Retrieve answers one query. Internal failures are logged and degrade to an
// insufficient-evidence result; only context cancellation is returned as an
// error.
func (e *Engine) Retrieve(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	topK := req.TopK
	if topK <= 0 {
		topK = e.cfg.TopK
	}

	// Verified gate. An exact question match is the owner's own words and
	// outranks anything the index could produce.
	if va := e.verifiedGate(ctx, req); va != nil {
		e.metrics.observe("verified", time.Since(start))
		return &Result{
			Contexts: []Context{{
				Text:       va.Answer,
				Score:      1.0,
				ChunkID:    va.ID,
				IsVerified: true,
			}},
			Confidence: 1.0,
		}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contexts, err := e.searchAndFuse(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		e.log.Warn("retrieval: pipeline degraded",
			slog.String("tenant_id", req.TenantID),
			slog.String("error", err.Error()))
		e.metrics.observe("insufficient", time.Since(start))
		return &Result{InsufficientEvidence: true}, nil
	}

	if len(contexts) > e.cfg.WorkingSetSize {
		contexts = contexts[:e.cfg.WorkingSetSize]
	}

	contexts = e.rerank.rerank(ctx, req.Query, contexts)
	if len(contexts) > topK {
		contexts = contexts[:topK]
	}

	if len(contexts) == 0 {
		e.metrics.observe("insufficient", time.Since(start))
		return &Result{InsufficientEvidence: true}, nil
	}

	citations := e.resolveCitations(ctx, contexts)
	e.metrics.observe("retrieved", time.Since(start))
	return &Result{
		Contexts:   contexts,
		Citations:  citations,
		Confidence: contexts[0].Score,
	}, nil
}

// verifiedGate looks for an exact verified answer within the gate timeout.
// A slow or failing lookup never blocks the main pipeline.
func (e *Engine) verifiedGate(ctx context.Context, req Request) *store.VerifiedAnswer {
	gateCtx, cancel := context.WithTimeout(ctx, e.cfg.VerifiedGateTimeout)
	defer cancel()

	va, err := e.verified.Match(gateCtx, req.TenantID, req.Query)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.log.Warn("retrieval: verified gate failed",
				slog.String("tenant_id", req.TenantID),
				slog.String("error", err.Error()))
		}
		return nil
	}
	return va
}

// searchAndFuse runs expansion, the fan-out searches, fusion, and the
// permission filter, returning the deduplicated candidate set.
func (e *Engine) searchAndFuse(ctx context.Context, req Request) ([]Context, error) {
	query, warnings := llm.Sanitize(req.Query)
	for _, w := range warnings {
		e.log.Warn("retrieval: query sanitized",
			slog.String("tenant_id", req.TenantID),
			slog.String("warning", w))
	}

	variants := []string{query}
	variants = append(variants, e.expandQuery(ctx, query)...)
	if hyde := e.hydeAnswer(ctx, query); hyde != "" {
		variants = append(variants, hyde)
	}

	vectors, err := e.embed.Embed(ctx, variants)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("retrieval: embedder returned no vectors")
	}

	lists, verifiedHits := e.fanOutSearch(ctx, req.TenantID, vectors)

	contexts := rrfMerge(lists)

	// Verified near-matches join the candidate set at full confidence so
	// they survive dedup ahead of regular chunks.
	boosted := make([]Context, 0, len(verifiedHits))
	for _, hit := range verifiedHits {
		if float64(hit.Score) > e.cfg.VerifiedBoostThreshold {
			c := contextFromHit(hit)
			c.Score = 1.0
			boosted = append(boosted, c)
		}
	}
	contexts = append(boosted, contexts...)

	contexts, err = e.filterByPermission(ctx, req, contexts)
	if err != nil {
		return nil, err
	}

	return dedupMaxScore(contexts), nil
}

// fanOutSearch runs one general search per query variant plus one
// verified-only search on the original query embedding, all in parallel
// under the search timeout. General searches exclude verified points so
// injected answers never occupy regular top-K slots; they enter only
// through the thresholded verified search. Failed or expired searches
// contribute nothing; the surviving lists are fused as-is.
func (e *Engine) fanOutSearch(ctx context.Context, tenantID string, vectors [][]float32) ([][]vecstore.Hit, []vecstore.Hit) {
	searchCtx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
	defer cancel()

	lists := make([][]vecstore.Hit, len(vectors))
	var verifiedHits []vecstore.Hit

	g, gctx := errgroup.WithContext(searchCtx)
	for i, vec := range vectors {
		g.Go(func() error {
			hits, err := e.index.Search(gctx, tenantID, vecstore.Query{
				Vector:          vec,
				TopK:            e.cfg.GeneralTopK,
				ExcludeVerified: true,
			})
			if err != nil {
				e.log.Warn("retrieval: variant search failed",
					slog.Int("variant", i),
					slog.String("error", err.Error()))
				return nil
			}
			lists[i] = hits
			return nil
		})
	}
	g.Go(func() error {
		hits, err := e.index.Search(gctx, tenantID, vecstore.Query{
			Vector:       vectors[0],
			TopK:         e.cfg.VerifiedTopK,
			VerifiedOnly: true,
			MinScore:     float32(e.cfg.VerifiedBoostThreshold),
		})
		if err != nil {
			e.log.Warn("retrieval: verified search failed",
				slog.String("error", err.Error()))
			return nil
		}
		verifiedHits = hits
		return nil
	})

	// Goroutines swallow their own errors, so Wait only reports timeout.
	_ = g.Wait()

	out := lists[:0]
	for _, list := range lists {
		if len(list) > 0 {
			out = append(out, list)
		}
	}
	return out, verifiedHits
}

// filterByPermission drops contexts from sources the caller's group was not
// granted. Verified answers and the owner's own view are always visible.
func (e *Engine) filterByPermission(ctx context.Context, req Request, contexts []Context) ([]Context, error) {
	if req.PermissionGroup == "" {
		return contexts, nil
	}

	granted, err := e.store.GrantedSources(ctx, req.TenantID, req.PermissionGroup)
	if err != nil {
		return nil, err
	}

	out := contexts[:0]
	for _, c := range contexts {
		if c.IsVerified || granted[c.SourceID] {
			out = append(out, c)
		}
	}
	return out, nil
}

const expandSystemPrompt = `You rewrite search queries. Produce up to %d alternative phrasings of the user's query that preserve its meaning. Respond with only a JSON object: {"paraphrases": ["...", "..."]}.`

type expandResponse struct {
	Paraphrases []string `json:"paraphrases"`
}

// expandQuery asks the model for paraphrases of the query. Best effort: on
// any failure the original query stands alone.
func (e *Engine) expandQuery(ctx context.Context, query string) []string {
	var resp expandResponse
	system := fmt.Sprintf(expandSystemPrompt, e.cfg.MaxParaphrases)
	if err := e.client.CompleteJSON(ctx, system, llm.DataBlock("query", query), &resp); err != nil {
		e.log.Debug("retrieval: query expansion failed", slog.String("error", err.Error()))
		return nil
	}
	out := resp.Paraphrases
	if len(out) > e.cfg.MaxParaphrases {
		out = out[:e.cfg.MaxParaphrases]
	}
	return out
}

const hydeSystemPrompt = `Write a short hypothetical answer to the user's question, one paragraph, as if you knew the facts. The text is used for semantic search, not shown to anyone.`

// hydeAnswer generates a hypothetical answer whose embedding tends to sit
// closer to relevant chunks than the bare question. Best effort.
func (e *Engine) hydeAnswer(ctx context.Context, query string) string {
	text, err := e.client.Complete(ctx, hydeSystemPrompt, llm.DataBlock("question", query))
	if err != nil {
		e.log.Debug("retrieval: hyde generation failed", slog.String("error", err.Error()))
		return ""
	}
	return text
}

// resolveCitations maps final chunk ids to their source records. Citation
// failures are not fatal: contexts without citations are still an answer.
func (e *Engine) resolveCitations(ctx context.Context, contexts []Context) []store.Citation {
	ids := make([]string, 0, len(contexts))
	for _, c := range contexts {
		if !c.IsVerified && c.ChunkID != "" {
			ids = append(ids, c.ChunkID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	citations, err := e.store.ResolveCitations(ctx, ids)
	if err != nil {
		e.log.Warn("retrieval: citation resolution failed", slog.String("error", err.Error()))
		return nil
	}
	return citations
}
