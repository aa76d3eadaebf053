package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/mirrorform/twind-go/internal/budget"
	"github.com/mirrorform/twind-go/internal/llm"
)

// rerankConcurrency bounds parallel scoring calls per request.
const rerankConcurrency = 3

// rerankFloor is the degenerate-signal cutoff. When no candidate scores at
// or above it the model is judging everything irrelevant (or emitting
// zeros), and the fusion ordering is more trustworthy than the rerank.
const rerankFloor = 0.001

const rerankSystemPrompt = `You judge how relevant a passage is to a search query.
Respond with only a JSON object: {"score": <float between 0.0 and 1.0>}.`

// reranker re-scores fusion candidates with the completion client. Scores
// replace the fusion scores entirely: fusion decides what is considered,
// the reranker decides the final order.
type reranker struct {
	client *llm.Client
	log    *slog.Logger
}

type rerankResponse struct {
	Score float64 `json:"score"`
}

// rerank scores each candidate against the query and returns the candidates
// sorted by rerank score descending. Candidates whose scoring call fails
// keep their fusion score. If every rerank score is below rerankFloor the
// input ordering is returned unchanged.
func (r *reranker) rerank(ctx context.Context, query string, candidates []Context) []Context {
	if len(candidates) == 0 || r.client == nil {
		return candidates
	}

	scores := make([]float64, len(candidates))
	scored := make([]bool, len(candidates))

	var wg sync.WaitGroup
	sem := make(chan struct{}, rerankConcurrency)
	for i := range candidates {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			passage := budget.Clip(candidates[i].Text, budget.DefaultPassageTokens)
			user := llm.DataBlock("query", query) + "\n" + llm.DataBlock("passage", passage)
			var resp rerankResponse
			if err := r.client.CompleteJSON(ctx, rerankSystemPrompt, user, &resp); err != nil {
				r.log.Debug("retrieval: rerank score failed, keeping fusion score",
					slog.String("chunk_id", candidates[i].ChunkID),
					slog.String("error", err.Error()))
				return
			}
			scores[i] = clampScore(resp.Score)
			scored[i] = true
		}(i)
	}
	wg.Wait()

	maxScore := 0.0
	anyScored := false
	for i := range candidates {
		if scored[i] {
			anyScored = true
			if scores[i] > maxScore {
				maxScore = scores[i]
			}
		}
	}
	if !anyScored || maxScore < rerankFloor {
		return candidates
	}

	out := make([]Context, len(candidates))
	copy(out, candidates)
	for i := range out {
		if scored[i] {
			out[i].Score = scores[i]
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
