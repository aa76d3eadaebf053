package retrieval

import (
	"sort"

	"github.com/mirrorform/twind-go/internal/vecstore"
)

// rrfK is the reciprocal rank fusion constant. Larger values flatten the
// contribution difference between adjacent ranks.
const rrfK = 60

// rrfMerge fuses several ranked hit lists into one list ordered by
// reciprocal rank fusion score. A chunk appearing in multiple lists
// accumulates 1/(k + rank + 1) per occurrence, so agreement across query
// variants outranks a single high-similarity hit.
func rrfMerge(lists [][]vecstore.Hit) []Context {
	scores := make(map[string]float64)
	byKey := make(map[string]vecstore.Hit)

	for _, list := range lists {
		for rank, hit := range list {
			key := fusionKey(hit)
			scores[key] += 1.0 / float64(rrfK+rank+1)
			if _, ok := byKey[key]; !ok {
				byKey[key] = hit
			}
		}
	}

	merged := make([]Context, 0, len(byKey))
	for key, hit := range byKey {
		c := contextFromHit(hit)
		c.Score = scores[key]
		merged = append(merged, c)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	return merged
}

// fusionKey identifies a chunk across query variants. Verified points carry
// the verified answer id in ChunkID, so the same key space works for both.
func fusionKey(hit vecstore.Hit) string {
	if hit.ChunkID != "" {
		return hit.ChunkID
	}
	return hit.ID
}

// contextFromHit copies the index payload into a retrieval context.
func contextFromHit(hit vecstore.Hit) Context {
	return Context{
		Text:       hit.Text,
		Score:      float64(hit.Score),
		SourceID:   hit.SourceID,
		ChunkID:    fusionKey(hit),
		IsVerified: hit.Verified,
		Category:   hit.Category,
		Tone:       hit.Tone,
	}
}

// dedupMaxScore collapses duplicate chunk ids keeping the highest score.
// Order of first appearance is preserved for the surviving entries, which
// keeps verified boosts ahead of fusion results at equal score.
func dedupMaxScore(contexts []Context) []Context {
	best := make(map[string]int, len(contexts))
	out := make([]Context, 0, len(contexts))

	for _, c := range contexts {
		if i, ok := best[c.ChunkID]; ok {
			if c.Score > out[i].Score {
				out[i] = c
			}
			continue
		}
		best[c.ChunkID] = len(out)
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
