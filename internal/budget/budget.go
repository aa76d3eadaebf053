// Package budget provides token budget estimation and clipping for text sent
// to LLM backends. Because twind supports multiple backends with different
// tokenizers, this package uses a conservative character-based heuristic:
// 1 token ≈ 4 characters (English prose). This deliberately under-estimates
// token counts to leave headroom for model-specific overhead.
package budget

import "unicode/utf8"

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English; using 3 would be
	// more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultPassageTokens is the per-passage budget for relevance scoring
	// prompts. Passages longer than this are clipped before they reach the
	// model; the judgment quality loss is negligible past this size.
	DefaultPassageTokens = 512
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// Clip truncates s so its estimated token count fits maxTokens. The cut
// lands on a rune boundary, never mid-character.
func Clip(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	limit := maxTokens * charsPerToken
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
