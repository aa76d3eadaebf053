package processor

import (
	"strings"
)

// Chunk splits text into overlapping windows of size characters. Windows are
// measured in runes so a boundary never lands inside a multibyte character.
// The split is deterministic: the same text always yields the same chunk
// boundaries, which is what makes reprocessing idempotent.
func Chunk(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return nil
	}
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}

	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += size - overlap {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}

	return chunks
}
