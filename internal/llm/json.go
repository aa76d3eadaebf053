package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON strips markdown code fences and surrounding prose from a model
// response, returning the JSON document inside. Models frequently wrap JSON
// in ```json fences even when told not to.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		return strings.TrimSpace(s)
	}

	// Prose around a bare JSON object: take the outermost braces.
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	var end int
	if s[start] == '{' {
		end = strings.LastIndex(s, "}")
	} else {
		end = strings.LastIndex(s, "]")
	}
	if end <= start {
		return s
	}
	return s[start : end+1]
}

// UnmarshalResponse decodes a model response into out, tolerating code
// fences and surrounding prose.
func UnmarshalResponse(s string, out any) error {
	doc := ExtractJSON(s)
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return fmt.Errorf("llm: response is not valid JSON: %w", err)
	}
	return nil
}
