package llm

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxUserContentLength caps user-supplied text sent to the model. Longer
// inputs are truncated rather than rejected so ingestion of large documents
// keeps working chunk by chunk.
const MaxUserContentLength = 50000

// invisibleChars are zero-width and formatting code points used to smuggle
// instructions past pattern checks.
var invisibleChars = []string{
	"​", "‌", "‍", "‎", "‏",
	"⁠", "⁡", "⁢", "⁣", "⁤",
	"\uFEFF", "᠎",
}

// injectionPatterns flag common instruction-override phrasings. Matches are
// logged, not blocked: retrieval queries legitimately quote all sorts of
// text, so hard rejection would break real traffic.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous\s+)?instructions`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous\s+)?(instructions|commands)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous\s+)?(instructions|commands|context)`),
	regexp.MustCompile(`(?i)your\s+new\s+(role|instructions|persona)\s+is`),
	regexp.MustCompile("(?i)```\\s*system"),
	regexp.MustCompile(`(?i)<\s*system\s*>`),
	regexp.MustCompile(`(?i)do\s+anything\s+now`),
	regexp.MustCompile(`(?i)developer\s+mode`),
}

// Sanitize prepares untrusted text for inclusion in a prompt: invisible
// Unicode is stripped, the length is capped, and suspicious phrasings are
// reported as warnings for the caller to log.
func Sanitize(text string) (string, []string) {
	var warnings []string

	if len(text) > MaxUserContentLength {
		cut := MaxUserContentLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		warnings = append(warnings, fmt.Sprintf("content truncated from %d to %d characters", len(text), cut))
		text = text[:cut]
	}

	for _, c := range invisibleChars {
		if strings.Contains(text, c) {
			text = strings.ReplaceAll(text, c, "")
			if len(warnings) == 0 || warnings[len(warnings)-1] != "removed invisible unicode characters" {
				warnings = append(warnings, "removed invisible unicode characters")
			}
		}
	}

	for _, p := range injectionPatterns {
		if p.MatchString(text) {
			warnings = append(warnings, "possible prompt injection: "+p.String())
		}
	}

	return text, warnings
}

// DataBlock wraps untrusted text in an explicit delimiter so the model can
// be instructed to treat the contents as data, never as instructions.
func DataBlock(label, text string) string {
	return fmt.Sprintf("<%s>\n%s\n</%s>", label, text, label)
}
