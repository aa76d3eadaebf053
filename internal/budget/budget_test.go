package budget

import (
	"strings"
	"testing"
)

func TestEstimate(t *testing.T) {
	t.Parallel()

	if got := Estimate(""); got != 0 {
		t.Errorf("Estimate(\"\") = %d, want 0", got)
	}
	if got := Estimate("ab"); got != 1 {
		t.Errorf("Estimate(short) = %d, want 1", got)
	}
	if got := Estimate(strings.Repeat("x", 400)); got != 100 {
		t.Errorf("Estimate(400 chars) = %d, want 100", got)
	}
}

func TestClip_ShortTextUntouched(t *testing.T) {
	t.Parallel()

	s := "short passage"
	if got := Clip(s, 100); got != s {
		t.Errorf("Clip changed text under budget: %q", got)
	}
}

func TestClip_TruncatesToBudget(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("a", 1000)
	got := Clip(s, 10)
	if len(got) != 40 {
		t.Errorf("len(Clip) = %d, want 40", len(got))
	}
}

func TestClip_RuneBoundary(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("é", 100)
	got := Clip(s, 10)
	if !strings.HasSuffix(got, "é") {
		t.Error("Clip cut mid-rune")
	}
	for _, r := range got {
		if r != 'é' {
			t.Errorf("Clip produced invalid rune %q", r)
		}
	}
}

func TestClip_ZeroBudget(t *testing.T) {
	t.Parallel()

	if got := Clip("anything", 0); got != "" {
		t.Errorf("Clip with zero budget = %q, want empty", got)
	}
}
