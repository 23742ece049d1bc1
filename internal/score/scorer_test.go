package score

import (
	"strings"
	"testing"
)

func TestParseScores(t *testing.T) {
	names := []string{"AI News", "Cooking"}

	t.Run("valid", func(t *testing.T) {
		scores, err := ParseScores(`{"AI News": 0.9, "Cooking": 0.1}`, names)
		if err != nil {
			t.Fatalf("ParseScores: %v", err)
		}
		if scores["AI News"] != 0.9 || scores["Cooking"] != 0.1 {
			t.Errorf("scores = %v", scores)
		}
	})

	t.Run("missing_topic_defaults_zero", func(t *testing.T) {
		scores, err := ParseScores(`{"AI News": 0.5}`, names)
		if err != nil {
			t.Fatalf("ParseScores: %v", err)
		}
		if scores["Cooking"] != 0 {
			t.Errorf("Cooking = %v, want 0", scores["Cooking"])
		}
		if len(scores) != 2 {
			t.Errorf("len(scores) = %d, want keys for every topic", len(scores))
		}
	})

	t.Run("unknown_topic_rejected", func(t *testing.T) {
		if _, err := ParseScores(`{"AI News": 0.5, "Gardening": 0.2}`, names); err == nil {
			t.Error("ParseScores accepted unknown topic")
		}
	})

	t.Run("values_clamped", func(t *testing.T) {
		scores, err := ParseScores(`{"AI News": 1.7, "Cooking": -0.3}`, names)
		if err != nil {
			t.Fatalf("ParseScores: %v", err)
		}
		if scores["AI News"] != 1 || scores["Cooking"] != 0 {
			t.Errorf("scores = %v, want clamped to [0,1]", scores)
		}
	})

	t.Run("fenced_block_tolerated", func(t *testing.T) {
		scores, err := ParseScores("```json\n{\"AI News\": 0.8, \"Cooking\": 0}\n```", names)
		if err != nil {
			t.Fatalf("ParseScores: %v", err)
		}
		if scores["AI News"] != 0.8 {
			t.Errorf("scores = %v", scores)
		}
	})

	t.Run("not_json", func(t *testing.T) {
		if _, err := ParseScores("definitely about AI", names); err == nil {
			t.Error("ParseScores accepted prose")
		}
	})
}

func TestTrimAds(t *testing.T) {
	transcript := strings.Repeat("a", 50) + strings.Repeat("b", 900) + strings.Repeat("c", 50)

	trimmed := TrimAds(transcript, 0.05, 0.05)
	if len(trimmed) != 900 {
		t.Errorf("len(trimmed) = %d, want 900", len(trimmed))
	}
	if strings.Contains(trimmed, "a") || strings.Contains(trimmed, "c") {
		t.Error("prefix/suffix not removed")
	}

	if got := TrimAds("short", 0.6, 0.6); got != "short" {
		t.Errorf("overlapping trim should return input, got %q", got)
	}
	if got := TrimAds("", 0.05, 0.05); got != "" {
		t.Errorf("empty input, got %q", got)
	}
}

func TestBoundedPrefix(t *testing.T) {
	s := strings.Repeat("x", 100)
	if got := BoundedPrefix(s, 40); len(got) != 40 {
		t.Errorf("len = %d, want 40", len(got))
	}
	if got := BoundedPrefix(s, 200); got != s {
		t.Error("short input should pass through")
	}
	if got := BoundedPrefix(s, 0); got != s {
		t.Error("zero cap means no cap")
	}
}
