package audio

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func nopLogger() zerolog.Logger { return zerolog.Nop() }

func TestMinValidChunks(t *testing.T) {
	tests := []struct {
		total int
		ratio float64
		want  int
	}{
		{0, 0.70, 0},
		{1, 0.70, 1},
		{2, 0.70, 1},
		{3, 0.70, 3}, // ceil(2.1)
		{10, 0.70, 7},
		{20, 0.70, 14},
		{20, 0.75, 15},
	}
	for _, tt := range tests {
		got := MinValidChunks(tt.total, tt.ratio)
		if got != tt.want {
			t.Errorf("MinValidChunks(%d, %.2f) = %d, want %d", tt.total, tt.ratio, got, tt.want)
		}
	}
}

// Spec scenarios: 17/20 valid passes, 5/20 fails, 1/2 passes.
func TestPartialTranscriptionThreshold(t *testing.T) {
	if valid, need := 17, MinValidChunks(20, 0.70); valid < need {
		t.Errorf("17/20 should pass, need = %d", need)
	}
	if valid, need := 5, MinValidChunks(20, 0.70); valid >= need {
		t.Errorf("5/20 should fail, need = %d", need)
	}
	if valid, need := 1, MinValidChunks(2, 0.70); valid < need {
		t.Errorf("1/2 should pass, need = %d", need)
	}
}

func TestFeedKeyword(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"The Daily Tech Show", "the-daily-tech-show"},
		{"  !!  ", "feed"},
		{"AI & Machine Learning Weekly Review", "ai-machine-learning-week"},
	}
	for _, tt := range tests {
		got := feedKeyword(tt.in)
		if got != tt.want {
			t.Errorf("feedKeyword(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if len(got) > 24 {
			t.Errorf("feedKeyword(%q) = %q, longer than 24", tt.in, got)
		}
	}
}

func TestCachePathStable(t *testing.T) {
	a := NewAcquirer("/cache", 500, nopLogger())
	p1 := a.CachePath("guid-abc", "Some Feed")
	p2 := a.CachePath("guid-abc", "Some Feed")
	if p1 != p2 {
		t.Errorf("CachePath not stable: %q vs %q", p1, p2)
	}
	p3 := a.CachePath("guid-xyz", "Some Feed")
	if p1 == p3 {
		t.Error("different GUIDs mapped to the same cache path")
	}
	if !strings.HasSuffix(p1, "_some-feed.mp3") {
		t.Errorf("CachePath = %q, want feed keyword suffix", p1)
	}
}

func TestTail(t *testing.T) {
	in := "a\nb\nc\nd\ne\nf"
	got := tail(in)
	if got != "c | d | e | f" {
		t.Errorf("tail = %q, want last four lines", got)
	}
}
