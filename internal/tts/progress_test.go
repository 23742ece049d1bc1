package tts

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProgressRoundTrip(t *testing.T) {
	dir := t.TempDir()

	p, err := LoadProgress(dir, 42)
	if err != nil {
		t.Fatalf("LoadProgress: %v", err)
	}
	if p.Done(1) {
		t.Error("fresh progress reports chunk done")
	}

	for _, n := range []int{3, 1, 2} {
		if err := p.MarkDone(n); err != nil {
			t.Fatalf("MarkDone(%d): %v", n, err)
		}
	}

	// A new load (simulated restart) sees the same completed set.
	p2, err := LoadProgress(dir, 42)
	if err != nil {
		t.Fatalf("LoadProgress after restart: %v", err)
	}
	for _, n := range []int{1, 2, 3} {
		if !p2.Done(n) {
			t.Errorf("chunk %d lost across restart", n)
		}
	}
	if p2.Done(4) {
		t.Error("chunk 4 reported done")
	}
	if got := p2.Completed; len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("Completed = %v, want sorted [1 2 3]", got)
	}
}

func TestProgressDifferentDigestIgnored(t *testing.T) {
	dir := t.TempDir()
	p, _ := LoadProgress(dir, 1)
	p.MarkDone(5)

	p2, err := LoadProgress(dir, 2)
	if err != nil {
		t.Fatalf("LoadProgress: %v", err)
	}
	if p2.Done(5) {
		t.Error("progress from another digest leaked")
	}
}

func TestProgressCorruptFileStartsOver(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "progress.json"), []byte("{torn"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadProgress(dir, 9)
	if err != nil {
		t.Fatalf("LoadProgress on corrupt file: %v", err)
	}
	if p.Done(1) {
		t.Error("corrupt progress treated as complete")
	}
}
