package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorKinds(t *testing.T) {
	transient := &TransientError{Err: errors.New("connection reset")}
	if !Transient(transient) {
		t.Error("TransientError not detected")
	}
	if Permanent(transient) {
		t.Error("TransientError detected as permanent")
	}

	// Wrapping preserves the kind.
	wrapped := fmt.Errorf("while downloading: %w", transient)
	if !Transient(wrapped) {
		t.Error("wrapped TransientError not detected")
	}

	perm := &ContentError{Reason: "insufficient valid chunks"}
	if !Permanent(perm) {
		t.Error("ContentError not detected")
	}
	if got := ContentReason(fmt.Errorf("episode 7: %w", perm)); got != "insufficient valid chunks" {
		t.Errorf("ContentReason = %q", got)
	}
	if got := ContentReason(errors.New("plain")); got != "plain" {
		t.Errorf("ContentReason fallback = %q", got)
	}

	rl := &RateLimitError{RetryAfter: 10 * time.Second, Err: errors.New("429")}
	ra, ok := RateLimited(fmt.Errorf("llm: %w", rl))
	if !ok || ra != 10*time.Second {
		t.Errorf("RateLimited = %v, %v", ra, ok)
	}
}

func TestResultJSON(t *testing.T) {
	r := &Result{Success: true, Phase: PhaseDiscovery}
	r.Count("episodes_discovered", 3)
	r.Count("episodes_discovered", 2)
	r.Count("feeds_checked", 1)

	var buf bytes.Buffer
	if err := r.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	line := buf.String()
	if strings.Count(line, "\n") != 1 {
		t.Errorf("result is not a single line: %q", line)
	}
	for _, want := range []string{`"success":true`, `"phase":"discovery"`, `"episodes_discovered":5`} {
		if !strings.Contains(line, want) {
			t.Errorf("result line missing %s: %s", want, line)
		}
	}
}

func TestPhaseOrder(t *testing.T) {
	want := []string{"discovery", "transcription", "scoring", "digest", "audio", "publishing", "retention"}
	if len(PhaseOrder) != len(want) {
		t.Fatalf("len(PhaseOrder) = %d, want %d", len(PhaseOrder), len(want))
	}
	for i, name := range want {
		if PhaseOrder[i] != name {
			t.Errorf("PhaseOrder[%d] = %q, want %q", i, PhaseOrder[i], name)
		}
	}
}
