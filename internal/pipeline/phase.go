package pipeline

import (
	"context"
	"encoding/json"
	"io"
)

// Phase names in execution order.
const (
	PhaseDiscovery     = "discovery"
	PhaseTranscription = "transcription"
	PhaseScoring       = "scoring"
	PhaseDigest        = "digest"
	PhaseAudio         = "audio"
	PhasePublishing    = "publishing"
	PhaseRetention     = "retention"
)

// PhaseOrder is the fixed sequence the orchestrator runs.
var PhaseOrder = []string{
	PhaseDiscovery,
	PhaseTranscription,
	PhaseScoring,
	PhaseDigest,
	PhaseAudio,
	PhasePublishing,
	PhaseRetention,
}

// Phase is one independently runnable pipeline stage. Phases read their
// inputs from the store and write outputs back; nothing is passed in memory
// between them.
type Phase interface {
	Name() string
	Run(ctx context.Context, pc *Context) (*Result, error)
}

// Result is the single JSON line a phase emits on stdout so the
// orchestrator (or an operator) can consume the outcome.
type Result struct {
	Success bool           `json:"success"`
	Phase   string         `json:"phase"`
	Error   string         `json:"error,omitempty"`
	Partial bool           `json:"partial,omitempty"` // some items failed, phase still made progress
	Counts  map[string]int `json:"counts,omitempty"`
}

// WriteJSON emits the result as a single line.
func (r *Result) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	return enc.Encode(r)
}

// Count increments a named counter, allocating the map on first use.
func (r *Result) Count(name string, delta int) {
	if r.Counts == nil {
		r.Counts = make(map[string]int)
	}
	r.Counts[name] += delta
}
