package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PhaseEvent is one entry in a run's phase history.
type PhaseEvent struct {
	Phase     string    `json:"phase"`
	Event     string    `json:"event"` // starting, completed, failed, skipped
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// RunPhaseState is the structured phase column: full history plus current.
type RunPhaseState struct {
	Current string       `json:"current,omitempty"`
	History []PhaseEvent `json:"history,omitempty"`
}

// CreateRun inserts a new pipeline run record and returns its id.
// The run record is observability only; it never gates execution.
func (db *DB) CreateRun(ctx context.Context, workflowRunID string) (uuid.UUID, error) {
	id := uuid.New()
	var wf *string
	if workflowRunID != "" {
		wf = &workflowRunID
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO pipeline_runs (id, workflow_run_id, status)
		VALUES ($1, $2, 'running')
	`, id, wf)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// RecordPhaseEvent appends an event to the run's phase history and updates
// the current phase marker.
func (db *DB) RecordPhaseEvent(ctx context.Context, runID uuid.UUID, ev PhaseEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	evJSON, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode phase event: %w", err)
	}
	current := ev.Phase
	if ev.Event != "starting" {
		current = ""
	}
	_, err = db.Pool.Exec(ctx, `
		UPDATE pipeline_runs SET
			phase = jsonb_set(
				jsonb_set(phase, '{current}', to_jsonb($2::text)),
				'{history}',
				COALESCE(phase->'history', '[]'::jsonb) || $3::jsonb)
		WHERE id = $1
	`, runID, current, evJSON)
	return err
}

// FinishRun closes the run record with a status and conclusion.
func (db *DB) FinishRun(ctx context.Context, runID uuid.UUID, status, conclusion string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE pipeline_runs SET
			status = $2,
			conclusion = $3,
			finished_at = now()
		WHERE id = $1
	`, runID, status, conclusion)
	return err
}
