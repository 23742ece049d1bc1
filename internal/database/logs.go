package database

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// InsertLog mirrors one log event into the pipeline_logs table. Called from
// the zerolog hook for warn+ events; best-effort, errors are swallowed by
// the hook so logging can never fail a phase.
func (db *DB) InsertLog(ctx context.Context, runID uuid.UUID, phase, level, message string, fields map[string]any) error {
	var blob []byte
	if len(fields) > 0 {
		blob, _ = json.Marshal(fields)
	}
	var rid *uuid.UUID
	if runID != uuid.Nil {
		rid = &runID
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO pipeline_logs (run_id, phase, level, message, fields)
		VALUES ($1, $2, $3, $4, $5)
	`, rid, phase, level, message, blob)
	return err
}
