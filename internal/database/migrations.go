package database

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply.
// Each must be idempotent (use IF NOT EXISTS, IF EXISTS, etc.).
var migrations = []migration{
	{
		name:  "add feeds.last_failure_reason",
		sql:   `ALTER TABLE feeds ADD COLUMN IF NOT EXISTS last_failure_reason text`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'feeds' AND column_name = 'last_failure_reason')`,
	},
	{
		name:  "add episodes.processing_started_at",
		sql:   `ALTER TABLE episodes ADD COLUMN IF NOT EXISTS processing_started_at timestamptz`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'episodes' AND column_name = 'processing_started_at')`,
	},
	{
		name:  "add digests.mp3_summary",
		sql:   `ALTER TABLE digests ADD COLUMN IF NOT EXISTS mp3_summary text`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'digests' AND column_name = 'mp3_summary')`,
	},
	{
		name:  "add pipeline_logs run index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_pipeline_logs_run ON pipeline_logs (run_id, phase, created_at)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_pipeline_logs_run')`,
	},
}

// Migrate applies all pending migrations in order.
func (db *DB) Migrate(ctx context.Context) error {
	var applied, skipped int
	for _, m := range migrations {
		var done bool
		if err := db.Pool.QueryRow(ctx, m.check).Scan(&done); err != nil {
			return fmt.Errorf("migration check %q: %w", m.name, err)
		}
		if done {
			skipped++
			continue
		}
		for _, stmt := range strings.Split(m.sql, ";\n") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := db.Pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migration %q: %w", m.name, err)
			}
		}
		db.log.Info().Str("migration", m.name).Msg("migration applied")
		applied++
	}
	if applied > 0 {
		db.log.Info().Int("applied", applied).Int("skipped", skipped).Msg("migrations complete")
	}
	return nil
}
