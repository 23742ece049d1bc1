package database

import (
	"context"
	"fmt"
	"time"
)

// CountOlderThan reports how many rows a purge would delete. Used by
// retention dry-run. Table and column names are hardcoded by callers.
func (db *DB) CountOlderThan(ctx context.Context, table, timeColumn string, retention time.Duration) (int64, error) {
	query := fmt.Sprintf(
		`SELECT count(*) FROM %s WHERE %s < now() - $1::interval`,
		table, timeColumn,
	)
	var n int64
	err := db.Pool.QueryRow(ctx, query, retention.String()).Scan(&n)
	return n, err
}

// PurgeOlderThan deletes rows older than the given retention period.
// Table and column names are hardcoded by callers (not user input).
func (db *DB) PurgeOlderThan(ctx context.Context, table, timeColumn string, retention time.Duration) (int64, error) {
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE %s < now() - $1::interval`,
		table, timeColumn,
	)
	tag, err := db.Pool.Exec(ctx, query, retention.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListPublishedReleaseTags returns the distinct digest dates (YYYY-MM-DD)
// of published digests older than the retention window, one per release,
// for remote release pruning. Callers turn each date into its release tag
// with publish.ReleaseTag.
func (db *DB) ListPublishedReleaseTags(ctx context.Context, retention time.Duration) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT DISTINCT to_char(digest_date, 'YYYY-MM-DD')
		FROM digests
		WHERE status = 'published'
		  AND digest_date < (now() - $1::interval)::date
		ORDER BY 1
	`, retention.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
