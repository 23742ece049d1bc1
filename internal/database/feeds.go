package database

import (
	"context"
	"time"
)

type Feed struct {
	ID                  int64
	URL                 string
	Title               string
	Description         string
	Active              bool
	ConsecutiveFailures int
	LastFailureReason   *string
	LastChecked         *time.Time
	LastEpisodeDate     *time.Time
}

// UpsertFeed inserts a feed by URL or refreshes its title/description.
// Returns the feed id. Feeds are never deleted by the pipeline.
func (db *DB) UpsertFeed(ctx context.Context, url, title, description string) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO feeds (url, title, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (url) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			updated_at = now()
		RETURNING id
	`, url, title, description).Scan(&id)
	return id, err
}

// ListActiveFeeds returns all feeds eligible for ingestion.
func (db *DB) ListActiveFeeds(ctx context.Context) ([]Feed, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, url, title, description, active,
			consecutive_failures, last_failure_reason, last_checked, last_episode_date
		FROM feeds
		WHERE active
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		var f Feed
		if err := rows.Scan(&f.ID, &f.URL, &f.Title, &f.Description, &f.Active,
			&f.ConsecutiveFailures, &f.LastFailureReason, &f.LastChecked, &f.LastEpisodeDate); err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// FeedTitles returns id → title for every feed, used to derive cache
// filenames for episodes of inactive feeds too.
func (db *DB) FeedTitles(ctx context.Context) (map[int64]string, error) {
	rows, err := db.Pool.Query(ctx, `SELECT id, title FROM feeds`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	titles := make(map[int64]string)
	for rows.Next() {
		var id int64
		var title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, err
		}
		titles[id] = title
	}
	return titles, rows.Err()
}

// RecordFeedSuccess resets the failure counter and stamps last_checked.
// lastEpisode may be zero when the feed had no acceptable entries.
func (db *DB) RecordFeedSuccess(ctx context.Context, feedID int64, lastEpisode time.Time) error {
	var le *time.Time
	if !lastEpisode.IsZero() {
		le = &lastEpisode
	}
	_, err := db.Pool.Exec(ctx, `
		UPDATE feeds SET
			consecutive_failures = 0,
			last_failure_reason = NULL,
			last_checked = now(),
			last_episode_date = GREATEST(COALESCE(last_episode_date, 'epoch'::timestamptz), COALESCE($2, 'epoch'::timestamptz)),
			updated_at = now()
		WHERE id = $1
	`, feedID, le)
	return err
}

// RecordFeedFailure increments consecutive_failures and returns the new count.
func (db *DB) RecordFeedFailure(ctx context.Context, feedID int64, reason string) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx, `
		UPDATE feeds SET
			consecutive_failures = consecutive_failures + 1,
			last_failure_reason = $2,
			last_checked = now(),
			updated_at = now()
		WHERE id = $1
		RETURNING consecutive_failures
	`, feedID, reason).Scan(&count)
	return count, err
}
