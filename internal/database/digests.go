package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Digest status values. Progression:
// draft → generated → audio_generated → published.
const (
	DigestStatusDraft          = "draft"
	DigestStatusGenerated      = "generated"
	DigestStatusAudioGenerated = "audio_generated"
	DigestStatusPublished      = "published"
	DigestStatusFailed         = "failed"
)

type Digest struct {
	ID                 int64
	Topic              string
	DigestDate         time.Time // calendar date in the pipeline timezone
	DigestTimestamp    time.Time
	ScriptContent      string
	ScriptWordCount    int
	MP3Path            *string
	MP3DurationSeconds *float64
	MP3Title           *string
	MP3Summary         *string
	EpisodeIDs         []int64 // ordered by link position
	EpisodeCount       int
	AverageScore       *float64
	PublishedURL       *string
	PublishedAt        *time.Time
	Status             string
}

// DigestEpisodeLink binds an episode into a digest at a position.
type DigestEpisodeLink struct {
	DigestID  int64
	EpisodeID int64
	Topic     string
	Score     float64
	Position  int
}

const digestColumns = `id, topic, digest_date, digest_timestamp, script_content,
	script_word_count, mp3_path, mp3_duration_seconds, mp3_title, mp3_summary,
	episode_count, average_score, published_url, published_at, status`

func scanDigest(row interface{ Scan(...any) error }) (*Digest, error) {
	var d Digest
	if err := row.Scan(&d.ID, &d.Topic, &d.DigestDate, &d.DigestTimestamp,
		&d.ScriptContent, &d.ScriptWordCount, &d.MP3Path, &d.MP3DurationSeconds,
		&d.MP3Title, &d.MP3Summary, &d.EpisodeCount, &d.AverageScore,
		&d.PublishedURL, &d.PublishedAt, &d.Status); err != nil {
		return nil, err
	}
	return &d, nil
}

// InsertDigestWithLinks creates a digest row, its episode links, and flips
// every included episode scored → digested, all in one transaction. The
// digest is unique on (topic, digest_date, digest_timestamp); a rerun after
// a crash produces a new timestamp-distinguished row, never an update.
func (db *DB) InsertDigestWithLinks(ctx context.Context, d *Digest, links []DigestEpisodeLink) (int64, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO digests (topic, digest_date, digest_timestamp, script_content,
			script_word_count, episode_count, average_score, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, d.Topic, d.DigestDate, d.DigestTimestamp, d.ScriptContent,
		d.ScriptWordCount, d.EpisodeCount, d.AverageScore, DigestStatusGenerated).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert digest: %w", err)
	}

	for _, l := range links {
		if _, err := tx.Exec(ctx, `
			INSERT INTO digest_episodes (digest_id, episode_id, topic, score, position)
			VALUES ($1, $2, $3, $4, $5)
		`, id, l.EpisodeID, l.Topic, l.Score, l.Position); err != nil {
			return 0, fmt.Errorf("insert digest link: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			UPDATE episodes SET status = 'digested', updated_at = now()
			WHERE id = $1 AND status = 'scored'
		`, l.EpisodeID)
		if err != nil {
			return 0, fmt.Errorf("mark episode digested: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return 0, fmt.Errorf("episode %d no longer in scored status", l.EpisodeID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return id, nil
}

// GetDigestForDate returns the most recent digest for (topic, date), or nil.
func (db *DB) GetDigestForDate(ctx context.Context, topic string, date time.Time) (*Digest, error) {
	d, err := scanDigest(db.Pool.QueryRow(ctx, `
		SELECT `+digestColumns+` FROM digests
		WHERE topic = $1 AND digest_date = $2
		ORDER BY digest_timestamp DESC
		LIMIT 1
	`, topic, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return db.loadEpisodeIDs(ctx, d)
}

// ListDigestsByStatus returns digests in the given status, oldest first.
func (db *DB) ListDigestsByStatus(ctx context.Context, status string) ([]*Digest, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+digestColumns+` FROM digests
		WHERE status = $1
		ORDER BY digest_date ASC, digest_timestamp ASC
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var digests []*Digest
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, err
		}
		digests = append(digests, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, d := range digests {
		if _, err := db.loadEpisodeIDs(ctx, d); err != nil {
			return nil, err
		}
	}
	return digests, nil
}

func (db *DB) loadEpisodeIDs(ctx context.Context, d *Digest) (*Digest, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT episode_id FROM digest_episodes
		WHERE digest_id = $1
		ORDER BY position
	`, d.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	d.EpisodeIDs = d.EpisodeIDs[:0]
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		d.EpisodeIDs = append(d.EpisodeIDs, id)
	}
	return d, rows.Err()
}

// CommitDigestAudio writes the MP3 path, probed duration, title, and summary
// in a single call and only then moves the digest to audio_generated. The
// file-then-row ordering means a failed write leaves an orphaned MP3 for
// retention, never a row pointing at nothing.
func (db *DB) CommitDigestAudio(ctx context.Context, id int64, mp3Path string, durationSeconds float64, title, summary string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE digests SET
			mp3_path = $2,
			mp3_duration_seconds = $3,
			mp3_title = $4,
			mp3_summary = $5,
			status = 'audio_generated',
			updated_at = now()
		WHERE id = $1 AND status = 'generated'
	`, id, mp3Path, durationSeconds, title, summary)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("digest %d not in generated status", id)
	}
	return nil
}

// MarkDigestPublished records the public URL, clears the local path, and
// moves the digest to published.
func (db *DB) MarkDigestPublished(ctx context.Context, id int64, publishedURL string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE digests SET
			published_url = $2,
			published_at = now(),
			mp3_path = NULL,
			status = 'published',
			updated_at = now()
		WHERE id = $1 AND status = 'audio_generated'
	`, id, publishedURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("digest %d not in audio_generated status", id)
	}
	return nil
}

// MarkDigestFailed records a terminal failure on the digest row.
func (db *DB) MarkDigestFailed(ctx context.Context, id int64) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE digests SET status = 'failed', updated_at = now() WHERE id = $1`, id)
	return err
}

// BackfillDigestAudio re-attaches an orphaned MP3 discovered on disk to a
// digest row that lost its audio commit (publisher recovery scan).
func (db *DB) BackfillDigestAudio(ctx context.Context, id int64, mp3Path string, durationSeconds float64) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE digests SET
			mp3_path = $2,
			mp3_duration_seconds = $3,
			status = 'audio_generated',
			updated_at = now()
		WHERE id = $1 AND status = 'generated' AND mp3_path IS NULL
	`, id, mp3Path, durationSeconds)
	return err
}
