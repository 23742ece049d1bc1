package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Episode status values. Transitions:
// pending → processing → transcribed → scored → digested,
// failed from any state once failure_count reaches FailureThreshold.
const (
	EpisodeStatusPending     = "pending"
	EpisodeStatusProcessing  = "processing"
	EpisodeStatusTranscribed = "transcribed"
	EpisodeStatusScored      = "scored"
	EpisodeStatusDigested    = "digested"
	EpisodeStatusFailed      = "failed"
)

// FailureThreshold is the number of permanent failures after which an
// episode is excluded from further phases.
const FailureThreshold = 3

type Episode struct {
	ID                    int64
	EpisodeGUID           string
	FeedID                int64
	Title                 string
	Description           string
	PublishedDate         time.Time
	AudioURL              string
	DurationSeconds       *float64
	AudioPath             *string
	TranscriptContent     string
	TranscriptWordCount   int
	TranscriptGeneratedAt *time.Time
	ChunkCount            int
	Scores                map[string]float64
	ScoredAt              *time.Time
	Status                string
	FailureCount          int
	FailureReason         *string
}

const episodeColumns = `id, episode_guid, feed_id, title, description, published_date,
	audio_url, duration_seconds, audio_path, transcript_content, transcript_word_count,
	transcript_generated_at, chunk_count, scores, scored_at, status, failure_count, failure_reason`

func scanEpisode(row interface{ Scan(...any) error }) (*Episode, error) {
	var e Episode
	var scores []byte
	if err := row.Scan(&e.ID, &e.EpisodeGUID, &e.FeedID, &e.Title, &e.Description,
		&e.PublishedDate, &e.AudioURL, &e.DurationSeconds, &e.AudioPath,
		&e.TranscriptContent, &e.TranscriptWordCount, &e.TranscriptGeneratedAt,
		&e.ChunkCount, &scores, &e.ScoredAt, &e.Status, &e.FailureCount, &e.FailureReason); err != nil {
		return nil, err
	}
	if len(scores) > 0 {
		if err := json.Unmarshal(scores, &e.Scores); err != nil {
			return nil, fmt.Errorf("episode %d: decode scores: %w", e.ID, err)
		}
	}
	return &e, nil
}

// InsertEpisode inserts a new pending episode keyed by its feed-provided GUID.
// A duplicate GUID is a no-op; the bool reports whether a row was created.
func (db *DB) InsertEpisode(ctx context.Context, e *Episode) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO episodes (episode_guid, feed_id, title, description, published_date,
			audio_url, duration_seconds, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		ON CONFLICT (episode_guid) DO NOTHING
	`, e.EpisodeGUID, e.FeedID, e.Title, e.Description, e.PublishedDate,
		e.AudioURL, e.DurationSeconds)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetEpisodeByGUID returns the episode with the given GUID, or nil if absent.
func (db *DB) GetEpisodeByGUID(ctx context.Context, guid string) (*Episode, error) {
	e, err := scanEpisode(db.Pool.QueryRow(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE episode_guid = $1`, guid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// ListEpisodesByStatus returns episodes in the given status, oldest first.
// limit <= 0 means no limit.
func (db *DB) ListEpisodesByStatus(ctx context.Context, status string, limit int) ([]*Episode, error) {
	q := `SELECT ` + episodeColumns + ` FROM episodes WHERE status = $1 ORDER BY published_date ASC`
	args := []any{status}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var eps []*Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		eps = append(eps, e)
	}
	return eps, rows.Err()
}

// ListQualifyingEpisodes returns scored, undigested episodes whose score
// for the topic meets the threshold, ordered by score descending then
// publish date descending. Episodes already bound to a digest are in
// digested status and therefore never re-selected.
func (db *DB) ListQualifyingEpisodes(ctx context.Context, topicName string, threshold float64, limit int) ([]*Episode, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+episodeColumns+` FROM episodes
		WHERE status = 'scored'
		  AND scores ? $1
		  AND (scores->>$1)::double precision >= $2
		ORDER BY (scores->>$1)::double precision DESC, published_date DESC
		LIMIT $3
	`, topicName, threshold, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var eps []*Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		eps = append(eps, e)
	}
	return eps, rows.Err()
}

// MarkEpisodeProcessing transitions pending → processing and stamps the
// processing start so a crashed worker can be detected later.
func (db *DB) MarkEpisodeProcessing(ctx context.Context, id int64, audioPath string, chunkCount int) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE episodes SET
			status = 'processing',
			audio_path = $2,
			chunk_count = $3,
			processing_started_at = now(),
			transcript_content = '',
			transcript_word_count = 0,
			transcript_generated_at = now(),
			updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id, audioPath, chunkCount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("episode %d not in pending status", id)
	}
	return nil
}

// AppendTranscript concatenates one chunk's text onto the episode transcript
// in the row itself. The transcriber calls this once per chunk in chunk-number
// order so the worker never holds more than one chunk's text in memory.
func (db *DB) AppendTranscript(ctx context.Context, id int64, text string, wordCount int) error {
	sep := "\n\n"
	_, err := db.Pool.Exec(ctx, `
		UPDATE episodes SET
			transcript_content = CASE
				WHEN transcript_content = '' THEN $2
				ELSE transcript_content || $3 || $2
			END,
			transcript_word_count = transcript_word_count + $4,
			updated_at = now()
		WHERE id = $1
	`, id, text, sep, wordCount)
	return err
}

// MarkEpisodeTranscribed completes transcription: processing → transcribed.
// Refuses to transition an episode whose transcript is still empty.
func (db *DB) MarkEpisodeTranscribed(ctx context.Context, id int64) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE episodes SET
			status = 'transcribed',
			processing_started_at = NULL,
			updated_at = now()
		WHERE id = $1 AND status = 'processing' AND transcript_content <> ''
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("episode %d not in processing status or transcript empty", id)
	}
	return nil
}

// SetEpisodeScores records per-topic scores: transcribed → scored.
func (db *DB) SetEpisodeScores(ctx context.Context, id int64, scores map[string]float64) error {
	blob, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	tag, err := db.Pool.Exec(ctx, `
		UPDATE episodes SET
			scores = $2,
			scored_at = now(),
			status = 'scored',
			updated_at = now()
		WHERE id = $1 AND status = 'transcribed'
	`, id, blob)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("episode %d not in transcribed status", id)
	}
	return nil
}

// RecordEpisodeFailure increments failure_count and records the reason.
// fallbackStatus is where the episode lands while below the threshold
// (pending for transcription failures, transcribed for scoring failures,
// scored for digest failures). At FailureThreshold the episode becomes
// failed and is excluded from further phases. A processing episode's
// partial transcript is cleared either way. Returns the new count.
func (db *DB) RecordEpisodeFailure(ctx context.Context, id int64, reason, fallbackStatus string) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx, `
		UPDATE episodes SET
			failure_count = failure_count + 1,
			failure_reason = $2,
			status = CASE WHEN failure_count + 1 >= $3 THEN 'failed' ELSE $4 END,
			processing_started_at = NULL,
			transcript_content = CASE WHEN status = 'processing' THEN '' ELSE transcript_content END,
			transcript_word_count = CASE WHEN status = 'processing' THEN 0 ELSE transcript_word_count END,
			transcript_generated_at = CASE WHEN status = 'processing' THEN NULL ELSE transcript_generated_at END,
			updated_at = now()
		WHERE id = $1
		RETURNING failure_count
	`, id, reason, FailureThreshold, fallbackStatus).Scan(&count)
	return count, err
}

// ResetStuckProcessing reclaims episodes abandoned by a crashed run: any row
// in processing older than the timeout goes back to pending with its partial
// transcript cleared. Runs at every phase start.
func (db *DB) ResetStuckProcessing(ctx context.Context, timeout time.Duration) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE episodes SET
			status = 'pending',
			processing_started_at = NULL,
			transcript_content = '',
			transcript_word_count = 0,
			transcript_generated_at = NULL,
			updated_at = now()
		WHERE status = 'processing'
		  AND processing_started_at < now() - $1::interval
	`, timeout.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountEpisodesByStatus returns a status → count map for run summaries.
func (db *DB) CountEpisodesByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT status, count(*) FROM episodes GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
