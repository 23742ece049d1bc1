package pipeline

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/pod-engine/internal/config"
	"github.com/snarg/pod-engine/internal/database"
	"github.com/snarg/pod-engine/internal/settings"
)

// Context carries everything a phase needs: repository handle, settings
// snapshot, configuration, run identity, and the regional timezone. There
// is no process-level singleton; every phase entry point takes one of these.
type Context struct {
	DB       *database.DB
	Cfg      *config.Config
	Settings settings.Pipeline
	RunID    uuid.UUID
	Location *time.Location
	Log      zerolog.Logger

	// DryRun reports what would happen without writing artifacts or rows.
	DryRun bool
	// Limit caps how many episodes/digests a phase touches (0 = no cap).
	Limit int
	// EpisodeGUID restricts audio/transcription work to one episode.
	EpisodeGUID string
	// DaysBack overrides the ingest look-back window when > 0.
	DaysBack int
}

// Today returns the current calendar date in the pipeline timezone,
// truncated to midnight.
func (c *Context) Today() time.Time {
	now := time.Now().In(c.Location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.Location)
}
