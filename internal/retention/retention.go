// Package retention applies age-based deletion to local files, database
// rows, and remote releases.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/pod-engine/internal/database"
	"github.com/snarg/pod-engine/internal/pipeline"
	"github.com/snarg/pod-engine/internal/publish"
)

// Reaper walks the retention categories with their independently
// configured windows. In dry-run mode it reports what would be deleted
// without touching anything.
type Reaper struct {
	db       *database.DB
	store    *publish.ReleaseStore // nil = skip remote pruning
	mp3Dir   string
	cacheDir string
	chunkDir string
	tmpDir   string
	logDir   string
	log      zerolog.Logger
}

func NewReaper(db *database.DB, store *publish.ReleaseStore,
	mp3Dir, cacheDir, chunkDir, tmpDir, logDir string, log zerolog.Logger) *Reaper {
	return &Reaper{
		db: db, store: store,
		mp3Dir: mp3Dir, cacheDir: cacheDir, chunkDir: chunkDir, tmpDir: tmpDir, logDir: logDir,
		log: log,
	}
}

func (r *Reaper) Name() string { return pipeline.PhaseRetention }

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// Run applies every category in turn. Failures in one category don't stop
// the others; remote release pruning is best-effort.
func (r *Reaper) Run(ctx context.Context, pc *pipeline.Context) (*pipeline.Result, error) {
	res := &pipeline.Result{Phase: r.Name()}
	s := pc.Settings

	// Local files, per category window.
	fileCategories := []struct {
		name   string
		dir    string
		window time.Duration
	}{
		{"mp3s", r.mp3Dir, days(s.RetainMP3Days)},
		{"audio_cache", r.cacheDir, days(s.RetainAudioCacheDays)},
		{"chunk_dirs", r.chunkDir, days(s.RetainAudioCacheDays)},
		{"temp_dirs", r.tmpDir, days(s.RetainAudioCacheDays)},
		{"log_files", r.logDir, days(s.RetainLogDays)},
	}
	for _, fc := range fileCategories {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		n, bytes, err := reapFiles(fc.dir, fc.window, pc.DryRun, r.log)
		if err != nil {
			r.log.Warn().Err(err).Str("category", fc.name).Msg("file retention failed")
			res.Count(fc.name+"_errors", 1)
			continue
		}
		if n > 0 {
			r.log.Info().Str("category", fc.name).Int("files", n).Int64("bytes", bytes).
				Bool("dry_run", pc.DryRun).Msg("file retention applied")
		}
		res.Count(fc.name+"_deleted", n)
	}

	// Database rows.
	rowCategories := []struct {
		name   string
		table  string
		column string
		window time.Duration
	}{
		{"episode_rows", "episodes", "created_at", days(s.RetainEpisodeDays)},
		{"digest_rows", "digests", "created_at", days(s.RetainDigestDays)},
		{"log_rows", "pipeline_logs", "created_at", days(s.RetainLogDays)},
		{"run_rows", "pipeline_runs", "started_at", days(s.RetainLogDays)},
	}
	for _, rc := range rowCategories {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		var n int64
		var err error
		if pc.DryRun {
			n, err = r.db.CountOlderThan(ctx, rc.table, rc.column, rc.window)
		} else {
			n, err = r.db.PurgeOlderThan(ctx, rc.table, rc.column, rc.window)
		}
		if err != nil {
			r.log.Warn().Err(fmt.Errorf("purge %s: %w", rc.table, err)).Str("category", rc.name).Msg("row retention failed")
			res.Count(rc.name+"_errors", 1)
			continue
		}
		if n > 0 {
			r.log.Info().Str("category", rc.name).Int64("rows", n).
				Bool("dry_run", pc.DryRun).Msg("row retention applied")
		}
		res.Count(rc.name+"_deleted", int(n))
	}

	// Remote releases, best-effort.
	if r.store != nil {
		tags, err := r.db.ListPublishedReleaseTags(ctx, days(s.RetainReleaseDays))
		if err != nil {
			r.log.Warn().Err(err).Msg("release pruning query failed")
		} else {
			for _, date := range tags {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				if pc.DryRun {
					r.log.Info().Str("tag", publish.ReleaseTag(date)).Msg("dry-run: would delete release")
					res.Count("releases_deleted", 1)
					continue
				}
				if err := r.store.DeleteReleaseByTag(ctx, publish.ReleaseTag(date)); err != nil {
					r.log.Warn().Err(err).Str("date", date).Msg("release prune failed, continuing")
					continue
				}
				res.Count("releases_deleted", 1)
			}
		}
	}

	res.Success = true
	return res, nil
}

// reapFiles deletes entries in dir older than the window, returning the
// count and reclaimed bytes. Subdirectories (chunk and temp dirs) are
// removed whole when their mtime is past the window.
func reapFiles(dir string, window time.Duration, dryRun bool, log zerolog.Logger) (int, int64, error) {
	if dir == "" || window <= 0 {
		return 0, 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	cutoff := time.Now().Add(-window)
	var deleted int
	var bytes int64
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		size := info.Size()
		if entry.IsDir() {
			size = dirSize(path)
		}
		if dryRun {
			log.Debug().Str("path", path).Msg("dry-run: would delete")
		} else if entry.IsDir() {
			if err := os.RemoveAll(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("retention delete failed")
				continue
			}
		} else {
			if err := os.Remove(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("retention delete failed")
				continue
			}
		}
		deleted++
		bytes += size
	}
	return deleted, bytes, nil
}

func dirSize(dir string) int64 {
	var total int64
	filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
