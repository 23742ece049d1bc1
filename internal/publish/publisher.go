package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snarg/pod-engine/internal/audio"
	"github.com/snarg/pod-engine/internal/database"
	"github.com/snarg/pod-engine/internal/metrics"
	"github.com/snarg/pod-engine/internal/pipeline"
	"github.com/snarg/pod-engine/internal/tts"
)

// Publisher groups unpublished digests by date, attaches their MP3s to the
// date's release, records the public URLs, and deletes the local files.
type Publisher struct {
	db     *database.DB
	store  *ReleaseStore
	tc     *audio.Transcoder
	mp3Dir string
	log    zerolog.Logger
}

func NewPublisher(db *database.DB, store *ReleaseStore, tc *audio.Transcoder, mp3Dir string, log zerolog.Logger) *Publisher {
	return &Publisher{db: db, store: store, tc: tc, mp3Dir: mp3Dir, log: log}
}

func (p *Publisher) Name() string { return pipeline.PhasePublishing }

// Run publishes every digest with audio but no published_url. Before
// uploading it runs the orphan scan: MP3s on disk whose digest row lost
// its audio commit are matched by filename pattern and back-filled.
func (p *Publisher) Run(ctx context.Context, pc *pipeline.Context) (*pipeline.Result, error) {
	res := &pipeline.Result{Phase: p.Name()}

	if p.store == nil {
		res.Error = "no release store configured"
		return res, &pipeline.ConfigError{Msg: "publishing requires RELEASE_REPO"}
	}

	if err := p.recoverOrphans(ctx, pc); err != nil {
		p.log.Warn().Err(err).Msg("orphan scan failed, continuing")
	}

	digests, err := p.db.ListDigestsByStatus(ctx, database.DigestStatusAudioGenerated)
	if err != nil {
		return res, fmt.Errorf("list digests: %w", err)
	}
	if len(digests) == 0 {
		res.Success = true
		return res, nil
	}

	if pc.DryRun {
		res.Success = true
		res.Count("digests_would_publish", len(digests))
		return res, nil
	}

	byDate := make(map[string][]*database.Digest)
	for _, d := range digests {
		if d.PublishedURL != nil && *d.PublishedURL != "" {
			continue // already published, row just lagged
		}
		key := d.DigestDate.Format("2006-01-02")
		byDate[key] = append(byDate[key], d)
	}

	dates := make([]string, 0, len(byDate))
	for k := range byDate {
		dates = append(dates, k)
	}
	sort.Strings(dates)

	var published, failed int
	for _, date := range dates {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		rel, err := p.store.EnsureRelease(ctx, ReleaseTag(date),
			fmt.Sprintf("Daily Digests — %s", date),
			fmt.Sprintf("Generated podcast digests for %s.", date))
		if err != nil {
			failed += len(byDate[date])
			p.log.Warn().Err(err).Str("date", date).Msg("release unavailable, digests deferred")
			continue
		}

		for _, d := range byDate[date] {
			if err := p.publishDigest(ctx, d, rel.GetID()); err != nil {
				failed++
				p.log.Warn().Err(err).Int64("digest_id", d.ID).Msg("digest publish failed")
				continue
			}
			published++
			metrics.DigestsPublishedTotal.Inc()
		}
	}

	res.Count("digests_published", published)
	res.Count("digests_failed", failed)
	res.Success = published > 0 || failed == 0
	res.Partial = failed > 0 && published > 0
	if !res.Success {
		res.Error = "no digest could be published"
		return res, fmt.Errorf("publishing made no progress: %d digests failed", failed)
	}
	return res, nil
}

// publishDigest uploads one MP3 (or reuses an existing asset — retried
// runs must not re-upload), records the URL, and deletes the local file.
func (p *Publisher) publishDigest(ctx context.Context, d *database.Digest, releaseID int64) error {
	if d.MP3Path == nil || *d.MP3Path == "" {
		return fmt.Errorf("digest %d has no mp3 path", d.ID)
	}
	assetName := strings.ReplaceAll(filepath.Base(*d.MP3Path), " ", "_")

	url, err := p.store.FindAsset(ctx, releaseID, assetName)
	if err != nil {
		return err
	}
	if url == "" {
		if _, statErr := os.Stat(*d.MP3Path); statErr != nil {
			return fmt.Errorf("mp3 missing locally and not in release: %w", statErr)
		}
		url, err = p.store.UploadAsset(ctx, releaseID, *d.MP3Path)
		if err != nil {
			return err
		}
	} else {
		p.log.Debug().Int64("digest_id", d.ID).Str("asset", assetName).Msg("asset already in release, reusing")
	}

	if err := p.db.MarkDigestPublished(ctx, d.ID, url); err != nil {
		return err
	}

	if err := os.Remove(*d.MP3Path); err != nil && !os.IsNotExist(err) {
		p.log.Warn().Err(err).Str("mp3", *d.MP3Path).Msg("local mp3 delete failed, retention will reap it")
	}

	p.log.Info().Int64("digest_id", d.ID).Str("url", url).Msg("digest published")
	return nil
}

// recoverOrphans back-fills digest rows whose audio commit was lost: a
// digest stuck in generated with no mp3_path whose expected
// <topic-slug>_<date>_<hhmmss>.mp3 file exists on disk.
func (p *Publisher) recoverOrphans(ctx context.Context, pc *pipeline.Context) error {
	digests, err := p.db.ListDigestsByStatus(ctx, database.DigestStatusGenerated)
	if err != nil {
		return err
	}

	var recovered int
	for _, d := range digests {
		if d.MP3Path != nil && *d.MP3Path != "" {
			continue
		}
		pattern := filepath.Join(p.mp3Dir, fmt.Sprintf("%s_%s_*.mp3",
			tts.Slugify(d.Topic), d.DigestDate.Format("2006-01-02")))
		matches, err := filepath.Glob(pattern)
		if err != nil || len(matches) == 0 {
			continue
		}
		// Prefer the file matching this digest's timestamp; otherwise the
		// newest candidate for the date.
		sort.Strings(matches)
		path := matches[len(matches)-1]
		want := d.DigestTimestamp.In(pc.Location).Format("150405")
		for _, m := range matches {
			if strings.Contains(m, "_"+want+".mp3") {
				path = m
				break
			}
		}

		duration, err := p.tc.ProbeDuration(ctx, path)
		if err != nil {
			p.log.Warn().Err(err).Str("mp3", path).Msg("orphan candidate unreadable, skipped")
			continue
		}
		if err := p.db.BackfillDigestAudio(ctx, d.ID, path, duration); err != nil {
			return err
		}
		recovered++
		p.log.Info().Int64("digest_id", d.ID).Str("mp3", path).Msg("orphaned mp3 re-attached to digest")
	}
	if recovered > 0 {
		p.log.Info().Int("recovered", recovered).Msg("orphan scan complete")
	}
	return nil
}
