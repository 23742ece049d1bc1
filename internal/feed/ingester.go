// Package feed discovers new episodes by polling RSS feeds.
package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/snarg/pod-engine/internal/database"
	"github.com/snarg/pod-engine/internal/metrics"
	"github.com/snarg/pod-engine/internal/pipeline"
)

// Ingester fetches each active feed, extracts entries with an audio
// enclosure and a parseable publish date inside the look-back window, and
// inserts pending episode rows keyed by GUID. Duplicate GUIDs are no-ops.
type Ingester struct {
	db     *database.DB
	parser *gofeed.Parser
	log    zerolog.Logger
}

func NewIngester(db *database.DB, log zerolog.Logger) *Ingester {
	p := gofeed.NewParser()
	p.UserAgent = "pod-engine/1.0"
	return &Ingester{db: db, parser: p, log: log}
}

func (in *Ingester) Name() string { return pipeline.PhaseDiscovery }

// Run polls every active feed. Feed-level failures increment the feed's
// consecutive_failures counter; crossing the threshold is logged but the
// feed is never auto-deactivated. Returns a fatal error only when no feed
// could be read at all (the run cannot make progress without discovery).
func (in *Ingester) Run(ctx context.Context, pc *pipeline.Context) (*pipeline.Result, error) {
	res := &pipeline.Result{Phase: in.Name()}

	feeds, err := in.db.ListActiveFeeds(ctx)
	if err != nil {
		return res, fmt.Errorf("list feeds: %w", err)
	}
	if len(feeds) == 0 {
		in.log.Warn().Msg("no active feeds configured")
		res.Success = true
		return res, nil
	}

	lookbackDays := pc.Settings.LookbackDays
	if pc.DaysBack > 0 {
		lookbackDays = pc.DaysBack
	}
	cutoff := time.Now().In(pc.Location).AddDate(0, 0, -lookbackDays)

	var feedFailures int
	for _, f := range feeds {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		inserted, newest, err := in.ingestFeed(ctx, pc, f, cutoff)
		if err != nil {
			feedFailures++
			res.Count("feed_failures", 1)
			count, dbErr := in.db.RecordFeedFailure(ctx, f.ID, err.Error())
			if dbErr != nil {
				return res, fmt.Errorf("record feed failure: %w", dbErr)
			}
			ev := in.log.Warn().Err(err).Str("url", f.URL).Int("consecutive_failures", count)
			if count >= pc.Settings.FeedFailureThreshold {
				ev = in.log.Error().Err(err).Str("url", f.URL).Int("consecutive_failures", count)
			}
			ev.Msg("feed ingestion failed")
			continue
		}
		if err := in.db.RecordFeedSuccess(ctx, f.ID, newest); err != nil {
			return res, fmt.Errorf("record feed success: %w", err)
		}
		res.Count("feeds_checked", 1)
		res.Count("episodes_discovered", inserted)
	}

	if feedFailures == len(feeds) {
		res.Error = "all feeds failed"
		return res, fmt.Errorf("discovery made no progress: all %d feeds failed", len(feeds))
	}
	res.Success = true
	res.Partial = feedFailures > 0
	return res, nil
}

// ingestFeed parses one feed and inserts acceptable entries. Returns the
// number of new episodes and the newest accepted publish date.
func (in *Ingester) ingestFeed(ctx context.Context, pc *pipeline.Context, f database.Feed, cutoff time.Time) (int, time.Time, error) {
	parsed, err := in.parser.ParseURLWithContext(f.URL, ctx)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse feed: %w", err)
	}

	// Refresh feed metadata on every successful parse.
	if _, err := in.db.UpsertFeed(ctx, f.URL, parsed.Title, parsed.Description); err != nil {
		return 0, time.Time{}, fmt.Errorf("upsert feed: %w", err)
	}

	var inserted int
	var newest time.Time
	for _, item := range parsed.Items {
		ep, reason := entryToEpisode(item, f.ID)
		if ep == nil {
			in.log.Debug().Str("feed", f.URL).Str("item", item.Title).Str("reason", reason).
				Msg("feed entry skipped")
			continue
		}
		if ep.PublishedDate.Before(cutoff) {
			continue
		}
		if pc.DryRun {
			inserted++
			continue
		}
		created, err := in.db.InsertEpisode(ctx, ep)
		if err != nil {
			return inserted, newest, fmt.Errorf("insert episode %s: %w", ep.EpisodeGUID, err)
		}
		if created {
			inserted++
			metrics.EpisodesDiscoveredTotal.Inc()
			in.log.Info().Str("guid", ep.EpisodeGUID).Str("title", ep.Title).
				Time("published", ep.PublishedDate).Msg("episode discovered")
		}
		if ep.PublishedDate.After(newest) {
			newest = ep.PublishedDate
		}
	}
	return inserted, newest, nil
}

// entryToEpisode converts a feed item to a pending episode. An entry is
// accepted only with an audio enclosure and a parseable publish date;
// otherwise the skip reason is returned.
func entryToEpisode(item *gofeed.Item, feedID int64) (*database.Episode, string) {
	enc := firstAudioEnclosure(item)
	if enc == nil {
		return nil, "no audio enclosure"
	}

	published := item.PublishedParsed
	if published == nil {
		published = item.UpdatedParsed
	}
	if published == nil {
		return nil, "no parseable publish date"
	}

	guid := item.GUID
	if guid == "" {
		// Some feeds omit GUIDs entirely; the enclosure URL is the next
		// most stable identity.
		guid = enc.URL
	}
	if guid == "" {
		return nil, "no guid"
	}

	var duration *float64
	if item.ITunesExt != nil && item.ITunesExt.Duration != "" {
		if d, ok := parseITunesDuration(item.ITunesExt.Duration); ok {
			duration = &d
		}
	}

	return &database.Episode{
		EpisodeGUID:     guid,
		FeedID:          feedID,
		Title:           item.Title,
		Description:     item.Description,
		PublishedDate:   *published,
		AudioURL:        enc.URL,
		DurationSeconds: duration,
	}, ""
}

func firstAudioEnclosure(item *gofeed.Item) *gofeed.Enclosure {
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		if strings.HasPrefix(enc.Type, "audio/") {
			return enc
		}
	}
	return nil
}

// parseITunesDuration accepts "SS", "MM:SS", or "HH:MM:SS".
func parseITunesDuration(s string) (float64, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) == 0 || len(parts) > 3 {
		return 0, false
	}
	var total float64
	for _, p := range parts {
		var n int
		if _, err := fmt.Sscanf(p, "%d", &n); err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + float64(n)
	}
	return total, true
}
