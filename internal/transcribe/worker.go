package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/pod-engine/internal/audio"
	"github.com/snarg/pod-engine/internal/database"
	"github.com/snarg/pod-engine/internal/metrics"
	"github.com/snarg/pod-engine/internal/pipeline"
)

// errBudgetExhausted stops the phase once the per-run paid-provider cost
// ceiling is reached. Unprocessed episodes stay pending for the next run.
var errBudgetExhausted = errors.New("transcription cost budget exhausted")

// Worker drives audio acquisition, chunking, and transcription for pending
// episodes. Episodes are distributed across a small goroutine pool; a single
// episode's chunks are always processed serially on one worker because the
// repository append is ordered, not commutative. The worker holds at most
// one chunk's transcription in memory at a time.
type Worker struct {
	db         *database.DB
	acquirer   *audio.Acquirer
	chunker    *audio.Chunker
	provider   Provider
	modelCache *ModelCache
	log        zerolog.Logger

	spentSeconds atomic.Int64 // paid-provider audio seconds this run

	completed atomic.Int64
	failed    atomic.Int64
}

func NewWorker(db *database.DB, acquirer *audio.Acquirer, chunker *audio.Chunker,
	provider Provider, modelCache *ModelCache, log zerolog.Logger) *Worker {
	return &Worker{
		db:         db,
		acquirer:   acquirer,
		chunker:    chunker,
		provider:   provider,
		modelCache: modelCache,
		log:        log,
	}
}

func (w *Worker) Name() string { return pipeline.PhaseTranscription }

// Run transcribes every pending episode (or the one named by
// --episode-guid). Per-episode permanent failures are tallied, not raised;
// the phase fails outright only when it cannot make progress at all.
func (w *Worker) Run(ctx context.Context, pc *pipeline.Context) (*pipeline.Result, error) {
	res := &pipeline.Result{Phase: w.Name()}

	if w.provider == nil {
		res.Error = "no STT provider configured"
		return res, &pipeline.ConfigError{Msg: "transcription requires an STT provider (set STT_PROVIDER and its key)"}
	}

	if w.provider.Name() == "whisper" && w.modelCache != nil {
		if err := w.modelCache.Validate(w.provider.Model()); err != nil {
			// Corrupt weights were deleted; the serving endpoint will
			// re-download on first use. Not fatal.
			w.log.Warn().Err(err).Msg("model cache validation")
		}
	}

	episodes, err := w.pendingEpisodes(ctx, pc)
	if err != nil {
		return res, err
	}
	if len(episodes) == 0 {
		res.Success = true
		return res, nil
	}

	feedTitles, err := w.db.FeedTitles(ctx)
	if err != nil {
		return res, fmt.Errorf("load feed titles: %w", err)
	}

	if pc.DryRun {
		res.Success = true
		res.Count("episodes_would_transcribe", len(episodes))
		return res, nil
	}

	workers := pc.Settings.TranscribeWorkers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan *database.Episode)
	var wg sync.WaitGroup
	var fatalMu sync.Mutex
	var fatal error

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			log := w.log.With().Int("worker", id).Logger()
			for ep := range jobs {
				fatalMu.Lock()
				stopped := fatal != nil
				fatalMu.Unlock()
				if stopped {
					// Drain without work so the feeder never blocks; the
					// episode stays pending for the next run.
					continue
				}
				err := w.processEpisode(ctx, pc, log, ep, feedTitles[ep.FeedID])
				switch {
				case err == nil:
					w.completed.Add(1)
				case errors.Is(err, errBudgetExhausted) || ctx.Err() != nil:
					fatalMu.Lock()
					if fatal == nil {
						fatal = err
					}
					fatalMu.Unlock()
					continue
				case pipeline.Permanent(err):
					w.failed.Add(1)
					reason := pipeline.ContentReason(err)
					count, dbErr := w.db.RecordEpisodeFailure(ctx, ep.ID, reason, database.EpisodeStatusPending)
					if dbErr != nil {
						log.Error().Err(dbErr).Int64("episode_id", ep.ID).Msg("failed to record episode failure")
						continue
					}
					log.Warn().Str("guid", ep.EpisodeGUID).Str("reason", reason).
						Int("failure_count", count).Msg("episode transcription failed")
				default:
					// Transient after retries exhausted, or provider auth.
					w.failed.Add(1)
					log.Warn().Err(err).Str("guid", ep.EpisodeGUID).Msg("episode transcription errored, will retry next run")
				}
			}
		}(i)
	}

	for _, ep := range episodes {
		select {
		case jobs <- ep:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	res.Count("episodes_transcribed", int(w.completed.Load()))
	res.Count("episodes_failed", int(w.failed.Load()))

	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if fatal != nil && errors.Is(fatal, errBudgetExhausted) {
		res.Partial = true
		res.Success = w.completed.Load() > 0
		res.Error = fatal.Error()
		return res, nil
	}
	res.Success = true
	res.Partial = w.failed.Load() > 0
	return res, nil
}

func (w *Worker) pendingEpisodes(ctx context.Context, pc *pipeline.Context) ([]*database.Episode, error) {
	if pc.EpisodeGUID != "" {
		ep, err := w.db.GetEpisodeByGUID(ctx, pc.EpisodeGUID)
		if err != nil {
			return nil, err
		}
		if ep == nil || ep.Status != database.EpisodeStatusPending {
			return nil, nil
		}
		return []*database.Episode{ep}, nil
	}
	return w.db.ListEpisodesByStatus(ctx, database.EpisodeStatusPending, pc.Limit)
}

// processEpisode runs the full acquire → chunk → transcribe flow for one
// episode. Chunk texts are appended to the row as they arrive, in
// chunk-number order.
func (w *Worker) processEpisode(ctx context.Context, pc *pipeline.Context, log zerolog.Logger, ep *database.Episode, feedTitle string) error {
	audioPath, err := w.acquirer.Fetch(ctx, ep.EpisodeGUID, feedTitle, ep.AudioURL)
	if err != nil {
		return err
	}

	chunks, total, err := w.chunker.Split(ctx, ep.EpisodeGUID, audioPath, pc.Settings.MinValidChunkRatio)
	if err != nil {
		return err
	}

	if err := w.db.MarkEpisodeProcessing(ctx, ep.ID, audioPath, total); err != nil {
		return err
	}

	needed := audio.MinValidChunks(total, pc.Settings.MinValidChunkRatio)
	chunkSeconds := int64(w.chunker.DurationSeconds)

	transcribed := 0
	remaining := len(chunks)
	start := time.Now()

	for _, chunk := range chunks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if w.provider.Paid() {
			spent := w.spentSeconds.Add(chunkSeconds)
			if spent > int64(pc.Settings.MaxCostMinutes)*60 {
				return errBudgetExhausted
			}
		}

		text, err := w.transcribeChunk(ctx, log, chunk.Path)
		remaining--
		if err != nil {
			if pipeline.Permanent(err) {
				log.Warn().Err(err).Int("chunk", chunk.Number).Str("guid", ep.EpisodeGUID).
					Msg("chunk permanently failed")
				metrics.TranscribeChunksTotal.WithLabelValues("failed").Inc()
				if transcribed+remaining < needed {
					return &pipeline.ContentError{
						Reason: "insufficient valid chunks",
						Err:    fmt.Errorf("%d transcribed + %d remaining < %d needed", transcribed, remaining, needed),
					}
				}
				continue
			}
			return err
		}

		text = strings.TrimSpace(text)
		if text == "" {
			// Silence is a legitimate chunk result, not a failure.
			transcribed++
			continue
		}
		if err := w.db.AppendTranscript(ctx, ep.ID, text, len(strings.Fields(text))); err != nil {
			return fmt.Errorf("append transcript: %w", err)
		}
		transcribed++
		metrics.TranscribeChunksTotal.WithLabelValues("ok").Inc()
	}

	if transcribed < needed {
		return &pipeline.ContentError{
			Reason: "insufficient valid chunks",
			Err:    fmt.Errorf("%d of %d chunks transcribed, need %d", transcribed, total, needed),
		}
	}

	if err := w.db.MarkEpisodeTranscribed(ctx, ep.ID); err != nil {
		return err
	}
	w.chunker.Cleanup(ep.EpisodeGUID)

	log.Info().
		Str("guid", ep.EpisodeGUID).
		Int("chunks", transcribed).
		Int("total", total).
		Dur("elapsed", time.Since(start)).
		Msg("episode transcribed")
	return nil
}

// transcribeChunk calls the provider with exponential backoff. Transient
// errors retry up to three times (base 5s, doubling); rate-limit waits
// honor the provider's Retry-After and are not counted against the ceiling.
// Model-cache checksum errors purge the weights before the next attempt.
func (w *Worker) transcribeChunk(ctx context.Context, log zerolog.Logger, path string) (string, error) {
	const maxAttempts = 4 // initial call + 3 retries
	delay := 5 * time.Second
	attempts := 0

	for {
		resp, err := w.provider.Transcribe(ctx, path, TranscribeOpts{Temperature: 0})
		if err == nil {
			return resp.Text, nil
		}
		err = Classify(err)

		if IsModelCacheError(err) && w.modelCache != nil {
			w.modelCache.Purge(w.provider.Model())
			err = &pipeline.TransientError{Err: err}
		}

		if ra, ok := pipeline.RateLimited(err); ok {
			log.Debug().Dur("retry_after", ra).Msg("rate limited, waiting")
			select {
			case <-time.After(ra):
				continue
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if !pipeline.Transient(err) {
			return "", err
		}
		attempts++
		if attempts >= maxAttempts {
			return "", fmt.Errorf("chunk transcription failed after %d attempts: %w", attempts, err)
		}
		log.Debug().Err(err).Dur("backoff", delay).Int("attempt", attempts).Msg("transient transcription error, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		delay *= 2
	}
}
