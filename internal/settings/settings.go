// Package settings materializes the web_settings table into a typed
// snapshot. Every phase loads one snapshot at start and passes it down;
// nothing re-reads settings per call.
package settings

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/snarg/pod-engine/internal/database"
)

// Pipeline is the fully-materialized settings snapshot.
type Pipeline struct {
	// ingest
	LookbackDays         int
	FeedFailureThreshold int

	// audio
	ChunkDurationSeconds int
	MaxDownloadMB        int

	// transcription
	TranscribeWorkers        int
	MinValidChunkRatio       float64
	ProcessingTimeoutMinutes int
	MaxCostMinutes           int

	// scoring
	ScoreThreshold   float64
	AdTrimEnabled    bool
	AdTrimPrefixPct  float64
	AdTrimSuffixPct  float64
	ScoreMaxInputChars int
	ScoreModel       string

	// digest
	MinEpisodesPerDigest  int
	MaxEpisodesPerDigest  int
	ScriptModel           string
	GeneralSummaryEnabled bool

	// tts
	MaxChunkSize     int
	SingleVoiceLimit int
	TTSWorkers       int

	// retention (days)
	RetainMP3Days        int
	RetainAudioCacheDays int
	RetainLogDays        int
	RetainEpisodeDays    int
	RetainDigestDays     int
	RetainReleaseDays    int
}

// Defaults returns the built-in values used when a settings row is absent.
func Defaults() Pipeline {
	return Pipeline{
		LookbackDays:         7,
		FeedFailureThreshold: 10,

		ChunkDurationSeconds: 180,
		MaxDownloadMB:        500,

		TranscribeWorkers:        2,
		MinValidChunkRatio:       0.70,
		ProcessingTimeoutMinutes: 60,
		MaxCostMinutes:           600,

		ScoreThreshold:     0.65,
		AdTrimEnabled:      true,
		AdTrimPrefixPct:    0.05,
		AdTrimSuffixPct:    0.05,
		ScoreMaxInputChars: 480000,
		ScoreModel:         "gpt-4o-mini",

		MinEpisodesPerDigest:  1,
		MaxEpisodesPerDigest:  5,
		ScriptModel:           "gpt-4o",
		GeneralSummaryEnabled: false,

		MaxChunkSize:     2800,
		SingleVoiceLimit: 3000,
		TTSWorkers:       1,

		RetainMP3Days:        30,
		RetainAudioCacheDays: 14,
		RetainLogDays:        30,
		RetainEpisodeDays:    90,
		RetainDigestDays:     365,
		RetainReleaseDays:    60,
	}
}

// Load reads web_settings and overlays rows onto the defaults. Values are
// clamped to per-row min/max; unparseable values keep the default and log.
func Load(ctx context.Context, db *database.DB, log zerolog.Logger) (Pipeline, error) {
	p := Defaults()
	rows, err := db.ListSettings(ctx)
	if err != nil {
		return p, err
	}

	l := loader{log: log}
	for _, row := range rows {
		switch row.Category + "." + row.Key {
		case "ingest.lookback_days":
			l.setInt(&p.LookbackDays, row)
		case "ingest.failure_threshold":
			l.setInt(&p.FeedFailureThreshold, row)
		case "audio.chunk_duration_seconds":
			l.setInt(&p.ChunkDurationSeconds, row)
		case "audio.max_download_mb":
			l.setInt(&p.MaxDownloadMB, row)
		case "transcription.workers":
			l.setInt(&p.TranscribeWorkers, row)
		case "transcription.min_valid_chunk_ratio":
			l.setFloat(&p.MinValidChunkRatio, row)
		case "transcription.processing_timeout_minutes":
			l.setInt(&p.ProcessingTimeoutMinutes, row)
		case "transcription.max_cost_minutes":
			l.setInt(&p.MaxCostMinutes, row)
		case "scoring.threshold":
			l.setFloat(&p.ScoreThreshold, row)
		case "scoring.ad_trim_enabled":
			l.setBool(&p.AdTrimEnabled, row)
		case "scoring.ad_trim_prefix_pct":
			l.setFloat(&p.AdTrimPrefixPct, row)
		case "scoring.ad_trim_suffix_pct":
			l.setFloat(&p.AdTrimSuffixPct, row)
		case "scoring.max_input_chars":
			l.setInt(&p.ScoreMaxInputChars, row)
		case "scoring.model":
			p.ScoreModel = row.Value
		case "digest.min_episodes":
			l.setInt(&p.MinEpisodesPerDigest, row)
		case "digest.max_episodes":
			l.setInt(&p.MaxEpisodesPerDigest, row)
		case "digest.script_model":
			p.ScriptModel = row.Value
		case "digest.general_summary_enabled":
			l.setBool(&p.GeneralSummaryEnabled, row)
		case "tts.max_chunk_size":
			l.setInt(&p.MaxChunkSize, row)
		case "tts.single_voice_limit":
			l.setInt(&p.SingleVoiceLimit, row)
		case "tts.workers":
			l.setInt(&p.TTSWorkers, row)
		case "retention.mp3_days":
			l.setInt(&p.RetainMP3Days, row)
		case "retention.audio_cache_days":
			l.setInt(&p.RetainAudioCacheDays, row)
		case "retention.log_days":
			l.setInt(&p.RetainLogDays, row)
		case "retention.episode_days":
			l.setInt(&p.RetainEpisodeDays, row)
		case "retention.digest_days":
			l.setInt(&p.RetainDigestDays, row)
		case "retention.release_days":
			l.setInt(&p.RetainReleaseDays, row)
		default:
			log.Debug().Str("category", row.Category).Str("key", row.Key).Msg("unknown setting ignored")
		}
	}
	return p, nil
}

type loader struct {
	log zerolog.Logger
}

func (l *loader) clamp(v float64, row database.SettingRow) float64 {
	if row.MinValue != nil && v < *row.MinValue {
		l.log.Warn().Str("key", row.Category+"."+row.Key).Float64("value", v).
			Float64("min", *row.MinValue).Msg("setting clamped to minimum")
		return *row.MinValue
	}
	if row.MaxValue != nil && v > *row.MaxValue {
		l.log.Warn().Str("key", row.Category+"."+row.Key).Float64("value", v).
			Float64("max", *row.MaxValue).Msg("setting clamped to maximum")
		return *row.MaxValue
	}
	return v
}

func (l *loader) setInt(dst *int, row database.SettingRow) {
	v, err := strconv.Atoi(row.Value)
	if err != nil {
		l.log.Warn().Str("key", row.Category+"."+row.Key).Str("value", row.Value).
			Msg("unparseable int setting, keeping default")
		return
	}
	*dst = int(l.clamp(float64(v), row))
}

func (l *loader) setFloat(dst *float64, row database.SettingRow) {
	v, err := strconv.ParseFloat(row.Value, 64)
	if err != nil {
		l.log.Warn().Str("key", row.Category+"."+row.Key).Str("value", row.Value).
			Msg("unparseable float setting, keeping default")
		return
	}
	*dst = l.clamp(v, row)
}

func (l *loader) setBool(dst *bool, row database.SettingRow) {
	v, err := strconv.ParseBool(row.Value)
	if err != nil {
		l.log.Warn().Str("key", row.Category+"."+row.Key).Str("value", row.Value).
			Msg("unparseable bool setting, keeping default")
		return
	}
	*dst = v
}
