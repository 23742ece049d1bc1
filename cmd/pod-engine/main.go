package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	podengine "github.com/snarg/pod-engine"
	"github.com/snarg/pod-engine/internal/audio"
	"github.com/snarg/pod-engine/internal/config"
	"github.com/snarg/pod-engine/internal/database"
	"github.com/snarg/pod-engine/internal/digest"
	"github.com/snarg/pod-engine/internal/feed"
	"github.com/snarg/pod-engine/internal/llm"
	"github.com/snarg/pod-engine/internal/logging"
	"github.com/snarg/pod-engine/internal/pipeline"
	"github.com/snarg/pod-engine/internal/publish"
	"github.com/snarg/pod-engine/internal/retention"
	"github.com/snarg/pod-engine/internal/score"
	"github.com/snarg/pod-engine/internal/settings"
	"github.com/snarg/pod-engine/internal/status"
	"github.com/snarg/pod-engine/internal/transcribe"
	"github.com/snarg/pod-engine/internal/tts"
)

// version, commit, and buildTime are injected at build time via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

const usage = `pod-engine — scheduled podcast digest pipeline

Usage:
  pod-engine <command> [flags]

Commands:
  run            run every phase in order (the orchestrator)
  discovery      poll RSS feeds for new episodes
  transcription  download, chunk, and transcribe pending episodes
  scoring        score transcribed episodes against the topic catalog
  digest         compose digest scripts from scored episodes
  audio          synthesize digest scripts to MP3
  publishing     upload finished MP3s to the release store
  retention      apply age-based deletion
  version        print version and exit

Flags:
  --env-file       path to .env file (default: .env)
  --database-url   PostgreSQL connection URL (overrides DATABASE_URL)
  --log-level      debug, info, warn, error (overrides LOG_LEVEL)
  --verbose        shorthand for --log-level debug
  --dry-run        report what would happen without writing
  --limit N        cap how many episodes/digests the phase touches
  --days-back N    override the discovery look-back window
  --episode-guid X restrict transcription to one episode
  --phase NAME     (run only) stop after the named phase
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	command := os.Args[1]

	if command == "version" {
		fmt.Printf("%s (commit=%s, built=%s)\n", version, commit, buildTime)
		return
	}

	var overrides config.Overrides
	var dryRun, verbose bool
	var limit, daysBack int
	var episodeGUID, stopAfter string

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	fs.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	fs.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL connection URL (overrides DATABASE_URL)")
	fs.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	fs.StringVar(&overrides.MP3Dir, "mp3-dir", "", "MP3 output directory (overrides MP3_DIR)")
	fs.StringVar(&overrides.WhisperURL, "whisper-url", "", "Whisper API URL (overrides WHISPER_URL)")
	fs.StringVar(&overrides.ReleaseRepo, "release-repo", "", "Release repository owner/name (overrides RELEASE_REPO)")
	fs.BoolVar(&dryRun, "dry-run", false, "Report what would happen without writing")
	fs.BoolVar(&verbose, "verbose", false, "Debug logging")
	fs.IntVar(&limit, "limit", 0, "Cap how many episodes/digests the phase touches (0 = all)")
	fs.IntVar(&daysBack, "days-back", 0, "Override the discovery look-back window in days")
	fs.StringVar(&episodeGUID, "episode-guid", "", "Restrict transcription to one episode GUID")
	fs.StringVar(&stopAfter, "phase", "", "Stop after the named phase (run only)")
	fs.Parse(os.Args[2:])

	if verbose && overrides.LogLevel == "" {
		overrides.LogLevel = "debug"
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	loc, err := cfg.Location()
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("invalid timezone")
	}

	log := logging.New(cfg)
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("command", command).
		Msg("pod-engine starting")

	// Context for graceful shutdown; cancellation propagates to in-flight
	// subprocesses with terminate-then-kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, loc, log, command, runOptions{
		DryRun:      dryRun,
		Limit:       limit,
		DaysBack:    daysBack,
		EpisodeGUID: episodeGUID,
		StopAfter:   stopAfter,
	}); err != nil {
		log.Error().Err(err).Msg("pod-engine failed")
		os.Exit(1)
	}
	log.Info().Msg("pod-engine finished")
}

type runOptions struct {
	DryRun      bool
	Limit       int
	DaysBack    int
	EpisodeGUID string
	StopAfter   string
}

func run(ctx context.Context, cfg *config.Config, loc *time.Location, log zerolog.Logger, command string, opts runOptions) error {
	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := db.InitSchema(ctx, podengine.SchemaSQL); err != nil {
		return fmt.Errorf("schema initialization: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("schema migration: %w", err)
	}

	// Mirror warn+ log events into pipeline_logs for this run.
	hook := &logging.DBHook{DB: db}
	log = log.Hook(hook)

	snap, err := settings.Load(ctx, db, log.With().Str("component", "settings").Logger())
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	runID, err := db.CreateRun(ctx, os.Getenv("WORKFLOW_RUN_ID"))
	if err != nil {
		return fmt.Errorf("create run record: %w", err)
	}
	hook.SetRun(runID)
	log = log.With().Str("run_id", runID.String()).Logger()
	log.Info().Msg("run record created")

	pc := &pipeline.Context{
		DB:          db,
		Cfg:         cfg,
		Settings:    snap,
		RunID:       runID,
		Location:    loc,
		Log:         log,
		DryRun:      opts.DryRun,
		Limit:       opts.Limit,
		EpisodeGUID: opts.EpisodeGUID,
		DaysBack:    opts.DaysBack,
	}

	// Optional status listener while the run is in flight.
	if cfg.StatusAddr != "" {
		srv := status.NewServer(cfg.StatusAddr, db, log.With().Str("component", "status").Logger())
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	phases, err := buildPhases(cfg, db, snap, log, command)
	if err != nil {
		_ = db.FinishRun(ctx, runID, "completed", "failure")
		return err
	}

	orch := pipeline.NewOrchestrator(phases, opts.StopAfter, hook, os.Stdout)
	runErr := orch.Run(ctx, pc)

	conclusion := "success"
	if runErr != nil {
		conclusion = "failure"
	}
	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.FinishRun(finishCtx, runID, "completed", conclusion); err != nil {
		log.Warn().Err(err).Msg("failed to close run record")
	}
	return runErr
}

// buildPhases assembles either the full sequence ("run") or the single
// requested phase. Provider clients are only constructed for the phases
// that need them, so their keys are only demanded then (fail-fast per
// phase, not globally).
func buildPhases(cfg *config.Config, db *database.DB, snap settings.Pipeline, log zerolog.Logger, command string) ([]pipeline.Phase, error) {
	tc := audio.NewTranscoder(cfg.KillGrace)

	newLLM := func() (*llm.Client, error) {
		return llm.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, log.With().Str("component", "llm").Logger())
	}

	newIngester := func() (pipeline.Phase, error) {
		return feed.NewIngester(db, log.With().Str("component", "discovery").Logger()), nil
	}

	newTranscription := func() (pipeline.Phase, error) {
		if err := tc.Check(); err != nil {
			return nil, &pipeline.ExternalToolError{Tool: "ffmpeg", Err: err}
		}
		var provider transcribe.Provider
		switch cfg.STTProvider {
		case "whisper":
			if cfg.WhisperURL == "" {
				return nil, &pipeline.ConfigError{Msg: "STT_PROVIDER=whisper requires WHISPER_URL"}
			}
			provider = transcribe.NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, "", cfg.WhisperTimeout)
		case "elevenlabs":
			if cfg.ElevenLabsAPIKey == "" {
				return nil, &pipeline.ConfigError{Msg: "STT_PROVIDER=elevenlabs requires ELEVENLABS_API_KEY"}
			}
			provider = transcribe.NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsSTTModel, cfg.WhisperTimeout)
		default:
			return nil, &pipeline.ConfigError{Msg: "transcription requires STT_PROVIDER=whisper or elevenlabs"}
		}
		tLog := log.With().Str("component", "transcribe").Logger()
		acq := audio.NewAcquirer(cfg.AudioCacheDir, snap.MaxDownloadMB, tLog)
		chunker := audio.NewChunker(cfg.ChunkDir, snap.ChunkDurationSeconds, tc, tLog)
		mc := transcribe.NewModelCache(cfg.WhisperCacheDir, tLog)
		return transcribe.NewWorker(db, acq, chunker, provider, mc, tLog), nil
	}

	newScoring := func() (pipeline.Phase, error) {
		client, err := newLLM()
		if err != nil {
			return nil, err
		}
		return score.NewScorer(db, client, log.With().Str("component", "scoring").Logger()), nil
	}

	newDigest := func() (pipeline.Phase, error) {
		client, err := newLLM()
		if err != nil {
			return nil, err
		}
		return digest.NewComposer(db, client, log.With().Str("component", "digest").Logger()), nil
	}

	newAudio := func() (pipeline.Phase, error) {
		if cfg.ElevenLabsAPIKey == "" {
			return nil, &pipeline.ConfigError{Msg: "audio phase requires ELEVENLABS_API_KEY"}
		}
		client, err := newLLM()
		if err != nil {
			return nil, err
		}
		aLog := log.With().Str("component", "tts").Logger()
		return tts.NewEngine(db, tts.NewClient(cfg.ElevenLabsAPIKey, aLog), client, tc,
			cfg.MP3Dir, cfg.TempDir, aLog), nil
	}

	newReleaseStore := func() (*publish.ReleaseStore, error) {
		if cfg.ReleaseRepo == "" {
			return nil, &pipeline.ConfigError{Msg: "publishing requires RELEASE_REPO"}
		}
		return publish.NewReleaseStore(cfg.ReleaseRepo, cfg.GithubToken,
			log.With().Str("component", "release-store").Logger())
	}

	newPublishing := func() (pipeline.Phase, error) {
		store, err := newReleaseStore()
		if err != nil {
			return nil, err
		}
		return publish.NewPublisher(db, store, tc, cfg.MP3Dir,
			log.With().Str("component", "publishing").Logger()), nil
	}

	newRetention := func() (pipeline.Phase, error) {
		// Remote pruning is skipped when no release store is configured.
		var store *publish.ReleaseStore
		if cfg.ReleaseRepo != "" {
			var err error
			store, err = newReleaseStore()
			if err != nil {
				return nil, err
			}
		}
		tmpDir := cfg.TempDir
		if tmpDir == "" {
			tmpDir = os.TempDir()
		}
		return retention.NewReaper(db, store, cfg.MP3Dir, cfg.AudioCacheDir, cfg.ChunkDir,
			tmpDir, logDir(cfg), log.With().Str("component", "retention").Logger()), nil
	}

	builders := map[string]func() (pipeline.Phase, error){
		pipeline.PhaseDiscovery:     newIngester,
		pipeline.PhaseTranscription: newTranscription,
		pipeline.PhaseScoring:       newScoring,
		pipeline.PhaseDigest:        newDigest,
		pipeline.PhaseAudio:         newAudio,
		pipeline.PhasePublishing:    newPublishing,
		pipeline.PhaseRetention:     newRetention,
	}

	if command == "run" {
		var phases []pipeline.Phase
		for _, name := range pipeline.PhaseOrder {
			phase, err := builders[name]()
			if err != nil {
				return nil, fmt.Errorf("phase %s: %w", name, err)
			}
			phases = append(phases, phase)
		}
		return phases, nil
	}

	builder, ok := builders[command]
	if !ok {
		return nil, fmt.Errorf("unknown command %q (see pod-engine with no arguments for usage)", command)
	}
	phase, err := builder()
	if err != nil {
		return nil, err
	}
	return []pipeline.Phase{phase}, nil
}

func logDir(cfg *config.Config) string {
	if cfg.LogFile == "" {
		return ""
	}
	return filepath.Dir(cfg.LogFile)
}
