package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	Timezone    string `env:"TIMEZONE" envDefault:"America/New_York"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Rotating log file (console output always goes to stdout)
	LogFile       string `env:"LOG_FILE" envDefault:"./logs/pod-engine.log"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`

	// Working directories
	AudioCacheDir string `env:"AUDIO_CACHE_DIR" envDefault:"./cache/audio"`
	ChunkDir      string `env:"CHUNK_DIR" envDefault:"./cache/chunks"`
	MP3Dir        string `env:"MP3_DIR" envDefault:"./output"`
	TempDir       string `env:"TEMP_DIR"` // empty = os.TempDir()

	// LLM provider (scoring, script generation, metadata)
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"` // empty = api.openai.com

	// STT provider selection: "whisper" (local/self-hosted) or "elevenlabs"
	STTProvider     string        `env:"STT_PROVIDER" envDefault:"whisper"`
	WhisperURL      string        `env:"WHISPER_URL"`
	WhisperModel    string        `env:"WHISPER_MODEL" envDefault:"base"`
	WhisperTimeout  time.Duration `env:"WHISPER_TIMEOUT" envDefault:"5m"`
	WhisperCacheDir string        `env:"WHISPER_CACHE_DIR"` // empty = ~/.cache/whisper

	// ElevenLabs (STT when STT_PROVIDER=elevenlabs, always for TTS)
	ElevenLabsAPIKey   string `env:"ELEVENLABS_API_KEY"`
	ElevenLabsSTTModel string `env:"ELEVENLABS_STT_MODEL" envDefault:"scribe_v1"`

	// Release store: GitHub repository in "owner/name" form. When
	// GITHUB_TOKEN is unset the gh CLI's stored credentials are used.
	ReleaseRepo string `env:"RELEASE_REPO"`
	GithubToken string `env:"GITHUB_TOKEN"`

	// Optional status listener exposing /healthz and /metrics during a run.
	StatusAddr string `env:"STATUS_ADDR"` // empty = disabled

	// Subprocess grace period between SIGTERM and SIGKILL on cancellation.
	KillGrace time.Duration `env:"KILL_GRACE" envDefault:"5s"`
}

// Location resolves the configured regional timezone. All digest dates and
// timestamps are interpreted in this zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks cross-field requirements that env tags can't express.
// Provider keys are checked per phase at phase start, not here, so that
// e.g. a retention-only invocation doesn't demand a TTS key.
func (c *Config) Validate() error {
	switch c.STTProvider {
	case "whisper", "elevenlabs", "none", "":
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q (valid: whisper, elevenlabs, none)", c.STTProvider)
	}
	return nil
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile       string
	DatabaseURL   string
	LogLevel      string
	AudioCacheDir string
	MP3Dir        string
	WhisperURL    string
	ReleaseRepo   string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.AudioCacheDir != "" {
		cfg.AudioCacheDir = overrides.AudioCacheDir
	}
	if overrides.MP3Dir != "" {
		cfg.MP3Dir = overrides.MP3Dir
	}
	if overrides.WhisperURL != "" {
		cfg.WhisperURL = overrides.WhisperURL
	}
	if overrides.ReleaseRepo != "" {
		cfg.ReleaseRepo = overrides.ReleaseRepo
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
