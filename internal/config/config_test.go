package config

import (
	"os"
	"testing"
)

func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	saved := make(map[string]string)
	for k, v := range envs {
		saved[k] = os.Getenv(k)
		os.Setenv(k, v)
	}
	return func() {
		for k, v := range saved {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}
}

func TestLoad(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"DATABASE_URL": "postgres://localhost/test",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.Timezone != "America/New_York" {
			t.Errorf("Timezone = %q, want America/New_York", cfg.Timezone)
		}
		if cfg.AudioCacheDir != "./cache/audio" {
			t.Errorf("AudioCacheDir = %q, want ./cache/audio", cfg.AudioCacheDir)
		}
		if cfg.STTProvider != "whisper" {
			t.Errorf("STTProvider = %q, want whisper", cfg.STTProvider)
		}
		if cfg.KillGrace.Seconds() != 5 {
			t.Errorf("KillGrace = %v, want 5s", cfg.KillGrace)
		}
	})

	t.Run("overrides_win", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:     "nonexistent.env",
			DatabaseURL: "postgres://other/db",
			LogLevel:    "debug",
			MP3Dir:      "/srv/mp3",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.DatabaseURL != "postgres://other/db" {
			t.Errorf("DatabaseURL = %q, want override", cfg.DatabaseURL)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.MP3Dir != "/srv/mp3" {
			t.Errorf("MP3Dir = %q, want /srv/mp3", cfg.MP3Dir)
		}
	})

	t.Run("invalid_stt_provider", func(t *testing.T) {
		restore := setEnvs(t, map[string]string{"STT_PROVIDER": "siri"})
		defer restore()
		if _, err := Load(Overrides{EnvFile: "nonexistent.env"}); err == nil {
			t.Error("Load accepted invalid STT_PROVIDER")
		}
	})
}

func TestLocation(t *testing.T) {
	cfg := &Config{Timezone: "America/New_York"}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if loc.String() != "America/New_York" {
		t.Errorf("Location = %q, want America/New_York", loc)
	}

	cfg.Timezone = "Not/AZone"
	if _, err := cfg.Location(); err == nil {
		t.Error("Location accepted invalid zone")
	}
}
