package settings

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/pod-engine/internal/database"
)

func TestDefaults(t *testing.T) {
	p := Defaults()
	if p.ScoreThreshold != 0.65 {
		t.Errorf("ScoreThreshold = %v, want 0.65", p.ScoreThreshold)
	}
	if p.MinValidChunkRatio != 0.70 {
		t.Errorf("MinValidChunkRatio = %v, want 0.70", p.MinValidChunkRatio)
	}
	if p.MaxChunkSize != 2800 {
		t.Errorf("MaxChunkSize = %v, want 2800", p.MaxChunkSize)
	}
	if p.ChunkDurationSeconds != 180 {
		t.Errorf("ChunkDurationSeconds = %v, want 180", p.ChunkDurationSeconds)
	}
	if p.MaxEpisodesPerDigest != 5 {
		t.Errorf("MaxEpisodesPerDigest = %v, want 5", p.MaxEpisodesPerDigest)
	}
	if p.GeneralSummaryEnabled {
		t.Error("GeneralSummaryEnabled should default off")
	}
}

func TestLoaderClamping(t *testing.T) {
	l := loader{log: zerolog.Nop()}

	minV, maxV := 1.0, 10.0
	dst := 5
	l.setInt(&dst, database.SettingRow{Category: "tts", Key: "workers", Value: "50", MinValue: &minV, MaxValue: &maxV})
	if dst != 10 {
		t.Errorf("setInt over max = %d, want 10", dst)
	}
	l.setInt(&dst, database.SettingRow{Category: "tts", Key: "workers", Value: "0", MinValue: &minV, MaxValue: &maxV})
	if dst != 1 {
		t.Errorf("setInt under min = %d, want 1", dst)
	}

	// Unparseable keeps the previous value.
	l.setInt(&dst, database.SettingRow{Category: "tts", Key: "workers", Value: "lots"})
	if dst != 1 {
		t.Errorf("setInt unparseable = %d, want unchanged", dst)
	}

	f := 0.5
	l.setFloat(&f, database.SettingRow{Category: "scoring", Key: "threshold", Value: "0.9"})
	if f != 0.9 {
		t.Errorf("setFloat = %v, want 0.9", f)
	}

	b := false
	l.setBool(&b, database.SettingRow{Category: "scoring", Key: "ad_trim_enabled", Value: "true"})
	if !b {
		t.Error("setBool did not apply")
	}
}
