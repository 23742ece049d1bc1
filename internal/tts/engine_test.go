package tts

import (
	"testing"

	"github.com/snarg/pod-engine/internal/database"
)

func TestQuantizeStability(t *testing.T) {
	tests := []struct {
		model string
		in    float64
		want  float64
	}{
		{"eleven_v3", 0.1, 0.0},
		{"eleven_v3", 0.3, 0.5},
		{"eleven_v3", 0.6, 0.5},
		{"eleven_v3", 0.9, 1.0},
		{"eleven_turbo_v2_5", 0.37, 0.37}, // continuous model untouched
	}
	for _, tt := range tests {
		got := QuantizeStability(tt.model, tt.in)
		if got != tt.want {
			t.Errorf("QuantizeStability(%s, %v) = %v, want %v", tt.model, tt.in, got, tt.want)
		}
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"AI News", "ai-news"},
		{"Community & Society!", "community-society"},
		{"  already-slugged  ", "already-slugged"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeVoiceConfig(t *testing.T) {
	cfg := map[string]database.SpeakerVoice{
		"speaker_1": {VoiceID: "v1"},
		"SPEAKER_2": {VoiceID: "v2"},
		"speaker_3": {}, // no voice id, dropped
	}
	got := normalizeVoiceConfig(cfg)
	if got["SPEAKER_1"] != "v1" || got["SPEAKER_2"] != "v2" {
		t.Errorf("normalizeVoiceConfig = %v", got)
	}
	if _, ok := got["SPEAKER_3"]; ok {
		t.Error("binding without voice id kept")
	}
}

func TestVoiceSettingsFromMap(t *testing.T) {
	s := voiceSettingsFromMap(map[string]float64{
		"stability":         0.8,
		"similarity_boost":  0.6,
		"style":             0.2,
		"use_speaker_boost": 1,
	})
	if s.Stability != 0.8 || s.SimilarityBoost != 0.6 || s.Style != 0.2 || !s.UseSpeakerBoost {
		t.Errorf("settings = %+v", s)
	}

	defaults := voiceSettingsFromMap(nil)
	if defaults.Stability != 0.5 || defaults.SimilarityBoost != 0.75 {
		t.Errorf("defaults = %+v", defaults)
	}
}
