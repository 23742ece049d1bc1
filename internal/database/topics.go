package database

import (
	"context"
	"encoding/json"
	"fmt"
)

// SpeakerVoice binds a dialogue speaker label to a TTS voice.
type SpeakerVoice struct {
	VoiceID string `json:"voice_id"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty"`
}

type Topic struct {
	ID             int64
	Slug           string
	Name           string
	Description    string
	InstructionsMD string
	VoiceID        string
	VoiceSettings  map[string]float64
	UseDialogueAPI bool
	DialogueModel  string
	// VoiceConfig maps SPEAKER_1/SPEAKER_2 to their voice bindings.
	VoiceConfig map[string]SpeakerVoice
	IsActive    bool
	SortOrder   int
}

// ListActiveTopics returns active topics in sort order. Topics are the
// authoritative source of per-topic prompts and voice bindings.
func (db *DB) ListActiveTopics(ctx context.Context) ([]*Topic, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, slug, name, description, instructions_md, voice_id,
			voice_settings, use_dialogue_api, dialogue_model, voice_config,
			is_active, sort_order
		FROM topics
		WHERE is_active
		ORDER BY sort_order, slug
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []*Topic
	for rows.Next() {
		var t Topic
		var voiceSettings, voiceConfig []byte
		if err := rows.Scan(&t.ID, &t.Slug, &t.Name, &t.Description, &t.InstructionsMD,
			&t.VoiceID, &voiceSettings, &t.UseDialogueAPI, &t.DialogueModel,
			&voiceConfig, &t.IsActive, &t.SortOrder); err != nil {
			return nil, err
		}
		if len(voiceSettings) > 0 {
			if err := json.Unmarshal(voiceSettings, &t.VoiceSettings); err != nil {
				return nil, fmt.Errorf("topic %s: decode voice_settings: %w", t.Slug, err)
			}
		}
		if len(voiceConfig) > 0 {
			if err := json.Unmarshal(voiceConfig, &t.VoiceConfig); err != nil {
				return nil, fmt.Errorf("topic %s: decode voice_config: %w", t.Slug, err)
			}
		}
		topics = append(topics, &t)
	}
	return topics, rows.Err()
}

// UpsertTopic inserts or updates a topic by slug. Used by operator seeding.
func (db *DB) UpsertTopic(ctx context.Context, t *Topic) error {
	voiceSettings, err := json.Marshal(t.VoiceSettings)
	if err != nil {
		return fmt.Errorf("encode voice_settings: %w", err)
	}
	voiceConfig, err := json.Marshal(t.VoiceConfig)
	if err != nil {
		return fmt.Errorf("encode voice_config: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO topics (slug, name, description, instructions_md, voice_id,
			voice_settings, use_dialogue_api, dialogue_model, voice_config,
			is_active, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			instructions_md = EXCLUDED.instructions_md,
			voice_id = EXCLUDED.voice_id,
			voice_settings = EXCLUDED.voice_settings,
			use_dialogue_api = EXCLUDED.use_dialogue_api,
			dialogue_model = EXCLUDED.dialogue_model,
			voice_config = EXCLUDED.voice_config,
			is_active = EXCLUDED.is_active,
			sort_order = EXCLUDED.sort_order,
			updated_at = now()
	`, t.Slug, t.Name, t.Description, t.InstructionsMD, t.VoiceID,
		voiceSettings, t.UseDialogueAPI, t.DialogueModel, voiceConfig,
		t.IsActive, t.SortOrder)
	return err
}
