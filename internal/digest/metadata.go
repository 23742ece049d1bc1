package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/snarg/pod-engine/internal/llm"
	"github.com/snarg/pod-engine/internal/score"
)

// Metadata is the episode-facing title and summary for a finished MP3.
type Metadata struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

var metadataSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"title": {"type": "string", "maxLength": 120},
		"summary": {"type": "string", "maxLength": 600}
	},
	"required": ["title", "summary"],
	"additionalProperties": false
}`)

// GenerateMetadata produces the MP3 title and summary from the script via
// one structured-output call. A schema failure falls back to a plain
// derived title so audio commit never blocks on metadata polish.
func GenerateMetadata(ctx context.Context, client *llm.Client, model, topic string, date time.Time, script string) (Metadata, error) {
	fallback := Metadata{
		Title:   fmt.Sprintf("%s Digest — %s", topic, date.Format("January 2, 2006")),
		Summary: fmt.Sprintf("A curated digest of recent %s podcast episodes.", topic),
	}

	resp, err := client.Complete(ctx, "metadata", llm.Request{
		Model:           model,
		System:          "You write podcast episode metadata. Given a digest script, produce a concise, compelling episode title and a 2-3 sentence summary. Respond as JSON.",
		User:            fmt.Sprintf("Topic: %s\nDate: %s\n\nScript:\n%s", topic, date.Format("2006-01-02"), score.BoundedPrefix(script, 8000)),
		MaxOutputTokens: 400,
		SchemaName:      "episode_metadata",
		Schema:          metadataSchema,
	})
	if err != nil {
		if ctx.Err() != nil {
			return fallback, ctx.Err()
		}
		return fallback, nil
	}

	var m Metadata
	if jsonErr := json.Unmarshal([]byte(resp.Text), &m); jsonErr != nil || m.Title == "" {
		return fallback, nil
	}
	return m, nil
}
