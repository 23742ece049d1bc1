// Package score rates transcribed episodes against the active topic
// catalog with a single LLM call per episode.
package score

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snarg/pod-engine/internal/database"
	"github.com/snarg/pod-engine/internal/llm"
	"github.com/snarg/pod-engine/internal/pipeline"
)

type Scorer struct {
	db  *database.DB
	llm *llm.Client
	log zerolog.Logger
}

func NewScorer(db *database.DB, llmClient *llm.Client, log zerolog.Logger) *Scorer {
	return &Scorer{db: db, llm: llmClient, log: log}
}

func (s *Scorer) Name() string { return pipeline.PhaseScoring }

// Run scores every transcribed episode against the active topics. A
// schema failure gets exactly one repair attempt before the episode's
// failure count is charged.
func (s *Scorer) Run(ctx context.Context, pc *pipeline.Context) (*pipeline.Result, error) {
	res := &pipeline.Result{Phase: s.Name()}

	topics, err := s.db.ListActiveTopics(ctx)
	if err != nil {
		return res, fmt.Errorf("list topics: %w", err)
	}
	if len(topics) == 0 {
		res.Error = "no active topics"
		return res, &pipeline.ConfigError{Msg: "scoring requires at least one active topic"}
	}

	episodes, err := s.db.ListEpisodesByStatus(ctx, database.EpisodeStatusTranscribed, pc.Limit)
	if err != nil {
		return res, fmt.Errorf("list episodes: %w", err)
	}
	if len(episodes) == 0 {
		res.Success = true
		return res, nil
	}

	if pc.DryRun {
		res.Success = true
		res.Count("episodes_would_score", len(episodes))
		return res, nil
	}

	var scored, failed int
	for _, ep := range episodes {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		scores, err := s.scoreEpisode(ctx, pc, ep, topics)
		if err != nil {
			if !pipeline.Permanent(err) {
				return res, err
			}
			failed++
			reason := pipeline.ContentReason(err)
			if _, dbErr := s.db.RecordEpisodeFailure(ctx, ep.ID, reason, database.EpisodeStatusTranscribed); dbErr != nil {
				return res, dbErr
			}
			s.log.Warn().Int64("episode_id", ep.ID).Str("reason", reason).Msg("episode scoring failed")
			continue
		}
		if err := s.db.SetEpisodeScores(ctx, ep.ID, scores); err != nil {
			return res, err
		}
		scored++
		s.log.Info().Int64("episode_id", ep.ID).Interface("scores", scores).Msg("episode scored")
	}

	res.Count("episodes_scored", scored)
	res.Count("episodes_failed", failed)
	res.Success = true
	res.Partial = failed > 0
	return res, nil
}

func (s *Scorer) scoreEpisode(ctx context.Context, pc *pipeline.Context, ep *database.Episode, topics []*database.Topic) (map[string]float64, error) {
	transcript := ep.TranscriptContent
	if pc.Settings.AdTrimEnabled {
		transcript = TrimAds(transcript, pc.Settings.AdTrimPrefixPct, pc.Settings.AdTrimSuffixPct)
	}
	transcript = BoundedPrefix(transcript, pc.Settings.ScoreMaxInputChars)

	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = t.Name
	}

	req := llm.Request{
		Model:           pc.Settings.ScoreModel,
		System:          scoringSystemPrompt(topics),
		User:            scoringUserPrompt(ep, transcript),
		MaxOutputTokens: 1000,
		SchemaName:      "topic_scores",
		Schema:          scoreSchema(names),
	}

	resp, err := s.llm.Complete(ctx, "scoring", req)
	if err != nil {
		return nil, err
	}

	scores, parseErr := ParseScores(resp.Text, names)
	if parseErr == nil {
		return scores, nil
	}

	// One repair attempt: feed the parse failure back before charging the
	// episode a permanent failure.
	s.log.Warn().Err(parseErr).Int64("episode_id", ep.ID).Msg("score parse failed, attempting repair")
	req.User += fmt.Sprintf("\n\nYour previous response was invalid (%v). Respond again with ONLY the JSON object.", parseErr)
	resp, err = s.llm.Complete(ctx, "scoring", req)
	if err != nil {
		return nil, err
	}
	scores, parseErr = ParseScores(resp.Text, names)
	if parseErr != nil {
		return nil, &pipeline.ContentError{Reason: "scorer output failed schema after repair", Err: parseErr}
	}
	return scores, nil
}

func scoringSystemPrompt(topics []*database.Topic) string {
	var b strings.Builder
	b.WriteString("You rate podcast episodes for relevance to a fixed set of topics.\n")
	b.WriteString("For every topic, respond with a relevance score between 0.0 and 1.0.\n")
	b.WriteString("A score of 1.0 means the episode is substantially about the topic; 0.0 means unrelated.\n\nTopics:\n")
	for _, t := range topics {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	b.WriteString("\nRespond with a JSON object mapping every topic name to its score. No other keys, no prose.")
	return b.String()
}

func scoringUserPrompt(ep *database.Episode, transcript string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Episode title: %s\n", ep.Title)
	if ep.Description != "" {
		fmt.Fprintf(&b, "Episode description: %s\n", firstN(ep.Description, 2000))
	}
	fmt.Fprintf(&b, "\nTranscript:\n%s\n", transcript)
	return b.String()
}

// scoreSchema builds the strict JSON schema: one required number property
// per active topic, nothing else.
func scoreSchema(names []string) json.RawMessage {
	props := make(map[string]any, len(names))
	for _, n := range names {
		props[n] = map[string]any{"type": "number", "minimum": 0, "maximum": 1}
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             names,
		"additionalProperties": false,
	}
	blob, _ := json.Marshal(schema)
	return blob
}

// ParseScores parses the LLM response under a strict schema: keys must be
// known topic names, values numbers clamped to [0,1]. Missing topics
// default to 0.
func ParseScores(text string, names []string) (map[string]float64, error) {
	text = strings.TrimSpace(text)
	// Tolerate a fenced code block around the object.
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	var raw map[string]float64
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("scores are not a JSON object of numbers: %w", err)
	}

	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	for k := range raw {
		if !known[k] {
			return nil, fmt.Errorf("unknown topic %q in scores", k)
		}
	}

	scores := make(map[string]float64, len(names))
	for _, n := range names {
		v := raw[n] // missing defaults to 0
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		scores[n] = v
	}
	return scores, nil
}

// TrimAds drops a leading and trailing percentage of the transcript to
// reduce ad-read bias before scoring.
func TrimAds(transcript string, prefixPct, suffixPct float64) string {
	runes := []rune(transcript)
	n := len(runes)
	if n == 0 || prefixPct+suffixPct >= 1 {
		return transcript
	}
	start := int(float64(n) * prefixPct)
	end := n - int(float64(n)*suffixPct)
	if start >= end {
		return transcript
	}
	return string(runes[start:end])
}

// BoundedPrefix caps the transcript slice sent to the model so input
// tokens stay under the configured ceiling.
func BoundedPrefix(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}

func firstN(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
