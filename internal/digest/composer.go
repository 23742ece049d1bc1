// Package digest selects scored episodes per topic and renders daily
// digest scripts in narrative or two-speaker dialogue form.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/pod-engine/internal/database"
	"github.com/snarg/pod-engine/internal/llm"
	"github.com/snarg/pod-engine/internal/pipeline"
	"github.com/snarg/pod-engine/internal/score"
)

// GeneralSummaryTopic names the fallback digest emitted when no topic
// qualifies for the day. Kept behind digest.general_summary_enabled,
// default off.
const GeneralSummaryTopic = "General Summary"

type Composer struct {
	db  *database.DB
	llm *llm.Client
	log zerolog.Logger
}

func NewComposer(db *database.DB, llmClient *llm.Client, log zerolog.Logger) *Composer {
	return &Composer{db: db, llm: llmClient, log: log}
}

func (c *Composer) Name() string { return pipeline.PhaseDigest }

// Run walks the active topics in sort order and composes at most one new
// digest per topic for today's date. Per-topic failures don't abort the
// remaining topics.
func (c *Composer) Run(ctx context.Context, pc *pipeline.Context) (*pipeline.Result, error) {
	res := &pipeline.Result{Phase: c.Name()}

	topics, err := c.db.ListActiveTopics(ctx)
	if err != nil {
		return res, fmt.Errorf("list topics: %w", err)
	}
	date := pc.Today()

	var created, skipped, failed int
	for _, topic := range topics {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		id, err := c.composeTopic(ctx, pc, topic, date)
		switch {
		case err == nil && id > 0:
			created++
		case err == nil:
			skipped++
		case pipeline.Permanent(err):
			failed++
			c.log.Warn().Str("topic", topic.Name).Str("reason", pipeline.ContentReason(err)).
				Msg("digest composition failed")
		default:
			return res, err
		}
	}

	if created == 0 && failed == 0 && pc.Settings.GeneralSummaryEnabled && !pc.DryRun {
		id, err := c.composeGeneralSummary(ctx, pc, date)
		if err != nil {
			if !pipeline.Permanent(err) {
				return res, err
			}
			c.log.Warn().Str("reason", pipeline.ContentReason(err)).Msg("general summary failed")
		} else if id > 0 {
			created++
		}
	}

	res.Count("digests_created", created)
	res.Count("topics_skipped", skipped)
	res.Count("digests_failed", failed)
	res.Success = true
	res.Partial = failed > 0
	return res, nil
}

// composeTopic builds one digest for (topic, date). Returns 0 with nil
// error when the topic is skipped. If a prior digest for the same key
// already exists and today's selection is below the minimum, the prior
// digest stands — never emit a weaker duplicate.
func (c *Composer) composeTopic(ctx context.Context, pc *pipeline.Context, topic *database.Topic, date time.Time) (int64, error) {
	eps, err := c.db.ListQualifyingEpisodes(ctx, topic.Name, pc.Settings.ScoreThreshold, pc.Settings.MaxEpisodesPerDigest)
	if err != nil {
		return 0, fmt.Errorf("select episodes for %s: %w", topic.Name, err)
	}

	if len(eps) < pc.Settings.MinEpisodesPerDigest {
		existing, err := c.db.GetDigestForDate(ctx, topic.Name, date)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			c.log.Debug().Str("topic", topic.Name).Int64("digest_id", existing.ID).
				Msg("below minimum, keeping existing digest for date")
		} else {
			c.log.Debug().Str("topic", topic.Name).Int("qualifying", len(eps)).
				Msg("below minimum episodes, topic skipped")
		}
		return 0, nil
	}

	if pc.DryRun {
		c.log.Info().Str("topic", topic.Name).Int("episodes", len(eps)).Msg("dry-run: would compose digest")
		return 0, nil
	}

	script, err := c.renderScript(ctx, pc, topic, eps, date)
	if err != nil {
		return 0, err
	}

	var sum float64
	links := make([]database.DigestEpisodeLink, len(eps))
	for i, ep := range eps {
		s := ep.Scores[topic.Name]
		sum += s
		links[i] = database.DigestEpisodeLink{
			EpisodeID: ep.ID,
			Topic:     topic.Name,
			Score:     s,
			Position:  i,
		}
	}
	avg := sum / float64(len(eps))

	d := &database.Digest{
		Topic:           topic.Name,
		DigestDate:      date,
		DigestTimestamp: time.Now().In(pc.Location),
		ScriptContent:   script,
		ScriptWordCount: len(strings.Fields(script)),
		EpisodeCount:    len(eps),
		AverageScore:    &avg,
	}

	id, err := c.db.InsertDigestWithLinks(ctx, d, links)
	if err != nil {
		return 0, err
	}
	c.log.Info().Str("topic", topic.Name).Int64("digest_id", id).
		Int("episodes", len(eps)).Int("script_chars", len(script)).
		Bool("dialogue", topic.UseDialogueAPI).Msg("digest composed")
	return id, nil
}

func (c *Composer) renderScript(ctx context.Context, pc *pipeline.Context, topic *database.Topic, eps []*database.Episode, date time.Time) (string, error) {
	if topic.UseDialogueAPI {
		return c.renderDialogue(ctx, pc, topic, eps, date)
	}
	return c.renderNarrative(ctx, pc, topic, eps, date)
}

func (c *Composer) renderNarrative(ctx context.Context, pc *pipeline.Context, topic *database.Topic, eps []*database.Episode, date time.Time) (string, error) {
	system := narrativeSystemPrompt(topic)
	user := episodesUserPrompt(eps, topic.Name, date, perEpisodeBudget(len(eps)))

	resp, err := c.llm.Complete(ctx, "script", llm.Request{
		Model:           pc.Settings.ScriptModel,
		System:          system,
		User:            user,
		MaxOutputTokens: 8000,
	})
	if err != nil {
		return "", err
	}
	script := strings.TrimSpace(resp.Text)
	if script == "" {
		return "", &pipeline.ContentError{Reason: "empty narrative script"}
	}
	return script, nil
}

func (c *Composer) renderDialogue(ctx context.Context, pc *pipeline.Context, topic *database.Topic, eps []*database.Episode, date time.Time) (string, error) {
	system := dialogueSystemPrompt(topic)
	user := episodesUserPrompt(eps, topic.Name, date, perEpisodeBudget(len(eps)))

	resp, err := c.llm.Complete(ctx, "script", llm.Request{
		Model:           pc.Settings.ScriptModel,
		System:          system,
		User:            user,
		MaxOutputTokens: 10000,
	})
	if err != nil {
		return "", err
	}

	script, fixed := FixDialogueFormat(strings.TrimSpace(resp.Text))
	if fixed {
		c.log.Warn().Str("topic", topic.Name).Msg("dialogue format deviations healed")
	}
	if !ValidDialogue(script) {
		return "", &pipeline.ContentError{Reason: "dialogue script missing SPEAKER_1/SPEAKER_2 labels after fixes"}
	}
	return script, nil
}

// composeGeneralSummary emits the no-content fallback digest drawing from
// any undigested scored episodes, regardless of topic threshold.
func (c *Composer) composeGeneralSummary(ctx context.Context, pc *pipeline.Context, date time.Time) (int64, error) {
	eps, err := c.db.ListEpisodesByStatus(ctx, database.EpisodeStatusScored, pc.Settings.MaxEpisodesPerDigest)
	if err != nil {
		return 0, err
	}
	if len(eps) == 0 {
		return 0, nil
	}

	topic := &database.Topic{
		Name:           GeneralSummaryTopic,
		Description:    "A cross-topic roundup of the day's episodes.",
		InstructionsMD: "Summarize the most interesting developments across all of today's episodes.",
	}
	script, err := c.renderNarrative(ctx, pc, topic, eps, date)
	if err != nil {
		return 0, err
	}

	links := make([]database.DigestEpisodeLink, len(eps))
	var sum float64
	for i, ep := range eps {
		var best float64
		for _, s := range ep.Scores {
			if s > best {
				best = s
			}
		}
		sum += best
		links[i] = database.DigestEpisodeLink{EpisodeID: ep.ID, Topic: GeneralSummaryTopic, Score: best, Position: i}
	}
	avg := sum / float64(len(eps))

	return c.db.InsertDigestWithLinks(ctx, &database.Digest{
		Topic:           GeneralSummaryTopic,
		DigestDate:      date,
		DigestTimestamp: time.Now().In(pc.Location),
		ScriptContent:   script,
		ScriptWordCount: len(strings.Fields(script)),
		EpisodeCount:    len(eps),
		AverageScore:    &avg,
	}, links)
}

// perEpisodeBudget divides the model's usable input capacity across the
// selected episodes, clamped to [2000, 20000] characters each.
func perEpisodeBudget(numEpisodes int) int {
	if numEpisodes < 1 {
		numEpisodes = 1
	}
	budget := 90000 / numEpisodes
	if budget < 2000 {
		budget = 2000
	}
	if budget > 20000 {
		budget = 20000
	}
	return budget
}

func episodesUserPrompt(eps []*database.Episode, topicName string, date time.Time, budget int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Digest date: %s\nTopic: %s\nEpisodes (%d):\n\n", date.Format("2006-01-02"), topicName, len(eps))
	for i, ep := range eps {
		fmt.Fprintf(&b, "--- Episode %d ---\nTitle: %s\nPublished: %s\nRelevance: %.2f\nTranscript:\n%s\n\n",
			i+1, ep.Title, ep.PublishedDate.Format("2006-01-02"),
			ep.Scores[topicName], score.BoundedPrefix(ep.TranscriptContent, budget))
	}
	return b.String()
}

func narrativeSystemPrompt(topic *database.Topic) string {
	var b strings.Builder
	b.WriteString("You are a professional podcast script writer creating a single-voice narrative digest.\n\n")
	if topic.InstructionsMD != "" {
		b.WriteString("TOPIC INSTRUCTIONS:\n" + topic.InstructionsMD + "\n\n")
	}
	b.WriteString(`Write a flowing narrative script of 10,000-15,000 characters covering the key insights from the provided episodes.

The script is read aloud verbatim by a text-to-speech voice that does not interpret markup, so:
- Spell out all numbers, dates, currency symbols, and abbreviations ("twenty twenty-five", "three point five percent", "doctor" not "Dr.").
- No headers, bullet points, asterisks, or stage directions.
- Convey emotion through word choice and sentence rhythm, not bracketed cues.
- Write complete sentences with natural transitions between episodes.`)
	return b.String()
}

func dialogueSystemPrompt(topic *database.Topic) string {
	speaker1, speaker2 := "Host", "Analyst"
	if v, ok := topic.VoiceConfig["SPEAKER_1"]; ok && v.Name != "" {
		speaker1 = v.Name
	}
	if v, ok := topic.VoiceConfig["SPEAKER_2"]; ok && v.Name != "" {
		speaker2 = v.Name
	}

	var b strings.Builder
	b.WriteString("You are a professional podcast script writer creating a two-speaker dialogue digest.\n\n")
	if topic.InstructionsMD != "" {
		b.WriteString("TOPIC INSTRUCTIONS:\n" + topic.InstructionsMD + "\n\n")
	}
	fmt.Fprintf(&b, `Write a dialogue of 15,000-20,000 characters between SPEAKER_1 (%s: primary host, introduces topics, asks questions) and SPEAKER_2 (%s: expert analyst, provides insights).

EVERY line must match this exact format:
SPEAKER_1: [audio_tag] dialogue text...
SPEAKER_2: [audio_tag] dialogue text...

FORMAT RULES:
1. The speaker label is exactly "SPEAKER_1:" or "SPEAKER_2:" with the colon immediately after the number.
2. The audio tag comes AFTER the colon, in square brackets, e.g. [excited], [thoughtful].
3. Never use speaker names, "Host 1:", parentheses, or anything else before the colon.

CORRECT:
SPEAKER_1: [excited] This is a groundbreaking development!
SPEAKER_2: [thoughtful] Let me think about the implications here.

WRONG:
SPEAKER_1 [excited] text        (missing colon)
SPEAKER_1 [excited]: text       (colon after tag)
Host 1: text                    (wrong label)
%s: text                        (name instead of label)`, speaker1, speaker2, speaker1)
	return b.String()
}
