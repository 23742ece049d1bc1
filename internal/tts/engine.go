package tts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/pod-engine/internal/audio"
	"github.com/snarg/pod-engine/internal/database"
	"github.com/snarg/pod-engine/internal/digest"
	"github.com/snarg/pod-engine/internal/llm"
	"github.com/snarg/pod-engine/internal/metrics"
	"github.com/snarg/pod-engine/internal/pipeline"
)

// defaultNarrativeModel is used for all single-voice synthesis; topics
// carry no model setting of their own.
const defaultNarrativeModel = "eleven_turbo_v2_5"

// minMP3Bytes guards against committing a header-only file as a digest.
const minMP3Bytes = 10 * 1024

// Error is a TTS failure tagged with the stage it happened in:
// "voice-binding", "chunking", "synthesis", "concat", "probe", "commit".
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("tts %s: %v", e.Stage, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Engine renders generated digests to MP3: chunk → synthesize per chunk
// with progress-file resume → stream-copy concat → atomic row commit.
type Engine struct {
	db     *database.DB
	client *Client
	llm    *llm.Client
	tc     *audio.Transcoder
	mp3Dir string
	tmpDir string
	log    zerolog.Logger
}

func NewEngine(db *database.DB, client *Client, llmClient *llm.Client, tc *audio.Transcoder,
	mp3Dir, tmpDir string, log zerolog.Logger) *Engine {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &Engine{db: db, client: client, llm: llmClient, tc: tc, mp3Dir: mp3Dir, tmpDir: tmpDir, log: log}
}

func (e *Engine) Name() string { return pipeline.PhaseAudio }

// Run renders every digest in generated status. Per-digest permanent
// failures mark the digest failed; transient failures leave it generated
// for the next run. The phase is non-fatal to the rest of the pipeline.
func (e *Engine) Run(ctx context.Context, pc *pipeline.Context) (*pipeline.Result, error) {
	res := &pipeline.Result{Phase: e.Name()}

	if e.client == nil {
		res.Error = "no TTS provider configured"
		return res, &pipeline.ConfigError{Msg: "audio phase requires ELEVENLABS_API_KEY"}
	}
	if err := e.tc.Check(); err != nil {
		return res, &pipeline.ExternalToolError{Tool: "ffmpeg", Err: err}
	}

	digests, err := e.db.ListDigestsByStatus(ctx, database.DigestStatusGenerated)
	if err != nil {
		return res, fmt.Errorf("list digests: %w", err)
	}
	if pc.Limit > 0 && len(digests) > pc.Limit {
		digests = digests[:pc.Limit]
	}
	if len(digests) == 0 {
		res.Success = true
		return res, nil
	}

	if pc.DryRun {
		res.Success = true
		res.Count("digests_would_render", len(digests))
		return res, nil
	}

	topics, err := e.db.ListActiveTopics(ctx)
	if err != nil {
		return res, fmt.Errorf("list topics: %w", err)
	}
	topicsByName := make(map[string]*database.Topic, len(topics))
	for _, t := range topics {
		topicsByName[t.Name] = t
	}

	if err := os.MkdirAll(e.mp3Dir, 0o755); err != nil {
		return res, fmt.Errorf("create mp3 dir: %w", err)
	}

	workers := pc.Settings.TTSWorkers
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	var rendered, failed int
	jobs := make(chan *database.Digest)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				err := e.processDigest(ctx, pc, d, topicsByName[d.Topic])
				mu.Lock()
				if err == nil {
					rendered++
					metrics.TTSChunksTotal.WithLabelValues("digest_ok").Inc()
				} else {
					failed++
					e.log.Warn().Err(err).Int64("digest_id", d.ID).Str("topic", d.Topic).Msg("digest audio failed")
					if pipeline.Permanent(err) {
						if dbErr := e.db.MarkDigestFailed(ctx, d.ID); dbErr != nil {
							e.log.Error().Err(dbErr).Int64("digest_id", d.ID).Msg("failed to mark digest failed")
						}
					}
				}
				mu.Unlock()
				if ctx.Err() != nil {
					return
				}
			}
		}()
	}
	for _, d := range digests {
		select {
		case jobs <- d:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	res.Count("digests_rendered", rendered)
	res.Count("digests_failed", failed)
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	res.Success = true
	res.Partial = failed > 0
	return res, nil
}

// processDigest renders one digest end to end. The per-digest temp
// directory (chunk files, concat list, progress file) is removed on
// success and left for inspection on failure; retention reaps leftovers.
func (e *Engine) processDigest(ctx context.Context, pc *pipeline.Context, d *database.Digest, topic *database.Topic) error {
	tempDir := filepath.Join(e.tmpDir, fmt.Sprintf("pod-engine-digest-%d", d.ID))
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return &Error{Stage: "chunking", Err: err}
	}

	progress, err := LoadProgress(tempDir, d.ID)
	if err != nil {
		return &Error{Stage: "chunking", Err: err}
	}

	var chunkFiles []string
	if topic != nil && topic.UseDialogueAPI {
		chunkFiles, err = e.renderDialogueChunks(ctx, pc, d, topic, tempDir, progress)
	} else {
		chunkFiles, err = e.renderNarrativeChunks(ctx, pc, d, topic, tempDir, progress)
	}
	if err != nil {
		return err
	}

	finalPath := e.finalMP3Path(d, topic, pc.Location)
	if err := e.concat(ctx, chunkFiles, tempDir, finalPath); err != nil {
		return err
	}

	duration, err := e.tc.ProbeDuration(ctx, finalPath)
	if err != nil {
		return &Error{Stage: "probe", Err: err}
	}
	if st, err := os.Stat(finalPath); err != nil || st.Size() < minMP3Bytes {
		return &Error{Stage: "probe", Err: &pipeline.ContentError{
			Reason: fmt.Sprintf("final mp3 missing or under %d bytes", minMP3Bytes)}}
	}

	meta, err := digest.GenerateMetadata(ctx, e.llm, pc.Settings.ScriptModel, d.Topic, d.DigestDate, d.ScriptContent)
	if err != nil {
		return &Error{Stage: "commit", Err: err}
	}

	if err := e.db.CommitDigestAudio(ctx, d.ID, finalPath, duration, meta.Title, meta.Summary); err != nil {
		// The MP3 stays on disk; retention reclaims it if the row never
		// catches up. A retained file beats an inconsistent row.
		e.log.Error().Err(err).Int64("digest_id", d.ID).Str("mp3", finalPath).
			Msg("audio commit failed — mp3 left on disk as orphan")
		return &Error{Stage: "commit", Err: err}
	}

	if err := os.RemoveAll(tempDir); err != nil {
		e.log.Warn().Err(err).Str("dir", tempDir).Msg("temp dir cleanup failed")
	}

	e.log.Info().Int64("digest_id", d.ID).Str("topic", d.Topic).Str("mp3", finalPath).
		Float64("duration_s", duration).Int("chunks", len(chunkFiles)).Msg("digest audio generated")
	return nil
}

func (e *Engine) renderDialogueChunks(ctx context.Context, pc *pipeline.Context, d *database.Digest,
	topic *database.Topic, tempDir string, progress *Progress) ([]string, error) {

	voices := normalizeVoiceConfig(topic.VoiceConfig)
	if len(voices) == 0 {
		return nil, &Error{Stage: "voice-binding", Err: &pipeline.ContentError{
			Reason: fmt.Sprintf("topic %s has use_dialogue_api but no voice_config", topic.Name)}}
	}

	chunker := NewChunker(pc.Settings.MaxChunkSize)
	chunks, err := chunker.ChunkDialogueScript(d.ScriptContent)
	if err != nil {
		return nil, &Error{Stage: "chunking", Err: &pipeline.ContentError{Reason: "dialogue script unchunkable", Err: err}}
	}

	model := topic.DialogueModel
	if model == "" {
		model = "eleven_v3"
	}

	var files []string
	for _, chunk := range chunks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		path := chunkPath(tempDir, chunk.Number)
		files = append(files, path)
		if progress.Done(chunk.Number) && fileNonEmpty(path) {
			e.log.Debug().Int64("digest_id", d.ID).Int("chunk", chunk.Number).Msg("chunk already rendered, skipping")
			continue
		}

		inputs := e.dialogueInputs(chunk, voices, d.ID)
		if len(inputs) == 0 {
			return nil, &Error{Stage: "voice-binding", Err: &pipeline.ContentError{
				Reason: fmt.Sprintf("chunk %d has no lines with a voice binding", chunk.Number)}}
		}

		audioBytes, err := e.client.SynthesizeDialogue(ctx, model, inputs)
		if err != nil {
			metrics.TTSChunksTotal.WithLabelValues("failed").Inc()
			return nil, &Error{Stage: "synthesis", Err: err}
		}
		if err := writeChunk(path, audioBytes); err != nil {
			return nil, &Error{Stage: "synthesis", Err: err}
		}
		if err := progress.MarkDone(chunk.Number); err != nil {
			return nil, &Error{Stage: "synthesis", Err: err}
		}
		metrics.TTSChunksTotal.WithLabelValues("ok").Inc()
		e.log.Debug().Int64("digest_id", d.ID).Int("chunk", chunk.Number).
			Int("chars", chunk.CharCount).Int("turns", chunk.TurnCount).Msg("dialogue chunk rendered")
	}
	return files, nil
}

// dialogueInputs maps a chunk's turns to provider inputs through the
// topic's voice bindings. Lines whose speaker has no binding are dropped
// with a warning rather than failing the digest.
func (e *Engine) dialogueInputs(chunk Chunk, voices map[string]string, digestID int64) []DialogueInput {
	var inputs []DialogueInput
	for _, turn := range ParseSpeakerTurns(chunk.Text) {
		voiceID, ok := voices[turn.Speaker]
		if !ok || voiceID == "" {
			e.log.Warn().Int64("digest_id", digestID).Str("speaker", turn.Speaker).
				Msg("speaker has no voice binding, line dropped")
			continue
		}
		inputs = append(inputs, DialogueInput{Text: turn.Text, VoiceID: voiceID})
	}
	return inputs
}

func (e *Engine) renderNarrativeChunks(ctx context.Context, pc *pipeline.Context, d *database.Digest,
	topic *database.Topic, tempDir string, progress *Progress) ([]string, error) {

	if topic == nil || topic.VoiceID == "" {
		return nil, &Error{Stage: "voice-binding", Err: &pipeline.ContentError{
			Reason: fmt.Sprintf("no voice configured for topic %q", d.Topic)}}
	}

	text := CleanNarrativeScript(d.ScriptContent)
	pieces := ChunkNarrativeText(text, pc.Settings.SingleVoiceLimit)
	if len(pieces) == 0 {
		return nil, &Error{Stage: "chunking", Err: &pipeline.ContentError{Reason: "narrative script empty after cleaning"}}
	}

	settings := voiceSettingsFromMap(topic.VoiceSettings)

	var files []string
	for i, piece := range pieces {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		number := i + 1
		path := chunkPath(tempDir, number)
		files = append(files, path)
		if progress.Done(number) && fileNonEmpty(path) {
			continue
		}

		audioBytes, err := e.client.Synthesize(ctx, defaultNarrativeModel, topic.VoiceID, piece, settings)
		if err != nil {
			metrics.TTSChunksTotal.WithLabelValues("failed").Inc()
			return nil, &Error{Stage: "synthesis", Err: err}
		}
		if err := writeChunk(path, audioBytes); err != nil {
			return nil, &Error{Stage: "synthesis", Err: err}
		}
		if err := progress.MarkDone(number); err != nil {
			return nil, &Error{Stage: "synthesis", Err: err}
		}
		metrics.TTSChunksTotal.WithLabelValues("ok").Inc()
	}
	return files, nil
}

// concat joins the chunk files into the final MP3 via stream copy. A
// single chunk is copied into place without invoking the transcoder.
func (e *Engine) concat(ctx context.Context, chunkFiles []string, tempDir, finalPath string) error {
	if len(chunkFiles) == 1 {
		if err := copyFile(chunkFiles[0], finalPath); err != nil {
			return &Error{Stage: "concat", Err: err}
		}
		return nil
	}

	listPath := filepath.Join(tempDir, "concat.txt")
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, f := range chunkFiles {
		abs, err := filepath.Abs(f)
		if err != nil {
			return &Error{Stage: "concat", Err: err}
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(b.String()), 0o644); err != nil {
		return &Error{Stage: "concat", Err: err}
	}

	if err := e.tc.Concat(ctx, listPath, finalPath); err != nil {
		os.Remove(finalPath)
		return &Error{Stage: "concat", Err: err}
	}
	return nil
}

// finalMP3Path builds the flat output filename:
// <topic-slug>_<date>_<hhmmss>.mp3. No subdirectories — the publisher's
// orphan scan globs this directory and relies on the pattern.
func (e *Engine) finalMP3Path(d *database.Digest, topic *database.Topic, loc *time.Location) string {
	slug := Slugify(d.Topic)
	if topic != nil && topic.Slug != "" {
		slug = topic.Slug
	}
	return filepath.Join(e.mp3Dir, fmt.Sprintf("%s_%s_%s.mp3",
		slug,
		d.DigestDate.Format("2006-01-02"),
		d.DigestTimestamp.In(loc).Format("150405")))
}

// Slugify lowercases and dashes a topic name for filenames.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteRune('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// normalizeVoiceConfig uppercases speaker keys so "speaker_1" and
// "SPEAKER_1" both bind.
func normalizeVoiceConfig(cfg map[string]database.SpeakerVoice) map[string]string {
	out := make(map[string]string, len(cfg))
	for k, v := range cfg {
		key := strings.ToUpper(strings.TrimSpace(k))
		if !strings.HasPrefix(key, "SPEAKER_") {
			parts := strings.Split(key, "_")
			key = "SPEAKER_" + parts[len(parts)-1]
		}
		if v.VoiceID != "" {
			out[key] = v.VoiceID
		}
	}
	return out
}

func voiceSettingsFromMap(m map[string]float64) VoiceSettings {
	s := VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if v, ok := m["stability"]; ok {
		s.Stability = v
	}
	if v, ok := m["similarity_boost"]; ok {
		s.SimilarityBoost = v
	}
	if v, ok := m["style"]; ok {
		s.Style = v
	}
	if v, ok := m["use_speaker_boost"]; ok {
		s.UseSpeakerBoost = v != 0
	}
	return s
}

func chunkPath(dir string, number int) string {
	return filepath.Join(dir, fmt.Sprintf("chunk_%04d.mp3", number))
}

func fileNonEmpty(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Size() > 0
}

func writeChunk(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
