// Package tts turns digest scripts into MP3s through a chunk → synthesize
// → concatenate engine with crash-resumable progress.
package tts

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultMaxChunkSize leaves a safety margin under the dialogue provider's
// 3,000-character hard cap.
const DefaultMaxChunkSize = 2800

// speakerPattern matches a speaker turn opener: "SPEAKER_1:", "SPEAKER_2:",
// and tolerated annotated forms like "SPEAKER_1 (Young Jamal):" or
// "SPEAKER_1 [Jamal, excited]:".
var speakerPattern = regexp.MustCompile(`(?m)^(SPEAKER_[12])(?:\s*[\(\[][^\)\]]+[\)\]])?:\s*`)

// sentenceSplit finds sentence boundaries (.!? followed by whitespace) for
// pre-splitting oversized turns.
var sentenceSplit = regexp.MustCompile(`([.!?]+\s+)`)

// Turn is one contiguous span of dialogue attributed to a speaker.
type Turn struct {
	Speaker string
	Text    string
}

// Chunk is an ordered piece of the script that fits the provider cap.
// Chunks are split only at turn boundaries; an oversized single turn is
// itself pre-split at sentence boundaries with the label re-prepended.
type Chunk struct {
	Number    int
	Text      string
	CharCount int
	Speakers  []string
	TurnCount int
}

// Chunker splits dialogue scripts under a hard character cap.
type Chunker struct {
	MaxChunkSize int
}

func NewChunker(maxChunkSize int) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	return &Chunker{MaxChunkSize: maxChunkSize}
}

// ChunkDialogueScript splits a dialogue script into provider-sized chunks.
// Every chunk consists only of whole speaker turns (possibly sentence-
// sub-split), and rejoining the chunks reproduces the normalized input up
// to inter-chunk whitespace.
func (c *Chunker) ChunkDialogueScript(script string) ([]Chunk, error) {
	if strings.TrimSpace(script) == "" {
		return nil, fmt.Errorf("script is empty")
	}

	turns := ParseSpeakerTurns(script)
	if len(turns) == 0 {
		return nil, fmt.Errorf("no speaker turns found in script (expected SPEAKER_1: or SPEAKER_2: labels)")
	}

	turns = c.normalizeTurnSizes(turns)
	return c.pack(turns)
}

// ParseSpeakerTurns splits the script at speaker labels, pairing each
// speaker with its text. Empty turns are dropped.
func ParseSpeakerTurns(script string) []Turn {
	matches := speakerPattern.FindAllStringSubmatchIndex(script, -1)
	var turns []Turn
	for i, m := range matches {
		speaker := script[m[2]:m[3]]
		end := len(script)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		text := strings.TrimSpace(script[m[1]:end])
		if text == "" {
			continue
		}
		turns = append(turns, Turn{Speaker: speaker, Text: text})
	}
	return turns
}

// normalizeTurnSizes pre-splits any turn that would exceed the cap once its
// label is re-attached, so packing never meets an oversized turn.
func (c *Chunker) normalizeTurnSizes(turns []Turn) []Turn {
	var out []Turn
	for _, t := range turns {
		if len(renderTurn(t)) > c.MaxChunkSize {
			out = append(out, c.splitLongTurn(t)...)
			continue
		}
		out = append(out, t)
	}
	return out
}

// splitLongTurn cuts a turn at sentence boundaries. The label overhead is
// subtracted from each sub-turn's text budget.
func (c *Chunker) splitLongTurn(t Turn) []Turn {
	labelOverhead := len(t.Speaker) + 2 // ": "
	maxText := c.MaxChunkSize - labelOverhead

	sentences := splitSentences(t.Text)

	var subs []Turn
	var current strings.Builder
	for _, sentence := range sentences {
		if current.Len() > 0 && current.Len()+len(sentence) > maxText {
			subs = append(subs, Turn{Speaker: t.Speaker, Text: strings.TrimSpace(current.String())})
			current.Reset()
		}
		// A single sentence longer than the budget has no legal split
		// point; it becomes its own oversized sub-turn and the provider
		// cap is the backstop. In practice dialogue sentences are short.
		current.WriteString(sentence)
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		subs = append(subs, Turn{Speaker: t.Speaker, Text: s})
	}
	return subs
}

// splitSentences returns the text cut after each terminal punctuation run,
// punctuation retained.
func splitSentences(text string) []string {
	idxs := sentenceSplit.FindAllStringIndex(text, -1)
	var parts []string
	prev := 0
	for _, ix := range idxs {
		parts = append(parts, text[prev:ix[1]])
		prev = ix[1]
	}
	if prev < len(text) {
		parts = append(parts, text[prev:])
	}
	return parts
}

// pack groups normalized turns greedily into chunks, counting the newline
// between turns against the budget.
func (c *Chunker) pack(turns []Turn) ([]Chunk, error) {
	var chunks []Chunk
	var current []Turn
	size := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, finalizeChunk(current, len(chunks)+1))
		current = nil
		size = 0
	}

	for _, t := range turns {
		turnSize := len(renderTurn(t))
		potential := size + turnSize
		if len(current) > 0 {
			potential++ // newline separator
		}
		if potential > c.MaxChunkSize && len(current) > 0 {
			flush()
			potential = turnSize
		}
		current = append(current, t)
		size = potential
	}
	flush()

	for _, ch := range chunks {
		if ch.CharCount > c.MaxChunkSize && ch.TurnCount > 1 {
			return nil, fmt.Errorf("chunk %d overflows cap after packing (%d > %d)", ch.Number, ch.CharCount, c.MaxChunkSize)
		}
	}
	return chunks, nil
}

func renderTurn(t Turn) string {
	return t.Speaker + ": " + t.Text
}

func finalizeChunk(turns []Turn, number int) Chunk {
	var lines []string
	seen := make(map[string]bool)
	var speakers []string
	for _, t := range turns {
		lines = append(lines, renderTurn(t))
		if !seen[t.Speaker] {
			seen[t.Speaker] = true
			speakers = append(speakers, t.Speaker)
		}
	}
	text := strings.Join(lines, "\n")
	return Chunk{
		Number:    number,
		Text:      text,
		CharCount: len(text),
		Speakers:  speakers,
		TurnCount: len(turns),
	}
}
