package tts

import (
	"regexp"
	"strings"
)

// Narrative scripts longer than the single-voice model's cap follow the
// same chunk-then-concatenate discipline as dialogue, splitting at
// sentence boundaries instead of speaker boundaries.

var markupLine = regexp.MustCompile(`(?m)^\s*(#{1,6}\s+|\*\s+|-\s+|\d+\.\s+)`)
var stageDirection = regexp.MustCompile(`\[[^\]]{1,40}\]|\([^\)]{1,40}\)`)
var boldItalic = regexp.MustCompile(`\*{1,3}([^*]+)\*{1,3}`)

// CleanNarrativeScript strips markdown headers, list markers, emphasis, and
// bracketed stage directions before single-voice synthesis. Dialogue
// scripts are never cleaned — that would destroy the speaker labels and
// audio tags the dialogue model interprets.
func CleanNarrativeScript(script string) string {
	s := markupLine.ReplaceAllString(script, "")
	s = boldItalic.ReplaceAllString(s, "$1")
	s = stageDirection.ReplaceAllString(s, "")
	// Collapse blank-line runs left behind by stripped markup.
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, strings.TrimSpace(l))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// ChunkNarrativeText splits plain narrative text at sentence boundaries
// into pieces no longer than maxChunkSize. Text under the cap comes back
// as a single chunk.
func ChunkNarrativeText(text string, maxChunkSize int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxChunkSize {
		return []string{text}
	}

	sentences := splitSentences(text)
	var chunks []string
	var current strings.Builder
	for _, sentence := range sentences {
		if current.Len() > 0 && current.Len()+len(sentence) > maxChunkSize {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		current.WriteString(sentence)
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
