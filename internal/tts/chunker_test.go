package tts

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
)

func TestParseSpeakerTurns(t *testing.T) {
	script := "SPEAKER_1: [excited] Hello there!\nSPEAKER_2: [calm] Welcome back.\nSPEAKER_1: Let's begin."
	turns := ParseSpeakerTurns(script)
	if len(turns) != 3 {
		t.Fatalf("len(turns) = %d, want 3", len(turns))
	}
	if turns[0].Speaker != "SPEAKER_1" || turns[0].Text != "[excited] Hello there!" {
		t.Errorf("turn[0] = %+v", turns[0])
	}
	if turns[1].Speaker != "SPEAKER_2" {
		t.Errorf("turn[1].Speaker = %q", turns[1].Speaker)
	}
}

func TestParseSpeakerTurnsAnnotatedLabels(t *testing.T) {
	script := "SPEAKER_1 (Young Jamal): First line.\nSPEAKER_2 [Maya, excited]: Second line."
	turns := ParseSpeakerTurns(script)
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].Speaker != "SPEAKER_1" || turns[0].Text != "First line." {
		t.Errorf("turn[0] = %+v", turns[0])
	}
	if turns[1].Speaker != "SPEAKER_2" || turns[1].Text != "Second line." {
		t.Errorf("turn[1] = %+v", turns[1])
	}
}

func TestChunkDialogueScriptEmpty(t *testing.T) {
	c := NewChunker(0)
	if _, err := c.ChunkDialogueScript("   "); err == nil {
		t.Error("empty script accepted")
	}
	if _, err := c.ChunkDialogueScript("no labels here at all"); err == nil {
		t.Error("label-free script accepted")
	}
}

func TestChunkDialogueScriptSingleChunk(t *testing.T) {
	c := NewChunker(2800)
	script := "SPEAKER_1: [excited] Short opener.\nSPEAKER_2: [calm] Short reply."
	chunks, err := c.ChunkDialogueScript(script)
	if err != nil {
		t.Fatalf("ChunkDialogueScript: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1", len(chunks))
	}
	if chunks[0].Text != script {
		t.Errorf("chunk text = %q, want input unchanged", chunks[0].Text)
	}
	if chunks[0].TurnCount != 2 {
		t.Errorf("TurnCount = %d, want 2", chunks[0].TurnCount)
	}
	if len(chunks[0].Speakers) != 2 {
		t.Errorf("Speakers = %v, want both", chunks[0].Speakers)
	}
}

// assertChunkInvariants checks the chunking contract: size cap, whole
// turns only, and content preservation up to whitespace.
func assertChunkInvariants(t *testing.T, script string, chunks []Chunk, maxSize int) {
	t.Helper()

	var rejoined []string
	for i, ch := range chunks {
		if ch.Number != i+1 {
			t.Errorf("chunk %d has Number %d", i, ch.Number)
		}
		if ch.CharCount != len(ch.Text) {
			t.Errorf("chunk %d CharCount = %d, len = %d", ch.Number, ch.CharCount, len(ch.Text))
		}
		if ch.CharCount > maxSize && ch.TurnCount > 1 {
			t.Errorf("chunk %d exceeds cap: %d > %d", ch.Number, ch.CharCount, maxSize)
		}
		for _, line := range strings.Split(ch.Text, "\n") {
			if !strings.HasPrefix(line, "SPEAKER_1: ") && !strings.HasPrefix(line, "SPEAKER_2: ") {
				t.Errorf("chunk %d line without speaker prefix: %q", ch.Number, line)
			}
		}
		rejoined = append(rejoined, ch.Text)
	}

	// Rejoining must reproduce the input up to whitespace. A sentence-sub-split
	// turn carries its speaker label again on every sub-turn, so consecutive
	// lines of the same speaker are folded into one turn on both sides first.
	foldTurns := func(s string) string {
		var turns []string
		prev := ""
		for _, line := range strings.Split(s, "\n") {
			speaker, text, _ := strings.Cut(line, ": ")
			if speaker == prev && len(turns) > 0 {
				turns[len(turns)-1] += " " + text
				continue
			}
			turns = append(turns, line)
			prev = speaker
		}
		return strings.Join(turns, "\n")
	}
	normalize := func(s string) string {
		return strings.Join(strings.Fields(foldTurns(s)), " ")
	}
	if got, want := normalize(strings.Join(rejoined, "\n")), normalize(script); got != want {
		t.Errorf("rejoined chunks differ from input\n got: %.200s\nwant: %.200s", got, want)
	}
}

func TestChunkDialogueScriptInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	words := []string{"market", "model", "release", "agent", "weekly", "signal", "launch", "update", "deep", "analysis"}

	for trial := 0; trial < 25; trial++ {
		capSize := 200 + rng.Intn(2800)
		var b strings.Builder
		turns := 2 + rng.Intn(30)
		for i := 0; i < turns; i++ {
			speaker := "SPEAKER_1"
			if i%2 == 1 {
				speaker = "SPEAKER_2"
			}
			fmt.Fprintf(&b, "%s: [tag] ", speaker)
			sentences := 1 + rng.Intn(8)
			for s := 0; s < sentences; s++ {
				n := 3 + rng.Intn(12)
				for w := 0; w < n; w++ {
					b.WriteString(words[rng.Intn(len(words))])
					if w < n-1 {
						b.WriteString(" ")
					}
				}
				b.WriteString(". ")
			}
			b.WriteString("\n")
		}
		script := strings.TrimSpace(b.String())

		c := NewChunker(capSize)
		chunks, err := c.ChunkDialogueScript(script)
		if err != nil {
			t.Fatalf("trial %d (cap %d): %v", trial, capSize, err)
		}
		assertChunkInvariants(t, script, chunks, capSize)
	}
}

func TestSplitLongTurnAtSentences(t *testing.T) {
	c := NewChunker(120)
	long := "SPEAKER_1: " + strings.Repeat("This sentence is here. ", 20)
	chunks, err := c.ChunkDialogueScript(long)
	if err != nil {
		t.Fatalf("ChunkDialogueScript: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("oversized turn not split, chunks = %d", len(chunks))
	}
	for _, ch := range chunks {
		if !strings.HasPrefix(ch.Text, "SPEAKER_1: ") {
			t.Errorf("sub-turn lost its label: %q", ch.Text)
		}
		if ch.CharCount > 120 {
			t.Errorf("sub-turn chunk exceeds cap: %d", ch.CharCount)
		}
	}
}

func TestChunkNarrativeText(t *testing.T) {
	text := strings.Repeat("A complete sentence lives here. ", 50)
	chunks := ChunkNarrativeText(text, 300)
	if len(chunks) < 2 {
		t.Fatalf("long narrative not split: %d chunks", len(chunks))
	}
	for i, ch := range chunks {
		if len(ch) > 300 {
			t.Errorf("chunk %d = %d chars, over cap", i, len(ch))
		}
	}
	joined := strings.Join(strings.Fields(strings.Join(chunks, " ")), " ")
	want := strings.Join(strings.Fields(text), " ")
	if joined != want {
		t.Error("narrative chunks lost content")
	}

	if got := ChunkNarrativeText("short", 300); len(got) != 1 || got[0] != "short" {
		t.Errorf("short text = %v, want single chunk", got)
	}
	if got := ChunkNarrativeText("  ", 300); got != nil {
		t.Errorf("blank text = %v, want nil", got)
	}
}

func TestCleanNarrativeScript(t *testing.T) {
	in := "# Heading\n\nReal opening line.\n\n* bullet one\n\nThe story continues **boldly** here. [dramatic pause] And ends."
	got := CleanNarrativeScript(in)
	if strings.Contains(got, "#") || strings.Contains(got, "*") || strings.Contains(got, "[dramatic pause]") {
		t.Errorf("markup survived cleaning: %q", got)
	}
	if !strings.Contains(got, "boldly") {
		t.Errorf("emphasis text lost: %q", got)
	}
	if !strings.Contains(got, "Real opening line.") {
		t.Errorf("content lost: %q", got)
	}
}
