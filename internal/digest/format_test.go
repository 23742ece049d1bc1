package digest

import (
	"strings"
	"testing"
)

func TestFixDialogueFormat(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		want      string
		wantFixed bool
	}{
		{
			"already_valid",
			"SPEAKER_1: [excited] Big news today!\nSPEAKER_2: [calm] Let's dig in.",
			"SPEAKER_1: [excited] Big news today!\nSPEAKER_2: [calm] Let's dig in.",
			false,
		},
		{
			"missing_colon",
			"SPEAKER_1 [excited] Big news today!\nSPEAKER_2: [calm] Indeed.",
			"SPEAKER_1: [excited] Big news today!\nSPEAKER_2: [calm] Indeed.",
			true,
		},
		{
			"colon_after_tag",
			"SPEAKER_1 [excited]: Big news today!\nSPEAKER_2: [calm] Indeed.",
			"SPEAKER_1: [excited] Big news today!\nSPEAKER_2: [calm] Indeed.",
			true,
		},
		{
			"host_labels",
			"Host 1: Big news today!\nHost 2: Indeed.",
			"SPEAKER_1: Big news today!\nSPEAKER_2: Indeed.",
			true,
		},
		{
			"named_speakers_first_appearance_order",
			"Maya: [excited] Big news today!\nJules: [calm] Indeed.\nMaya: [happy] Right?",
			"SPEAKER_1: [excited] Big news today!\nSPEAKER_2: [calm] Indeed.\nSPEAKER_1: [happy] Right?",
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fixed := FixDialogueFormat(tt.in)
			if got != tt.want {
				t.Errorf("FixDialogueFormat:\n got %q\nwant %q", got, tt.want)
			}
			if fixed != tt.wantFixed {
				t.Errorf("fixed = %v, want %v", fixed, tt.wantFixed)
			}
		})
	}
}

func TestFixDialogueFormatDoesNotTouchQuotedNames(t *testing.T) {
	// A legitimate script that happens to start a line with a capitalized
	// word and colon must survive untouched because SPEAKER_ labels exist.
	in := "SPEAKER_1: [serious] The report said:\nWarning: levels are rising.\nSPEAKER_2: [concerned] That's alarming."
	got, _ := FixDialogueFormat(in)
	if !strings.Contains(got, "Warning: levels are rising.") {
		t.Errorf("quoted line was mangled: %q", got)
	}
}

func TestValidDialogue(t *testing.T) {
	if !ValidDialogue("SPEAKER_1: hi\nSPEAKER_2: hey") {
		t.Error("valid script rejected")
	}
	if ValidDialogue("SPEAKER_1: monologue only") {
		t.Error("single-speaker script accepted")
	}
	if ValidDialogue("Narrator: once upon a time") {
		t.Error("unlabeled script accepted")
	}
}

func TestFixThenValidate(t *testing.T) {
	// Spec scenario: named speakers heal into a valid dialogue.
	script, fixed := FixDialogueFormat("Maya: [excited] Hello!\nJules: [calm] Welcome back.")
	if !fixed {
		t.Fatal("expected fixes")
	}
	if !ValidDialogue(script) {
		t.Errorf("healed script still invalid: %q", script)
	}

	// Three distinct names cannot be mapped to two speakers.
	script, _ = FixDialogueFormat("Maya: a\nJules: b\nRiver: c")
	if ValidDialogue(script) {
		t.Errorf("three-name script should stay invalid: %q", script)
	}
}
