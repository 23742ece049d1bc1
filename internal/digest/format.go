package digest

import (
	"regexp"
	"strings"
)

// Dialogue scripts must use the exact line format
//
//	SPEAKER_1: [audio_tag] text…
//	SPEAKER_2: [audio_tag] text…
//
// with the colon immediately after the speaker label and the audio tag in
// square brackets after it. Models drift from this in a handful of
// predictable ways; FixDialogueFormat heals those before the script is
// rejected.
var (
	missingColonRe  = regexp.MustCompile(`(?m)^(SPEAKER_[12])\s+(\[)`)
	colonAfterTagRe = regexp.MustCompile(`(?m)^(SPEAKER_[12])\s+(\[[^\]]+\]):\s+`)
	hostLabelRe     = regexp.MustCompile(`(?m)^Host\s+([12]):\s+`)
	namedLabelRe    = regexp.MustCompile(`(?m)^([A-Z][a-z]+):\s+`)
)

// FixDialogueFormat heals the common deviations:
//
//	SPEAKER_1 [tag] text   → SPEAKER_1: [tag] text   (missing colon)
//	SPEAKER_1 [tag]: text  → SPEAKER_1: [tag] text   (colon after tag)
//	Host 1: text           → SPEAKER_1: text
//	Maya: … / Jules: …     → SPEAKER_1: … / SPEAKER_2: … (first-appearance order)
//
// Returns the corrected script and whether anything changed.
func FixDialogueFormat(script string) (string, bool) {
	fixed := false

	// Colon-after-tag runs first: the missing-colon repair would otherwise
	// rewrite "SPEAKER_1 [tag]: text" into "SPEAKER_1: [tag]: text".
	if colonAfterTagRe.MatchString(script) {
		script = colonAfterTagRe.ReplaceAllString(script, "$1: $2 ")
		fixed = true
	}

	if missingColonRe.MatchString(script) {
		script = missingColonRe.ReplaceAllString(script, "$1: $2")
		fixed = true
	}

	if hostLabelRe.MatchString(script) {
		script = hostLabelRe.ReplaceAllString(script, "SPEAKER_$1: ")
		fixed = true
	}

	// Named speakers only apply when no proper label survived at all —
	// otherwise a quoted name inside a legitimate script would be mangled.
	if !strings.Contains(script, "SPEAKER_") {
		names := uniqueNames(namedLabelRe.FindAllStringSubmatch(script, -1))
		if len(names) == 2 {
			script = replaceNamedLabel(script, names[0], "SPEAKER_1")
			script = replaceNamedLabel(script, names[1], "SPEAKER_2")
			fixed = true
		}
	}

	return script, fixed
}

// ValidDialogue reports whether the script carries both speaker labels.
// A script failing this after FixDialogueFormat fails the digest.
func ValidDialogue(script string) bool {
	return strings.Contains(script, "SPEAKER_1:") && strings.Contains(script, "SPEAKER_2:")
}

func uniqueNames(matches [][]string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range matches {
		name := m[1]
		if seen[name] || name == "SPEAKER_1" || name == "SPEAKER_2" {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

func replaceNamedLabel(script, name, label string) string {
	re := regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(name) + `:\s+`)
	return re.ReplaceAllString(script, label+": ")
}
