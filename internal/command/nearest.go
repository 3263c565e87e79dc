package command

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Nearest returns the rule pattern most similar to transcript and its
// Jaro-Winkler similarity in [0, 1]. It never affects matching; it exists so
// that an unmatched transcript can be logged next to the command the speaker
// probably meant. ok is false when there are no rules or the transcript is
// empty.
func (m *Matcher) Nearest(transcript string) (pattern string, score float64, ok bool) {
	words := Normalize(transcript)
	if len(words) == 0 {
		return "", 0, false
	}
	text := strings.Join(words, " ")
	for i, p := range m.patterns {
		if len(p) == 0 {
			continue
		}
		if s := matchr.JaroWinkler(text, strings.Join(p, " "), false); !ok || s > score {
			pattern, score, ok = m.rules[i].Pattern, s, true
		}
	}
	return pattern, score, ok
}
