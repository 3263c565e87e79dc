// Package command maps transcripts to configured voice commands.
//
// Matching is literal: a rule matches when its normalized
// pattern equals the normalized transcript, or when the pattern's words
// appear in the transcript in the same order as whole words, with any number
// of other words between them. There is no fuzzy or semantic matching.
//
// Rules are tried in configuration order and the first match wins, so more
// specific patterns ("desligar luz") must be listed before patterns that are
// subsequences of other phrases ("ligar luz" does not match "desligar luz",
// but "luz" matches both).
package command

import (
	"slices"
	"strings"
)

// Action is one home-automation call triggered by a rule.
type Action struct {
	// Name is the "domain.service" identifier, e.g. "light.turn_on".
	Name string

	// EntityID is the target entity, if any.
	EntityID string

	// ServiceData holds extra service parameters. It may be nil.
	ServiceData map[string]any
}

// Rule binds a spoken pattern to the actions it triggers.
type Rule struct {
	// Pattern is the phrase to listen for. It is normalized the same way as
	// transcripts before comparison.
	Pattern string

	// Actions run in order when the rule matches.
	Actions []Action
}

// Normalize lower-cases s, trims surrounding whitespace and trailing
// sentence punctuation (. , ! ?) and splits the result into words.
func Normalize(s string) []string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".,!?")
	return strings.Fields(s)
}

// Match returns the first rule in rules whose pattern matches transcript.
func Match(transcript string, rules []Rule) (*Rule, bool) {
	words := Normalize(transcript)
	if len(words) == 0 {
		return nil, false
	}
	for i := range rules {
		if matches(Normalize(rules[i].Pattern), words) {
			return &rules[i], true
		}
	}
	return nil, false
}

// Matcher holds a rule set with pre-normalized patterns. It is immutable
// after construction and safe for concurrent use.
type Matcher struct {
	rules    []Rule
	patterns [][]string
}

// NewMatcher returns a Matcher over a copy of rules.
func NewMatcher(rules []Rule) *Matcher {
	m := &Matcher{
		rules:    append([]Rule(nil), rules...),
		patterns: make([][]string, len(rules)),
	}
	for i, r := range m.rules {
		m.patterns[i] = Normalize(r.Pattern)
	}
	return m
}

// Len returns the number of rules.
func (m *Matcher) Len() int { return len(m.rules) }

// Match behaves like the package-level [Match] over the matcher's rules.
func (m *Matcher) Match(transcript string) (*Rule, bool) {
	words := Normalize(transcript)
	if len(words) == 0 {
		return nil, false
	}
	for i := range m.rules {
		if matches(m.patterns[i], words) {
			return &m.rules[i], true
		}
	}
	return nil, false
}

// matches reports whether pattern equals words or is an ordered subsequence
// of them. Empty patterns never match.
func matches(pattern, words []string) bool {
	if len(pattern) == 0 {
		return false
	}
	if slices.Equal(pattern, words) {
		return true
	}
	return isSubsequence(pattern, words)
}

// isSubsequence advances greedily through words looking for each pattern
// word in turn.
func isSubsequence(pattern, words []string) bool {
	i := 0
	for _, w := range words {
		if w == pattern[i] {
			i++
			if i == len(pattern) {
				return true
			}
		}
	}
	return false
}
