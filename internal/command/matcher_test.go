package command

import (
	"slices"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"  Turn ON the Light.  ", []string{"turn", "on", "the", "light"}},
		{"Ligar luz!?", []string{"ligar", "luz"}},
		{"hello,  world", []string{"hello,", "world"}},
		{"...", nil},
		{"", nil},
		{"\tluz\n", []string{"luz"}},
	}
	for _, tc := range tests {
		got := Normalize(tc.in)
		if !slices.Equal(got, tc.want) {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMatch_OrderedSubsequence(t *testing.T) {
	t.Parallel()

	rules := []Rule{{Pattern: "light on"}}
	tests := []struct {
		transcript string
		want       bool
	}{
		{"light on", true},
		{"Light On.", true},
		{"please turn light on now", true},
		{"on light", false},
		{"light is on", true},
		{"turn on light", false},
		{"lighting on", false},
		{"light", false},
		{"", false},
	}
	for _, tc := range tests {
		t.Run(tc.transcript, func(t *testing.T) {
			t.Parallel()
			_, got := Match(tc.transcript, rules)
			if got != tc.want {
				t.Errorf("Match(%q) = %v, want %v", tc.transcript, got, tc.want)
			}
		})
	}
}

func TestMatch_KitchenLight(t *testing.T) {
	t.Parallel()

	rules := []Rule{
		{
			Pattern: "ligar luz da cozinha",
			Actions: []Action{{Name: "light.turn_on", EntityID: "light.kitchen"}},
		},
	}
	got, ok := Match("Ligar a luz da cozinha.", rules)
	if !ok {
		t.Fatal("expected a match")
	}
	if len(got.Actions) != 1 || got.Actions[0].Name != "light.turn_on" || got.Actions[0].EntityID != "light.kitchen" {
		t.Errorf("actions = %+v", got.Actions)
	}
	if got != &rules[0] {
		t.Error("Match should return a pointer into the rule slice")
	}
}

func TestMatch_KitchenLightEnglish(t *testing.T) {
	t.Parallel()

	rules := []Rule{{
		Pattern: "turn on kitchen light",
		Actions: []Action{{Name: "light.turn_on", EntityID: "light.kitchen"}},
	}}
	tests := []struct {
		transcript string
		want       bool
	}{
		{"Turn on the kitchen light.", true},
		{"please turn on kitchen light", true},
		{"turn on kitchen light!", true},
		{"turn kitchen on light", false},
		{"kitchen light turn on", false},
		{"turn on the light", false},
	}
	for _, tc := range tests {
		t.Run(tc.transcript, func(t *testing.T) {
			t.Parallel()
			got, ok := Match(tc.transcript, rules)
			if ok != tc.want {
				t.Fatalf("Match(%q) = %v, want %v", tc.transcript, ok, tc.want)
			}
			if ok && got.Actions[0].EntityID != "light.kitchen" {
				t.Errorf("entity = %q", got.Actions[0].EntityID)
			}
		})
	}
}

func TestMatch_FirstMatchWins(t *testing.T) {
	t.Parallel()

	rules := []Rule{
		{Pattern: "desligar luz", Actions: []Action{{Name: "light.turn_off"}}},
		{Pattern: "ligar luz", Actions: []Action{{Name: "light.turn_on"}}},
		{Pattern: "luz", Actions: []Action{{Name: "light.toggle"}}},
	}
	tests := []struct {
		transcript string
		want       string
	}{
		{"desligar a luz", "light.turn_off"},
		{"ligar a luz", "light.turn_on"},
		{"a luz", "light.toggle"},
	}
	for _, tc := range tests {
		got, ok := Match(tc.transcript, rules)
		if !ok {
			t.Errorf("%q: no match", tc.transcript)
			continue
		}
		if got.Actions[0].Name != tc.want {
			t.Errorf("%q matched %q, want %q", tc.transcript, got.Actions[0].Name, tc.want)
		}
	}
}

func TestMatch_EmptyPatternNeverMatches(t *testing.T) {
	t.Parallel()

	rules := []Rule{{Pattern: "  "}, {Pattern: "?!"}, {Pattern: "ok"}}
	got, ok := Match("anything ok", rules)
	if !ok || got.Pattern != "ok" {
		t.Errorf("got %+v, %v; want the ok rule", got, ok)
	}
	if _, ok := Match("anything", rules[:2]); ok {
		t.Error("empty patterns matched")
	}
}

func TestMatcher_SameAsMatch(t *testing.T) {
	t.Parallel()

	rules := []Rule{
		{Pattern: "abrir portão"},
		{Pattern: "fechar portão"},
	}
	m := NewMatcher(rules)
	if m.Len() != 2 {
		t.Fatalf("Len = %d, want 2", m.Len())
	}
	for _, text := range []string{"por favor abrir o portão", "fechar portão!", "portão", "abrir"} {
		a, okA := Match(text, rules)
		b, okB := m.Match(text)
		if okA != okB {
			t.Errorf("%q: Match=%v Matcher=%v", text, okA, okB)
			continue
		}
		if okA && a.Pattern != b.Pattern {
			t.Errorf("%q: Match=%q Matcher=%q", text, a.Pattern, b.Pattern)
		}
	}

	// The matcher owns a copy of the rules.
	rules[0].Pattern = "changed"
	if got, ok := m.Match("abrir portão"); !ok || got.Pattern != "abrir portão" {
		t.Error("matcher affected by mutation of the caller's slice")
	}
}

func TestMatcher_Nearest(t *testing.T) {
	t.Parallel()

	m := NewMatcher([]Rule{
		{Pattern: "ligar luz da sala"},
		{Pattern: "abrir portão"},
		{Pattern: ""},
	})

	p, score, ok := m.Nearest("Ligar a luz da salla.")
	if !ok || p != "ligar luz da sala" {
		t.Errorf("Nearest = %q, %v, want %q", p, ok, "ligar luz da sala")
	}
	if score <= 0 || score > 1 {
		t.Errorf("score = %v, want in (0, 1]", score)
	}

	// Nearest is a hint only; the transcript still does not match.
	if _, matched := m.Match("Ligar a luz da salla."); matched {
		t.Error("Match accepted a near miss")
	}

	if _, _, ok := m.Nearest("   "); ok {
		t.Error("Nearest reported a result for an empty transcript")
	}
	if _, _, ok := NewMatcher(nil).Nearest("luz"); ok {
		t.Error("Nearest reported a result without rules")
	}
}
