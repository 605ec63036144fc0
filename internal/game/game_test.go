package game

import (
	"strings"
	"testing"

	"github.com/samdwyer/storyband/internal/gamedata"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateNarrating, "narrating"},
		{StateAwaitingPlayer, "awaiting_player"},
		{StateReady, "ready"},
		{StateEnded, "ended"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		got := tt.state.String()
		if got != tt.expected {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}

func TestFormatRoll(t *testing.T) {
	tests := []struct {
		results []int
		total   int
		want    string
	}{
		{[]int{17}, 17, "17"},
		{[]int{4, 6}, 10, "4 + 6 = 10"},
		{nil, 0, "0"},
	}
	for _, tt := range tests {
		if got := FormatRoll(tt.results, tt.total); got != tt.want {
			t.Errorf("FormatRoll(%v, %d) = %q, want %q", tt.results, tt.total, got, tt.want)
		}
	}
}

func TestOpeningMessage(t *testing.T) {
	scenario := &gamedata.ScenarioDef{Opening: "Begin."}
	if got := OpeningMessage(scenario, nil); got != "Begin." {
		t.Errorf("OpeningMessage(nil character) = %q, want %q", got, "Begin.")
	}

	character := &gamedata.CharacterDef{
		Name:       "Lin",
		Summary:    "New here.",
		Player:     map[string]int{"psyche": 70, "evidence": 5},
		Antagonist: map[string]int{"authority": 85},
	}
	got := OpeningMessage(scenario, character)
	for _, want := range []string{"Begin.", "Character: Lin. New here.", "evidence=5, psyche=70", "authority=85"} {
		if !strings.Contains(got, want) {
			t.Errorf("OpeningMessage() = %q, missing %q", got, want)
		}
	}
}
