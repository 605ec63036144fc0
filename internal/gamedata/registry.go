package gamedata

import (
	"errors"
	"fmt"
)

// CharacterDef is a selectable protagonist with starting stats.
type CharacterDef struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Summary    string         `json:"summary"`
	Player     map[string]int `json:"player"`     // Absolute starting player stats
	Antagonist map[string]int `json:"antagonist"` // Absolute starting antagonist stats
}

// CharactersFile represents the structure of characters.json.
type CharactersFile struct {
	Characters []CharacterDef `json:"characters"`
}

// CharacterRegistry holds loaded character definitions.
type CharacterRegistry struct {
	characters []CharacterDef
}

// NewCharacterRegistry creates a registry from loaded character definitions.
func NewCharacterRegistry(characters []CharacterDef) *CharacterRegistry {
	return &CharacterRegistry{characters: characters}
}

// LoadCharacterRegistry loads the embedded characters.json.
func LoadCharacterRegistry() (*CharacterRegistry, error) {
	file, err := Load[CharactersFile]("characters.json")
	if err != nil {
		return nil, err
	}
	if len(file.Characters) == 0 {
		return nil, errors.New("no characters loaded from characters.json")
	}
	return NewCharacterRegistry(file.Characters), nil
}

// GetByID returns the character with the given ID, or nil if not found.
func (r *CharacterRegistry) GetByID(id string) *CharacterDef {
	for i := range r.characters {
		if r.characters[i].ID == id {
			return &r.characters[i]
		}
	}
	return nil
}

// All returns all character definitions.
func (r *CharacterRegistry) All() []CharacterDef {
	return r.characters
}

// Count returns the number of characters in the registry.
func (r *CharacterRegistry) Count() int {
	return len(r.characters)
}

// =============================================================================
// Scenarios
// =============================================================================

// CallDef is one scripted tool call. Args use the same JSON shape the
// narrator's tools accept.
type CallDef struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// BeatDef is one step of a scripted turn: either narration or a tool call.
// Text may reference {{choice}} and {{roll}}, the player's latest answers.
type BeatDef struct {
	Text string   `json:"text,omitempty"`
	Call *CallDef `json:"call,omitempty"`
}

// TurnDef is everything the scripted narrator emits between two player messages.
type TurnDef struct {
	Beats []BeatDef `json:"beats"`
}

// ScenarioDef is a complete scripted story.
type ScenarioDef struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Opening string    `json:"opening"` // First message sent to the narrator
	Turns   []TurnDef `json:"turns"`
}

// ScenariosFile represents the structure of scenarios.json.
type ScenariosFile struct {
	Scenarios []ScenarioDef `json:"scenarios"`
}

// LoadScenario returns the embedded scenario with the given ID.
func LoadScenario(id string) (*ScenarioDef, error) {
	file, err := Load[ScenariosFile]("scenarios.json")
	if err != nil {
		return nil, err
	}
	for i := range file.Scenarios {
		if file.Scenarios[i].ID == id {
			return &file.Scenarios[i], nil
		}
	}
	return nil, fmt.Errorf("scenario %q not found", id)
}
