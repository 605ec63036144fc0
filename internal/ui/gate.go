package ui

import "github.com/samdwyer/storyband/internal/interaction"

// Surfaces lists which interactive elements the screen shows.
type Surfaces struct {
	Choices     []string                // visible only while a choice is pending
	Dice        *interaction.DiceConfig // visible only while a roll is pending
	CanContinue bool                    // the player may send the next message
	Status      string
}

// Gate derives the visible surfaces from the interaction state. Input
// controls never appear while the narrator is still talking, and nothing
// but a closing status appears once the story has ended.
func Gate(state interaction.State, narrating, ended bool) Surfaces {
	switch {
	case state.Kind == interaction.KindAwaitingChoice:
		choices := make([]string, len(state.Choices))
		for i, c := range state.Choices {
			choices[i] = c.Text
		}
		return Surfaces{Choices: choices, Status: "Choose an option [1-9]"}

	case state.Kind == interaction.KindAwaitingDiceRoll:
		cfg := state.Dice
		return Surfaces{Dice: &cfg, Status: "Press r to roll"}

	case ended:
		return Surfaces{Status: "The End. Press q to quit"}

	case narrating:
		return Surfaces{Status: "..."}

	default:
		return Surfaces{CanContinue: true, Status: "Press c to continue, q to quit"}
	}
}
