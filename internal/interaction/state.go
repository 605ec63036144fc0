// Package interaction holds the state machine that decides what the player
// can do at any instant: nothing, pick a choice, or roll dice.
package interaction

// Kind identifies the active member of State.
type Kind int

const (
	// KindIdle means no tool call is waiting on the player.
	KindIdle Kind = iota
	// KindAwaitingChoice means a choice list is on screen.
	KindAwaitingChoice
	// KindAwaitingDiceRoll means the player must roll.
	KindAwaitingDiceRoll
)

// String returns a human-readable state name.
func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindAwaitingChoice:
		return "awaiting_choice"
	case KindAwaitingDiceRoll:
		return "awaiting_dice_roll"
	default:
		return "unknown"
	}
}

// Choice is one selectable option and the call it answers.
type Choice struct {
	Text   string
	CallID string
}

// DiceConfig describes the roll the narrator asked for.
type DiceConfig struct {
	Sides int
	Rolls int
}

// Min is the lowest possible total.
func (d DiceConfig) Min() int { return d.Rolls }

// Max is the highest possible total.
func (d DiceConfig) Max() int { return d.Rolls * d.Sides }

// State is a snapshot of the machine. Only the fields of the active Kind are set.
type State struct {
	Kind    Kind
	Choices []Choice
	CallID  string
	Dice    DiceConfig
}

// IsIdle reports whether no player input is pending.
func (s State) IsIdle() bool {
	return s.Kind == KindIdle
}

func (s State) clone() State {
	if s.Choices != nil {
		s.Choices = append([]Choice(nil), s.Choices...)
	}
	return s
}
