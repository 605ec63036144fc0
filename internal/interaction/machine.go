package interaction

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotIdle indicates a blocking request arrived while another is outstanding.
	ErrNotIdle = errors.New("interaction is not idle")
	// ErrNotAwaitingChoice indicates a choice resolution with no choice pending.
	ErrNotAwaitingChoice = errors.New("no choice is pending")
	// ErrNotAwaitingDiceRoll indicates a roll resolution with no roll pending.
	ErrNotAwaitingDiceRoll = errors.New("no dice roll is pending")
	// ErrNoChoices indicates an empty choice list.
	ErrNoChoices = errors.New("choice list is empty")
	// ErrChoiceOutOfRange indicates an index outside the presented list.
	ErrChoiceOutOfRange = errors.New("choice index out of range")
	// ErrRollOutOfRange indicates a roll total the configured dice cannot produce.
	ErrRollOutOfRange = errors.New("roll result out of range")
	// ErrInvalidDice indicates a die configuration with non-positive fields.
	ErrInvalidDice = errors.New("dice must have positive sides and rolls")
)

// Machine is the single source of truth for the player's interaction surface.
// Failed transitions leave the state untouched.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine returns a machine in the idle state.
func NewMachine() *Machine {
	return &Machine{}
}

// RequestChoices moves Idle -> AwaitingChoice.
func (m *Machine) RequestChoices(choices []string, callID string) error {
	if len(choices) == 0 {
		return ErrNoChoices
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Kind != KindIdle {
		return fmt.Errorf("request choices %s: %w (state %s)", callID, ErrNotIdle, m.state.Kind)
	}
	options := make([]Choice, len(choices))
	for i, text := range choices {
		options[i] = Choice{Text: text, CallID: callID}
	}
	m.state = State{Kind: KindAwaitingChoice, Choices: options, CallID: callID}
	return nil
}

// RequestDiceRoll moves Idle -> AwaitingDiceRoll.
func (m *Machine) RequestDiceRoll(callID string, dice DiceConfig) error {
	if dice.Sides <= 0 || dice.Rolls <= 0 {
		return ErrInvalidDice
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Kind != KindIdle {
		return fmt.Errorf("request dice roll %s: %w (state %s)", callID, ErrNotIdle, m.state.Kind)
	}
	m.state = State{Kind: KindAwaitingDiceRoll, CallID: callID, Dice: dice}
	return nil
}

// ResolveChoice moves AwaitingChoice -> Idle and returns the selected option.
func (m *Machine) ResolveChoice(index int) (text string, callID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Kind != KindAwaitingChoice {
		return "", "", ErrNotAwaitingChoice
	}
	if index < 0 || index >= len(m.state.Choices) {
		return "", "", fmt.Errorf("%w: %d of %d", ErrChoiceOutOfRange, index, len(m.state.Choices))
	}
	picked := m.state.Choices[index]
	m.state = State{}
	return picked.Text, picked.CallID, nil
}

// ResolveDiceRoll moves AwaitingDiceRoll -> Idle. The result is the total of
// all rolls and must lie within the configured range.
func (m *Machine) ResolveDiceRoll(result int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Kind != KindAwaitingDiceRoll {
		return "", ErrNotAwaitingDiceRoll
	}
	if d := m.state.Dice; result < d.Min() || result > d.Max() {
		return "", fmt.Errorf("%w: %d not in [%d, %d]", ErrRollOutOfRange, result, d.Min(), d.Max())
	}
	callID := m.state.CallID
	m.state = State{}
	return callID, nil
}

// Current returns a copy of the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Reset forces the machine back to Idle and returns what was discarded.
func (m *Machine) Reset() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state
	m.state = State{}
	return prev
}
