// Package game provides the story session and the terminal game loop.
package game

// State represents what the game loop is waiting on.
type State int

const (
	// StateNarrating means the narrator is still telling the current turn.
	StateNarrating State = iota
	// StateAwaitingPlayer means a choice or dice roll is on screen.
	StateAwaitingPlayer
	// StateReady means the turn is over and the player may continue.
	StateReady
	// StateEnded means the story has finished.
	StateEnded
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNarrating:
		return "narrating"
	case StateAwaitingPlayer:
		return "awaiting_player"
	case StateReady:
		return "ready"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}
