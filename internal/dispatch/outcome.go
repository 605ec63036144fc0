// Package dispatch routes narrator tool calls to the ledger and the
// interaction state machine, and posts one result per call back to the
// narrator in the order the calls arrived.
package dispatch

import (
	"context"

	"github.com/samdwyer/storyband/internal/toolcall"
)

// OutcomeKind says how a call was handled.
type OutcomeKind int

const (
	// OutcomeDeferred means the call waits on the player; its result is posted later.
	OutcomeDeferred OutcomeKind = iota
	// OutcomeResolved means the call was handled without player input.
	OutcomeResolved
	// OutcomeRejected means the call was dropped; the state machine was not touched.
	OutcomeRejected
)

// String returns a human-readable outcome name.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDeferred:
		return "deferred"
	case OutcomeResolved:
		return "resolved"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome is the immediate answer to OnToolCall.
type Outcome struct {
	Kind OutcomeKind
	// Result is set for resolved and rejected calls.
	Result toolcall.Result
	// Diagnostic is set for rejected calls.
	Diagnostic *toolcall.Diagnostic
}

// Poster delivers results to the narrator session.
type Poster interface {
	Post(ctx context.Context, result toolcall.Result) error
}

// PosterFunc adapts a function to Poster.
type PosterFunc func(ctx context.Context, result toolcall.Result) error

// Post implements Poster.
func (f PosterFunc) Post(ctx context.Context, result toolcall.Result) error {
	return f(ctx, result)
}
