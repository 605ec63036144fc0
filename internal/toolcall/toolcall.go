// Package toolcall defines the tool calls a narrator can make, their payloads,
// the results posted back, and the schema the narrator is given.
package toolcall

import (
	"fmt"
	"time"
)

// Kind names a tool.
type Kind string

const (
	KindPresentChoices Kind = "PresentChoices"
	KindRollDice       Kind = "RollDice"
	KindUpdateStats    Kind = "UpdateStats"
)

// Kinds lists every tool in declaration order.
var Kinds = []Kind{KindPresentChoices, KindRollDice, KindUpdateStats}

// ParseKind maps a tool name to its Kind.
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}

// Blocking reports whether calls of this kind wait on the player.
func (k Kind) Blocking() bool {
	return k == KindPresentChoices || k == KindRollDice
}

// Payload is the kind-specific body of a call.
type Payload interface {
	Kind() Kind
}

// PresentChoices asks the player to pick one of several options.
type PresentChoices struct {
	Choices []string
}

// Kind implements Payload.
func (PresentChoices) Kind() Kind { return KindPresentChoices }

// RollDice asks the player to roll Rolls dice with Sides faces each.
type RollDice struct {
	Sides int
	Rolls int
}

// Kind implements Payload.
func (RollDice) Kind() Kind { return KindRollDice }

// UpdateStats carries stat deltas, or absolute values when Initialize is set.
type UpdateStats struct {
	PlayerDelta         map[string]int
	AntagonistDelta     map[string]int
	Narrative           string
	PlayerRationale     string
	AntagonistRationale string
	Initialize          bool
}

// Kind implements Payload.
func (UpdateStats) Kind() Kind { return KindUpdateStats }

// Call is one tool invocation from the narrator.
type Call struct {
	ID      string
	Payload Payload
}

// Kind returns the payload's kind, or "" for a call without payload.
func (c Call) Kind() Kind {
	if c.Payload == nil {
		return ""
	}
	return c.Payload.Kind()
}

// Result is the value posted back to the narrator for one call.
type Result struct {
	CallID   string
	Kind     Kind
	Value    map[string]any
	Rejected bool
	Reason   string
}

// ChoiceResult answers a PresentChoices call.
func ChoiceResult(callID string, index int, text string) Result {
	return Result{
		CallID: callID,
		Kind:   KindPresentChoices,
		Value:  map[string]any{"index": index, "choice": text},
	}
}

// DiceResult answers a RollDice call with the rolled total.
func DiceResult(callID string, total int) Result {
	return Result{
		CallID: callID,
		Kind:   KindRollDice,
		Value:  map[string]any{"result": total},
	}
}

// StatsResult acknowledges an UpdateStats call.
func StatsResult(callID string, sequence uint64, player, antagonist map[string]int) Result {
	return Result{
		CallID: callID,
		Kind:   KindUpdateStats,
		Value: map[string]any{
			"ok":         true,
			"sequence":   sequence,
			"player":     player,
			"antagonist": antagonist,
		},
	}
}

// Rejection tells the narrator a call was dropped.
func Rejection(callID string, kind Kind, reason string) Result {
	return Result{
		CallID:   callID,
		Kind:     kind,
		Value:    map[string]any{"ok": false, "error": reason},
		Rejected: true,
		Reason:   reason,
	}
}

// Code classifies a diagnostic.
type Code string

const (
	CodeMalformedPayload  Code = "malformed_payload"
	CodeProtocolViolation Code = "protocol_violation"
	CodeDuplicateCall     Code = "duplicate_call"
	CodeUnknownTool       Code = "unknown_tool"
	CodeStaleResolution   Code = "stale_resolution"
	CodeNarratorFailure   Code = "narrator_failure"
)

// Diagnostic is a recoverable problem with a call. Diagnostics are recorded
// and shown; they never stop the session.
type Diagnostic struct {
	CallID  string
	Kind    Kind
	Code    Code
	Message string
	At      time.Time
}

func (d Diagnostic) String() string {
	if d.CallID == "" {
		return fmt.Sprintf("%s: %s", d.Code, d.Message)
	}
	return fmt.Sprintf("%s %s (%s): %s", d.Code, d.CallID, d.Kind, d.Message)
}
