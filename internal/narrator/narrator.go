// Package narrator defines the contract between the game and whatever tells
// the story: a stream of events in, tool call results out.
package narrator

import (
	"context"
	"errors"
	"sync"

	"github.com/samdwyer/storyband/internal/toolcall"
)

var (
	// ErrClosed indicates the session was closed.
	ErrClosed = errors.New("narrator session closed")
	// ErrTurnInProgress indicates Send was called before the previous turn ended.
	ErrTurnInProgress = errors.New("narrator turn already in progress")
	// ErrUnexpectedResult indicates a posted result for a call the session is not waiting on.
	ErrUnexpectedResult = errors.New("result for unknown call")
)

// EventKind identifies what a narrator event carries.
type EventKind int

const (
	EventText EventKind = iota
	EventToolCall
	EventTurnEnd
	EventError
)

// String returns a human-readable event kind.
func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventToolCall:
		return "tool_call"
	case EventTurnEnd:
		return "turn_end"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one item from the narrator's stream.
type Event struct {
	Kind EventKind
	Text string        // EventText
	Call toolcall.Call // EventToolCall
	// Diagnostics raised while decoding Call. A call with an undeclared tool
	// arrives with a nil payload and an unknown_tool diagnostic.
	Diagnostics []toolcall.Diagnostic
	Err         error // EventError
	Final       bool  // EventTurnEnd: the story has nothing more to tell
}

// Session is a running conversation with a narrator.
//
// Events are delivered in emission order. After emitting tool calls the
// narrator does not continue until a result has been posted for each of
// them. Post must not block; the dispatcher calls it while holding its
// posting lock.
type Session interface {
	Send(ctx context.Context, message string) error
	Events() <-chan Event
	Post(ctx context.Context, result toolcall.Result) error
	Close() error
}

// Inbox is an unbounded, non-blocking queue of posted results, shared by the
// session implementations.
type Inbox struct {
	mu      sync.Mutex
	results []toolcall.Result
	signal  chan struct{}
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{signal: make(chan struct{}, 1)}
}

// Put queues a result and wakes a waiting reader. It never blocks.
func (b *Inbox) Put(r toolcall.Result) {
	b.mu.Lock()
	b.results = append(b.results, r)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Take waits for the next result.
func (b *Inbox) Take(ctx context.Context) (toolcall.Result, error) {
	for {
		b.mu.Lock()
		if len(b.results) > 0 {
			r := b.results[0]
			b.results = b.results[1:]
			b.mu.Unlock()
			return r, nil
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return toolcall.Result{}, ctx.Err()
		case <-b.signal:
		}
	}
}

// Drain discards every queued result.
func (b *Inbox) Drain() {
	b.mu.Lock()
	b.results = nil
	b.mu.Unlock()
}
