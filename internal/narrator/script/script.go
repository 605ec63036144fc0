// Package script implements a narrator that replays an embedded scenario.
// It speaks the same protocol as a live model, so the whole game runs
// offline and in tests.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/samdwyer/storyband/internal/gamedata"
	"github.com/samdwyer/storyband/internal/narrator"
	"github.com/samdwyer/storyband/internal/telemetry"
	"github.com/samdwyer/storyband/internal/toolcall"
)

// ErrFinished indicates every scripted turn has been played.
var ErrFinished = errors.New("scenario finished")

const eventBuffer = 32

// Narrator plays a ScenarioDef one turn per Send.
type Narrator struct {
	scenario *gamedata.ScenarioDef
	decoder  *toolcall.Decoder
	logger   *slog.Logger
	tracer   trace.Tracer

	events chan narrator.Event
	inbox  *narrator.Inbox

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	turn    int
	calls   int
	running bool
	closed  bool
	waiting map[string]bool
	vars    map[string]string
}

var _ narrator.Session = (*Narrator)(nil)

// Option configures a Narrator.
type Option func(*Narrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Narrator) { n.logger = logger }
}

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(n *Narrator) { n.tracer = tracer }
}

// New creates a narrator for scenario. Scripted calls are decoded with
// decoder exactly as a model's calls would be.
func New(scenario *gamedata.ScenarioDef, decoder *toolcall.Decoder, opts ...Option) *Narrator {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Narrator{
		scenario: scenario,
		decoder:  decoder,
		logger:   slog.Default(),
		tracer:   telemetry.Tracer("narrator"),
		events:   make(chan narrator.Event, eventBuffer),
		inbox:    narrator.NewInbox(),
		ctx:      ctx,
		cancel:   cancel,
		waiting:  make(map[string]bool),
		vars:     map[string]string{"choice": "", "roll": ""},
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "narrator", "narrator", "script", "scenario", scenario.ID)
	return n
}

// Send starts the next scripted turn. The message is only logged.
func (n *Narrator) Send(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return narrator.ErrClosed
	}
	if n.running {
		return narrator.ErrTurnInProgress
	}
	if n.turn >= len(n.scenario.Turns) {
		return ErrFinished
	}

	index := n.turn
	n.turn++
	n.running = true
	n.wg.Add(1)
	n.logger.DebugContext(ctx, "turn started", "turn", index, "message_len", len(message))
	go n.play(index)
	return nil
}

// Events returns the event stream. It is closed by Close.
func (n *Narrator) Events() <-chan narrator.Event {
	return n.events
}

// Post delivers the result for a call the script is waiting on.
func (n *Narrator) Post(_ context.Context, result toolcall.Result) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return narrator.ErrClosed
	}
	if !n.waiting[result.CallID] {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", narrator.ErrUnexpectedResult, result.CallID)
	}
	delete(n.waiting, result.CallID)
	n.mu.Unlock()

	n.inbox.Put(result)
	return nil
}

// Close stops any running turn and closes the event stream.
func (n *Narrator) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	n.cancel()
	n.wg.Wait()
	close(n.events)
	return nil
}

func (n *Narrator) play(index int) {
	defer n.wg.Done()

	ctx, span := n.tracer.Start(n.ctx, "script.turn")
	defer span.End()
	span.SetAttributes(attribute.Int("turn", index))

	turn := n.scenario.Turns[index]
	for _, beat := range turn.Beats {
		if beat.Call != nil {
			if !n.call(ctx, beat.Call) {
				n.finish()
				return
			}
			continue
		}
		if !n.emit(narrator.Event{Kind: narrator.EventText, Text: n.expand(beat.Text)}) {
			n.finish()
			return
		}
	}

	n.finish()
	n.emit(narrator.Event{Kind: narrator.EventTurnEnd, Final: index == len(n.scenario.Turns)-1})
}

// call emits one scripted tool call and waits for its result.
func (n *Narrator) call(ctx context.Context, def *gamedata.CallDef) bool {
	n.mu.Lock()
	n.calls++
	id := fmt.Sprintf("%s-%d", n.scenario.ID, n.calls)
	n.waiting[id] = true
	n.mu.Unlock()

	call, diags, err := n.decoder.Decode(id, def.Name, def.Args)
	if err != nil {
		diags = append(diags, toolcall.Diagnostic{
			CallID:  id,
			Code:    toolcall.CodeUnknownTool,
			Message: err.Error(),
		})
	}
	if !n.emit(narrator.Event{Kind: narrator.EventToolCall, Call: call, Diagnostics: diags}) {
		return false
	}

	for {
		result, err := n.inbox.Take(ctx)
		if err != nil {
			return false
		}
		if result.CallID != id {
			n.logger.Warn("result out of order", "want", id, "got", result.CallID)
			continue
		}
		n.remember(result)
		return true
	}
}

func (n *Narrator) remember(r toolcall.Result) {
	if r.Rejected {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	switch r.Kind {
	case toolcall.KindPresentChoices:
		if s, ok := r.Value["choice"].(string); ok {
			n.vars["choice"] = s
		}
	case toolcall.KindRollDice:
		if v, ok := r.Value["result"]; ok {
			n.vars["roll"] = fmt.Sprint(v)
		}
	}
}

func (n *Narrator) expand(text string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return strings.NewReplacer(
		"{{choice}}", n.vars["choice"],
		"{{roll}}", n.vars["roll"],
	).Replace(text)
}

func (n *Narrator) finish() {
	n.mu.Lock()
	n.running = false
	n.mu.Unlock()
}

func (n *Narrator) emit(ev narrator.Event) bool {
	select {
	case n.events <- ev:
		return true
	case <-n.ctx.Done():
		return false
	}
}
