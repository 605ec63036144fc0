package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/samdwyer/storyband/internal/interaction"
	"github.com/samdwyer/storyband/internal/ledger"
	"github.com/samdwyer/storyband/internal/telemetry"
	"github.com/samdwyer/storyband/internal/toolcall"
)

// DefaultSettleInterval is the pause after a stat update before the next
// call is surfaced, so the player can see the change.
const DefaultSettleInterval = 1500 * time.Millisecond

var (
	// ErrNoPoster indicates the dispatcher was built without a narrator to post to.
	ErrNoPoster = errors.New("dispatcher has no poster")
	// ErrUnknownCall indicates a resolution for a call the outbox does not hold.
	ErrUnknownCall = errors.New("no pending call with that id")
)

// slot is one call's place in the FIFO outbox.
type slot struct {
	callID string
	kind   toolcall.Kind
	result *toolcall.Result
}

// Dispatcher handles tool calls one at a time in arrival order.
//
// Every call that gets past duplicate detection receives exactly one result,
// and results are posted strictly in arrival order: a ready result waits in
// the outbox until every earlier call's result has been posted.
type Dispatcher struct {
	dispatchMu sync.Mutex // held for the whole of OnToolCall, settle included
	postMu     sync.Mutex // keeps posts in outbox order across flushers

	mu          sync.Mutex
	outbox      []*slot
	seen        map[string]struct{}
	diagnostics []toolcall.Diagnostic

	machine *interaction.Machine
	ledger  *ledger.Ledger
	poster  Poster

	settle       time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	clock        func() time.Time
	logger       *slog.Logger
	tracer       trace.Tracer
	meter        metric.Meter
	onDiagnostic func(toolcall.Diagnostic)

	callCounter metric.Int64Counter
	diagCounter metric.Int64Counter
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSettleInterval sets the pause after each stat update.
func WithSettleInterval(d time.Duration) Option {
	return func(x *Dispatcher) { x.settle = d }
}

// WithSleep replaces the settle timer, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(x *Dispatcher) { x.sleep = sleep }
}

// WithClock overrides the clock used to stamp diagnostics.
func WithClock(clock func() time.Time) Option {
	return func(x *Dispatcher) { x.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(x *Dispatcher) { x.logger = logger }
}

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(x *Dispatcher) { x.tracer = tracer }
}

// WithMeter sets the meter the call and diagnostic counters come from.
func WithMeter(meter metric.Meter) Option {
	return func(x *Dispatcher) { x.meter = meter }
}

// WithDiagnosticHook is called for every recorded diagnostic.
func WithDiagnosticHook(fn func(toolcall.Diagnostic)) Option {
	return func(x *Dispatcher) { x.onDiagnostic = fn }
}

// New creates a dispatcher that owns writes to machine and led and posts
// results to poster.
func New(machine *interaction.Machine, led *ledger.Ledger, poster Poster, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		seen:    make(map[string]struct{}),
		machine: machine,
		ledger:  led,
		poster:  poster,
		settle:  DefaultSettleInterval,
		sleep:   sleepContext,
		clock:   time.Now,
		logger:  slog.Default(),
		tracer:  telemetry.Tracer("dispatch"),
		meter:   telemetry.Meter("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatch")

	var err error
	if d.callCounter, err = d.meter.Int64Counter("storyband.tool_calls",
		metric.WithDescription("Tool calls received, by kind and outcome")); err != nil {
		d.logger.Warn("tool call counter unavailable", "error", err)
	}
	if d.diagCounter, err = d.meter.Int64Counter("storyband.diagnostics",
		metric.WithDescription("Recoverable tool call problems, by code")); err != nil {
		d.logger.Warn("diagnostic counter unavailable", "error", err)
	}
	return d
}

// OnToolCall handles one call. Calls must be submitted in the order the
// narrator emitted them; concurrent submissions are serialized.
//
// For UpdateStats the ledger is written, then OnToolCall waits for the settle
// interval before returning, so no later call reaches the state machine
// while the change is settling.
func (d *Dispatcher) OnToolCall(ctx context.Context, call toolcall.Call) (Outcome, error) {
	d.dispatchMu.Lock()
	defer d.dispatchMu.Unlock()

	ctx, span := d.tracer.Start(ctx, "dispatch.tool_call")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.id", call.ID),
		attribute.String("call.kind", string(call.Kind())),
	)

	out, err := d.handle(ctx, call)
	span.SetAttributes(attribute.String("call.outcome", out.Kind.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	d.count(ctx, call.Kind(), out.Kind)
	return out, err
}

func (d *Dispatcher) handle(ctx context.Context, call toolcall.Call) (Outcome, error) {
	if call.ID == "" {
		return d.reject(ctx, call, toolcall.CodeProtocolViolation, "call has no id", true)
	}

	d.mu.Lock()
	_, dup := d.seen[call.ID]
	if !dup {
		d.seen[call.ID] = struct{}{}
	}
	d.mu.Unlock()
	if dup {
		// A result for this id is already queued or posted; do not queue another.
		return d.reject(ctx, call, toolcall.CodeDuplicateCall, "call id already received", false)
	}

	switch p := call.Payload.(type) {
	case toolcall.PresentChoices:
		d.enqueue(call)
		if err := d.machine.RequestChoices(p.Choices, call.ID); err != nil {
			return d.rejectQueued(ctx, call, err)
		}
		d.logger.DebugContext(ctx, "choices presented", "call_id", call.ID, "count", len(p.Choices))
		return Outcome{Kind: OutcomeDeferred}, nil

	case toolcall.RollDice:
		d.enqueue(call)
		cfg := interaction.DiceConfig{Sides: p.Sides, Rolls: p.Rolls}
		if err := d.machine.RequestDiceRoll(call.ID, cfg); err != nil {
			return d.rejectQueued(ctx, call, err)
		}
		d.logger.DebugContext(ctx, "dice roll requested", "call_id", call.ID, "sides", p.Sides, "rolls", p.Rolls)
		return Outcome{Kind: OutcomeDeferred}, nil

	case toolcall.UpdateStats:
		d.enqueue(call)
		return d.updateStats(ctx, call.ID, p)

	default:
		return d.reject(ctx, call, toolcall.CodeMalformedPayload, "call has no payload", true)
	}
}

func (d *Dispatcher) updateStats(ctx context.Context, callID string, p toolcall.UpdateStats) (Outcome, error) {
	var entry ledger.Entry
	if p.Initialize {
		entry = d.ledger.Initialize(p.PlayerDelta, p.AntagonistDelta, ledger.Note{
			Narrative:           p.Narrative,
			PlayerRationale:     p.PlayerRationale,
			AntagonistRationale: p.AntagonistRationale,
		})
	} else {
		entry = d.ledger.ApplyDelta(ledger.Update{
			PlayerDelta:         p.PlayerDelta,
			AntagonistDelta:     p.AntagonistDelta,
			Narrative:           p.Narrative,
			PlayerRationale:     p.PlayerRationale,
			AntagonistRationale: p.AntagonistRationale,
		})
	}
	d.logger.InfoContext(ctx, "stats updated",
		"call_id", callID,
		"sequence", entry.Sequence,
		"initialize", p.Initialize,
	)

	result := toolcall.StatsResult(callID, entry.Sequence, entry.Player, entry.Antagonist)
	out := Outcome{Kind: OutcomeResolved, Result: result}

	if d.settle > 0 {
		if err := d.sleep(ctx, d.settle); err != nil {
			d.complete(callID, result)
			return out, fmt.Errorf("settle after %s: %w", callID, err)
		}
	}
	if err := d.resolve(ctx, callID, result); err != nil {
		return out, err
	}
	return out, nil
}

// SupplyChoiceResolution answers the pending choice with the option at index.
func (d *Dispatcher) SupplyChoiceResolution(ctx context.Context, index int) error {
	text, callID, err := d.machine.ResolveChoice(index)
	if err != nil {
		d.record(ctx, toolcall.Diagnostic{
			Kind:    toolcall.KindPresentChoices,
			Code:    toolcall.CodeStaleResolution,
			Message: err.Error(),
		})
		return fmt.Errorf("resolve choice: %w", err)
	}
	d.logger.InfoContext(ctx, "choice resolved", "call_id", callID, "index", index)
	return d.resolve(ctx, callID, toolcall.ChoiceResult(callID, index, text))
}

// SupplyDiceResolution answers the pending roll with total.
func (d *Dispatcher) SupplyDiceResolution(ctx context.Context, total int) error {
	callID, err := d.machine.ResolveDiceRoll(total)
	if err != nil {
		d.record(ctx, toolcall.Diagnostic{
			Kind:    toolcall.KindRollDice,
			Code:    toolcall.CodeStaleResolution,
			Message: err.Error(),
		})
		return fmt.Errorf("resolve dice: %w", err)
	}
	d.logger.InfoContext(ctx, "dice resolved", "call_id", callID, "total", total)
	return d.resolve(ctx, callID, toolcall.DiceResult(callID, total))
}

// Reset forces the state machine back to Idle and discards every queued
// result without posting it. The ledger is kept. Use it when the narrator
// session has failed or is being torn down.
func (d *Dispatcher) Reset(ctx context.Context, reason string) {
	prev := d.machine.Reset()

	d.mu.Lock()
	dropped := len(d.outbox)
	d.outbox = nil
	d.mu.Unlock()

	d.logger.WarnContext(ctx, "dispatcher reset",
		"reason", reason,
		"discarded_state", prev.Kind.String(),
		"discarded_call", prev.CallID,
		"dropped_results", dropped,
	)
}

// Diagnostics returns every diagnostic recorded so far, oldest first.
func (d *Dispatcher) Diagnostics() []toolcall.Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]toolcall.Diagnostic(nil), d.diagnostics...)
}

// Pending returns the number of calls whose results have not been posted.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.outbox)
}

// State returns the interaction state snapshot.
func (d *Dispatcher) State() interaction.State {
	return d.machine.Current()
}

func (d *Dispatcher) enqueue(call toolcall.Call) {
	d.mu.Lock()
	d.outbox = append(d.outbox, &slot{callID: call.ID, kind: call.Kind()})
	d.mu.Unlock()
}

// complete stores result on the queued slot for callID.
func (d *Dispatcher) complete(callID string, result toolcall.Result) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.outbox {
		if s.callID == callID && s.result == nil {
			r := result
			s.result = &r
			return true
		}
	}
	return false
}

func (d *Dispatcher) resolve(ctx context.Context, callID string, result toolcall.Result) error {
	if !d.complete(callID, result) {
		d.record(ctx, toolcall.Diagnostic{
			CallID:  callID,
			Kind:    result.Kind,
			Code:    toolcall.CodeStaleResolution,
			Message: "result for a call that is no longer pending",
		})
		return fmt.Errorf("%w: %s", ErrUnknownCall, callID)
	}
	return d.flush(ctx)
}

// Flush retries posting ready results that an earlier post failed to
// deliver. It is a no-op when the head of the outbox is still waiting.
func (d *Dispatcher) Flush(ctx context.Context) error {
	return d.flush(ctx)
}

// flush posts ready results from the head of the outbox, one at a time. A
// slot leaves the outbox only once its post succeeds, so a failed post
// keeps it and everything behind it queued for the next flush.
func (d *Dispatcher) flush(ctx context.Context) error {
	d.postMu.Lock()
	defer d.postMu.Unlock()

	for {
		d.mu.Lock()
		if len(d.outbox) == 0 || d.outbox[0].result == nil {
			d.mu.Unlock()
			return nil
		}
		head := d.outbox[0]
		r := *head.result
		d.mu.Unlock()

		if d.poster == nil {
			return ErrNoPoster
		}
		if err := d.poster.Post(ctx, r); err != nil {
			d.record(ctx, toolcall.Diagnostic{
				CallID:  r.CallID,
				Kind:    r.Kind,
				Code:    toolcall.CodeNarratorFailure,
				Message: err.Error(),
			})
			return fmt.Errorf("post result %s: %w", r.CallID, err)
		}

		d.mu.Lock()
		// Reset may have emptied the outbox while posting.
		if len(d.outbox) > 0 && d.outbox[0] == head {
			d.outbox = d.outbox[1:]
		}
		d.mu.Unlock()
	}
}

// reject drops a call that never entered the state machine. With post set,
// a rejection result is queued so the narrator is not left waiting.
func (d *Dispatcher) reject(ctx context.Context, call toolcall.Call, code toolcall.Code, msg string, post bool) (Outcome, error) {
	diag := toolcall.Diagnostic{CallID: call.ID, Kind: call.Kind(), Code: code, Message: msg}
	d.record(ctx, diag)
	result := toolcall.Rejection(call.ID, call.Kind(), msg)
	out := Outcome{Kind: OutcomeRejected, Result: result, Diagnostic: &diag}
	if !post {
		return out, nil
	}
	d.enqueue(call)
	d.complete(call.ID, result)
	return out, d.flush(ctx)
}

// rejectQueued turns a state machine refusal into a rejection for an
// already-queued call.
func (d *Dispatcher) rejectQueued(ctx context.Context, call toolcall.Call, cause error) (Outcome, error) {
	code := toolcall.CodeMalformedPayload
	if errors.Is(cause, interaction.ErrNotIdle) {
		code = toolcall.CodeProtocolViolation
	}
	diag := toolcall.Diagnostic{CallID: call.ID, Kind: call.Kind(), Code: code, Message: cause.Error()}
	d.record(ctx, diag)
	result := toolcall.Rejection(call.ID, call.Kind(), cause.Error())
	d.complete(call.ID, result)
	return Outcome{Kind: OutcomeRejected, Result: result, Diagnostic: &diag}, d.flush(ctx)
}

// Record stores a diagnostic raised outside the dispatcher, e.g. by payload
// decoding, so every problem with a session shows up in one place.
func (d *Dispatcher) Record(ctx context.Context, diag toolcall.Diagnostic) {
	d.record(ctx, diag)
}

func (d *Dispatcher) record(ctx context.Context, diag toolcall.Diagnostic) {
	if diag.At.IsZero() {
		diag.At = d.clock()
	}
	d.mu.Lock()
	d.diagnostics = append(d.diagnostics, diag)
	d.mu.Unlock()

	d.logger.WarnContext(ctx, "tool call diagnostic",
		"code", string(diag.Code),
		"call_id", diag.CallID,
		"kind", string(diag.Kind),
		"message", diag.Message,
	)
	if d.diagCounter != nil {
		d.diagCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("code", string(diag.Code))))
	}
	if d.onDiagnostic != nil {
		d.onDiagnostic(diag)
	}
}

func (d *Dispatcher) count(ctx context.Context, kind toolcall.Kind, outcome OutcomeKind) {
	if d.callCounter == nil {
		return
	}
	d.callCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome.String()),
	))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
