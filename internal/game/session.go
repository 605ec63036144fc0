package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/samdwyer/storyband/internal/dice"
	"github.com/samdwyer/storyband/internal/dispatch"
	"github.com/samdwyer/storyband/internal/interaction"
	"github.com/samdwyer/storyband/internal/ledger"
	"github.com/samdwyer/storyband/internal/narrator"
	"github.com/samdwyer/storyband/internal/progress"
	"github.com/samdwyer/storyband/internal/telemetry"
	"github.com/samdwyer/storyband/internal/toolcall"
)

// FallbackNarration is shown when the narrator cannot be reached.
const FallbackNarration = "The narrator loses the thread for a moment. Press c to try again."

// ContinueMessage is sent when the player continues without typing anything.
const ContinueMessage = "Continue the story."

var (
	// ErrStoryOver indicates the narrator has finished the story.
	ErrStoryOver = errors.New("story is over")
	// ErrAwaitingPlayer indicates a choice or roll must be answered first.
	ErrAwaitingPlayer = errors.New("a choice or roll is pending")
	// ErrNotStarted indicates Continue was called before Start.
	ErrNotStarted = errors.New("session not started")
)

// Session is one player's story: it owns the ledger, the interaction state
// machine, the dispatcher, the day tracker and the narrator.
type Session struct {
	id string

	ledger     *ledger.Ledger
	machine    *interaction.Machine
	dispatcher *dispatch.Dispatcher
	tracker    *progress.Tracker
	roller     *dice.Roller
	narrator   narrator.Session

	logger *slog.Logger
	tracer trace.Tracer

	mu        sync.Mutex
	narration []string
	lastRoll  *dice.Roll
	started   bool
	turn      bool
	ended     bool

	updates chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

type sessionOptions struct {
	id       string
	seed     int64
	settle   time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
	observer func(sessionID string, e ledger.Entry)
}

// Option configures a Session.
type Option func(*sessionOptions)

// WithID sets the session id instead of generating one.
func WithID(id string) Option {
	return func(o *sessionOptions) { o.id = id }
}

// WithSeed seeds the dice. Zero means a time-based seed.
func WithSeed(seed int64) Option {
	return func(o *sessionOptions) { o.seed = seed }
}

// WithSettleInterval sets the pause after each stat update.
func WithSettleInterval(d time.Duration) Option {
	return func(o *sessionOptions) { o.settle = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *sessionOptions) { o.logger = logger }
}

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *sessionOptions) { o.tracer = tracer }
}

// WithLedgerObserver is called after every ledger entry, e.g. to journal it.
func WithLedgerObserver(fn func(sessionID string, e ledger.Entry)) Option {
	return func(o *sessionOptions) { o.observer = fn }
}

// NewSession wires a narrator to fresh game state with the given stat shape.
func NewSession(narr narrator.Session, shape ledger.Shape, opts ...Option) *Session {
	o := sessionOptions{
		settle: dispatch.DefaultSettleInterval,
		logger: slog.Default(),
		tracer: telemetry.Tracer("game"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	logger := o.logger.With("session_id", o.id)

	s := &Session{
		id:       o.id,
		ledger:   ledger.New(shape),
		machine:  interaction.NewMachine(),
		tracker:  progress.NewTracker(),
		roller:   dice.NewRoller(o.seed),
		narrator: narr,
		logger:   logger.With("component", "game"),
		tracer:   o.tracer,
		updates:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.dispatcher = dispatch.New(s.machine, s.ledger, narr,
		dispatch.WithSettleInterval(o.settle),
		dispatch.WithLogger(logger),
		dispatch.WithTracer(o.tracer),
		dispatch.WithDiagnosticHook(func(toolcall.Diagnostic) { s.notify() }),
	)

	observer := o.observer
	s.ledger.OnAppend(func(e ledger.Entry) {
		if observer != nil {
			observer(s.id, e)
		}
		s.notify()
	})
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Start begins consuming narrator events and sends the opening message.
func (s *Session) Start(ctx context.Context, opening string) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.started = true
	s.turn = true
	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Unlock()

	go s.pump(pumpCtx)

	if err := s.narrator.Send(ctx, opening); err != nil {
		s.setTurn(false)
		return fmt.Errorf("send opening: %w", err)
	}
	s.logger.InfoContext(ctx, "session started")
	return nil
}

// Continue sends the player's next message and starts a new narrator turn.
func (s *Session) Continue(ctx context.Context, message string) error {
	s.mu.Lock()
	switch {
	case !s.started:
		s.mu.Unlock()
		return ErrNotStarted
	case s.ended:
		s.mu.Unlock()
		return ErrStoryOver
	case s.turn:
		s.mu.Unlock()
		// The narrator may be waiting on a result whose post failed.
		if err := s.dispatcher.Flush(ctx); err != nil {
			return fmt.Errorf("continue: %w", err)
		}
		return narrator.ErrTurnInProgress
	case !s.machine.Current().IsIdle():
		s.mu.Unlock()
		return ErrAwaitingPlayer
	}
	s.turn = true
	s.mu.Unlock()

	if message == "" {
		message = ContinueMessage
	}
	if err := s.narrator.Send(ctx, message); err != nil {
		s.setTurn(false)
		return fmt.Errorf("continue: %w", err)
	}
	s.notify()
	return nil
}

// pump feeds narrator events to the tracker and the dispatcher, in order.
func (s *Session) pump(ctx context.Context) {
	defer close(s.done)
	for ev := range s.narrator.Events() {
		s.handle(ctx, ev)
		s.notify()
	}
}

func (s *Session) handle(ctx context.Context, ev narrator.Event) {
	switch ev.Kind {
	case narrator.EventText:
		day := s.tracker.Advance(ev.Text)
		s.mu.Lock()
		s.narration = append(s.narration, ev.Text)
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "narration", "day", day, "len", len(ev.Text))

	case narrator.EventToolCall:
		ctx, span := s.tracer.Start(ctx, "game.tool_call")
		span.SetAttributes(
			attribute.String("session.id", s.id),
			attribute.Int("diagnostics", len(ev.Diagnostics)),
		)
		for _, d := range ev.Diagnostics {
			s.dispatcher.Record(ctx, d)
		}
		if _, err := s.dispatcher.OnToolCall(ctx, ev.Call); err != nil {
			s.logger.WarnContext(ctx, "tool call not delivered", "call_id", ev.Call.ID, "error", err)
		}
		span.End()

	case narrator.EventTurnEnd:
		s.mu.Lock()
		s.turn = false
		s.ended = s.ended || ev.Final
		s.mu.Unlock()

	case narrator.EventError:
		s.logger.ErrorContext(ctx, "narrator failed", "error", ev.Err)
		s.dispatcher.Record(ctx, toolcall.Diagnostic{
			Code:    toolcall.CodeNarratorFailure,
			Message: ev.Err.Error(),
		})
		s.dispatcher.Reset(ctx, "narrator failure")
		s.mu.Lock()
		s.narration = append(s.narration, FallbackNarration)
		s.turn = false
		s.mu.Unlock()
	}
}

// CurrentInteractionState returns what the player may do right now.
func (s *Session) CurrentInteractionState() interaction.State {
	return s.dispatcher.State()
}

// ChoiceOptions returns the pending choice texts, or nil.
func (s *Session) ChoiceOptions() []string {
	st := s.dispatcher.State()
	if st.Kind != interaction.KindAwaitingChoice {
		return nil
	}
	out := make([]string, len(st.Choices))
	for i, c := range st.Choices {
		out[i] = c.Text
	}
	return out
}

// SubmitChoice answers the pending choice with the option at index.
func (s *Session) SubmitChoice(ctx context.Context, index int) error {
	err := s.dispatcher.SupplyChoiceResolution(ctx, index)
	s.notify()
	return err
}

// RequestDiceRoll rolls the dice the narrator asked for and answers the
// pending call with the total.
func (s *Session) RequestDiceRoll(ctx context.Context) (dice.Roll, error) {
	st := s.dispatcher.State()
	if st.Kind != interaction.KindAwaitingDiceRoll {
		return dice.Roll{}, fmt.Errorf("roll dice: %w", interaction.ErrNotAwaitingDiceRoll)
	}
	roll, err := s.roller.Roll(dice.Spec{Sides: st.Dice.Sides, Count: st.Dice.Rolls})
	if err != nil {
		return dice.Roll{}, fmt.Errorf("roll dice: %w", err)
	}
	s.mu.Lock()
	s.lastRoll = &roll
	s.mu.Unlock()

	err = s.dispatcher.SupplyDiceResolution(ctx, roll.Total)
	s.notify()
	return roll, err
}

// LastRoll returns the most recent roll, if any.
func (s *Session) LastRoll() (dice.Roll, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRoll == nil {
		return dice.Roll{}, false
	}
	return *s.lastRoll, true
}

// StatHistory returns every ledger entry, most recent first.
func (s *Session) StatHistory() []ledger.Entry {
	return s.ledger.History()
}

// Stats returns the current stat vectors.
func (s *Session) Stats() ledger.Snapshot {
	return s.ledger.Current()
}

// CurrentDay returns the highest day the narration has reached.
func (s *Session) CurrentDay() int {
	return s.tracker.CurrentDay()
}

// Narration returns every narration chunk so far, oldest first.
func (s *Session) Narration() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.narration...)
}

// Diagnostics returns every recorded problem with the narrator's calls.
func (s *Session) Diagnostics() []toolcall.Diagnostic {
	return s.dispatcher.Diagnostics()
}

// State summarizes the session for the game loop.
func (s *Session) State() State {
	s.mu.Lock()
	turn, ended := s.turn, s.ended
	s.mu.Unlock()

	switch {
	case !s.machine.Current().IsIdle():
		return StateAwaitingPlayer
	case ended:
		return StateEnded
	case turn:
		return StateNarrating
	default:
		return StateReady
	}
}

// Updates signals whenever something visible may have changed.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// Close tears down the narrator and discards anything still pending.
// The ledger is kept.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	started, cancel := s.started, s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	err := s.narrator.Close()
	if started {
		<-s.done
	}
	s.dispatcher.Reset(ctx, "session closed")
	s.logger.InfoContext(ctx, "session closed", "entries", s.ledger.Len(), "day", s.tracker.CurrentDay())
	return err
}

func (s *Session) setTurn(v bool) {
	s.mu.Lock()
	s.turn = v
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
