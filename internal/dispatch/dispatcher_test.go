package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samdwyer/storyband/internal/interaction"
	"github.com/samdwyer/storyband/internal/ledger"
	"github.com/samdwyer/storyband/internal/telemetry"
	"github.com/samdwyer/storyband/internal/toolcall"
)

var testShape = ledger.Shape{
	Player:     []string{"psyche", "progress", "evidence", "network", "resources"},
	Antagonist: []string{"authority", "exposureRisk", "anxiety"},
}

type recordingPoster struct {
	mu       sync.Mutex
	results  []toolcall.Result
	err      error
	failNext error
}

func (p *recordingPoster) Post(_ context.Context, r toolcall.Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failNext; err != nil {
		p.failNext = nil
		return err
	}
	if p.err != nil {
		return p.err
	}
	p.results = append(p.results, r)
	return nil
}

func (p *recordingPoster) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.results))
	for i, r := range p.results {
		out[i] = r.CallID
	}
	return out
}

type fixture struct {
	machine *interaction.Machine
	ledger  *ledger.Ledger
	poster  *recordingPoster
	d       *Dispatcher
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		machine: interaction.NewMachine(),
		ledger:  ledger.New(testShape),
		poster:  &recordingPoster{},
	}
	opts = append([]Option{WithSettleInterval(0), WithTracer(telemetry.NoopTracer())}, opts...)
	f.d = New(f.machine, f.ledger, f.poster, opts...)
	return f
}

func choices(id string, texts ...string) toolcall.Call {
	return toolcall.Call{ID: id, Payload: toolcall.PresentChoices{Choices: texts}}
}

func dice(id string, sides, rolls int) toolcall.Call {
	return toolcall.Call{ID: id, Payload: toolcall.RollDice{Sides: sides, Rolls: rolls}}
}

func stats(id string, player, antagonist map[string]int) toolcall.Call {
	return toolcall.Call{ID: id, Payload: toolcall.UpdateStats{
		PlayerDelta:     player,
		AntagonistDelta: antagonist,
		Narrative:       "n-" + id,
	}}
}

func TestOutcomeKindString(t *testing.T) {
	assert.Equal(t, "deferred", OutcomeDeferred.String())
	assert.Equal(t, "resolved", OutcomeResolved.String())
	assert.Equal(t, "rejected", OutcomeRejected.String())
	assert.Equal(t, "unknown", OutcomeKind(42).String())
}

func TestChoiceIsDeferredUntilSupplied(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	out, err := f.d.OnToolCall(ctx, choices("c1", "Comply", "Resist"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, out.Kind)
	assert.Equal(t, interaction.KindAwaitingChoice, f.d.State().Kind)
	assert.Empty(t, f.poster.ids(), "nothing is posted before the player answers")

	require.NoError(t, f.d.SupplyChoiceResolution(ctx, 1))
	require.Len(t, f.poster.results, 1)
	r := f.poster.results[0]
	assert.Equal(t, "c1", r.CallID)
	assert.Equal(t, "Resist", r.Value["choice"])
	assert.True(t, f.d.State().IsIdle())
	assert.Zero(t, f.d.Pending())
}

func TestDiceConfigComesFromCall(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.d.OnToolCall(ctx, dice("d1", 6, 2))
	require.NoError(t, err)
	st := f.d.State()
	assert.Equal(t, interaction.DiceConfig{Sides: 6, Rolls: 2}, st.Dice)

	require.NoError(t, f.d.SupplyDiceResolution(ctx, 9))
	require.Len(t, f.poster.results, 1)
	assert.Equal(t, 9, f.poster.results[0].Value["result"])
}

func TestUpdateStatsResolvesImmediately(t *testing.T) {
	f := newFixture()

	out, err := f.d.OnToolCall(context.Background(), stats("s1", map[string]int{"psyche": 5}, map[string]int{"authority": -2}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, out.Kind)
	assert.Equal(t, true, out.Result.Value["ok"])
	assert.True(t, f.d.State().IsIdle(), "stat updates never change the interaction state")

	cur := f.ledger.Current()
	assert.Equal(t, 5, cur.Player.Get("psyche"))
	assert.Equal(t, -2, cur.Antagonist.Get("authority"))
	assert.Equal(t, []string{"s1"}, f.poster.ids())
}

func TestInitializeStats(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.d.OnToolCall(ctx, stats("s1", map[string]int{"psyche": 3}, nil))
	require.NoError(t, err)
	_, err = f.d.OnToolCall(ctx, toolcall.Call{ID: "s2", Payload: toolcall.UpdateStats{
		PlayerDelta:         map[string]int{"psyche": 60},
		Initialize:          true,
		Narrative:           "day one",
		PlayerRationale:     "well rested",
		AntagonistRationale: "new quarter",
	}})
	require.NoError(t, err)

	assert.Equal(t, 60, f.ledger.Current().Player.Get("psyche"))
	latest := f.ledger.History()[0]
	assert.True(t, latest.Initialization)
	assert.Equal(t, "day one", latest.Narrative)
	assert.Equal(t, "well rested", latest.PlayerRationale)
	assert.Equal(t, "new quarter", latest.AntagonistRationale)
}

func TestConsecutiveStatUpdates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.d.OnToolCall(ctx, stats("s1", map[string]int{"progress": 10}, nil))
	require.NoError(t, err)
	_, err = f.d.OnToolCall(ctx, stats("s2", map[string]int{"progress": -5}, nil))
	require.NoError(t, err)

	assert.Equal(t, 5, f.ledger.Current().Player.Get("progress"))
	history := f.ledger.History()
	require.Len(t, history, 2)
	assert.Equal(t, "n-s2", history[0].Narrative)
	assert.Equal(t, "n-s1", history[1].Narrative)
}

func TestBlockingCallWhileOutstandingIsDropped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.d.OnToolCall(ctx, choices("c1", "A", "B"))
	require.NoError(t, err)

	out, err := f.d.OnToolCall(ctx, dice("d1", 20, 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, out.Kind)
	require.NotNil(t, out.Diagnostic)
	assert.Equal(t, toolcall.CodeProtocolViolation, out.Diagnostic.Code)

	st := f.d.State()
	assert.Equal(t, interaction.KindAwaitingChoice, st.Kind)
	assert.Equal(t, "c1", st.CallID)
	assert.Empty(t, f.poster.ids(), "rejection waits behind the outstanding choice")

	require.NoError(t, f.d.SupplyChoiceResolution(ctx, 0))
	assert.Equal(t, []string{"c1", "d1"}, f.poster.ids())
	assert.True(t, f.poster.results[1].Rejected)
}

func TestResultsArePostedInArrivalOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.d.OnToolCall(ctx, choices("c1", "A"))
	require.NoError(t, err)
	out, err := f.d.OnToolCall(ctx, stats("s1", map[string]int{"evidence": 1}, nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, out.Kind)
	assert.Empty(t, f.poster.ids(), "ack must not overtake the pending choice")
	assert.Equal(t, 2, f.d.Pending())

	require.NoError(t, f.d.SupplyChoiceResolution(ctx, 0))
	assert.Equal(t, []string{"c1", "s1"}, f.poster.ids())
}

func TestChoicesWaitForSettle(t *testing.T) {
	release := make(chan struct{})
	sleeping := make(chan struct{})
	f := newFixture(
		WithSettleInterval(time.Second),
		WithSleep(func(ctx context.Context, _ time.Duration) error {
			close(sleeping)
			<-release
			return nil
		}),
	)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.d.OnToolCall(ctx, stats("s1", map[string]int{"psyche": 1}, nil))
		_, _ = f.d.OnToolCall(ctx, choices("c1", "Go"))
	}()

	<-sleeping
	second := make(chan struct{})
	go func() {
		defer close(second)
		_, _ = f.d.OnToolCall(ctx, choices("c2", "Other"))
	}()

	// While the stat update settles nothing reaches the state machine.
	time.Sleep(20 * time.Millisecond)
	assert.True(t, f.d.State().IsIdle())
	assert.Empty(t, f.poster.ids())

	close(release)
	<-done
	<-second

	st := f.d.State()
	assert.Equal(t, interaction.KindAwaitingChoice, st.Kind)
	assert.Equal(t, "s1", f.poster.ids()[0])
}

func TestSettleCancelled(t *testing.T) {
	f := newFixture(WithSettleInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := f.d.OnToolCall(ctx, stats("s1", map[string]int{"psyche": 2}, nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeResolved, out.Kind)
	assert.Equal(t, 2, f.ledger.Current().Player.Get("psyche"), "ledger keeps the applied update")
}

func TestDuplicateIDIsIgnored(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.d.OnToolCall(ctx, stats("s1", map[string]int{"psyche": 5}, nil))
	require.NoError(t, err)
	out, err := f.d.OnToolCall(ctx, stats("s1", map[string]int{"psyche": 5}, nil))
	require.NoError(t, err)

	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.Equal(t, toolcall.CodeDuplicateCall, out.Diagnostic.Code)
	assert.Equal(t, 5, f.ledger.Current().Player.Get("psyche"), "duplicate must not double-apply")
	assert.Equal(t, []string{"s1"}, f.poster.ids())
}

func TestResolvingTwiceFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, _ = f.d.OnToolCall(ctx, choices("c1", "A", "B"))
	require.NoError(t, f.d.SupplyChoiceResolution(ctx, 0))

	err := f.d.SupplyChoiceResolution(ctx, 0)
	assert.ErrorIs(t, err, interaction.ErrNotAwaitingChoice)
	assert.Len(t, f.poster.results, 1)

	diags := f.d.Diagnostics()
	require.NotEmpty(t, diags)
	assert.Equal(t, toolcall.CodeStaleResolution, diags[len(diags)-1].Code)
}

func TestEmptyChoicesRejected(t *testing.T) {
	f := newFixture()

	out, err := f.d.OnToolCall(context.Background(), choices("c1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.Equal(t, toolcall.CodeMalformedPayload, out.Diagnostic.Code)
	assert.True(t, f.d.State().IsIdle())
	assert.Equal(t, []string{"c1"}, f.poster.ids())
}

func TestMissingIDOrPayload(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	out, err := f.d.OnToolCall(ctx, toolcall.Call{Payload: toolcall.RollDice{Sides: 20, Rolls: 1}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, out.Kind)

	out, err = f.d.OnToolCall(ctx, toolcall.Call{ID: "x1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.True(t, f.d.State().IsIdle())
}

func TestResetDiscardsOutstandingCall(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, _ = f.d.OnToolCall(ctx, stats("s0", map[string]int{"network": 4}, nil))
	_, _ = f.d.OnToolCall(ctx, dice("d1", 20, 1))
	_, _ = f.d.OnToolCall(ctx, stats("s1", map[string]int{"network": 1}, nil))

	f.d.Reset(ctx, "narrator failed")

	assert.True(t, f.d.State().IsIdle())
	assert.Zero(t, f.d.Pending())
	assert.Equal(t, []string{"s0"}, f.poster.ids(), "discarded calls get no result")
	assert.Equal(t, 5, f.ledger.Current().Player.Get("network"), "ledger history survives a reset")

	err := f.d.SupplyDiceResolution(ctx, 10)
	assert.ErrorIs(t, err, interaction.ErrNotAwaitingDiceRoll)
}

func TestPostFailureIsReported(t *testing.T) {
	var hooked []toolcall.Diagnostic
	f := newFixture(WithDiagnosticHook(func(d toolcall.Diagnostic) { hooked = append(hooked, d) }))
	f.poster.err = errors.New("connection reset")

	_, err := f.d.OnToolCall(context.Background(), stats("s1", nil, nil))
	require.Error(t, err)
	require.Len(t, hooked, 1)
	assert.Equal(t, toolcall.CodeNarratorFailure, hooked[0].Code)
}

func TestFailedPostKeepsResultsQueued(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.d.OnToolCall(ctx, choices("c1", "Sign", "Refuse"))
	require.NoError(t, err)
	_, err = f.d.OnToolCall(ctx, stats("s2", map[string]int{"psyche": -1}, nil))
	require.NoError(t, err)
	require.Equal(t, 2, f.d.Pending())

	f.poster.failNext = errors.New("transient")
	err = f.d.SupplyChoiceResolution(ctx, 0)
	require.Error(t, err)
	assert.Empty(t, f.poster.ids())
	assert.Equal(t, 2, f.d.Pending(), "nothing leaves the outbox until it is posted")

	require.NoError(t, f.d.Flush(ctx))
	assert.Equal(t, []string{"c1", "s2"}, f.poster.ids())
	assert.Zero(t, f.d.Pending())

	require.NoError(t, f.d.Flush(ctx))
	assert.Equal(t, []string{"c1", "s2"}, f.poster.ids(), "flushing again posts nothing twice")
}

func TestFlushWaitsForHead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.d.OnToolCall(ctx, choices("c1", "A", "B"))
	require.NoError(t, err)
	require.NoError(t, f.d.Flush(ctx))
	assert.Empty(t, f.poster.ids())
	assert.Equal(t, 1, f.d.Pending())
}

func TestNilPoster(t *testing.T) {
	d := New(interaction.NewMachine(), ledger.New(testShape), nil, WithSettleInterval(0))
	_, err := d.OnToolCall(context.Background(), stats("s1", nil, nil))
	assert.ErrorIs(t, err, ErrNoPoster)
}

func TestRecordStampsTime(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	f := newFixture(WithClock(func() time.Time { return at }))

	f.d.Record(context.Background(), toolcall.Diagnostic{Code: toolcall.CodeUnknownTool, Message: "x"})
	diags := f.d.Diagnostics()
	require.Len(t, diags, 1)
	assert.Equal(t, at, diags[0].At)
}
