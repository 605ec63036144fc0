package game

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/samdwyer/storyband/internal/gamedata"
	"github.com/samdwyer/storyband/internal/telemetry"
	"github.com/samdwyer/storyband/internal/ui"
)

// Game is the terminal front end for one Session.
type Game struct {
	screen   *ui.Screen
	renderer *ui.Renderer
	session  *Session
	scenario *gamedata.ScenarioDef
	channels *gamedata.ChannelRegistry
	opening  string
	running  bool
}

// New creates a new game instance.
func New(session *Session, scenario *gamedata.ScenarioDef, channels *gamedata.ChannelRegistry, opening string) (*Game, error) {
	screen, err := ui.NewScreen()
	if err != nil {
		return nil, err
	}

	return &Game{
		screen:   screen,
		renderer: ui.NewRenderer(screen),
		session:  session,
		scenario: scenario,
		channels: channels,
		opening:  opening,
		running:  true,
	}, nil
}

// Run executes the main game loop.
func (g *Game) Run(ctx context.Context) error {
	tracer := telemetry.Tracer("game")

	ctx, initSpan := tracer.Start(ctx, "game.init")
	initSpan.SetAttributes(
		attribute.String("session.id", g.session.ID()),
		attribute.String("scenario", g.scenario.ID),
		attribute.Int("channels", g.channels.Count()),
	)
	err := g.session.Start(ctx, g.opening)
	initSpan.End()
	if err != nil {
		g.Close()
		return err
	}

	// Redraw whenever the session changes, not only on keypresses.
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-g.session.Updates():
				g.screen.Interrupt()
			}
		}
	}()

	for g.running {
		g.renderer.Render(g.view())
		g.handleInput(ctx)
	}

	close(stop)
	g.Close()
	return g.session.Close(ctx)
}

// view snapshots the session for the renderer.
func (g *Game) view() ui.View {
	state := g.session.State()
	v := ui.View{
		Title:       g.scenario.Title,
		Day:         g.session.CurrentDay(),
		Channels:    g.channels,
		Stats:       g.session.Stats(),
		Narration:   g.session.Narration(),
		Surfaces:    ui.Gate(g.session.CurrentInteractionState(), state == StateNarrating, state == StateEnded),
		Diagnostics: len(g.session.Diagnostics()),
	}
	if history := g.session.StatHistory(); len(history) > 0 {
		v.Latest = &history[0]
	}
	if roll, ok := g.session.LastRoll(); ok {
		v.LastRoll = FormatRoll(roll.Results, roll.Total)
	}
	return v
}

// handleInput processes a single input event.
func (g *Game) handleInput(ctx context.Context) {
	ev := g.screen.PollEvent()

	switch ev := ev.(type) {
	case *tcell.EventKey:
		g.handleKeyEvent(ctx, ev)
	case *tcell.EventResize:
		g.screen.Sync()
	}
}

// handleKeyEvent processes keyboard input. Errors from stale input are
// already recorded as diagnostics, so they are not shown twice.
func (g *Game) handleKeyEvent(ctx context.Context, ev *tcell.EventKey) {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		g.running = false

	case tcell.KeyEnter:
		_ = g.session.Continue(ctx, "")

	case tcell.KeyRune:
		switch r := ev.Rune(); {
		case r == 'q' || r == 'Q':
			g.running = false
		case r == 'c' || r == 'C':
			_ = g.session.Continue(ctx, "")
		case r == 'r' || r == 'R':
			_, _ = g.session.RequestDiceRoll(ctx)
		case r >= '1' && r <= '9':
			if len(g.session.ChoiceOptions()) > 0 {
				_ = g.session.SubmitChoice(ctx, int(r-'1'))
			}
		}
	}
}

// Close cleans up game resources.
func (g *Game) Close() {
	if g.screen != nil {
		g.screen.Close()
	}
}

// FormatRoll renders dice results, e.g. "4 + 6 = 10".
func FormatRoll(results []int, total int) string {
	if len(results) <= 1 {
		return fmt.Sprintf("%d", total)
	}
	parts := make([]string, len(results))
	for i, n := range results {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%s = %d", strings.Join(parts, " + "), total)
}

// OpeningMessage introduces the scenario and the chosen character to the
// narrator, including the absolute starting stats it should initialize.
func OpeningMessage(scenario *gamedata.ScenarioDef, character *gamedata.CharacterDef) string {
	if character == nil {
		return scenario.Opening
	}
	var b strings.Builder
	b.WriteString(scenario.Opening)
	fmt.Fprintf(&b, "\nCharacter: %s. %s", character.Name, character.Summary)
	fmt.Fprintf(&b, "\nStarting player stats: %s", formatStats(character.Player))
	fmt.Fprintf(&b, "\nStarting antagonist stats: %s", formatStats(character.Antagonist))
	return b.String()
}

func formatStats(stats map[string]int) string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, stats[k])
	}
	return strings.Join(parts, ", ")
}
