package ui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"

	"github.com/samdwyer/storyband/internal/gamedata"
	"github.com/samdwyer/storyband/internal/ledger"
)

const (
	sidebarWidth = 34
	barWidth     = 12
	nameWidth    = 14
)

// View is everything one frame shows.
type View struct {
	Title       string
	Day         int
	Channels    *gamedata.ChannelRegistry
	Stats       ledger.Snapshot
	Latest      *ledger.Entry // most recent ledger entry, if any
	Narration   []string
	Surfaces    Surfaces
	LastRoll    string
	Diagnostics int
}

// Renderer handles drawing the game to the screen.
type Renderer struct {
	screen *Screen
}

// NewRenderer creates a new renderer for the given screen.
func NewRenderer(screen *Screen) *Renderer {
	return &Renderer{screen: screen}
}

// Render draws one frame.
func (r *Renderer) Render(v View) {
	r.screen.Clear()
	width, height := r.screen.Size()

	r.renderHeader(v, width)
	r.renderStats(v, height)
	footer := r.renderFooter(v, width, height)
	r.renderNarration(v, sidebarWidth+1, 2, width, footer)

	r.screen.Show()
}

func (r *Renderer) renderHeader(v View, width int) {
	style := tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
	title := v.Title
	if v.Day > 0 {
		title = fmt.Sprintf("%s | Day %d", title, v.Day)
	}
	r.screen.DrawText(1, 0, width, title, style)
	if v.Diagnostics > 0 {
		note := fmt.Sprintf("%d warnings", v.Diagnostics)
		r.screen.DrawText(width-len(note)-1, 0, width, note, tcell.StyleDefault.Foreground(tcell.ColorOrange))
	}
}

func (r *Renderer) renderStats(v View, height int) {
	if v.Channels == nil {
		return
	}
	heading := tcell.StyleDefault.Foreground(tcell.ColorWhite).Bold(true)
	y := 2

	r.screen.DrawText(1, y, sidebarWidth, "You", heading)
	y++
	for _, ch := range v.Channels.Player() {
		r.renderBar(ch, v.Stats.Player.Get(ch.ID), y)
		y++
	}

	y++
	r.screen.DrawText(1, y, sidebarWidth, "Antagonist", heading)
	y++
	for _, ch := range v.Channels.Antagonist() {
		r.renderBar(ch, v.Stats.Antagonist.Get(ch.ID), y)
		y++
	}

	if v.Latest == nil {
		return
	}
	note := tcell.StyleDefault.Foreground(tcell.ColorGray)
	y++
	for _, text := range []string{v.Latest.PlayerRationale, v.Latest.AntagonistRationale} {
		for _, line := range Wrap(text, sidebarWidth-2) {
			if y >= height-4 {
				return
			}
			r.screen.DrawText(1, y, sidebarWidth, line, note)
			y++
		}
	}
}

func (r *Renderer) renderBar(ch gamedata.ChannelDef, value, y int) {
	label := tcell.StyleDefault.Foreground(tcell.ColorSilver)
	x := r.screen.DrawText(1, y, 1+nameWidth, ch.Name, label)
	x = max(x, 1+nameWidth)
	x = r.screen.DrawText(x, y, sidebarWidth, Bar(value, ch.DisplayMax(), barWidth), tcell.StyleDefault.Foreground(ch.TCellColor()))
	r.screen.DrawText(x+1, y, sidebarWidth, fmt.Sprintf("%d", value), label)
}

// renderFooter draws the interactive surfaces and returns the first row it used.
func (r *Renderer) renderFooter(v View, width, height int) int {
	s := v.Surfaces
	var lines []string
	for i, c := range s.Choices {
		lines = append(lines, fmt.Sprintf("[%d] %s", i+1, c))
	}
	if s.Dice != nil {
		lines = append(lines, fmt.Sprintf("Roll %dd%d (%d-%d)", s.Dice.Rolls, s.Dice.Sides, s.Dice.Min(), s.Dice.Max()))
	}
	if v.LastRoll != "" && s.Dice == nil {
		lines = append(lines, "Last roll: "+v.LastRoll)
	}
	lines = append(lines, s.Status)

	top := height - len(lines)
	choice := tcell.StyleDefault.Foreground(tcell.ColorAqua)
	status := tcell.StyleDefault.Foreground(tcell.ColorGray).Italic(true)
	for i, line := range lines {
		style := choice
		if i == len(lines)-1 {
			style = status
		}
		r.screen.DrawText(sidebarWidth+1, top+i, width, line, style)
	}
	return top
}

// renderNarration shows the most recent narration that fits above the footer.
func (r *Renderer) renderNarration(v View, left, top, right, bottom int) {
	width := right - left - 1
	rows := bottom - top - 1
	if width <= 0 || rows <= 0 {
		return
	}

	var lines []string
	for _, chunk := range v.Narration {
		lines = append(lines, Wrap(chunk, width)...)
		lines = append(lines, "")
	}
	if len(lines) > rows {
		lines = lines[len(lines)-rows:]
	}

	style := tcell.StyleDefault.Foreground(tcell.ColorWhite)
	for i, line := range lines {
		r.screen.DrawText(left, top+i, right, line, style)
	}
}

// Bar renders value as a fixed-width gauge. Values outside [0, maxValue] are
// clamped for display only.
func Bar(value, maxValue, width int) string {
	if maxValue <= 0 || width <= 0 {
		return ""
	}
	filled := ledger.Clamp(value, 0, maxValue) * width / maxValue
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
