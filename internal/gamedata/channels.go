package gamedata

import (
	"github.com/gdamore/tcell/v2"

	"github.com/samdwyer/storyband/internal/ledger"
)

// Side says which stat vector a channel belongs to.
type Side string

const (
	SidePlayer     Side = "player"
	SideAntagonist Side = "antagonist"
)

// ChannelDef defines one stat channel loaded from JSON.
type ChannelDef struct {
	ID    string `json:"id"`    // Key used in tool calls (e.g., "psyche")
	Name  string `json:"name"`  // Display label (e.g., "Psyche")
	Side  Side   `json:"side"`  // "player" or "antagonist"
	Color string `json:"color"` // Hex color for the stat bar (e.g., "#7FB3FF")
	Max   int    `json:"max"`   // Display ceiling for the bar; values may exceed it
}

// TCellColor returns the bar color, white if the hex value is unusable.
func (c *ChannelDef) TCellColor() tcell.Color {
	color := tcell.GetColor(c.Color)
	if color == tcell.ColorDefault {
		return tcell.ColorWhite
	}
	return color
}

// DisplayMax returns the bar ceiling, 100 when unset.
func (c *ChannelDef) DisplayMax() int {
	if c.Max <= 0 {
		return 100
	}
	return c.Max
}

// ChannelsFile represents the structure of channels.json.
type ChannelsFile struct {
	Channels []ChannelDef `json:"channels"`
}

// LoadChannels loads channel definitions from the embedded channels.json file.
func LoadChannels() ([]ChannelDef, error) {
	file, err := Load[ChannelsFile]("channels.json")
	if err != nil {
		return nil, err
	}
	return file.Channels, nil
}

// ChannelRegistry holds channel definitions split by side.
type ChannelRegistry struct {
	byID       map[string]*ChannelDef
	player     []ChannelDef
	antagonist []ChannelDef
}

// NewChannelRegistry creates a registry, preserving definition order per side.
func NewChannelRegistry(channels []ChannelDef) *ChannelRegistry {
	r := &ChannelRegistry{byID: make(map[string]*ChannelDef)}
	for _, ch := range channels {
		switch ch.Side {
		case SidePlayer:
			r.player = append(r.player, ch)
		case SideAntagonist:
			r.antagonist = append(r.antagonist, ch)
		}
	}
	for i := range r.player {
		r.byID[r.player[i].ID] = &r.player[i]
	}
	for i := range r.antagonist {
		r.byID[r.antagonist[i].ID] = &r.antagonist[i]
	}
	return r
}

// LoadChannelRegistry loads the embedded channels.
func LoadChannelRegistry() (*ChannelRegistry, error) {
	channels, err := LoadChannels()
	if err != nil {
		return nil, err
	}
	return NewChannelRegistry(channels), nil
}

// MustLoadChannelRegistry loads a registry, panicking on error.
func MustLoadChannelRegistry() *ChannelRegistry {
	registry, err := LoadChannelRegistry()
	if err != nil {
		panic(err)
	}
	return registry
}

// GetByID returns the channel with the given ID, or nil if not found.
func (r *ChannelRegistry) GetByID(id string) *ChannelDef {
	return r.byID[id]
}

// Player returns the player's channels in display order.
func (r *ChannelRegistry) Player() []ChannelDef {
	return r.player
}

// Antagonist returns the antagonist's channels in display order.
func (r *ChannelRegistry) Antagonist() []ChannelDef {
	return r.antagonist
}

// Count returns the number of channels across both sides.
func (r *ChannelRegistry) Count() int {
	return len(r.player) + len(r.antagonist)
}

// Shape returns the ledger layout for these channels.
func (r *ChannelRegistry) Shape() ledger.Shape {
	return ledger.Shape{Player: ids(r.player), Antagonist: ids(r.antagonist)}
}

func ids(defs []ChannelDef) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.ID
	}
	return out
}
