package toolcall

import "github.com/samdwyer/storyband/internal/ledger"

// ParamType is the shape of one tool parameter.
type ParamType int

const (
	ParamString ParamType = iota
	ParamInteger
	ParamBoolean
	ParamStringList
	ParamChannelMap
)

// Param describes one tool argument.
type Param struct {
	Name        string
	Description string
	Type        ParamType
	Required    bool
	Channels    []string // for ParamChannelMap
	Minimum     int      // for ParamInteger, inclusive
	Maximum     int      // for ParamInteger, inclusive; 0 means unbounded
}

// Declaration is a tool as advertised to the narrator.
type Declaration struct {
	Name        Kind
	Description string
	Params      []Param
}

const (
	MinSides     = 2
	MaxSides     = 1000
	MaxRolls     = 10
	DefaultSides = 20
	DefaultRolls = 1
)

// Declarations returns the tool schema for a ledger shape.
func Declarations(shape ledger.Shape) []Declaration {
	return []Declaration{
		{
			Name:        KindPresentChoices,
			Description: "Show the player a list of options and wait until one is picked.",
			Params: []Param{
				{Name: "choices", Type: ParamStringList, Required: true, Description: "Options in display order."},
			},
		},
		{
			Name:        KindRollDice,
			Description: "Ask the player to roll dice and wait for the total.",
			Params: []Param{
				{Name: "sides", Type: ParamInteger, Required: true, Minimum: MinSides, Maximum: MaxSides, Description: "Faces per die."},
				{Name: "rolls", Type: ParamInteger, Required: true, Minimum: 1, Maximum: MaxRolls, Description: "Number of dice."},
			},
		},
		{
			Name:        KindUpdateStats,
			Description: "Apply stat changes to the player and the antagonist. Set initialize to replace the stats with absolute values.",
			Params: []Param{
				{Name: "playerDelta", Type: ParamChannelMap, Required: true, Channels: shape.Player, Description: "Per-channel change to the player's stats."},
				{Name: "antagonistDelta", Type: ParamChannelMap, Required: true, Channels: shape.Antagonist, Description: "Per-channel change to the antagonist's stats."},
				{Name: "narrative", Type: ParamString, Required: true, Description: "What happened."},
				{Name: "playerRationale", Type: ParamString, Description: "Why the player's stats changed."},
				{Name: "antagonistRationale", Type: ParamString, Description: "Why the antagonist's stats changed."},
				{Name: "initialize", Type: ParamBoolean, Description: "Treat the values as absolute starting stats."},
			},
		},
	}
}

// JSONSchema renders the declaration's parameters as a JSON Schema object.
func (d Declaration) JSONSchema() map[string]any {
	props := make(map[string]any, len(d.Params))
	required := make([]any, 0, len(d.Params))
	for _, p := range d.Params {
		props[p.Name] = p.jsonSchema()
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func (p Param) jsonSchema() map[string]any {
	s := map[string]any{}
	if p.Description != "" {
		s["description"] = p.Description
	}
	switch p.Type {
	case ParamString:
		s["type"] = "string"
	case ParamBoolean:
		s["type"] = "boolean"
	case ParamInteger:
		s["type"] = "integer"
		s["minimum"] = p.Minimum
		if p.Maximum > 0 {
			s["maximum"] = p.Maximum
		}
	case ParamStringList:
		s["type"] = "array"
		s["minItems"] = 1
		s["items"] = map[string]any{"type": "string", "minLength": 1}
	case ParamChannelMap:
		s["type"] = "object"
		if len(p.Channels) == 0 {
			s["additionalProperties"] = map[string]any{"type": "integer"}
			break
		}
		channels := make(map[string]any, len(p.Channels))
		for _, ch := range p.Channels {
			channels[ch] = map[string]any{"type": "integer"}
		}
		s["properties"] = channels
		s["additionalProperties"] = false
	}
	return s
}
