package toolcall

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/samdwyer/storyband/internal/ledger"
)

// ErrUnknownTool indicates a call to a tool that was never declared.
var ErrUnknownTool = errors.New("unknown tool")

// Decoder turns raw narrator arguments into typed calls. Arguments are
// validated against the declared schema; anything invalid is replaced with a
// safe default and reported as a diagnostic instead of failing the call.
type Decoder struct {
	shape   ledger.Shape
	schemas map[Kind]*jsonschema.Schema
}

// NewDecoder compiles the tool schemas for shape.
func NewDecoder(shape ledger.Shape) (*Decoder, error) {
	d := &Decoder{shape: shape, schemas: make(map[Kind]*jsonschema.Schema)}
	for _, decl := range Declarations(shape) {
		raw, err := json.Marshal(decl.JSONSchema())
		if err != nil {
			return nil, fmt.Errorf("marshal %s schema: %w", decl.Name, err)
		}
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://storyband.local/tools/%s.schema.json", decl.Name)
		if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("load %s schema: %w", decl.Name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", decl.Name, err)
		}
		d.schemas[decl.Name] = compiled
	}
	return d, nil
}

// Shape returns the ledger layout the decoder validates channels against.
func (d *Decoder) Shape() ledger.Shape {
	return d.shape
}

// Decode builds a Call for tool name with the given arguments.
// It fails only for undeclared tools.
func (d *Decoder) Decode(id, name string, args map[string]any) (Call, []Diagnostic, error) {
	kind, ok := ParseKind(name)
	if !ok {
		return Call{ID: id}, nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	args, err := normalize(args)
	if err != nil {
		args = map[string]any{}
	}

	var diags []Diagnostic
	report := func(format string, a ...any) {
		diags = append(diags, Diagnostic{
			CallID:  id,
			Kind:    kind,
			Code:    CodeMalformedPayload,
			Message: fmt.Sprintf(format, a...),
		})
	}
	if err != nil {
		report("arguments are not JSON: %v", err)
	}
	if schema := d.schemas[kind]; schema != nil {
		if verr := schema.Validate(args); verr != nil {
			report("schema validation failed: %s", firstLine(verr.Error()))
		}
	}

	var payload Payload
	switch kind {
	case KindPresentChoices:
		payload = decodeChoices(args, report)
	case KindRollDice:
		payload = decodeDice(args, report)
	case KindUpdateStats:
		payload = d.decodeStats(args, report)
	}
	return Call{ID: id, Payload: payload}, diags, nil
}

type reporter func(format string, a ...any)

func decodeChoices(args map[string]any, report reporter) PresentChoices {
	list, _ := args["choices"].([]any)
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		s = strings.TrimSpace(s)
		if !ok || s == "" {
			report("choice %d is not a non-empty string; skipped", i)
			continue
		}
		out = append(out, s)
	}
	return PresentChoices{Choices: out}
}

func decodeDice(args map[string]any, report reporter) RollDice {
	sides, ok := intArg(args, "sides")
	if !ok || sides < MinSides || sides > MaxSides {
		report("sides %v out of range; using %d", args["sides"], DefaultSides)
		sides = DefaultSides
	}
	rolls, ok := intArg(args, "rolls")
	if !ok || rolls < 1 || rolls > MaxRolls {
		report("rolls %v out of range; using %d", args["rolls"], DefaultRolls)
		rolls = DefaultRolls
	}
	return RollDice{Sides: sides, Rolls: rolls}
}

func (d *Decoder) decodeStats(args map[string]any, report reporter) UpdateStats {
	initialize, _ := args["initialize"].(bool)
	return UpdateStats{
		PlayerDelta:         channelArg(args, "playerDelta", d.shape.Player, report),
		AntagonistDelta:     channelArg(args, "antagonistDelta", d.shape.Antagonist, report),
		Narrative:           stringArg(args, "narrative"),
		PlayerRationale:     stringArg(args, "playerRationale"),
		AntagonistRationale: stringArg(args, "antagonistRationale"),
		Initialize:          initialize,
	}
}

func channelArg(args map[string]any, name string, channels []string, report reporter) map[string]int {
	out := make(map[string]int, len(channels))
	for _, ch := range channels {
		out[ch] = 0
	}
	raw, ok := args[name].(map[string]any)
	if !ok {
		if args[name] != nil {
			report("%s is not an object; treated as zero", name)
		}
		return out
	}
	allowed := make(map[string]bool, len(channels))
	for _, ch := range channels {
		allowed[ch] = true
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(channels) > 0 && !allowed[k] {
			report("%s.%s is not a known channel; dropped", name, k)
			continue
		}
		n, ok := toInt(raw[k])
		if !ok {
			report("%s.%s is not an integer in [%d, %d]; treated as zero", name, k, math.MinInt32, math.MaxInt32)
			n = 0
		}
		out[k] = n
	}
	return out
}

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

func intArg(args map[string]any, name string) (int, bool) {
	return toInt(args[name])
}

// toInt accepts integral numbers that fit in 32 bits.
func toInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// normalize round-trips args through JSON so every number is a float64 and
// every container is map[string]any or []any, whatever the narrator produced.
func normalize(args map[string]any) (map[string]any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
