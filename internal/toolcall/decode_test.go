package toolcall

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samdwyer/storyband/internal/ledger"
)

var testShape = ledger.Shape{
	Player:     []string{"psyche", "progress", "evidence", "network", "resources"},
	Antagonist: []string{"authority", "exposureRisk", "anxiety"},
}

func newDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := NewDecoder(testShape)
	require.NoError(t, err)
	return d
}

func TestDecodeChoices(t *testing.T) {
	d := newDecoder(t)

	call, diags, err := d.Decode("c1", "PresentChoices", map[string]any{
		"choices": []any{"Comply", " Resist "},
	})
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Equal(t, KindPresentChoices, call.Kind())
	assert.Equal(t, PresentChoices{Choices: []string{"Comply", "Resist"}}, call.Payload)
}

func TestDecodeChoicesSkipsBadItems(t *testing.T) {
	d := newDecoder(t)

	call, diags, err := d.Decode("c1", "PresentChoices", map[string]any{
		"choices": []any{"Stay", 3, ""},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, diags)
	assert.Equal(t, []string{"Stay"}, call.Payload.(PresentChoices).Choices)
	for _, diag := range diags {
		assert.Equal(t, CodeMalformedPayload, diag.Code)
		assert.Equal(t, "c1", diag.CallID)
	}
}

func TestDecodeDice(t *testing.T) {
	d := newDecoder(t)

	call, diags, err := d.Decode("d1", "RollDice", map[string]any{"sides": 20, "rolls": 1})
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Equal(t, RollDice{Sides: 20, Rolls: 1}, call.Payload)

	call, _, err = d.Decode("d2", "RollDice", map[string]any{"sides": 6.0, "rolls": 3.0})
	require.NoError(t, err)
	assert.Equal(t, RollDice{Sides: 6, Rolls: 3}, call.Payload)
}

func TestDecodeDiceDefaults(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want RollDice
	}{
		{"missing everything", nil, RollDice{Sides: 20, Rolls: 1}},
		{"one-sided die", map[string]any{"sides": 1, "rolls": 2}, RollDice{Sides: 20, Rolls: 2}},
		{"too many rolls", map[string]any{"sides": 8, "rolls": 50}, RollDice{Sides: 8, Rolls: 1}},
		{"fractional sides", map[string]any{"sides": 6.5, "rolls": 1}, RollDice{Sides: 20, Rolls: 1}},
		{"string sides", map[string]any{"sides": "twenty", "rolls": 1}, RollDice{Sides: 20, Rolls: 1}},
	}

	d := newDecoder(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, diags, err := d.Decode("d", "RollDice", tt.args)
			require.NoError(t, err)
			assert.NotEmpty(t, diags)
			assert.Equal(t, tt.want, call.Payload)
		})
	}
}

func TestDecodeStats(t *testing.T) {
	d := newDecoder(t)

	call, diags, err := d.Decode("s1", "UpdateStats", map[string]any{
		"playerDelta":         map[string]any{"psyche": 5},
		"antagonistDelta":     map[string]any{"authority": -2},
		"narrative":           "You refuse the overtime.",
		"playerRationale":     "standing firm",
		"antagonistRationale": "public pushback",
	})
	require.NoError(t, err)
	assert.Empty(t, diags)

	stats := call.Payload.(UpdateStats)
	assert.Equal(t, 5, stats.PlayerDelta["psyche"])
	assert.Equal(t, 0, stats.PlayerDelta["evidence"])
	assert.Len(t, stats.PlayerDelta, len(testShape.Player))
	assert.Equal(t, -2, stats.AntagonistDelta["authority"])
	assert.Equal(t, "You refuse the overtime.", stats.Narrative)
	assert.False(t, stats.Initialize)
}

func TestDecodeStatsUnknownChannel(t *testing.T) {
	d := newDecoder(t)

	call, diags, err := d.Decode("s1", "UpdateStats", map[string]any{
		"playerDelta":     map[string]any{"charisma": 4, "network": "lots"},
		"antagonistDelta": map[string]any{},
		"narrative":       "",
		"initialize":      true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, diags)

	stats := call.Payload.(UpdateStats)
	assert.NotContains(t, stats.PlayerDelta, "charisma")
	assert.Equal(t, 0, stats.PlayerDelta["network"])
	assert.True(t, stats.Initialize)
}

func TestDecodeStatsOutOfRangeDelta(t *testing.T) {
	d := newDecoder(t)

	call, diags, err := d.Decode("s1", "UpdateStats", map[string]any{
		"playerDelta":     map[string]any{"psyche": 1e19, "evidence": -3e12, "network": 2},
		"antagonistDelta": map[string]any{"anxiety": 2147483647},
		"narrative":       "a wild swing",
	})
	require.NoError(t, err)

	stats := call.Payload.(UpdateStats)
	assert.Equal(t, 0, stats.PlayerDelta["psyche"])
	assert.Equal(t, 0, stats.PlayerDelta["evidence"])
	assert.Equal(t, 2, stats.PlayerDelta["network"])
	assert.Equal(t, 2147483647, stats.AntagonistDelta["anxiety"])

	var flagged []string
	for _, diag := range diags {
		assert.Equal(t, CodeMalformedPayload, diag.Code)
		if diag.Message == "playerDelta.psyche is not an integer in [-2147483648, 2147483647]; treated as zero" ||
			diag.Message == "playerDelta.evidence is not an integer in [-2147483648, 2147483647]; treated as zero" {
			flagged = append(flagged, diag.Message)
		}
	}
	assert.Len(t, flagged, 2)
}

func TestDecodeDiceHugeSides(t *testing.T) {
	d := newDecoder(t)

	call, diags, err := d.Decode("d1", "RollDice", map[string]any{"sides": 1e19, "rolls": 1})
	require.NoError(t, err)
	assert.NotEmpty(t, diags)
	assert.Equal(t, RollDice{Sides: DefaultSides, Rolls: 1}, call.Payload)
}

func TestDecodeStatsMissingVectors(t *testing.T) {
	d := newDecoder(t)

	call, diags, err := d.Decode("s1", "UpdateStats", map[string]any{"narrative": "quiet day"})
	require.NoError(t, err)
	assert.NotEmpty(t, diags, "missing required vectors should be reported")

	stats := call.Payload.(UpdateStats)
	for _, ch := range testShape.Antagonist {
		assert.Equal(t, 0, stats.AntagonistDelta[ch])
	}
}

func TestDecodeUnknownTool(t *testing.T) {
	d := newDecoder(t)

	_, _, err := d.Decode("x1", "SummonDragon", nil)
	assert.True(t, errors.Is(err, ErrUnknownTool))
}

func TestKindBlocking(t *testing.T) {
	assert.True(t, KindPresentChoices.Blocking())
	assert.True(t, KindRollDice.Blocking())
	assert.False(t, KindUpdateStats.Blocking())
}

func TestDeclarationsCoverEveryKind(t *testing.T) {
	decls := Declarations(testShape)
	require.Len(t, decls, len(Kinds))
	for i, decl := range decls {
		assert.Equal(t, Kinds[i], decl.Name)
		schema := decl.JSONSchema()
		assert.Equal(t, "object", schema["type"])
	}
}

func TestResultBuilders(t *testing.T) {
	r := ChoiceResult("c1", 1, "Resist")
	assert.Equal(t, "Resist", r.Value["choice"])
	assert.False(t, r.Rejected)

	r = Rejection("c2", KindRollDice, "busy")
	assert.True(t, r.Rejected)
	assert.Equal(t, false, r.Value["ok"])
	assert.Equal(t, "busy", r.Reason)
}
