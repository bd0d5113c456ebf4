package harness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
)

var lightSchema = ports.Schema{
	"brightness":       {Type: ports.TypeNumber, Required: true},
	"colorTemperature": {Type: ports.TypeString, Required: true, Enum: []string{"daylight", "cool", "warm"}},
}

func TestValidator_AcceptsConformingArguments(t *testing.T) {
	v := NewValidator()

	args, err := v.Validate(lightSchema, json.RawMessage(`{"brightness": 40, "colorTemperature": "warm"}`))
	require.NoError(t, err)

	b, ok := args.Float("brightness")
	require.True(t, ok)
	assert.Equal(t, 40.0, b)
	c, _ := args.String("colorTemperature")
	assert.Equal(t, "warm", c)
}

func TestValidator_MissingParameter(t *testing.T) {
	v := NewValidator()

	_, err := v.Validate(lightSchema, json.RawMessage(`{"brightness": 40}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingParameter)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, MissingParameter, verr.Kind)
	assert.Equal(t, "colorTemperature", verr.Parameter)
}

func TestValidator_MissingReportedBeforeTypeErrors(t *testing.T) {
	v := NewValidator()

	_, err := v.Validate(lightSchema, json.RawMessage(`{"brightness": "bright"}`))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, MissingParameter, verr.Kind)
}

func TestValidator_TypeMismatch(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name string
		raw  string
	}{
		{"wrong type", `{"brightness": "bright", "colorTemperature": "warm"}`},
		{"not in enum", `{"brightness": 10, "colorTemperature": "purple"}`},
		{"not an object", `[1, 2]`},
		{"malformed json", `{"brightness": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(lightSchema, json.RawMessage(tt.raw))
			assert.ErrorIs(t, err, ErrTypeMismatch)
		})
	}
}

func TestValidator_EmptyArgumentsAreAnEmptyObject(t *testing.T) {
	v := NewValidator()

	args, err := v.Validate(ports.Schema{"note": {Type: ports.TypeString}}, nil)
	require.NoError(t, err)
	assert.Empty(t, args)

	_, err = v.Validate(lightSchema, json.RawMessage(`  `))
	assert.ErrorIs(t, err, ErrMissingParameter)
}

func TestValidator_StripsUndeclaredParameters(t *testing.T) {
	v := NewValidator()
	schema := ports.Schema{
		"num1": {Type: ports.TypeNumber, Required: true},
		"opts": {Type: ports.TypeObject, Properties: ports.Schema{
			"round": {Type: ports.TypeBoolean},
		}},
	}

	args, err := v.Validate(schema, json.RawMessage(`{"num1": 1, "extra": true, "opts": {"round": true, "mode": "x"}}`))
	require.NoError(t, err)

	assert.False(t, args.Has("extra"))
	opts, ok := args.Object("opts")
	require.True(t, ok)
	assert.Equal(t, ports.Arguments{"round": true}, opts)
}

func TestValidator_IsIdempotent(t *testing.T) {
	v := NewValidator()
	raw := json.RawMessage(`{"brightness": 70, "colorTemperature": "cool"}`)

	first, err := v.Validate(lightSchema, raw)
	require.NoError(t, err)
	second, err := v.Validate(lightSchema, raw)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, v.compiled, 1)
}

func TestSchema_JSONSchemaDocument(t *testing.T) {
	doc, err := lightSchema.JSONSchema()
	require.NoError(t, err)

	expected := `{
		"type": "object",
		"properties": {
			"brightness": {"type": "number"},
			"colorTemperature": {"type": "string", "enum": ["daylight", "cool", "warm"]}
		},
		"required": ["brightness", "colorTemperature"]
	}`
	assert.JSONEq(t, expected, string(doc))
}
