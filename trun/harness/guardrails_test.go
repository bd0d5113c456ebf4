package harness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuardrails_Allowlist(t *testing.T) {
	g := NewGuardrails()
	assert.NoError(t, g.CheckTool("anything"))

	g.AddAllowedTool("addNumbers")
	assert.NoError(t, g.CheckTool("addNumbers"))
	assert.ErrorIs(t, g.CheckTool("divNumbers"), ErrToolNotAllowed)

	g.RemoveAllowedTool("addNumbers")
	assert.NoError(t, g.CheckTool("divNumbers"))
}

func TestGuardrails_BlockedWords(t *testing.T) {
	g := NewGuardrails()
	g.SetBlockedWords([]string{" rm -rf ", ""})

	assert.Error(t, g.CheckArguments(json.RawMessage(`{"cmd":"RM -RF /"}`)))
	assert.NoError(t, g.CheckArguments(json.RawMessage(`{"cmd":"ls"}`)))
}

func TestGuardrails_SanitizeOutput(t *testing.T) {
	g := NewGuardrails()

	tests := []struct {
		in   string
		want string
	}{
		{`{"password":"hunter2","user":"jane"}`, `{"password":"[REDACTED]","user":"jane"}`},
		{`API-KEY=abc123 rest`, `API-KEY=[REDACTED] rest`},
		{`secret: s3cr3t`, `secret: [REDACTED]`},
		{`{"sum":5}`, `{"sum":5}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, g.SanitizeOutput(tt.in))
	}
}

func TestGuardrails_SanitizeOutputKeepsJSONValid(t *testing.T) {
	g := NewGuardrails()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"number and bool", `{"secret":42,"api_key":true}`, `{"secret":"[REDACTED]","api_key":"[REDACTED]"}`},
		{"nested object", `{"auth":{"client_secret":{"v":1}},"n":2}`, `{"auth":{"client_secret":"[REDACTED]"},"n":2}`},
		{"array of objects", `[{"Password":null},{"ok":1.5}]`, `[{"Password":"[REDACTED]"},{"ok":1.5}]`},
		{"secret text in string", `{"log":"password=hunter2 ok"}`, `{"log":"password=[REDACTED] ok"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.SanitizeOutput(tt.in)
			assert.True(t, json.Valid([]byte(got)), got)
			assert.JSONEq(t, tt.want, got)
		})
	}
}

func TestGuardrails_SanitizeOutputLeavesCleanJSONUntouched(t *testing.T) {
	g := NewGuardrails()
	in := `{"num2":3, "num1":2, "sum":5, "big":12345678901234567890}`
	assert.Equal(t, in, g.SanitizeOutput(in))
}

func TestGuardrails_OutputSize(t *testing.T) {
	g := NewGuardrails()
	g.SetMaxOutputSize(4)
	assert.NoError(t, g.CheckOutputSize("1234"))
	assert.Error(t, g.CheckOutputSize("12345"))

	g.SetMaxOutputSize(0)
	assert.NoError(t, g.CheckOutputSize("12345"))
}
