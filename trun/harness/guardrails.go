package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// Guardrails enforces the tool allowlist and screens tool input and output.
type Guardrails struct {
	allowlist     map[string]bool  // empty means every registered tool is allowed
	blockedWords  []string         // words rejected in tool arguments
	secretKeys    *regexp.Regexp   // object keys whose values are masked in JSON output
	outputFilters []*regexp.Regexp // patterns masked in free text
	maxOutputSize int              // bytes; zero disables the check
}

// NewGuardrails creates guardrails with the default secret filters.
func NewGuardrails() *Guardrails {
	return &Guardrails{
		allowlist:  make(map[string]bool),
		secretKeys: regexp.MustCompile(`(?i)password|api[_-]?key|secret`),
		outputFilters: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(password["']?\s*[:=]\s*["']?)[^\s"',}]+`),
			regexp.MustCompile(`(?i)(api[_-]?key["']?\s*[:=]\s*["']?)[^\s"',}]+`),
			regexp.MustCompile(`(?i)(secret["']?\s*[:=]\s*["']?)[^\s"',}]+`),
		},
		maxOutputSize: 10000,
	}
}

func (g *Guardrails) AddAllowedTool(name string) {
	g.allowlist[name] = true
}

func (g *Guardrails) RemoveAllowedTool(name string) {
	delete(g.allowlist, name)
}

// SetBlockedWords replaces the words rejected in tool arguments.
func (g *Guardrails) SetBlockedWords(words []string) {
	g.blockedWords = g.blockedWords[:0]
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			g.blockedWords = append(g.blockedWords, w)
		}
	}
}

// SetMaxOutputSize caps tool output length in bytes; zero disables the cap.
func (g *Guardrails) SetMaxOutputSize(n int) {
	g.maxOutputSize = n
}

// CheckTool reports whether the named tool may be dispatched.
func (g *Guardrails) CheckTool(name string) error {
	if len(g.allowlist) == 0 || g.allowlist[name] {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrToolNotAllowed, name)
}

// CheckArguments rejects raw arguments containing blocked words.
func (g *Guardrails) CheckArguments(raw json.RawMessage) error {
	lower := strings.ToLower(string(raw))
	for _, word := range g.blockedWords {
		if strings.Contains(lower, word) {
			return fmt.Errorf("tool arguments contain blocked content: %s", word)
		}
	}
	return nil
}

// CheckOutputSize fails outputs larger than the configured cap.
func (g *Guardrails) CheckOutputSize(output string) error {
	if g.maxOutputSize > 0 && len(output) > g.maxOutputSize {
		return fmt.Errorf("output size %d exceeds maximum %d", len(output), g.maxOutputSize)
	}
	return nil
}

// SanitizeOutput masks sensitive values in tool output, keeping the key.
// JSON output stays valid JSON: values under secret keys become the string
// "[REDACTED]" and string values are screened with the text filters.
func (g *Guardrails) SanitizeOutput(output string) string {
	dec := json.NewDecoder(strings.NewReader(output))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil || dec.More() {
		return g.sanitizeText(output)
	}

	doc, changed := g.sanitizeValue(doc)
	if !changed {
		return output
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return g.sanitizeText(output)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func (g *Guardrails) sanitizeValue(v any) (any, bool) {
	switch val := v.(type) {
	case map[string]any:
		changed := false
		for k, inner := range val {
			if g.secretKeys.MatchString(k) {
				if s, ok := inner.(string); !ok || s != redacted {
					val[k] = redacted
					changed = true
				}
				continue
			}
			next, c := g.sanitizeValue(inner)
			val[k] = next
			changed = changed || c
		}
		return val, changed
	case []any:
		changed := false
		for i, inner := range val {
			next, c := g.sanitizeValue(inner)
			val[i] = next
			changed = changed || c
		}
		return val, changed
	case string:
		s := g.sanitizeText(val)
		return s, s != val
	default:
		return v, false
	}
}

func (g *Guardrails) sanitizeText(text string) string {
	for _, filter := range g.outputFilters {
		text = filter.ReplaceAllString(text, "${1}"+redacted)
	}
	return text
}
