package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
	"github.com/xeipuuv/gojsonschema"
)

const rootField = "(root)"

// Validator checks raw tool arguments against declared schemas.
// Compiled JSON schemas are cached by their rendered document.
type Validator struct {
	mu       sync.Mutex
	compiled map[string]*gojsonschema.Schema
}

func NewValidator() *Validator {
	return &Validator{compiled: make(map[string]*gojsonschema.Schema)}
}

// Validate decodes raw into Arguments that conform to schema. Missing
// required parameters are reported before type errors, and parameters the
// schema does not declare are dropped from the result.
func (v *Validator) Validate(schema ports.Schema, raw json.RawMessage) (ports.Arguments, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &ValidationError{Kind: TypeMismatch, Detail: fmt.Sprintf("arguments are not valid JSON: %v", err)}
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, &ValidationError{Kind: TypeMismatch, Detail: "arguments must be a JSON object"}
	}

	compiled, err := v.compile(schema)
	if err != nil {
		return nil, err
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, &ValidationError{Kind: TypeMismatch, Detail: err.Error()}
	}
	if !result.Valid() {
		return nil, classify(result.Errors())
	}

	return project(schema, obj), nil
}

func (v *Validator) compile(schema ports.Schema) (*gojsonschema.Schema, error) {
	doc, err := schema.JSONSchema()
	if err != nil {
		return nil, fmt.Errorf("render schema: %w", err)
	}
	key := string(doc)

	v.mu.Lock()
	defer v.mu.Unlock()
	if compiled, ok := v.compiled[key]; ok {
		return compiled, nil
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.compiled[key] = compiled
	return compiled, nil
}

// classify turns gojsonschema results into a single ValidationError.
func classify(errs []gojsonschema.ResultError) *ValidationError {
	var missing []string
	for _, e := range errs {
		if e.Type() == "required" && e.Field() == rootField {
			if prop, ok := e.Details()["property"].(string); ok {
				missing = append(missing, prop)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ValidationError{
			Kind:      MissingParameter,
			Parameter: missing[0],
			Detail:    "missing required parameter: " + strings.Join(missing, ", "),
		}
	}

	first := errs[0]
	field := first.Field()
	if field == rootField {
		field = ""
	}
	return &ValidationError{
		Kind:      TypeMismatch,
		Parameter: field,
		Detail:    first.String(),
	}
}

// project keeps only declared parameters, recursing into object shapes.
func project(schema ports.Schema, obj map[string]any) ports.Arguments {
	out := make(ports.Arguments, len(schema))
	for name, p := range schema {
		val, ok := obj[name]
		if !ok {
			continue
		}
		if p.Type == ports.TypeObject && len(p.Properties) > 0 {
			if nested, ok := val.(map[string]any); ok {
				val = map[string]any(project(p.Properties, nested))
			}
		}
		out[name] = val
	}
	return out
}
