package harnessports

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// ParamType is a JSON type a tool parameter may declare.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

func (t ParamType) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray:
		return true
	}
	return false
}

// Parameter declares one named argument of a tool.
type Parameter struct {
	Type        ParamType
	Description string
	Required    bool
	Enum        []string   // allowed values, string parameters only
	Properties  Schema     // shape of an object parameter
	Items       *Parameter // element type of an array parameter
}

// Schema maps parameter names to their declarations.
type Schema map[string]Parameter

// Check reports unknown types or malformed nested declarations.
func (s Schema) Check() error {
	for name, p := range s {
		if err := p.check(name); err != nil {
			return err
		}
	}
	return nil
}

func (p Parameter) check(path string) error {
	if !p.Type.valid() {
		return fmt.Errorf("parameter %s: unknown type %q", path, p.Type)
	}
	if len(p.Enum) > 0 && p.Type != TypeString {
		return fmt.Errorf("parameter %s: enum requires type string", path)
	}
	for name, child := range p.Properties {
		if err := child.check(path + "." + name); err != nil {
			return err
		}
	}
	if p.Items != nil {
		return p.Items.check(path + "[]")
	}
	return nil
}

// JSONSchema renders the schema as a JSON Schema object document.
func (s Schema) JSONSchema() ([]byte, error) {
	return json.Marshal(s.document())
}

func (s Schema) document() map[string]any {
	props := make(map[string]any, len(s))
	required := []string{}
	for name, p := range s {
		props[name] = p.document()
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	doc := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func (p Parameter) document() map[string]any {
	var doc map[string]any
	if p.Type == TypeObject {
		doc = p.Properties.document()
	} else {
		doc = map[string]any{"type": string(p.Type)}
	}
	if p.Description != "" {
		doc["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		doc["enum"] = p.Enum
	}
	if p.Type == TypeArray && p.Items != nil {
		doc["items"] = p.Items.document()
	}
	return doc
}

// Arguments are validated tool arguments keyed by parameter name.
type Arguments map[string]any

// Has reports whether the named argument was supplied.
func (a Arguments) Has(name string) bool {
	_, ok := a[name]
	return ok
}

func (a Arguments) Float(name string) (float64, bool) {
	v, ok := a[name].(float64)
	return v, ok
}

func (a Arguments) String(name string) (string, bool) {
	v, ok := a[name].(string)
	return v, ok
}

func (a Arguments) Bool(name string) (bool, bool) {
	v, ok := a[name].(bool)
	return v, ok
}

// Object returns a nested object argument.
func (a Arguments) Object(name string) (Arguments, bool) {
	v, ok := a[name].(map[string]any)
	return Arguments(v), ok
}

// Handler executes a tool against validated arguments.
type Handler func(ctx context.Context, args Arguments) (any, error)

// ToolSpec describes a callable tool exposed to the model.
type ToolSpec struct {
	Name        string // unique logical name
	Description string // concise doc for model selection
	Parameters  Schema
	Handler     Handler
	Idempotent  bool // results may be served from cache
}

// ToolCallRequest is one function invocation requested by the remote run.
type ToolCallRequest struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

// ToolCallResult is the outcome reported back for a single call.
type ToolCallResult struct {
	CallID string
	Name   string
	Output string // JSON text, either the handler result or an error object
	Err    error  // local failure detail, never sent to the service
}
