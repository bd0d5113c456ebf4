package harness

import (
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
)

// RunRequestBuilder assembles run-creation requests from the registry and
// configured instructions.
type RunRequestBuilder struct {
	registry               *Registry
	assistantID            string
	model                  string
	instructions           string
	additionalInstructions string
}

func NewRunRequestBuilder(registry *Registry, assistantID string) *RunRequestBuilder {
	return &RunRequestBuilder{registry: registry, assistantID: assistantID}
}

// WithInstructions sets run-level instructions that replace the assistant's own.
func (b *RunRequestBuilder) WithInstructions(instructions string) *RunRequestBuilder {
	b.instructions = normalize(instructions)
	return b
}

// WithAdditionalInstructions sets text appended to the assistant's instructions.
func (b *RunRequestBuilder) WithAdditionalInstructions(instructions string) *RunRequestBuilder {
	b.additionalInstructions = normalize(instructions)
	return b
}

func (b *RunRequestBuilder) WithModel(model string) *RunRequestBuilder {
	b.model = strings.TrimSpace(model)
	return b
}

func (b *RunRequestBuilder) AssistantID() string { return b.assistantID }

// Build serializes every registered tool into the request.
func (b *RunRequestBuilder) Build() (ports.RunRequest, error) {
	if b.assistantID == "" {
		return ports.RunRequest{}, fmt.Errorf("assistant id is required")
	}
	tools, err := ToolDefinitions(b.registry.Specs())
	if err != nil {
		return ports.RunRequest{}, err
	}
	return ports.RunRequest{
		AssistantID:            b.assistantID,
		Model:                  b.model,
		Instructions:           b.instructions,
		AdditionalInstructions: b.additionalInstructions,
		Tools:                  tools,
	}, nil
}

// ToolDefinitions renders specs into their wire declarations.
func ToolDefinitions(specs []ports.ToolSpec) ([]ports.ToolDefinition, error) {
	defs := make([]ports.ToolDefinition, 0, len(specs))
	for _, spec := range specs {
		params, err := spec.Parameters.JSONSchema()
		if err != nil {
			return nil, fmt.Errorf("render schema for %s: %w", spec.Name, err)
		}
		defs = append(defs, ports.ToolDefinition{
			Name:        spec.Name,
			Description: normalize(spec.Description),
			Parameters:  params,
		})
	}
	return defs, nil
}

// normalize trims and unifies newlines so identical config yields identical requests.
func normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}
