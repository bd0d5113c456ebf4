package harnessports

import (
	"context"
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state reported by the remote service.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunExpired        RunStatus = "expired"
	RunCancelled      RunStatus = "cancelled"
	RunIncomplete     RunStatus = "incomplete"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunExpired, RunCancelled, RunIncomplete:
		return true
	}
	return false
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a conversation thread.
type Message struct {
	ID        string
	ThreadID  string
	Role      string
	Content   string
	RunID     string // run that produced the message, empty for user turns
	CallID    string // tool call answered by a tool message
	CreatedAt time.Time
}

// ErrorInfo is the failure detail attached to a run by the service.
type ErrorInfo struct {
	Code    string
	Message string
}

// Run is a snapshot of one model execution against a thread.
type Run struct {
	ID             string
	ThreadID       string
	AssistantID    string
	Status         RunStatus
	RequiredAction []ToolCallRequest // populated while Status is requires_action
	LastError      *ErrorInfo
	CreatedAt      time.Time
}

// ToolDefinition is the wire form of a tool declaration.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// RunRequest starts a run on a thread.
type RunRequest struct {
	AssistantID            string
	Model                  string // optional override of the assistant's model
	Instructions           string // replaces the assistant instructions when set
	AdditionalInstructions string // appended to the assistant instructions
	Tools                  []ToolDefinition
}

// ToolOutput answers one pending tool call.
type ToolOutput struct {
	ToolCallID string
	Output     string
}

// AssistantService is the remote conversational endpoint.
type AssistantService interface {
	CreateThread(ctx context.Context) (threadID string, err error)
	AddMessage(ctx context.Context, threadID, role, content string) (Message, error)
	CreateRun(ctx context.Context, threadID string, req RunRequest) (Run, error)
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error)
	// ListMessages returns the whole thread, oldest first.
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
	CancelRun(ctx context.Context, threadID, runID string) (Run, error)
}

// AssistantDefinition configures a new assistant.
type AssistantDefinition struct {
	Name         string
	Instructions string
	Model        string
	Tools        []ToolDefinition
}

// AssistantProvisioner creates assistants on the remote service.
type AssistantProvisioner interface {
	CreateAssistant(ctx context.Context, def AssistantDefinition) (assistantID string, err error)
}
