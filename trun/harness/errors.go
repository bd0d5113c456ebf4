package harness

import (
	"errors"
	"fmt"

	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
)

var (
	ErrDuplicateTool   = errors.New("tool already registered")
	ErrInvalidToolSpec = errors.New("invalid tool spec")
	ErrToolNotFound    = errors.New("tool not found")
	ErrToolNotAllowed  = errors.New("tool not allowed")

	ErrMissingParameter = errors.New("missing parameter")
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrExecutionFailed  = errors.New("execution failed")

	ErrInvalidRunState       = errors.New("invalid run state")
	ErrIncompleteToolOutputs = errors.New("incomplete tool outputs")

	// ErrTimedOut means the caller gave up waiting; the run itself may still be alive.
	ErrTimedOut      = errors.New("timed out waiting for run")
	ErrRunFailed     = errors.New("run failed")
	ErrRunExpired    = errors.New("run expired")
	ErrRunCancelled  = errors.New("run cancelled")
	ErrRunIncomplete = errors.New("run incomplete")
	ErrMaxToolRounds = errors.New("max tool rounds exceeded")
)

// ValidationKind classifies argument validation failures.
type ValidationKind string

const (
	MissingParameter ValidationKind = "missing_parameter"
	TypeMismatch     ValidationKind = "type_mismatch"
)

// ValidationError describes why raw arguments were rejected.
type ValidationError struct {
	Kind      ValidationKind
	Parameter string
	Detail    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	if e.Kind == MissingParameter {
		return ErrMissingParameter
	}
	return ErrTypeMismatch
}

// ExecutionError wraps a handler failure, panic or timeout.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() []error {
	return []error{ErrExecutionFailed, e.Err}
}

// RunError reports a run that ended without a usable answer.
type RunError struct {
	RunID   string
	Status  ports.RunStatus
	Code    string
	Message string
	Err     error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("run %s (%s): %v", e.RunID, e.Status, e.Err)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	return msg
}

func (e *RunError) Unwrap() error { return e.Err }

// failureFor maps a terminal failure status to its sentinel.
func failureFor(status ports.RunStatus) error {
	switch status {
	case ports.RunExpired:
		return ErrRunExpired
	case ports.RunCancelled:
		return ErrRunCancelled
	case ports.RunIncomplete:
		return ErrRunIncomplete
	default:
		return ErrRunFailed
	}
}

func newRunFailure(run ports.Run) *RunError {
	rerr := &RunError{RunID: run.ID, Status: run.Status, Err: failureFor(run.Status)}
	if run.LastError != nil {
		rerr.Code = run.LastError.Code
		rerr.Message = run.LastError.Message
	}
	return rerr
}
