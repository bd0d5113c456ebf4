package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
	"github.com/sethvargo/go-retry"
)

// Statuses observable from each state. Observation may skip intermediate
// states, so every forward jump is listed.
var (
	transitions     = buildTransitions()
	afterSubmission = union(activeStatuses(), statusSet(ports.RunQueued))
)

func activeStatuses() map[ports.RunStatus]bool {
	return statusSet(
		ports.RunInProgress, ports.RunRequiresAction, ports.RunCancelling, ports.RunCompleted,
		ports.RunFailed, ports.RunExpired, ports.RunCancelled, ports.RunIncomplete,
	)
}

func buildTransitions() map[ports.RunStatus]map[ports.RunStatus]bool {
	t := make(map[ports.RunStatus]map[ports.RunStatus]bool)
	t[ports.RunQueued] = union(activeStatuses(), statusSet(ports.RunQueued))
	t[ports.RunInProgress] = activeStatuses()
	// outputs not yet submitted: the run cannot make progress on its own
	t[ports.RunRequiresAction] = statusSet(
		ports.RunRequiresAction, ports.RunCancelling, ports.RunCancelled, ports.RunExpired, ports.RunFailed,
	)
	t[ports.RunCancelling] = statusSet(
		ports.RunCancelling, ports.RunCancelled, ports.RunCompleted, ports.RunFailed, ports.RunExpired,
	)
	return t
}

func statusSet(statuses ...ports.RunStatus) map[ports.RunStatus]bool {
	set := make(map[ports.RunStatus]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}
	return set
}

func union(sets ...map[ports.RunStatus]bool) map[ports.RunStatus]bool {
	out := make(map[ports.RunStatus]bool)
	for _, set := range sets {
		for s := range set {
			out[s] = true
		}
	}
	return out
}

// RunTracker enforces the lifecycle of a single run as it is observed.
type RunTracker struct {
	run       ports.Run
	pending   []ports.ToolCallRequest
	submitted bool
	rounds    int
}

// NewRunTracker starts tracking from the first observed snapshot.
func NewRunTracker(run ports.Run) (*RunTracker, error) {
	if run.ID == "" {
		return nil, fmt.Errorf("%w: run has no id", ErrInvalidRunState)
	}
	t := &RunTracker{run: run}
	if run.Status == ports.RunRequiresAction {
		t.pending = run.RequiredAction
		t.rounds = 1
	}
	return t, nil
}

func (t *RunTracker) Run() ports.Run          { return t.run }
func (t *RunTracker) Status() ports.RunStatus { return t.run.Status }

// Rounds counts the distinct tool-call batches seen so far.
func (t *RunTracker) Rounds() int { return t.rounds }

// Settled reports whether the caller must act: the run either finished or
// is waiting on tool outputs that have not been submitted yet.
func (t *RunTracker) Settled() bool {
	s := t.run.Status
	return s.Terminal() || (s == ports.RunRequiresAction && !t.submitted)
}

// Observe applies a freshly fetched snapshot.
func (t *RunTracker) Observe(run ports.Run) error {
	if run.ID != t.run.ID {
		return fmt.Errorf("%w: observed run %s while tracking %s", ErrInvalidRunState, run.ID, t.run.ID)
	}

	current := t.run.Status
	if current.Terminal() {
		if run.Status == current {
			return nil
		}
		return fmt.Errorf("%w: %s is terminal, observed %s", ErrInvalidRunState, current, run.Status)
	}

	allowed := transitions[current]
	if current == ports.RunRequiresAction && t.submitted {
		allowed = afterSubmission
	}
	if !allowed[run.Status] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidRunState, current, run.Status)
	}

	if run.Status == ports.RunRequiresAction {
		switch {
		case current == ports.RunRequiresAction && t.submitted && sameCalls(t.pending, run.RequiredAction):
			// stale snapshot of the batch already answered
			return nil
		case current == ports.RunRequiresAction && !t.submitted && !sameCalls(t.pending, run.RequiredAction):
			return fmt.Errorf("%w: pending tool calls changed before submission", ErrInvalidRunState)
		case current != ports.RunRequiresAction || t.submitted:
			t.pending = run.RequiredAction
			t.submitted = false
			t.rounds++
		}
	}

	t.run = run
	return nil
}

// PendingToolCalls returns the batch awaiting outputs.
func (t *RunTracker) PendingToolCalls() ([]ports.ToolCallRequest, error) {
	if t.run.Status != ports.RunRequiresAction || t.submitted {
		return nil, fmt.Errorf("%w: no tool calls pending in %s", ErrInvalidRunState, t.run.Status)
	}
	calls := make([]ports.ToolCallRequest, len(t.pending))
	copy(calls, t.pending)
	return calls, nil
}

// PrepareSubmission checks that results answer every pending call exactly
// once and returns them as outputs in pending order.
func (t *RunTracker) PrepareSubmission(results []ports.ToolCallResult) ([]ports.ToolOutput, error) {
	if t.run.Status != ports.RunRequiresAction || t.submitted {
		return nil, fmt.Errorf("%w: cannot submit outputs in %s", ErrInvalidRunState, t.run.Status)
	}

	byID := make(map[string]ports.ToolCallResult, len(results))
	for _, r := range results {
		if _, dup := byID[r.CallID]; dup {
			return nil, fmt.Errorf("%w: duplicate output for call %s", ErrIncompleteToolOutputs, r.CallID)
		}
		byID[r.CallID] = r
	}

	outputs := make([]ports.ToolOutput, 0, len(t.pending))
	for _, call := range t.pending {
		r, ok := byID[call.CallID]
		if !ok {
			return nil, fmt.Errorf("%w: no output for call %s", ErrIncompleteToolOutputs, call.CallID)
		}
		outputs = append(outputs, ports.ToolOutput{ToolCallID: call.CallID, Output: r.Output})
		delete(byID, call.CallID)
	}
	for id := range byID {
		return nil, fmt.Errorf("%w: output for unknown call %s", ErrIncompleteToolOutputs, id)
	}
	return outputs, nil
}

// MarkSubmitted records a successful submission and the snapshot returned by it.
func (t *RunTracker) MarkSubmitted(run ports.Run) error {
	if t.run.Status != ports.RunRequiresAction || t.submitted {
		return fmt.Errorf("%w: nothing to submit in %s", ErrInvalidRunState, t.run.Status)
	}
	t.submitted = true
	return t.Observe(run)
}

func sameCalls(a, b []ports.ToolCallRequest) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[string]bool, len(a))
	for _, c := range a {
		ids[c.CallID] = true
	}
	for _, c := range b {
		if !ids[c.CallID] {
			return false
		}
	}
	return true
}

var errStillRunning = errors.New("run not settled")

// Poller re-fetches a run until it settles, backing off exponentially.
type Poller struct {
	service        ports.AssistantService
	interval       time.Duration
	maxInterval    time.Duration
	requestTimeout time.Duration
	tracer         ports.Tracer
}

func NewPoller(service ports.AssistantService, interval, maxInterval, requestTimeout time.Duration, tracer ports.Tracer) *Poller {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if maxInterval < interval {
		maxInterval = interval
	}
	if tracer == nil {
		tracer = &noOpTracer{}
	}
	return &Poller{
		service:        service,
		interval:       interval,
		maxInterval:    maxInterval,
		requestTimeout: requestTimeout,
		tracer:         tracer,
	}
}

// Wait blocks until the tracked run settles or ctx is done.
func (p *Poller) Wait(ctx context.Context, tracker *RunTracker) error {
	if tracker.Settled() {
		return nil
	}

	ctx, finish := p.tracer.StartSpan(ctx, "poll_run", map[string]any{"run_id": tracker.Run().ID})
	polls := 0

	backoff := retry.WithCappedDuration(p.maxInterval, retry.NewExponential(p.interval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		polls++
		run, err := p.fetch(ctx, tracker.Run())
		if err != nil {
			// a single slow request is retried while the overall wait allows it
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return retry.RetryableError(err)
			}
			return fmt.Errorf("get run: %w", err)
		}
		if err := tracker.Observe(run); err != nil {
			return err
		}
		if tracker.Settled() {
			return nil
		}
		return retry.RetryableError(errStillRunning)
	})

	p.tracer.Event(ctx, "poll_done", map[string]any{"polls": polls, "status": string(tracker.Status())})
	finish(err)
	return err
}

func (p *Poller) fetch(ctx context.Context, current ports.Run) (ports.Run, error) {
	if p.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()
	}
	return p.service.GetRun(ctx, current.ThreadID, current.ID)
}
