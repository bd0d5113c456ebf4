package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
	"github.com/rs/zerolog"
)

// Policy controls orchestration behavior.
type Policy struct {
	ToolTimeout     time.Duration // per-tool deadline
	ToolConcurrency int           // max concurrent calls per batch, 0 = whole batch
	MaxToolRounds   int           // requires_action rounds per run, 0 = unlimited
	MaxWait         time.Duration // wall-clock cap on one run
	PollInterval    time.Duration // first delay between status queries
	MaxPollInterval time.Duration // backoff ceiling
	RequestTimeout  time.Duration // per network call
	CancelOnAbort   bool          // cancel the remote run when giving up on it
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		ToolTimeout:     30 * time.Second,
		ToolConcurrency: 0,
		MaxToolRounds:   10,
		MaxWait:         2 * time.Minute,
		PollInterval:    500 * time.Millisecond,
		MaxPollInterval: 5 * time.Second,
		RequestTimeout:  30 * time.Second,
		CancelOnAbort:   false,
	}
}

// Result is the outcome of a completed run.
type Result struct {
	RunID      string
	Status     ports.RunStatus
	Messages   []ports.Message // assistant messages produced by the run, oldest first
	ToolRounds int
}

// Orchestrator drives one interaction from user turn to final answer.
type Orchestrator struct {
	service  ports.AssistantService
	executor *Executor
	builder  *RunRequestBuilder
	poller   *Poller
	store    ports.ThreadStore
	limiter  ports.RateLimiter
	tracer   ports.Tracer
	policy   *Policy
	logger   zerolog.Logger
}

// NewOrchestrator creates an orchestrator. Nil store, limiter and tracer are
// replaced with no-op implementations.
func NewOrchestrator(
	service ports.AssistantService,
	executor *Executor,
	builder *RunRequestBuilder,
	store ports.ThreadStore,
	limiter ports.RateLimiter,
	tracer ports.Tracer,
	policy *Policy,
	logger zerolog.Logger,
) *Orchestrator {
	if store == nil {
		store = &noOpStore{}
	}
	if limiter == nil {
		limiter = &noOpRateLimiter{}
	}
	if tracer == nil {
		tracer = &noOpTracer{}
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Orchestrator{
		service:  service,
		executor: executor,
		builder:  builder,
		poller:   NewPoller(service, policy.PollInterval, policy.MaxPollInterval, policy.RequestTimeout, tracer),
		store:    store,
		limiter:  limiter,
		tracer:   tracer,
		policy:   policy,
		logger:   logger,
	}
}

// StartThread creates a remote thread and its local view.
func (o *Orchestrator) StartThread(ctx context.Context) (*Thread, error) {
	ctx, cancel := o.requestContext(ctx)
	defer cancel()

	id, err := o.service.CreateThread(ctx)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return NewThread(id), nil
}

// RestoreThread rebuilds the local view of an existing thread from the store.
func (o *Orchestrator) RestoreThread(ctx context.Context, threadID string, k int) (*Thread, error) {
	msgs, err := o.store.LoadMessages(ctx, threadID, k)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	thread := NewThread(threadID)
	for _, m := range msgs {
		thread.Append(m)
	}
	return thread, nil
}

// Interact appends userTurn to the thread, starts a run and drives it to a
// final answer, executing requested tools along the way.
func (o *Orchestrator) Interact(ctx context.Context, thread *Thread, userTurn string) (res *Result, err error) {
	release, err := o.limiter.Acquire(ctx, "interact")
	if err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}
	defer release()

	ctx, finish := o.tracer.StartSpan(ctx, "interact", map[string]any{"thread_id": thread.ID()})
	defer func() { finish(err) }()

	req, err := o.builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build run request: %w", err)
	}

	msg, err := within(ctx, o.policy.RequestTimeout, func(ctx context.Context) (ports.Message, error) {
		return o.service.AddMessage(ctx, thread.ID(), ports.RoleUser, userTurn)
	})
	if err != nil {
		return nil, fmt.Errorf("add user message: %w", err)
	}
	o.record(ctx, thread, msg)

	run, err := within(ctx, o.policy.RequestTimeout, func(ctx context.Context) (ports.Run, error) {
		return o.service.CreateRun(ctx, thread.ID(), req)
	})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	o.logger.Debug().Str("run_id", run.ID).Str("status", string(run.Status)).Msg("run created")

	return o.drive(ctx, thread, run)
}

// Resume re-attaches to a run started earlier, for example after ErrTimedOut.
func (o *Orchestrator) Resume(ctx context.Context, thread *Thread, runID string) (res *Result, err error) {
	ctx, finish := o.tracer.StartSpan(ctx, "resume", map[string]any{"thread_id": thread.ID(), "run_id": runID})
	defer func() { finish(err) }()

	run, err := within(ctx, o.policy.RequestTimeout, func(ctx context.Context) (ports.Run, error) {
		return o.service.GetRun(ctx, thread.ID(), runID)
	})
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return o.drive(ctx, thread, run)
}

func (o *Orchestrator) drive(ctx context.Context, thread *Thread, run ports.Run) (*Result, error) {
	tracker, err := NewRunTracker(run)
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	if o.policy.MaxWait > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.policy.MaxWait)
		defer cancel()
	}

	for {
		if err := o.poller.Wait(runCtx, tracker); err != nil {
			if o.capReached(ctx, runCtx) {
				return nil, o.abort(tracker, ErrTimedOut)
			}
			return nil, fmt.Errorf("wait for run %s: %w", tracker.Run().ID, err)
		}

		current := tracker.Run()
		switch current.Status {
		case ports.RunCompleted:
			return o.complete(ctx, thread, tracker)
		case ports.RunRequiresAction:
			if o.policy.MaxToolRounds > 0 && tracker.Rounds() > o.policy.MaxToolRounds {
				return nil, o.abort(tracker, ErrMaxToolRounds)
			}
			if err := o.answerToolCalls(runCtx, thread, tracker); err != nil {
				if o.capReached(ctx, runCtx) {
					return nil, o.abort(tracker, ErrTimedOut)
				}
				return nil, err
			}
		default:
			return nil, newRunFailure(current)
		}
	}
}

// answerToolCalls executes the pending batch and submits all outputs at once.
func (o *Orchestrator) answerToolCalls(ctx context.Context, thread *Thread, tracker *RunTracker) error {
	calls, err := tracker.PendingToolCalls()
	if err != nil {
		return err
	}
	run := tracker.Run()

	batchCtx, finish := o.tracer.StartSpan(ctx, "tool_batch", map[string]any{
		"run_id": run.ID,
		"calls":  len(calls),
		"round":  tracker.Rounds(),
	})
	results := o.executor.InvokeBatch(batchCtx, calls)
	finish(nil)

	// outputs computed after the deadline are never sent
	if err := ctx.Err(); err != nil {
		return err
	}

	outputs, err := tracker.PrepareSubmission(results)
	if err != nil {
		return err
	}

	next, err := within(ctx, o.policy.RequestTimeout, func(ctx context.Context) (ports.Run, error) {
		return o.service.SubmitToolOutputs(ctx, run.ThreadID, run.ID, outputs)
	})
	if err != nil {
		return fmt.Errorf("submit tool outputs: %w", err)
	}
	if err := tracker.MarkSubmitted(next); err != nil {
		return err
	}

	now := time.Now()
	for _, r := range results {
		o.record(ctx, thread, ports.Message{
			ID:        r.CallID,
			ThreadID:  thread.ID(),
			Role:      ports.RoleTool,
			Content:   r.Output,
			RunID:     run.ID,
			CallID:    r.CallID,
			CreatedAt: now,
		})
		if err := o.store.AppendToolArtifact(ctx, thread.ID(), r.Name, []byte(r.Output)); err != nil {
			o.logger.Warn().Err(err).Str("tool", r.Name).Msg("failed to persist tool artifact")
		}
	}
	return nil
}

// complete pulls the thread and returns the assistant messages of this run.
func (o *Orchestrator) complete(ctx context.Context, thread *Thread, tracker *RunTracker) (*Result, error) {
	run := tracker.Run()

	msgs, err := within(ctx, o.policy.RequestTimeout, func(ctx context.Context) ([]ports.Message, error) {
		return o.service.ListMessages(ctx, thread.ID())
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	res := &Result{RunID: run.ID, Status: run.Status, ToolRounds: tracker.Rounds()}
	for _, m := range msgs {
		o.record(ctx, thread, m)
		if m.Role == ports.RoleAssistant && m.RunID == run.ID {
			res.Messages = append(res.Messages, m)
		}
	}
	return res, nil
}

// capReached distinguishes our own wall-clock cap from caller cancellation.
func (o *Orchestrator) capReached(parent, runCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded)
}

// abort gives up on the run locally and, if configured, asks the service to cancel it.
func (o *Orchestrator) abort(tracker *RunTracker, cause error) error {
	run := tracker.Run()
	o.logger.Warn().Err(cause).Str("run_id", run.ID).Str("status", string(run.Status)).Msg("abandoning run")

	if o.policy.CancelOnAbort {
		ctx, cancel := o.requestContext(context.Background())
		defer cancel()
		if _, err := o.service.CancelRun(ctx, run.ThreadID, run.ID); err != nil {
			o.logger.Warn().Err(err).Str("run_id", run.ID).Msg("cancel run failed")
		}
	}
	return &RunError{RunID: run.ID, Status: run.Status, Err: cause}
}

// record appends msg to the local thread and persists it when new.
func (o *Orchestrator) record(ctx context.Context, thread *Thread, msg ports.Message) {
	if !thread.Append(msg) {
		return
	}
	if err := o.store.SaveMessage(ctx, thread.ID(), msg); err != nil {
		o.tracer.Event(ctx, "store_error", map[string]any{"error": err.Error()})
		o.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to persist message")
	}
}

func (o *Orchestrator) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.policy.RequestTimeout > 0 {
		return context.WithTimeout(ctx, o.policy.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// within runs fn under a per-request deadline.
func within[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}
