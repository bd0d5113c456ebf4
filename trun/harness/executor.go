package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// errorOutput is the JSON body reported for a call that did not produce a result.
type errorOutput struct {
	Error  string `json:"error"`
	Name   string `json:"name,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithToolTimeout bounds each handler invocation.
func WithToolTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.toolTimeout = d
		}
	}
}

// WithConcurrency caps how many calls of a batch run at once; zero means unbounded.
// A stalled call keeps its slot until the tool timeout fires, so with a cap
// queued siblings can be delayed by up to one tool timeout per stalled call.
// They still run and get their own results.
func WithConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n >= 0 {
			e.concurrency = n
		}
	}
}

func WithGuardrails(g *Guardrails) ExecutorOption {
	return func(e *Executor) { e.guardrails = g }
}

// WithResultCache serves idempotent tools from cache.
func WithResultCache(cache ports.Cache, ttlSeconds int) ExecutorOption {
	return func(e *Executor) {
		e.cache = cache
		e.cacheTTL = ttlSeconds
	}
}

func WithExecutorTracer(t ports.Tracer) ExecutorOption {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

func WithExecutorLogger(l zerolog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// Executor validates and runs tool calls. It never returns an error to the
// caller: every failure is encoded into the call's output.
type Executor struct {
	registry    *Registry
	validator   *Validator
	guardrails  *Guardrails
	cache       ports.Cache
	cacheTTL    int
	tracer      ports.Tracer
	toolTimeout time.Duration
	concurrency int
	logger      zerolog.Logger
}

func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		validator:   NewValidator(),
		tracer:      &noOpTracer{},
		toolTimeout: 30 * time.Second,
		cacheTTL:    3600,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// InvokeBatch runs every call concurrently and returns one result per call,
// in request order. A slow or failing call only affects its own result.
func (e *Executor) InvokeBatch(ctx context.Context, calls []ports.ToolCallRequest) []ports.ToolCallResult {
	results := make([]ports.ToolCallResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	limit := e.concurrency
	if limit <= 0 || limit > len(calls) {
		limit = len(calls)
	}

	p := pool.New().WithMaxGoroutines(limit)
	for i, call := range calls {
		i, call := i, call
		p.Go(func() {
			results[i] = e.Invoke(ctx, call)
		})
	}
	p.Wait()
	return results
}

// Invoke runs a single call.
func (e *Executor) Invoke(ctx context.Context, call ports.ToolCallRequest) ports.ToolCallResult {
	ctx, finish := e.tracer.StartSpan(ctx, "tool_call", map[string]any{
		"tool":    call.Name,
		"call_id": call.CallID,
	})
	res := e.invoke(ctx, call)
	finish(res.Err)

	if res.Err != nil {
		e.logger.Warn().Err(res.Err).Str("tool", call.Name).Str("call_id", call.CallID).Msg("tool call failed")
	}
	return res
}

func (e *Executor) invoke(ctx context.Context, call ports.ToolCallRequest) ports.ToolCallResult {
	res := ports.ToolCallResult{CallID: call.CallID, Name: call.Name}

	spec, err := e.registry.Lookup(call.Name)
	if err != nil {
		return failed(res, errorOutput{Error: "tool not found", Name: call.Name}, err)
	}

	if e.guardrails != nil {
		if err := e.guardrails.CheckTool(call.Name); err != nil {
			return failed(res, errorOutput{Error: "tool not allowed", Name: call.Name}, err)
		}
		if err := e.guardrails.CheckArguments(call.Arguments); err != nil {
			return failed(res, errorOutput{Error: "tool not allowed", Name: call.Name, Detail: err.Error()},
				fmt.Errorf("%w: %v", ErrToolNotAllowed, err))
		}
	}

	args, err := e.validator.Validate(spec.Parameters, call.Arguments)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return failed(res, errorOutput{Error: string(verr.Kind), Detail: verr.Detail}, verr)
		}
		return e.executionFailed(res, spec.Name, err)
	}

	var cacheKey string
	if spec.Idempotent && e.cache != nil {
		cacheKey = resultCacheKey(spec.Name, args)
	}
	if cacheKey != "" {
		if cached, ok := e.cache.Get(ctx, cacheKey); ok {
			e.tracer.Event(ctx, "cache_hit", map[string]any{"tool": spec.Name})
			res.Output = string(cached)
			return res
		}
	}

	value, err := e.call(ctx, spec, args)
	if err != nil {
		return e.executionFailed(res, spec.Name, err)
	}

	output, err := encodeOutput(value)
	if err != nil {
		return e.executionFailed(res, spec.Name, fmt.Errorf("encode result: %w", err))
	}

	if e.guardrails != nil {
		output = e.guardrails.SanitizeOutput(output)
		if err := e.guardrails.CheckOutputSize(output); err != nil {
			return e.executionFailed(res, spec.Name, err)
		}
	}

	if cacheKey != "" {
		if err := e.cache.Set(ctx, cacheKey, []byte(output), e.cacheTTL); err != nil {
			e.logger.Debug().Err(err).Str("tool", spec.Name).Msg("cache set failed")
		}
	}

	res.Output = output
	return res
}

// call runs the handler under its own deadline and converts panics to errors.
func (e *Executor) call(ctx context.Context, spec ports.ToolSpec, args ports.Arguments) (any, error) {
	toolCtx, cancel := context.WithTimeout(ctx, e.toolTimeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		var out outcome
		var pc panics.Catcher
		pc.Try(func() {
			out.value, out.err = spec.Handler(toolCtx, args)
		})
		if r := pc.Recovered(); r != nil {
			out = outcome{err: fmt.Errorf("handler panicked: %v", r.Value)}
		}
		done <- out
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-toolCtx.Done():
		if errors.Is(toolCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("timed out after %s", e.toolTimeout)
		}
		return nil, toolCtx.Err()
	}
}

func (e *Executor) executionFailed(res ports.ToolCallResult, tool string, err error) ports.ToolCallResult {
	return failed(res, errorOutput{Error: "execution failed", Detail: err.Error()}, &ExecutionError{Tool: tool, Err: err})
}

func failed(res ports.ToolCallResult, body errorOutput, err error) ports.ToolCallResult {
	encoded, mErr := json.Marshal(body)
	if mErr != nil {
		encoded = []byte(`{"error":"execution failed"}`)
	}
	res.Output = string(encoded)
	res.Err = err
	return res
}

func encodeOutput(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	case []byte:
		return string(v), nil
	case nil:
		return "null", nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// resultCacheKey is stable for equal arguments since map keys marshal sorted.
func resultCacheKey(tool string, args ports.Arguments) string {
	encoded, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return "tool:" + tool + ":" + string(encoded)
}
