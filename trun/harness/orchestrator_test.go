package harness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
	"github.com/ZanzyTHEbar/toolrun/trun/harness/tools"
)

func testPolicy() *Policy {
	p := DefaultPolicy()
	p.PollInterval = time.Millisecond
	p.MaxPollInterval = 2 * time.Millisecond
	p.MaxWait = time.Second
	p.RequestTimeout = time.Second
	return p
}

func newTestOrchestrator(t *testing.T, svc *fakeService, store ports.ThreadStore, policy *Policy, extra ...ports.ToolSpec) *Orchestrator {
	t.Helper()
	r := NewRegistry()
	r.MustRegister(tools.Arithmetic()...)
	r.MustRegister(extra...)
	executor := NewExecutor(r, WithToolTimeout(policy.ToolTimeout))
	builder := NewRunRequestBuilder(r, "asst_1").WithInstructions("Please address the user as Jane Doe.")
	return NewOrchestrator(svc, executor, builder, store, nil, nil, policy, zerolog.Nop())
}

func TestOrchestrator_CompletesWithoutTools(t *testing.T) {
	svc := newFakeService()
	svc.createRun = runAt(ports.RunQueued)
	svc.snapshots = []ports.Run{runAt(ports.RunInProgress), runAt(ports.RunCompleted)}
	svc.reply("run_old", "msg_old", "earlier answer")
	svc.reply("run_1", "msg_a1", "Hello Jane Doe")
	store := newMemoryStore()
	o := newTestOrchestrator(t, svc, store, testPolicy())

	thread, err := o.StartThread(context.Background())
	require.NoError(t, err)
	res, err := o.Interact(context.Background(), thread, "hi")
	require.NoError(t, err)

	assert.Equal(t, "run_1", res.RunID)
	assert.Equal(t, ports.RunCompleted, res.Status)
	assert.Zero(t, res.ToolRounds)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "Hello Jane Doe", res.Messages[0].Content)

	require.Len(t, svc.requests, 1)
	req := svc.requests[0]
	assert.Equal(t, "asst_1", req.AssistantID)
	assert.Equal(t, "Please address the user as Jane Doe.", req.Instructions)
	assert.Len(t, req.Tools, 4)

	assert.Equal(t, 3, thread.Len())
	assert.Len(t, store.messages["thread_1"], 3)
	assert.Empty(t, svc.submissions())
}

func TestOrchestrator_AnswersToolCallsInOneSubmission(t *testing.T) {
	svc := newFakeService()
	svc.createRun = runAt(ports.RunRequiresAction,
		call("call_1", "addNumbers", `{"num1":2,"num2":3}`),
		call("call_2", "multNumbers", `{"num1":4,"num2":5}`),
	)
	svc.snapshots = []ports.Run{runAt(ports.RunCompleted)}
	svc.reply("run_1", "msg_a1", "2 + 3 = 5 and 4 * 5 = 20")
	store := newMemoryStore()
	o := newTestOrchestrator(t, svc, store, testPolicy())
	thread := NewThread("thread_1")

	res, err := o.Interact(context.Background(), thread, "compute please")
	require.NoError(t, err)

	subs := svc.submissions()
	require.Len(t, subs, 1)
	require.Len(t, subs[0], 2)
	assert.Equal(t, "call_1", subs[0][0].ToolCallID)
	assert.JSONEq(t, `{"num1":2,"num2":3,"sum":5}`, subs[0][0].Output)
	assert.Equal(t, "call_2", subs[0][1].ToolCallID)
	assert.JSONEq(t, `{"num1":4,"num2":5,"crossProd":20}`, subs[0][1].Output)

	assert.Equal(t, 1, res.ToolRounds)
	require.Len(t, res.Messages, 1)

	var toolMsgs []ports.Message
	for _, m := range thread.Messages() {
		if m.Role == ports.RoleTool {
			toolMsgs = append(toolMsgs, m)
		}
	}
	require.Len(t, toolMsgs, 2)
	assert.Equal(t, "call_1", toolMsgs[0].CallID)
	assert.Len(t, store.artifacts["thread_1"], 2)
}

func TestOrchestrator_FailedToolStillSubmitted(t *testing.T) {
	svc := newFakeService()
	svc.createRun = runAt(ports.RunRequiresAction,
		call("call_1", "divNumbers", `{"num1":10,"num2":0}`),
		call("call_2", "unknownTool", `{}`),
	)
	svc.snapshots = []ports.Run{runAt(ports.RunCompleted)}
	o := newTestOrchestrator(t, svc, nil, testPolicy())

	_, err := o.Interact(context.Background(), NewThread("thread_1"), "divide")
	require.NoError(t, err)

	subs := svc.submissions()
	require.Len(t, subs, 1)
	assert.Contains(t, subs[0][0].Output, "division by zero")
	assert.Contains(t, subs[0][1].Output, "tool not found")
}

func TestOrchestrator_MultipleRounds(t *testing.T) {
	svc := newFakeService()
	svc.createRun = runAt(ports.RunRequiresAction, call("call_1", "addNumbers", `{"num1":1,"num2":1}`))
	svc.onSubmit = func(outputs []ports.ToolOutput) ports.Run {
		if outputs[0].ToolCallID == "call_1" {
			return runAt(ports.RunRequiresAction, call("call_2", "subNumbers", `{"num1":2,"num2":1}`))
		}
		return runAt(ports.RunCompleted)
	}
	o := newTestOrchestrator(t, svc, nil, testPolicy())

	res, err := o.Interact(context.Background(), NewThread("thread_1"), "chain")
	require.NoError(t, err)

	assert.Equal(t, 2, res.ToolRounds)
	assert.Len(t, svc.submissions(), 2)
	assert.Zero(t, svc.gets)
}

func TestOrchestrator_TerminalFailures(t *testing.T) {
	tests := []struct {
		name   string
		status ports.RunStatus
		want   error
	}{
		{"failed", ports.RunFailed, ErrRunFailed},
		{"expired", ports.RunExpired, ErrRunExpired},
		{"cancelled", ports.RunCancelled, ErrRunCancelled},
		{"incomplete", ports.RunIncomplete, ErrRunIncomplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.createRun = runAt(ports.RunQueued)
			final := runAt(tt.status)
			final.LastError = &ports.ErrorInfo{Code: "server_error", Message: "something broke"}
			svc.snapshots = []ports.Run{runAt(ports.RunInProgress), final}
			o := newTestOrchestrator(t, svc, nil, testPolicy())

			res, err := o.Interact(context.Background(), NewThread("thread_1"), "hi")
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)

			var runErr *RunError
			require.ErrorAs(t, err, &runErr)
			assert.Equal(t, "run_1", runErr.RunID)
			assert.Equal(t, tt.status, runErr.Status)
			assert.Equal(t, "server_error", runErr.Code)
			assert.Equal(t, "something broke", runErr.Message)
		})
	}
}

func TestOrchestrator_TimesOutWithoutSubmitting(t *testing.T) {
	svc := newFakeService()
	svc.createRun = runAt(ports.RunQueued)
	svc.snapshots = []ports.Run{runAt(ports.RunInProgress)}
	policy := testPolicy()
	policy.MaxWait = 40 * time.Millisecond
	o := newTestOrchestrator(t, svc, nil, policy)

	_, err := o.Interact(context.Background(), NewThread("thread_1"), "hi")

	assert.ErrorIs(t, err, ErrTimedOut)
	assert.False(t, errors.Is(err, ErrRunExpired))
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, ports.RunInProgress, runErr.Status)
	assert.Empty(t, svc.submissions())
	assert.Empty(t, svc.cancelled)
}

func TestOrchestrator_TimeoutDuringToolsSkipsSubmission(t *testing.T) {
	svc := newFakeService()
	svc.createRun = runAt(ports.RunRequiresAction, call("call_1", "wait", `{}`))
	policy := testPolicy()
	policy.MaxWait = 30 * time.Millisecond
	policy.CancelOnAbort = true
	waitTool := ports.ToolSpec{
		Name: "wait",
		Handler: func(ctx context.Context, args ports.Arguments) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	o := newTestOrchestrator(t, svc, nil, policy, waitTool)

	_, err := o.Interact(context.Background(), NewThread("thread_1"), "hold on")

	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Empty(t, svc.submissions())
	assert.Equal(t, []string{"run_1"}, svc.cancelled)
}

func TestOrchestrator_MaxToolRounds(t *testing.T) {
	svc := newFakeService()
	svc.createRun = runAt(ports.RunRequiresAction, call("call_1", "addNumbers", `{"num1":1,"num2":1}`))
	svc.onSubmit = func(outputs []ports.ToolOutput) ports.Run {
		return runAt(ports.RunRequiresAction, call(outputs[0].ToolCallID+"_next", "addNumbers", `{"num1":1,"num2":1}`))
	}
	policy := testPolicy()
	policy.MaxToolRounds = 2
	policy.CancelOnAbort = true
	o := newTestOrchestrator(t, svc, nil, policy)

	_, err := o.Interact(context.Background(), NewThread("thread_1"), "loop forever")

	assert.ErrorIs(t, err, ErrMaxToolRounds)
	assert.Len(t, svc.submissions(), 2)
	assert.Equal(t, []string{"run_1"}, svc.cancelled)
}

func TestOrchestrator_CallerCancellationIsNotATimeout(t *testing.T) {
	svc := newFakeService()
	svc.createRun = runAt(ports.RunQueued)
	svc.snapshots = []ports.Run{runAt(ports.RunInProgress)}
	policy := testPolicy()
	policy.CancelOnAbort = true
	o := newTestOrchestrator(t, svc, nil, policy)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := o.Interact(ctx, NewThread("thread_1"), "hi")

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimedOut))
	assert.Empty(t, svc.cancelled)
}

func TestOrchestrator_ResumeAfterTimeout(t *testing.T) {
	svc := newFakeService()
	svc.snapshots = []ports.Run{runAt(ports.RunCompleted)}
	svc.reply("run_1", "msg_a1", "done at last")
	o := newTestOrchestrator(t, svc, nil, testPolicy())
	thread := NewThread("thread_1")

	res, err := o.Resume(context.Background(), thread, "run_1")
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "done at last", res.Messages[0].Content)
	assert.Empty(t, svc.requests)
}

func TestOrchestrator_RestoreThreadFromStore(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, store.SaveMessage(ctx, "thread_9", ports.Message{ID: id, Role: ports.RoleUser, Content: id}))
	}
	o := newTestOrchestrator(t, newFakeService(), store, testPolicy())

	thread, err := o.RestoreThread(ctx, "thread_9", 2)
	require.NoError(t, err)
	assert.Equal(t, "thread_9", thread.ID())

	msgs := thread.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].ID)
	assert.Equal(t, "thread_9", msgs[0].ThreadID)
}

func TestOrchestrator_RequiresAssistantID(t *testing.T) {
	svc := newFakeService()
	r := NewRegistry()
	o := NewOrchestrator(svc, NewExecutor(r), NewRunRequestBuilder(r, ""), nil, nil, nil, testPolicy(), zerolog.Nop())

	_, err := o.Interact(context.Background(), NewThread("thread_1"), "hi")
	assert.Error(t, err)
	assert.Empty(t, svc.userTurns)
}
