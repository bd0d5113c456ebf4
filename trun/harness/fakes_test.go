package harness

import (
	"context"
	"fmt"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
)

// fakeService is a scripted AssistantService. GetRun replays snapshots in
// order and keeps returning the last one.
type fakeService struct {
	mu sync.Mutex

	threadID  string
	createRun ports.Run
	snapshots []ports.Run
	onSubmit  func(outputs []ports.ToolOutput) ports.Run
	getRun    func(ctx context.Context, n int) (ports.Run, error)
	messages  []ports.Message

	gets      int
	requests  []ports.RunRequest
	submitted [][]ports.ToolOutput
	cancelled []string
	userTurns []string
}

var _ ports.AssistantService = (*fakeService)(nil)

func newFakeService() *fakeService {
	return &fakeService{threadID: "thread_1"}
}

func (f *fakeService) CreateThread(ctx context.Context) (string, error) {
	return f.threadID, nil
}

func (f *fakeService) AddMessage(ctx context.Context, threadID, role, content string) (ports.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userTurns = append(f.userTurns, content)
	msg := ports.Message{
		ID:        fmt.Sprintf("msg_user_%d", len(f.userTurns)),
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Unix(int64(len(f.userTurns)), 0),
	}
	f.messages = append(f.messages, msg)
	return msg, nil
}

func (f *fakeService) CreateRun(ctx context.Context, threadID string, req ports.RunRequest) (ports.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.createRun, nil
}

func (f *fakeService) GetRun(ctx context.Context, threadID, runID string) (ports.Run, error) {
	f.mu.Lock()
	n := f.gets
	f.gets++
	getRun := f.getRun
	f.mu.Unlock()

	if getRun != nil {
		return getRun(ctx, n)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snapshots) == 0 {
		return ports.Run{}, fmt.Errorf("no snapshot for %s", runID)
	}
	if n >= len(f.snapshots) {
		n = len(f.snapshots) - 1
	}
	return f.snapshots[n], nil
}

func (f *fakeService) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ports.ToolOutput) (ports.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, outputs)
	if f.onSubmit != nil {
		return f.onSubmit(outputs), nil
	}
	return ports.Run{ID: runID, ThreadID: threadID, Status: ports.RunQueued}, nil
}

func (f *fakeService) ListMessages(ctx context.Context, threadID string) ([]ports.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ports.Message, len(f.messages))
	copy(out, f.messages)
	return out, nil
}

func (f *fakeService) CancelRun(ctx context.Context, threadID, runID string) (ports.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, runID)
	return ports.Run{ID: runID, ThreadID: threadID, Status: ports.RunCancelling}, nil
}

func (f *fakeService) reply(runID, id, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, ports.Message{
		ID:       id,
		ThreadID: f.threadID,
		Role:     ports.RoleAssistant,
		Content:  content,
		RunID:    runID,
	})
}

func (f *fakeService) submissions() [][]ports.ToolOutput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted
}

// memoryStore is an in-memory ThreadStore.
type memoryStore struct {
	mu        sync.Mutex
	messages  map[string][]ports.Message
	artifacts map[string][]string
}

var _ ports.ThreadStore = (*memoryStore)(nil)

func newMemoryStore() *memoryStore {
	return &memoryStore{messages: map[string][]ports.Message{}, artifacts: map[string][]string{}}
}

func (s *memoryStore) SaveMessage(ctx context.Context, threadID string, msg ports.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[threadID] = append(s.messages[threadID], msg)
	return nil
}

func (s *memoryStore) LoadMessages(ctx context.Context, threadID string, k int) ([]ports.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[threadID]
	if k > 0 && k < len(msgs) {
		msgs = msgs[len(msgs)-k:]
	}
	return append([]ports.Message(nil), msgs...), nil
}

func (s *memoryStore) AppendToolArtifact(ctx context.Context, threadID, name string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[threadID] = append(s.artifacts[threadID], name+"="+string(payload))
	return nil
}

func runAt(status ports.RunStatus, calls ...ports.ToolCallRequest) ports.Run {
	return ports.Run{ID: "run_1", ThreadID: "thread_1", AssistantID: "asst_1", Status: status, RequiredAction: calls}
}
