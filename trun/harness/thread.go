package harness

import (
	"sync"

	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
)

// Thread is the local, append-only view of a remote conversation thread.
// It is shared across runs on the same thread.
type Thread struct {
	mu       sync.RWMutex
	id       string
	messages []ports.Message
	seen     map[string]struct{}
}

func NewThread(id string) *Thread {
	return &Thread{id: id, seen: make(map[string]struct{})}
}

func (t *Thread) ID() string { return t.id }

// Append adds msg unless a message with the same ID is already present.
// It reports whether the message was added.
func (t *Thread) Append(msg ports.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.ID != "" {
		if _, dup := t.seen[msg.ID]; dup {
			return false
		}
		t.seen[msg.ID] = struct{}{}
	}
	if msg.ThreadID == "" {
		msg.ThreadID = t.id
	}
	t.messages = append(t.messages, msg)
	return true
}

// Messages returns a copy of the thread in insertion order.
func (t *Thread) Messages() []ports.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ports.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Thread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
