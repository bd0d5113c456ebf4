package harness

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
)

func TestThread_AppendDeduplicatesByID(t *testing.T) {
	th := NewThread("thread_1")

	assert.True(t, th.Append(ports.Message{ID: "m1", Role: ports.RoleUser, Content: "hi"}))
	assert.False(t, th.Append(ports.Message{ID: "m1", Role: ports.RoleUser, Content: "hi again"}))
	assert.True(t, th.Append(ports.Message{Role: ports.RoleAssistant, Content: "no id"}))
	assert.True(t, th.Append(ports.Message{Role: ports.RoleAssistant, Content: "no id"}))

	msgs := th.Messages()
	assert.Len(t, msgs, 3)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "thread_1", msgs[0].ThreadID)
}

func TestThread_MessagesReturnsCopy(t *testing.T) {
	th := NewThread("thread_1")
	th.Append(ports.Message{ID: "m1", Content: "original"})

	msgs := th.Messages()
	msgs[0].Content = "changed"

	assert.Equal(t, "original", th.Messages()[0].Content)
}

func TestThread_ConcurrentAppend(t *testing.T) {
	th := NewThread("thread_1")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			th.Append(ports.Message{ID: fmt.Sprintf("m%d", i%25)})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, th.Len())
}
