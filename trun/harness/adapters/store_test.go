package adapters

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ZanzyTHEbar/toolrun/trun/db"
	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
)

// artifactStore is a ThreadStore that can read back tool artifacts.
type artifactStore interface {
	ports.ThreadStore
	toolArtifacts(ctx context.Context, threadID string) ([]toolArtifact, error)
}

// ThreadStoreSuite runs the same behaviour checks against every backend.
type ThreadStoreSuite struct {
	suite.Suite
	open  func(t *testing.T) artifactStore
	store artifactStore
}

func TestGormThreadStore(t *testing.T) {
	suite.Run(t, &ThreadStoreSuite{open: func(t *testing.T) artifactStore {
		store, err := NewGormThreadStore("sqlite", filepath.Join(t.TempDir(), "threads.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	}})
}

func TestLibSQLThreadStore(t *testing.T) {
	suite.Run(t, &ThreadStoreSuite{open: func(t *testing.T) artifactStore {
		conn, err := db.Open(context.Background(), db.Options{Path: filepath.Join(t.TempDir(), "threads.db"), WAL: true}, zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })

		store, err := NewLibSQLThreadStore(context.Background(), conn)
		require.NoError(t, err)
		return store
	}})
}

func (s *ThreadStoreSuite) SetupTest() {
	s.store = s.open(s.T())
}

func (s *ThreadStoreSuite) TestSaveAndLoadInOrder() {
	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	for i := 1; i <= 4; i++ {
		msg := ports.Message{
			ID:        fmt.Sprintf("msg_%d", i),
			Role:      ports.RoleUser,
			Content:   fmt.Sprintf("turn %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		s.Require().NoError(s.store.SaveMessage(ctx, "thread_1", msg))
	}
	s.Require().NoError(s.store.SaveMessage(ctx, "thread_2", ports.Message{ID: "other", Role: ports.RoleUser}))

	all, err := s.store.LoadMessages(ctx, "thread_1", 0)
	s.Require().NoError(err)
	s.Require().Len(all, 4)
	s.Equal("msg_1", all[0].ID)
	s.Equal("thread_1", all[0].ThreadID)
	s.Equal("msg_4", all[3].ID)

	last, err := s.store.LoadMessages(ctx, "thread_1", 2)
	s.Require().NoError(err)
	s.Require().Len(last, 2)
	s.Equal("msg_3", last[0].ID)
	s.Equal("msg_4", last[1].ID)
	s.True(last[1].CreatedAt.Equal(base.Add(4 * time.Second)))
}

func (s *ThreadStoreSuite) TestSaveIsIdempotentPerMessage() {
	ctx := context.Background()
	msg := ports.Message{ID: "call_1", Role: ports.RoleTool, Content: `{"sum":5}`, RunID: "run_1", CallID: "call_1"}

	s.Require().NoError(s.store.SaveMessage(ctx, "thread_1", msg))
	msg.Content = "changed"
	s.Require().NoError(s.store.SaveMessage(ctx, "thread_1", msg))

	msgs, err := s.store.LoadMessages(ctx, "thread_1", 10)
	s.Require().NoError(err)
	s.Require().Len(msgs, 1)
	s.Equal(`{"sum":5}`, msgs[0].Content)
	s.Equal("run_1", msgs[0].RunID)
	s.Equal("call_1", msgs[0].CallID)
}

func (s *ThreadStoreSuite) TestToolArtifacts() {
	ctx := context.Background()
	s.Require().NoError(s.store.AppendToolArtifact(ctx, "thread_1", "addNumbers", []byte(`{"sum":5}`)))
	s.Require().NoError(s.store.AppendToolArtifact(ctx, "thread_1", "addNumbers", []byte(`{"sum":5}`)))

	artifacts, err := s.store.toolArtifacts(ctx, "thread_1")
	s.Require().NoError(err)
	s.Require().Len(artifacts, 2)
	s.Equal("addNumbers", artifacts[0].Tool)
	s.Equal(`{"sum":5}`, artifacts[0].Payload)

	none, err := s.store.toolArtifacts(ctx, "thread_2")
	s.Require().NoError(err)
	s.Empty(none)
}

func TestGormThreadStore_RejectsUnknownDriver(t *testing.T) {
	_, err := NewGormThreadStore("oracle", "dsn")
	assert.Error(t, err)
}
