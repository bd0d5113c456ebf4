package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/toolrun/trun/db"
	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
	"github.com/google/uuid"
)

// LibSQLThreadStore implements ThreadStore on an embedded libsql database.
type LibSQLThreadStore struct {
	db *sql.DB
}

// NewLibSQLThreadStore migrates the schema and returns a store over conn.
func NewLibSQLThreadStore(ctx context.Context, conn *sql.DB) (*LibSQLThreadStore, error) {
	if err := db.Migrate(ctx, conn); err != nil {
		return nil, err
	}
	return &LibSQLThreadStore{db: conn}, nil
}

// SaveMessage inserts msg; a message already stored for the thread is left untouched.
func (s *LibSQLThreadStore) SaveMessage(ctx context.Context, threadID string, msg ports.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT OR IGNORE INTO thread_messages (thread_id, message_id, role, content, run_id, call_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, threadID, msg.ID, msg.Role, msg.Content, msg.RunID, msg.CallID, createdAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// LoadMessages loads the last k messages of a thread, oldest first.
func (s *LibSQLThreadStore) LoadMessages(ctx context.Context, threadID string, k int) ([]ports.Message, error) {
	if k <= 0 {
		k = -1 // sqlite: no limit
	}
	query := `
		SELECT message_id, role, content, run_id, call_id, created_at FROM thread_messages
		WHERE thread_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, threadID, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []ports.Message
	for rows.Next() {
		var (
			m       ports.Message
			created int64
		)
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.RunID, &m.CallID, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.ThreadID = threadID
		m.CreatedAt = time.Unix(0, created)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	// Reverse to get chronological order (oldest first)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// AppendToolArtifact records the raw output of one tool execution.
func (s *LibSQLThreadStore) AppendToolArtifact(ctx context.Context, threadID, name string, payload []byte) error {
	query := `
		INSERT INTO tool_artifacts (id, thread_id, tool_name, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, uuid.New().String(), threadID, name, string(payload), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save tool artifact: %w", err)
	}
	return nil
}

// toolArtifacts returns the payloads recorded for a thread, oldest first.
func (s *LibSQLThreadStore) toolArtifacts(ctx context.Context, threadID string) ([]toolArtifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_name, payload, created_at FROM tool_artifacts WHERE thread_id = ? ORDER BY created_at, id`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool artifacts: %w", err)
	}
	defer rows.Close()

	var out []toolArtifact
	for rows.Next() {
		var (
			a       toolArtifact
			created int64
		)
		if err := rows.Scan(&a.Tool, &a.Payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan tool artifact: %w", err)
		}
		a.ThreadID = threadID
		a.CreatedAt = time.Unix(0, created)
		out = append(out, a)
	}
	return out, rows.Err()
}

// toolArtifact is one persisted tool output.
type toolArtifact struct {
	ThreadID  string
	Tool      string
	Payload   string
	CreatedAt time.Time
}

var _ ports.ThreadStore = (*LibSQLThreadStore)(nil)
