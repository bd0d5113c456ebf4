package adapters

import (
	"context"
	"fmt"
	"time"

	dbpkg "github.com/ZanzyTHEbar/toolrun/trun/db"
	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormThreadStore implements ThreadStore on sqlite or postgres through gorm.
type GormThreadStore struct {
	db *gorm.DB
}

type messageRow struct {
	Seq       uint64 `gorm:"primaryKey;autoIncrement"`
	ThreadID  string `gorm:"size:128;not null;uniqueIndex:idx_thread_message"`
	MessageID string `gorm:"size:128;not null;uniqueIndex:idx_thread_message"`
	Role      string `gorm:"size:32;not null"`
	Content   string `gorm:"type:text;not null"`
	RunID     string `gorm:"size:128"`
	CallID    string `gorm:"size:128"`
	CreatedAt time.Time
}

func (messageRow) TableName() string { return "thread_messages" }

type artifactRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	ThreadID  string `gorm:"size:128;not null;index"`
	ToolName  string `gorm:"size:128;not null"`
	Payload   string `gorm:"type:text;not null"`
	CreatedAt time.Time
}

func (artifactRow) TableName() string { return "tool_artifacts" }

func NewGormThreadStore(driver, dsn string) (*GormThreadStore, error) {
	gormDB, err := dbpkg.OpenGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open gorm store: %w", err)
	}
	return NewGormThreadStoreFromDB(gormDB)
}

// NewGormThreadStoreFromDB migrates and wraps an existing handle.
func NewGormThreadStoreFromDB(gormDB *gorm.DB) (*GormThreadStore, error) {
	if err := gormDB.AutoMigrate(&messageRow{}, &artifactRow{}); err != nil {
		return nil, fmt.Errorf("migrate thread store: %w", err)
	}
	return &GormThreadStore{db: gormDB}, nil
}

func (s *GormThreadStore) SaveMessage(ctx context.Context, threadID string, msg ports.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	row := messageRow{
		ThreadID:  threadID,
		MessageID: msg.ID,
		Role:      msg.Role,
		Content:   msg.Content,
		RunID:     msg.RunID,
		CallID:    msg.CallID,
		CreatedAt: msg.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *GormThreadStore) LoadMessages(ctx context.Context, threadID string, k int) ([]ports.Message, error) {
	query := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("seq DESC")
	if k > 0 {
		query = query.Limit(k)
	}

	var rows []messageRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	msgs := make([]ports.Message, len(rows))
	for i, row := range rows {
		msgs[len(rows)-1-i] = ports.Message{
			ID:        row.MessageID,
			ThreadID:  row.ThreadID,
			Role:      row.Role,
			Content:   row.Content,
			RunID:     row.RunID,
			CallID:    row.CallID,
			CreatedAt: row.CreatedAt,
		}
	}
	return msgs, nil
}

func (s *GormThreadStore) AppendToolArtifact(ctx context.Context, threadID, name string, payload []byte) error {
	row := artifactRow{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		ToolName:  name,
		Payload:   string(payload),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("save tool artifact: %w", err)
	}
	return nil
}

// toolArtifacts returns the payloads recorded for a thread, oldest first.
func (s *GormThreadStore) toolArtifacts(ctx context.Context, threadID string) ([]toolArtifact, error) {
	var rows []artifactRow
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load tool artifacts: %w", err)
	}
	out := make([]toolArtifact, len(rows))
	for i, row := range rows {
		out[i] = toolArtifact{ThreadID: row.ThreadID, Tool: row.ToolName, Payload: row.Payload, CreatedAt: row.CreatedAt}
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *GormThreadStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ ports.ThreadStore = (*GormThreadStore)(nil)
