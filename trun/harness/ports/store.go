package harnessports

import "context"

// ThreadStore persists thread messages and tool artifacts locally.
type ThreadStore interface {
	SaveMessage(ctx context.Context, threadID string, msg Message) error
	LoadMessages(ctx context.Context, threadID string, k int) ([]Message, error) // last-k messages, oldest first; k <= 0 loads all
	AppendToolArtifact(ctx context.Context, threadID, name string, payload []byte) error
}
