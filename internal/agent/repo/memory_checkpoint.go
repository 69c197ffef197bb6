package repo

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/agentic-pharmacy/server/internal/agent/model"
)

// MemoryCheckpointStore keeps checkpoints in process memory. Used in tests and
// when Redis is disabled.
type MemoryCheckpointStore struct {
	mu      sync.RWMutex
	threads map[string][]*schema.Message
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{threads: make(map[string][]*schema.Message)}
}

func (m *MemoryCheckpointStore) Load(_ context.Context, threadID string) (*model.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &model.Checkpoint{ThreadID: threadID, Messages: cloneMessages(m.threads[threadID])}, nil
}

func (m *MemoryCheckpointStore) Save(_ context.Context, cp *model.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(cp.Messages) == 0 {
		delete(m.threads, cp.ThreadID)
		return nil
	}
	m.threads[cp.ThreadID] = cloneMessages(cp.Messages)
	return nil
}

func (m *MemoryCheckpointStore) Clear(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
	return nil
}

// cloneMessages copies each message so callers cannot mutate stored history.
func cloneMessages(msgs []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		cp := *msg
		if len(msg.ToolCalls) > 0 {
			cp.ToolCalls = append([]schema.ToolCall(nil), msg.ToolCalls...)
		}
		out = append(out, &cp)
	}
	return out
}

var _ model.CheckpointStore = (*MemoryCheckpointStore)(nil)
