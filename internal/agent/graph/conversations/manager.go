package conversations

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/agentic-pharmacy/server/internal/agent/model"
)

// MessagesManager owns the read-modify-write of a thread's checkpoint.
// Callers hold Lock(threadID) for the whole turn.
type MessagesManager struct {
	store       model.CheckpointStore
	maxMessages int
	locks       *threadLocks
}

func NewMessagesManager(store model.CheckpointStore, config model.ConversationConfig) *MessagesManager {
	return &MessagesManager{
		store:       store,
		maxMessages: config.MaxMessages,
		locks:       newThreadLocks(),
	}
}

// Lock serialises turns on one thread. The returned func releases it.
func (mm *MessagesManager) Lock(threadID string) func() {
	return mm.locks.lock(threadID)
}

// Begin resumes the thread's history and appends the new user message. A
// thread without a checkpoint starts from systemPrompt.
func (mm *MessagesManager) Begin(ctx context.Context, threadID, systemPrompt, query string) ([]*schema.Message, error) {
	cp, err := mm.store.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	var messages []*schema.Message
	if cp.Empty() {
		messages = []*schema.Message{schema.SystemMessage(systemPrompt)}
	} else {
		messages = append(messages, cp.Messages...)
	}
	return append(messages, schema.UserMessage(query)), nil
}

// Commit stores the turn's history, trimmed to the configured size.
func (mm *MessagesManager) Commit(ctx context.Context, threadID string, history []*schema.Message) error {
	cp := &model.Checkpoint{ThreadID: threadID, Messages: trimHistory(history, mm.maxMessages)}
	if err := mm.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (mm *MessagesManager) Clear(ctx context.Context, threadID string) error {
	unlock := mm.Lock(threadID)
	defer unlock()
	return mm.store.Clear(ctx, threadID)
}

// ====================== Helper function ======================

// trimHistory keeps a leading system prompt plus at most maxMessages of the
// tail. The cut moves forward to a user message so a tool result never loses
// the assistant call it answers. When no user message follows the cut, the
// last user message is kept even if that exceeds the cap.
func trimHistory(messages []*schema.Message, maxMessages int) []*schema.Message {
	var head []*schema.Message
	body := messages
	if len(body) > 0 && body[0] != nil && body[0].Role == schema.System {
		head, body = body[:1], body[1:]
	}
	if maxMessages <= 0 || len(body) <= maxMessages {
		return append(append([]*schema.Message{}, head...), body...)
	}

	cut := len(body) - maxMessages
	start := -1
	for i := cut; i < len(body); i++ {
		if body[i] != nil && body[i].Role == schema.User {
			start = i
			break
		}
	}
	if start < 0 {
		for i := cut - 1; i >= 0; i-- {
			if body[i] != nil && body[i].Role == schema.User {
				start = i
				break
			}
		}
	}
	if start < 0 {
		start = 0
	}

	result := make([]*schema.Message, 0, len(head)+len(body)-start)
	result = append(result, head...)
	return append(result, body[start:]...)
}
