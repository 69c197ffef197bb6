package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

type CheckpointStore interface {
	// Load returns the checkpoint for a thread. A thread with no checkpoint
	// yields an empty Checkpoint, not an error.
	Load(ctx context.Context, threadID string) (*Checkpoint, error)

	// Save replaces the stored history for cp.ThreadID.
	Save(ctx context.Context, cp *Checkpoint) error

	// Clear removes the thread's checkpoint.
	Clear(ctx context.Context, threadID string) error
}

// Checkpoint is the persisted message history of one conversation thread.
// Messages[0] is the system prompt once the thread has started.
type Checkpoint struct {
	ThreadID string
	Messages []*schema.Message
}

func (c *Checkpoint) Empty() bool {
	return c == nil || len(c.Messages) == 0
}
