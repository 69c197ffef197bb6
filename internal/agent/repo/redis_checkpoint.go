package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/agentic-pharmacy/server/internal/agent/model"
	errx "github.com/agentic-pharmacy/server/internal/core/error"
	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

type RedisCheckpointStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisCheckpointStore(rdb redis.Cmdable, ttl time.Duration) *RedisCheckpointStore {
	return &RedisCheckpointStore{rdb: rdb, ttl: ttl}
}

func (r *RedisCheckpointStore) threadKey(threadID string) string {
	return fmt.Sprintf("pharmacy:thread:%s:messages", threadID)
}

func (r *RedisCheckpointStore) Load(ctx context.Context, threadID string) (*model.Checkpoint, error) {
	key := r.threadKey(threadID)

	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		logx.Error().Err(err).Str("key", key).Msg("failed to load checkpoint from redis")
		return nil, errx.WrapRedis(err)
	}

	msgs := make([]*schema.Message, 0, len(rows))
	for i, s := range rows {
		var m schema.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			logx.Error().Err(err).Str("thread_id", threadID).Int("index", i).Msg("failed to unmarshal message")
			return nil, fmt.Errorf("unmarshal message at index %d: %w", i, err)
		}
		msgs = append(msgs, &m)
	}
	return &model.Checkpoint{ThreadID: threadID, Messages: msgs}, nil
}

// Save rewrites the thread list in a MULTI/EXEC block and refreshes its TTL.
func (r *RedisCheckpointStore) Save(ctx context.Context, cp *model.Checkpoint) error {
	key := r.threadKey(cp.ThreadID)

	values := make([]any, 0, len(cp.Messages))
	for _, m := range cp.Messages {
		if m == nil {
			continue
		}
		b, err := json.Marshal(m)
		if err != nil {
			logx.Error().Err(err).Str("thread_id", cp.ThreadID).Msg("failed to marshal message")
			return fmt.Errorf("marshal message: %w", err)
		}
		values = append(values, b)
	}

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) == 0 {
			return nil
		}
		pipe.RPush(ctx, key, values...)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to save checkpoint to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisCheckpointStore) Clear(ctx context.Context, threadID string) error {
	key := r.threadKey(threadID)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete checkpoint from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

var _ model.CheckpointStore = (*RedisCheckpointStore)(nil)
