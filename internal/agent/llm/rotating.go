package llm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	errx "github.com/agentic-pharmacy/server/internal/core/error"
	"github.com/agentic-pharmacy/server/internal/metrics"
	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

// credentialRing is the cursor shared by a RotatingModel and every variant
// produced by WithTools.
type credentialRing struct {
	mu     sync.Mutex
	cursor int
	size   int
}

func (r *credentialRing) current() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// advance moves the cursor from -> from+1 (wrapping). If another caller has
// already moved it, the cursor is left alone and false is returned.
func (r *credentialRing) advance(from int) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := (from + 1) % r.size
	if r.cursor != from {
		return next, false
	}
	r.cursor = next
	return next, true
}

// RotatingModel presents N credential-bound chat models as one. A call starts
// at the shared cursor; a quota failure advances the cursor and retries the
// next instance, trying each instance at most once per call.
type RotatingModel struct {
	ring      *credentialRing
	instances []einomodel.ToolCallingChatModel
	timeout   time.Duration
	metrics   *metrics.Metrics
	isQuota   func(error) bool
}

type Option func(*RotatingModel)

// WithCallTimeout bounds each individual Generate attempt.
func WithCallTimeout(d time.Duration) Option {
	return func(m *RotatingModel) { m.timeout = d }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *RotatingModel) { m.metrics = mt }
}

// WithQuotaClassifier replaces IsQuotaError.
func WithQuotaClassifier(fn func(error) bool) Option {
	return func(m *RotatingModel) { m.isQuota = fn }
}

func NewRotatingModel(instances []einomodel.ToolCallingChatModel, opts ...Option) (*RotatingModel, error) {
	if len(instances) == 0 {
		return nil, errors.New("rotating model needs at least one instance")
	}
	for i, inst := range instances {
		if inst == nil {
			return nil, fmt.Errorf("model instance %d is nil", i)
		}
	}
	m := &RotatingModel{
		ring:      &credentialRing{size: len(instances)},
		instances: append([]einomodel.ToolCallingChatModel(nil), instances...),
		isQuota:   IsQuotaError,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Cursor returns the index of the credential the next call will start with.
func (m *RotatingModel) Cursor() int {
	return m.ring.current()
}

// Size returns the number of credentials.
func (m *RotatingModel) Size() int {
	return len(m.instances)
}

// WithTools binds tools to every instance and returns a variant that shares
// this model's cursor.
func (m *RotatingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	bound := make([]einomodel.ToolCallingChatModel, len(m.instances))
	for i, inst := range m.instances {
		b, err := inst.WithTools(tools)
		if err != nil {
			return nil, fmt.Errorf("bind tools to instance %d: %w", i, err)
		}
		bound[i] = b
	}
	cp := *m
	cp.instances = bound
	return &cp, nil
}

func (m *RotatingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	var out *schema.Message
	err := m.rotate(ctx, func(ctx context.Context, inst einomodel.ToolCallingChatModel) error {
		if m.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.timeout)
			defer cancel()
		}
		var err error
		out, err = inst.Generate(ctx, input, opts...)
		return err
	})
	return out, err
}

// Stream rotates only on failures returned when opening the stream; errors
// surfaced while reading it are the caller's.
func (m *RotatingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	var out *schema.StreamReader[*schema.Message]
	err := m.rotate(ctx, func(ctx context.Context, inst einomodel.ToolCallingChatModel) error {
		var err error
		out, err = inst.Stream(ctx, input, opts...)
		return err
	})
	return out, err
}

func (m *RotatingModel) rotate(ctx context.Context, call func(context.Context, einomodel.ToolCallingChatModel) error) error {
	idx := m.ring.current()
	var lastErr error
	for attempt := 0; attempt < len(m.instances); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := call(ctx, m.instances[idx])
		label := strconv.Itoa(idx)
		if err == nil {
			m.metrics.RecordModelCall(label, "ok")
			return nil
		}
		if !m.isQuota(err) {
			m.metrics.RecordModelCall(label, "error")
			return err
		}

		m.metrics.RecordModelCall(label, "quota")
		lastErr = err
		next, moved := m.ring.advance(idx)
		if moved {
			m.metrics.RecordRotation()
		}
		logx.Warn().Err(err).
			Int("key_index", idx).
			Int("next_key_index", next).
			Int("attempt", attempt+1).
			Int("keys", len(m.instances)).
			Msg("Model quota exhausted, rotating credential")
		idx = next
	}

	logx.Error().Err(lastErr).Int("keys", len(m.instances)).Msg("All model credentials exhausted")
	return fmt.Errorf("%w after %d credentials: %w", errx.ErrQuotaExhausted, len(m.instances), lastErr)
}

// IsCallbacksEnabled reports that the wrapped instances emit their own callbacks.
func (m *RotatingModel) IsCallbacksEnabled() bool {
	return true
}

func (m *RotatingModel) GetType() string {
	return "RotatingChatModel"
}

var _ einomodel.ToolCallingChatModel = (*RotatingModel)(nil)
