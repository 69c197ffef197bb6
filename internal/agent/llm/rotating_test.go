package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	errx "github.com/agentic-pharmacy/server/internal/core/error"
	"github.com/agentic-pharmacy/server/internal/metrics"
)

// fakeModel returns err until it is cleared, then answers with its name.
type fakeModel struct {
	name  string
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls int
	tools []*schema.ToolInfo
}

func (f *fakeModel) Generate(ctx context.Context, _ []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.name, nil), nil
}

func (f *fakeModel) Stream(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (f *fakeModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return &fakeModel{name: f.name + "+tools", err: f.err, tools: tools}, nil
}

func (f *fakeModel) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var quotaErr = genai.APIError{Code: 429, Message: "Resource has been exhausted", Status: "RESOURCE_EXHAUSTED"}

func instances(ms ...*fakeModel) []einomodel.ToolCallingChatModel {
	out := make([]einomodel.ToolCallingChatModel, len(ms))
	for i, m := range ms {
		out[i] = m
	}
	return out
}

func TestRotatingModelAdvancesOncePerQuotaFailure(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("%d credentials", n), func(t *testing.T) {
			fakes := make([]*fakeModel, n)
			for i := range fakes {
				fakes[i] = &fakeModel{name: fmt.Sprintf("key-%d", i)}
				if i < n-1 {
					fakes[i].err = quotaErr
				}
			}
			mt := metrics.NewMetrics()
			rm, err := NewRotatingModel(instances(fakes...), WithMetrics(mt))
			require.NoError(t, err)

			out, err := rm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("key-%d", n-1), out.Content)
			assert.Equal(t, n-1, rm.Cursor())
			for i, f := range fakes {
				assert.Equal(t, 1, f.Calls(), "credential %d", i)
			}
			assert.Equal(t, float64(n-1), testutil.ToFloat64(mt.CredentialRotations))

			// The next call starts at the working credential.
			_, err = rm.Generate(context.Background(), nil)
			require.NoError(t, err)
			assert.Equal(t, n-1, rm.Cursor())
			assert.Equal(t, 2, fakes[n-1].Calls())
		})
	}
}

func TestRotatingModelNonQuotaErrorDoesNotAdvance(t *testing.T) {
	boom := errors.New("invalid argument: bad request")
	first := &fakeModel{name: "a", err: boom}
	second := &fakeModel{name: "b"}
	rm, err := NewRotatingModel(instances(first, second))
	require.NoError(t, err)

	_, err = rm.Generate(context.Background(), nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, rm.Cursor())
	assert.Zero(t, second.Calls())
}

func TestRotatingModelAllCredentialsExhausted(t *testing.T) {
	fakes := []*fakeModel{{name: "a", err: quotaErr}, {name: "b", err: &quotaErr}, {name: "c", err: errors.New("429 Too Many Requests")}}
	rm, err := NewRotatingModel(instances(fakes...))
	require.NoError(t, err)

	_, err = rm.Generate(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errx.ErrQuotaExhausted)
	assert.Contains(t, err.Error(), "429 Too Many Requests")
	for _, f := range fakes {
		assert.Equal(t, 1, f.Calls())
	}
	// Wrapped back to the first credential.
	assert.Equal(t, 0, rm.Cursor())
}

func TestRotatingModelWithToolsBindsEveryInstanceAndSharesCursor(t *testing.T) {
	first := &fakeModel{name: "a", err: quotaErr}
	second := &fakeModel{name: "b"}
	rm, err := NewRotatingModel(instances(first, second))
	require.NoError(t, err)

	tools := []*schema.ToolInfo{{Name: "check_medicine_stock"}}
	bound, err := rm.WithTools(tools)
	require.NoError(t, err)

	out, err := bound.Generate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "b+tools", out.Content)
	assert.Equal(t, 1, rm.Cursor())

	brm := bound.(*RotatingModel)
	for _, inst := range brm.instances {
		assert.Equal(t, tools, inst.(*fakeModel).tools)
	}
	// The unbound model keeps no tools.
	assert.Nil(t, rm.instances[1].(*fakeModel).tools)
}

func TestRotatingModelStreamRotates(t *testing.T) {
	rm, err := NewRotatingModel(instances(&fakeModel{name: "a", err: quotaErr}, &fakeModel{name: "b"}))
	require.NoError(t, err)

	sr, err := rm.Stream(context.Background(), nil)
	require.NoError(t, err)
	defer sr.Close()
	msg, err := sr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "b", msg.Content)
}

func TestRotatingModelCallTimeout(t *testing.T) {
	slow := &fakeModel{name: "slow", delay: time.Second}
	rm, err := NewRotatingModel(instances(slow), WithCallTimeout(20*time.Millisecond))
	require.NoError(t, err)

	_, err = rm.Generate(context.Background(), nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, rm.Cursor())
}

func TestRotatingModelConcurrentCallersAdvanceOnce(t *testing.T) {
	first := &fakeModel{name: "a", err: quotaErr}
	second := &fakeModel{name: "b"}
	third := &fakeModel{name: "c"}
	rm, err := NewRotatingModel(instances(first, second, third))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := rm.Generate(context.Background(), nil)
			assert.NoError(t, err)
			assert.Equal(t, "b", out.Content)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, rm.Cursor())
	assert.Zero(t, third.Calls())
}

func TestNewRotatingModelRejectsEmpty(t *testing.T) {
	_, err := NewRotatingModel(nil)
	assert.Error(t, err)
}

func TestIsQuotaError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"api error value", quotaErr, true},
		{"api error pointer", &genai.APIError{Code: 429}, true},
		{"wrapped status only", fmt.Errorf("generate: %w", genai.APIError{Code: 400, Status: "RESOURCE_EXHAUSTED"}), true},
		{"api error other code", genai.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "bad"}, false},
		{"message 429", errors.New("googleapi: Error 429: too busy"), true},
		{"message quota", errors.New("You exceeded your current quota"), true},
		{"message rate limit", errors.New("rate limit reached"), true},
		{"number containing 429", errors.New("request 14290 failed"), false},
		{"other", errors.New("connection refused"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsQuotaError(tc.err))
		})
	}
}
