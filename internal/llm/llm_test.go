package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
)

// fakeModel replies from a script, one entry per call.
type fakeModel struct {
	replies []string
	errs    []error
	calls   int
	last    []llms.MessageContent
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	i := f.calls
	f.calls++
	f.last = messages
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.replies) {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.replies[i]}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func fastRetry() qaerrors.RetryConfig {
	return qaerrors.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestComplete(t *testing.T) {
	t.Run("sends system and user messages", func(t *testing.T) {
		m := &fakeModel{replies: []string{"  rewritten  "}}
		c := NewWithModel(m, Config{Retry: fastRetry()})

		out, err := c.Complete(context.Background(), "be brief", "hello")

		require.NoError(t, err)
		assert.Equal(t, "rewritten", out)
		require.Len(t, m.last, 2)
		assert.Equal(t, llms.ChatMessageTypeSystem, m.last[0].Role)
		assert.Equal(t, llms.ChatMessageTypeHuman, m.last[1].Role)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		m := &fakeModel{errs: []error{errors.New("503"), nil}, replies: []string{"", "ok"}}
		c := NewWithModel(m, Config{Retry: fastRetry()})

		out, err := c.Complete(context.Background(), "s", "p")

		require.NoError(t, err)
		assert.Equal(t, "ok", out)
		assert.Equal(t, 2, m.calls)
	})

	t.Run("gives up with LLM error", func(t *testing.T) {
		boom := errors.New("down")
		m := &fakeModel{errs: []error{boom, boom, boom}}
		c := NewWithModel(m, Config{Retry: fastRetry()})

		_, err := c.Complete(context.Background(), "s", "p")

		assert.True(t, qaerrors.HasCode(err, qaerrors.ErrCodeLLMFailed))
		assert.Equal(t, 3, m.calls)
	})

	t.Run("no choices is empty text", func(t *testing.T) {
		c := NewWithModel(&fakeModel{}, Config{Retry: fastRetry()})

		out, err := c.Complete(context.Background(), "s", "p")

		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		c := NewWithModel(&fakeModel{errs: []error{context.Canceled}}, Config{Retry: fastRetry()})

		_, err := c.Complete(ctx, "s", "p")

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNew_RequiresKeyOrBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.Equal(t, qaerrors.CategoryConfig, qaerrors.GetCategory(err))

	c, err := New(Config{BaseURL: "http://localhost:11434/v1"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.Model())
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `["a"]`, StripCodeFence("```json\n[\"a\"]\n```"))
	assert.Equal(t, `["a"]`, StripCodeFence(` ["a"] `))
}
