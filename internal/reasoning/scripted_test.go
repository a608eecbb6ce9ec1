package reasoning

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustaudit/internal/config"
)

func TestScripted_ReplaysSteps(t *testing.T) {
	s := NewScripted(
		ToolStep("investigate", map[string]any{"query": "q", "reason": "r"}),
		TextStep(`{"trust_score": 70}`),
	)
	ctx := context.Background()

	r1, err := s.Converse(ctx, []Message{UserMessage("a")}, []ToolDefinition{investigateDef})
	require.NoError(t, err)
	require.True(t, r1.HasToolCalls())
	assert.Equal(t, "call_0_0", r1.ToolCalls[0].ID)
	assert.Equal(t, "tool_calls", r1.StopReason)

	r2, err := s.Converse(ctx, []Message{UserMessage("a"), AssistantMessage(r1)}, nil)
	require.NoError(t, err)
	assert.False(t, r2.HasToolCalls())
	assert.Equal(t, `{"trust_score": 70}`, r2.Text)

	_, err = s.Converse(ctx, nil, nil)
	assert.True(t, errors.Is(err, ErrScriptExhausted))

	calls := s.Calls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[0].Tools, 1)
	assert.Len(t, calls[1].History, 2)
}

func TestScripted_LoopAndErrors(t *testing.T) {
	s := NewScripted(ErrorStep("boom"), TextStep("not json"))
	s.Loop = true
	ctx := context.Background()

	_, err := s.Converse(ctx, nil, nil)
	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "scripted", se.Provider)

	for i := 0; i < 3; i++ {
		r, err := s.Converse(ctx, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "not json", r.Text)
	}
	assert.Equal(t, 4, s.CallCount())
}

func TestScripted_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewScripted(TextStep("x")).Converse(ctx, nil, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
loop: true
steps:
  - tool_calls:
      - name: investigate
        input: {query: "acme roofing complaints", reason: "bbb grade F"}
  - text: '{"trust_score": 20}'
`), 0o644))

	s, err := LoadScript(path)
	require.NoError(t, err)
	assert.True(t, s.Loop)

	r, err := s.Converse(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, r.ToolCalls, 1)
	assert.Equal(t, "acme roofing complaints", r.ToolCalls[0].Input["query"])

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("steps: []\n"), 0o644))
	_, err = LoadScript(empty)
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()

	svc, err := NewFromConfig(ctx, config.ReasoningConfig{Provider: "scripted"}, time.Second)
	require.NoError(t, err)
	r, err := svc.Converse(ctx, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, r.Text, `"trust_score": 50`)

	svc, err = NewFromConfig(ctx, config.ReasoningConfig{Provider: "openai", APIKey: "k", Model: "gpt-x"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "openai", svc.Provider())
	assert.Equal(t, "gpt-x", svc.Model())

	_, err = NewFromConfig(ctx, config.ReasoningConfig{Provider: "claude"}, time.Second)
	assert.Error(t, err)
}
