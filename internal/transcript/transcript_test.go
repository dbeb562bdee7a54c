package transcript

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/conversation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/dispatch"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/registry"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/tools"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/transport"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/transport/transporttest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.db")
	ctx := context.Background()

	s, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, "a", 1, []conversation.Message{conversation.UserMessage("hi")}))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.Entries(ctx, "a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hi", entries[0].Content)
}

func TestAppend(t *testing.T) {
	s := openTestStore(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	calls := []tools.ToolCallRequest{{ID: "call_1", Name: "list_pods_in_namespace", Arguments: map[string]any{"namespace": "X"}}}
	msgs := []conversation.Message{
		conversation.UserMessage("list pods in X"),
		conversation.AssistantToolCallsMessage("", calls),
		{Role: conversation.RoleTool, ToolCallID: "call_1", Content: `{"pods":["api-0"]}`},
		conversation.AssistantMessage("api-0 is running."),
	}
	require.NoError(t, s.Append(ctx, "sess", 1, msgs))
	require.NoError(t, s.Append(ctx, "other", 1, msgs[:1]))

	entries, err := s.Entries(ctx, "sess")
	require.NoError(t, err)
	require.Len(t, entries, 4)

	for i, e := range entries {
		assert.Equal(t, "sess", e.SessionID)
		assert.Equal(t, i+1, e.Position)
		assert.Equal(t, fixed, e.CreatedAt)
	}
	assert.Equal(t, "user", entries[0].Role)
	assert.Equal(t, "call_1", entries[2].ToolCallID)
	assert.Empty(t, entries[0].ToolCalls)

	var decoded []tools.ToolCallRequest
	require.NoError(t, json.Unmarshal([]byte(entries[1].ToolCalls), &decoded))
	assert.Equal(t, calls, decoded)

	ids, err := s.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess", "other"}, ids)
}

func TestAppend_Empty(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Append(context.Background(), "sess", 1, nil))

	entries, err := s.Entries(context.Background(), "sess")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecorder_WithEngine(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	reg := registry.New()
	t.Cleanup(func() { _ = reg.Close() })
	fake := transporttest.NewFake("k8s", transport.KindHTTP, "").
		AddProcedure("list_namespaces", nil, transporttest.Static([]any{"default"}))
	require.NoError(t, reg.Register(ctx, fake))

	step := 0
	model := conversation.ModelFunc(func(context.Context, []conversation.Message, []registry.ProcedureDescriptor) (*conversation.Completion, error) {
		step++
		if step == 1 {
			return &conversation.Completion{ToolCalls: []conversation.ToolCall{{ID: "call_1", Name: "list_namespaces"}}}, nil
		}
		return &conversation.Completion{Text: "only default."}, nil
	})

	engine := conversation.NewEngine(model, reg, dispatch.New(reg), conversation.WithRecorder(s.Recorder("sess")))

	_, err := engine.StartTurn(ctx, "which namespaces?")
	require.NoError(t, err)
	require.NoError(t, engine.Clear(ctx))
	_, err = engine.StartTurn(ctx, "again")
	require.NoError(t, err)

	entries, err := s.Entries(ctx, "sess")
	require.NoError(t, err)

	var roles []string
	var positions []int
	for _, e := range entries {
		roles = append(roles, e.Role)
		positions = append(positions, e.Position)
	}
	assert.Equal(t, []string{"user", "assistant", "tool", "assistant", ResetRole, "user", "assistant"}, roles)
	assert.Equal(t, []int{1, 2, 3, 4, -1, 5, 6}, positions)
	assert.JSONEq(t, `["default"]`, entries[2].Content)
}
