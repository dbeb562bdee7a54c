package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/dispatch"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/registry"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/tools"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/transport"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/transport/transporttest"
)

var namespaceSchema = map[string]any{
	"type":       "object",
	"properties": map[string]any{"namespace": map[string]any{"type": "string"}},
	"required":   []any{"namespace"},
}

func podsTransport(id, clusterContext string) *transporttest.Fake {
	return transporttest.NewFake(id, transport.KindHTTP, clusterContext).
		AddProcedure("list_namespaces", nil, transporttest.Static([]any{"default", "X"})).
		AddProcedure("list_pods_in_namespace", namespaceSchema, func(_ context.Context, args map[string]any) (*transport.Result, error) {
			return &transport.Result{Payload: map[string]any{
				"namespace": args["namespace"],
				"cluster":   clusterContext,
				"pods":      []any{"api-0", "api-1"},
			}}, nil
		})
}

type harness struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
}

func newHarness(t *testing.T, dispatchOpts []dispatch.Option, fakes ...*transporttest.Fake) *harness {
	t.Helper()
	reg := registry.New()
	for _, f := range fakes {
		require.NoError(t, reg.Register(context.Background(), f))
	}
	t.Cleanup(func() { _ = reg.Close() })
	return &harness{registry: reg, dispatcher: dispatch.New(reg, dispatchOpts...)}
}

func (h *harness) engine(m Model, opts ...Option) *Engine {
	return NewEngine(m, h.registry, h.dispatcher, opts...)
}

// scriptedModel answers with its steps in order and records every input.
type scriptedModel struct {
	mu     sync.Mutex
	steps  []*Completion
	inputs [][]Message
}

func script(steps ...*Completion) *scriptedModel {
	return &scriptedModel{steps: steps}
}

func (m *scriptedModel) Complete(_ context.Context, history []Message, _ []registry.ProcedureDescriptor) (*Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, cloneMessages(history))
	if len(m.steps) == 0 {
		return &Completion{Text: "done"}, nil
	}
	step := m.steps[0]
	m.steps = m.steps[1:]
	return step, nil
}

func (m *scriptedModel) Inputs() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputs
}

func callPods(id, namespace string) ToolCall {
	return ToolCall{ID: id, Name: "list_pods_in_namespace", Arguments: map[string]any{"namespace": namespace}}
}

func TestStartTurn_ListPodsScenario(t *testing.T) {
	h := newHarness(t, nil, podsTransport("k8s", ""))
	model := script(
		&Completion{ToolCalls: []ToolCall{callPods("call_1", "X")}},
		&Completion{Text: "Namespace X runs api-0 and api-1."},
	)
	e := h.engine(model)
	before := e.Len()

	answer, err := e.StartTurn(context.Background(), "list pods in namespace X")

	require.NoError(t, err)
	assert.Equal(t, "Namespace X runs api-0 and api-1.", answer)
	assert.Equal(t, before+4, e.Len())

	history := e.History()[before:]
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, RoleAssistant, history[1].Role)
	require.Len(t, history[1].ToolCalls, 1)
	assert.Equal(t, RoleTool, history[2].Role)
	assert.Equal(t, "call_1", history[2].ToolCallID)
	require.NotNil(t, history[2].Result)
	assert.True(t, history[2].Result.OK())
	assert.JSONEq(t, `{"namespace":"X","cluster":"","pods":["api-0","api-1"]}`, history[2].Content)
	assert.Equal(t, RoleAssistant, history[3].Role)
	assert.Equal(t, StateIdle, e.State())

	// The second model call sees the tool result.
	inputs := model.Inputs()
	require.Len(t, inputs, 2)
	assert.Len(t, inputs[1], before+3)
}

func TestStartTurn_FoldsInRequestOrder(t *testing.T) {
	f := transporttest.NewFake("k8s", transport.KindHTTP, "").
		AddProcedure("slow", nil, transporttest.Sleep(120*time.Millisecond, "slow")).
		AddProcedure("medium", nil, transporttest.Sleep(60*time.Millisecond, "medium")).
		AddProcedure("fast", nil, transporttest.Static("fast"))
	h := newHarness(t, nil, f)

	var mu sync.Mutex
	var finished []int
	observer := ObserverFunc(func(ev Event) {
		if done, ok := ev.(ToolCallFinished); ok {
			mu.Lock()
			finished = append(finished, done.Index)
			mu.Unlock()
		}
	})

	e := h.engine(script(
		&Completion{ToolCalls: []ToolCall{
			{ID: "a", Name: "slow"},
			{ID: "b", Name: "medium"},
			{ID: "c", Name: "fast"},
		}},
		&Completion{Text: "ok"},
	), WithObserver(observer))

	_, err := e.StartTurn(context.Background(), "run them")
	require.NoError(t, err)

	var ids, contents []string
	for _, m := range e.History() {
		if m.Role == RoleTool {
			ids = append(ids, m.ToolCallID)
			contents = append(contents, m.Content)
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, []string{"slow", "medium", "fast"}, contents)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 1, 0}, finished, "completion order differs from request order")
}

func TestStartTurn_HungToolLeavesSessionUsable(t *testing.T) {
	f := transporttest.NewFake("k8s", transport.KindHTTP, "").
		AddProcedure("hang", nil, transporttest.Sleep(10*time.Second, nil)).
		AddProcedure("list_namespaces", nil, transporttest.Static([]any{"default"}))
	h := newHarness(t, []dispatch.Option{dispatch.WithTimeout(50 * time.Millisecond)}, f)

	e := h.engine(script(
		&Completion{ToolCalls: []ToolCall{
			{ID: "1", Name: "list_namespaces"},
			{ID: "2", Name: "hang"},
			{ID: "3", Name: "list_namespaces"},
		}},
		&Completion{Text: "partial answer"},
		&Completion{Text: "second turn"},
	))

	start := time.Now()
	answer, err := e.StartTurn(context.Background(), "what is there?")
	require.NoError(t, err)
	assert.Equal(t, "partial answer", answer)
	assert.Less(t, time.Since(start), 2*time.Second)

	var results []*tools.ToolCallResult
	for _, m := range e.History() {
		if m.Role == RoleTool {
			results = append(results, m.Result)
		}
	}
	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.Equal(t, tools.KindTimeout, results[1].Error.Kind)
	assert.True(t, results[2].OK())

	answer, err = e.StartTurn(context.Background(), "again")
	require.NoError(t, err)
	assert.Equal(t, "second turn", answer)
}

func TestClear_MatchesFreshSession(t *testing.T) {
	h := newHarness(t, nil, podsTransport("k8s", ""))

	used := script(
		&Completion{ToolCalls: []ToolCall{callPods("call_1", "default")}},
		&Completion{Text: "first"},
		&Completion{Text: "after reset"},
	)
	e := h.engine(used)
	_, err := e.StartTurn(context.Background(), "list pods")
	require.NoError(t, err)
	require.NoError(t, e.Clear(context.Background()))
	_, err = e.StartTurn(context.Background(), "X")
	require.NoError(t, err)

	fresh := script(&Completion{Text: "after reset"})
	_, err = h.engine(fresh).StartTurn(context.Background(), "X")
	require.NoError(t, err)

	usedInputs := used.Inputs()
	freshInputs := fresh.Inputs()
	assert.Equal(t, freshInputs[0], usedInputs[len(usedInputs)-1])
	assert.Equal(t, []Message{SystemMessage(DefaultSystemPrompt), UserMessage("X")}, freshInputs[0])
}

func TestStartTurn_BudgetExhausted(t *testing.T) {
	h := newHarness(t, nil, podsTransport("k8s", ""))

	var calls atomic.Int32
	always := ModelFunc(func(context.Context, []Message, []registry.ProcedureDescriptor) (*Completion, error) {
		calls.Add(1)
		return &Completion{ToolCalls: []ToolCall{{Name: "list_namespaces"}}}, nil
	})
	e := h.engine(always, WithTurnBudget(3), WithMaxHistory(0))
	before := e.Len()

	answer, err := e.StartTurn(context.Background(), "loop forever")

	require.ErrorIs(t, err, ErrTurnBudgetExhausted)
	assert.Equal(t, BudgetExhaustedText, answer)
	assert.Equal(t, int32(3), calls.Load())

	history := e.History()
	// user + 3 * (assistant + tool) + diagnostic
	assert.Len(t, history, before+8)
	last := history[len(history)-1]
	assert.Equal(t, AssistantMessage(BudgetExhaustedText), last)
	assert.Equal(t, StateIdle, e.State())
}

func TestStartTurn_ModelErrorRevertsHistory(t *testing.T) {
	h := newHarness(t, nil, podsTransport("k8s", ""))
	boom := errors.New("rate limited")

	round := 0
	model := ModelFunc(func(context.Context, []Message, []registry.ProcedureDescriptor) (*Completion, error) {
		round++
		if round == 1 {
			return &Completion{ToolCalls: []ToolCall{callPods("c1", "X")}}, nil
		}
		return nil, boom
	})
	e := h.engine(model)
	before := e.History()

	_, err := e.StartTurn(context.Background(), "list pods in X")

	var modelErr *ModelError
	require.ErrorAs(t, err, &modelErr)
	assert.Equal(t, 2, modelErr.Round)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, before, e.History())
	assert.Equal(t, StateIdle, e.State())
}

func TestStartTurn_ModelTimeout(t *testing.T) {
	h := newHarness(t, nil, podsTransport("k8s", ""))
	model := ModelFunc(func(ctx context.Context, _ []Message, _ []registry.ProcedureDescriptor) (*Completion, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := h.engine(model, WithModelTimeout(20*time.Millisecond))

	_, err := e.StartTurn(context.Background(), "hello")

	var modelErr *ModelError
	require.ErrorAs(t, err, &modelErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, e.Len())
}

func TestStartTurn_CancelWhileAwaitingModel(t *testing.T) {
	h := newHarness(t, nil, podsTransport("k8s", ""))
	started := make(chan struct{})
	model := ModelFunc(func(ctx context.Context, _ []Message, _ []registry.ProcedureDescriptor) (*Completion, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := h.engine(model)

	go func() {
		<-started
		e.Cancel()
	}()
	_, err := e.StartTurn(context.Background(), "hello")

	require.ErrorIs(t, err, ErrTurnCancelled)
	assert.Equal(t, []Message{SystemMessage(DefaultSystemPrompt)}, e.History())
	assert.Equal(t, StateIdle, e.State())
}

func TestStartTurn_CancelDuringDispatch(t *testing.T) {
	f := transporttest.NewFake("k8s", transport.KindHTTP, "").
		AddProcedure("hang", nil, transporttest.Sleep(10*time.Second, nil))
	h := newHarness(t, nil, f)

	var observed atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	observer := ObserverFunc(func(ev Event) {
		if _, ok := ev.(ToolCallsStarted); ok {
			observed.Store(true)
			go func() {
				time.Sleep(20 * time.Millisecond)
				cancel()
			}()
		}
	})
	e := h.engine(script(&Completion{ToolCalls: []ToolCall{{ID: "h", Name: "hang"}}}), WithObserver(observer))

	_, err := e.StartTurn(ctx, "hang please")

	require.ErrorIs(t, err, ErrTurnCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, observed.Load())
	assert.Equal(t, 1, e.Len(), "cancelled results are never folded")
}

func TestStartTurn_CancelKeepsFoldedRounds(t *testing.T) {
	h := newHarness(t, nil, podsTransport("k8s", ""))
	var calls atomic.Int32
	model := ModelFunc(func(ctx context.Context, _ []Message, _ []registry.ProcedureDescriptor) (*Completion, error) {
		if calls.Add(1) == 1 {
			return &Completion{ToolCalls: []ToolCall{callPods("call_1", "X")}}, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := h.engine(model)
	before := e.Len()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for calls.Load() < 2 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	_, err := e.StartTurn(ctx, "list pods in namespace X")

	require.ErrorIs(t, err, ErrTurnCancelled)
	history := e.History()[before:]
	require.Len(t, history, 3, "the completed round stays, the model call in flight is dropped")
	assert.Equal(t, RoleUser, history[0].Role)
	assert.True(t, history[1].HasToolCalls())
	assert.Equal(t, RoleTool, history[2].Role)
	assert.Equal(t, "call_1", history[2].ToolCallID)
	assert.Equal(t, StateIdle, e.State())
}

func TestStartTurn_RejectsConcurrentTurn(t *testing.T) {
	h := newHarness(t, nil, podsTransport("k8s", ""))
	started := make(chan struct{})
	release := make(chan struct{})
	model := ModelFunc(func(context.Context, []Message, []registry.ProcedureDescriptor) (*Completion, error) {
		close(started)
		<-release
		return &Completion{Text: "first"}, nil
	})
	e := h.engine(model)

	done := make(chan error, 1)
	go func() {
		_, err := e.StartTurn(context.Background(), "one")
		done <- err
	}()
	<-started

	_, err := e.StartTurn(context.Background(), "two")
	assert.ErrorIs(t, err, ErrTurnInProgress)
	assert.ErrorIs(t, e.Clear(context.Background()), ErrTurnInProgress)
	assert.Equal(t, StateAwaitingModel, e.State())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 3, e.Len())
}

func TestStartTurn_ContextHintRoutesCall(t *testing.T) {
	prod := podsTransport("k8s@prod", "prod")
	dev := podsTransport("k8s@dev", "dev")
	h := newHarness(t, nil, prod, dev)

	e := h.engine(script(
		&Completion{ToolCalls: []ToolCall{
			{ID: "1", Name: "list_pods_in_namespace", Arguments: map[string]any{"namespace": "X"}, ContextHint: "dev"},
			{ID: "2", Name: "list_pods_in_namespace", Arguments: map[string]any{"namespace": "X", "cluster_context": "dev"}},
			{ID: "3", Name: "list_pods_in_namespace", Arguments: map[string]any{"namespace": "X"}},
		}},
		&Completion{Text: "compared"},
	))

	_, err := e.StartTurn(context.Background(), "compare clusters")
	require.NoError(t, err)

	assert.Len(t, dev.Calls(), 2)
	assert.Len(t, prod.Calls(), 1, "the first registered context is the default")
}

func TestStartTurn_AssignsMissingAndDuplicateCallIDs(t *testing.T) {
	h := newHarness(t, nil, podsTransport("k8s", ""))
	e := h.engine(script(
		&Completion{ToolCalls: []ToolCall{
			{Name: "list_namespaces"},
			{ID: "dup", Name: "list_namespaces"},
			{ID: "dup", Name: "list_namespaces"},
		}},
		&Completion{Text: "ok"},
	))

	_, err := e.StartTurn(context.Background(), "ids")
	require.NoError(t, err)

	history := e.History()
	ids := history[2].CallIDs()
	assert.Equal(t, []string{"call_1_1", "dup", "call_1_3"}, ids)
	for i, id := range ids {
		assert.Equal(t, id, history[3+i].ToolCallID)
	}
}

func TestStartTurn_ErrorResultsAreFolded(t *testing.T) {
	h := newHarness(t, nil, podsTransport("k8s", ""))
	e := h.engine(script(
		&Completion{ToolCalls: []ToolCall{{ID: "bad", Name: "list_pods_in_namespace"}}},
		&Completion{Text: "namespace is required"},
	))

	_, err := e.StartTurn(context.Background(), "pods?")
	require.NoError(t, err)

	tool := e.History()[3]
	assert.Equal(t, RoleTool, tool.Role)
	assert.Contains(t, tool.Content, `"kind":"validation"`)
}

func TestStartTurn_MalformedArgumentsAreRecoverable(t *testing.T) {
	f := podsTransport("k8s", "")
	h := newHarness(t, nil, f)
	e := h.engine(script(
		&Completion{ToolCalls: []ToolCall{{
			ID:             "call_1",
			Name:           "list_pods_in_namespace",
			ArgumentsError: errors.New("not a JSON object: unexpected end of JSON input"),
		}}},
		&Completion{ToolCalls: []ToolCall{callPods("call_2", "X")}},
		&Completion{Text: "Namespace X runs api-0 and api-1."},
	))
	before := e.Len()

	answer, err := e.StartTurn(context.Background(), "list pods in namespace X")
	require.NoError(t, err)
	assert.Equal(t, "Namespace X runs api-0 and api-1.", answer)
	assert.Equal(t, before+6, e.Len(), "the failed round stays in history")

	tool := e.History()[before+2]
	assert.Equal(t, "call_1", tool.ToolCallID)
	require.NotNil(t, tool.Result)
	require.NotNil(t, tool.Result.Error)
	assert.Equal(t, tools.KindValidation, tool.Result.Error.Kind)
	assert.Contains(t, tool.Content, "unexpected end of JSON input")

	assert.Equal(t, []string{"list_pods_in_namespace"}, f.Calls(), "the malformed call never reaches the transport")
}

func TestStartTurn_EmptyAnswerAndInput(t *testing.T) {
	h := newHarness(t, nil, podsTransport("k8s", ""))
	e := h.engine(script(&Completion{}))

	_, err := e.StartTurn(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)

	answer, err := e.StartTurn(context.Background(), "say nothing")
	require.NoError(t, err)
	assert.Equal(t, EmptyAnswerText, answer)
}

func TestStartTurn_WindowsHistory(t *testing.T) {
	h := newHarness(t, nil, podsTransport("k8s", ""))
	e := h.engine(script(), WithMaxHistory(5))

	for i := range 4 {
		_, err := e.StartTurn(context.Background(), fmt.Sprintf("question %d", i))
		require.NoError(t, err)
	}

	history := e.History()
	require.Len(t, history, 5)
	assert.Equal(t, RoleSystem, history[0].Role)
	assert.Equal(t, UserMessage("question 2"), history[1])
}

type recordedBatch struct {
	first int
	msgs  []Message
}

type memoryRecorder struct {
	mu      sync.Mutex
	batches []recordedBatch
	resets  int
}

func (r *memoryRecorder) RecordMessages(_ context.Context, first int, msgs []Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, recordedBatch{first: first, msgs: msgs})
	return nil
}

func (r *memoryRecorder) RecordReset(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	return nil
}

func TestRecorder(t *testing.T) {
	h := newHarness(t, nil, podsTransport("k8s", ""))
	rec := &memoryRecorder{}
	e := h.engine(script(
		&Completion{ToolCalls: []ToolCall{callPods("c1", "X")}},
		&Completion{Text: "one"},
		&Completion{Text: "two"},
	), WithRecorder(rec))

	_, err := e.StartTurn(context.Background(), "first")
	require.NoError(t, err)
	require.NoError(t, e.Clear(context.Background()))
	_, err = e.StartTurn(context.Background(), "second")
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.batches, 2)
	assert.Equal(t, 1, rec.batches[0].first)
	assert.Len(t, rec.batches[0].msgs, 4)
	assert.Equal(t, 5, rec.batches[1].first, "sequence numbers keep increasing across resets")
	assert.Equal(t, 1, rec.resets)
}

func TestTurnFinishedEvent(t *testing.T) {
	h := newHarness(t, nil, podsTransport("k8s", ""))
	events := make(chan TurnFinished, 1)
	e := h.engine(script(&Completion{Text: "hi"}), WithObserver(ObserverFunc(func(ev Event) {
		if done, ok := ev.(TurnFinished); ok {
			events <- done
		}
	})))

	_, err := e.StartTurn(context.Background(), "hello")
	require.NoError(t, err)

	done := <-events
	assert.Equal(t, 1, done.Rounds)
	assert.Equal(t, 2, done.Appended)
	assert.NoError(t, done.Err)
}
