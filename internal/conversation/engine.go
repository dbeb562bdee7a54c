// Package conversation runs conversation turns: it sends the history to the
// model, fans the model's tool calls out through the dispatcher, folds the
// results back into the history in request order and repeats until the
// model answers or the turn budget runs out.
//
// One Engine holds one conversation. Only one turn runs at a time. A turn
// that fails leaves the history exactly as it was before; a cancelled turn
// keeps only the rounds whose tool results were all folded.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/dispatch"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/instrumentation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/logging"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/output"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/registry"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/tools"
)

// Defaults for engine options.
const (
	DefaultTurnBudget   = 5
	DefaultModelTimeout = 120 * time.Second
)

// State is the phase of the engine's turn state machine.
type State int

const (
	StateIdle State = iota
	StateAwaitingModel
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateDispatching:
		return "dispatching"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Catalog provides the procedures offered to the model.
type Catalog interface {
	Procedures() []registry.ProcedureDescriptor
}

// Dispatcher executes a batch of tool calls and returns results in request
// order.
type Dispatcher interface {
	DispatchAll(ctx context.Context, reqs []tools.ToolCallRequest, onDone dispatch.CompletionFunc) []tools.ToolCallResult
}

// Recorder persists committed messages. first is the sequence number of
// msgs[0] within the conversation.
type Recorder interface {
	RecordMessages(ctx context.Context, first int, msgs []Message) error
	RecordReset(ctx context.Context) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithSystemPrompt replaces DefaultSystemPrompt. An empty prompt means the
// history starts empty.
func WithSystemPrompt(prompt string) Option {
	return func(e *Engine) {
		e.systemPrompt = prompt
	}
}

// WithTurnBudget sets the maximum number of model round-trips per turn.
func WithTurnBudget(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.turnBudget = n
		}
	}
}

// WithModelTimeout bounds each model call.
func WithModelTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.modelTimeout = d
		}
	}
}

// WithMaxHistory sets the history window. Zero or less keeps everything.
func WithMaxHistory(n int) Option {
	return func(e *Engine) {
		e.maxHistory = n
	}
}

// WithOutput sets the processor that folds results into tool messages.
func WithOutput(p *output.Processor) Option {
	return func(e *Engine) {
		if p != nil {
			e.folder = p
		}
	}
}

// WithObserver receives turn progress events.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithRecorder persists every committed message.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithSessionID tags logs and spans.
func WithSessionID(id string) Option {
	return func(e *Engine) {
		e.sessionID = id
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records model call and turn metrics.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Engine runs the turns of one conversation.
type Engine struct {
	model      Model
	catalog    Catalog
	dispatcher Dispatcher
	folder     *output.Processor
	observer   Observer
	recorder   Recorder
	logger     *slog.Logger
	metrics    *instrumentation.Metrics

	sessionID    string
	systemPrompt string
	turnBudget   int
	modelTimeout time.Duration
	maxHistory   int

	mu      sync.Mutex
	state   State
	history []Message
	seq     int
	cancel  context.CancelFunc
}

// NewEngine creates an engine with a history holding only the system prompt.
func NewEngine(model Model, catalog Catalog, dispatcher Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		model:        model,
		catalog:      catalog,
		dispatcher:   dispatcher,
		folder:       output.NewProcessor(nil),
		logger:       slog.Default(),
		systemPrompt: DefaultSystemPrompt,
		turnBudget:   DefaultTurnBudget,
		modelTimeout: DefaultModelTimeout,
		maxHistory:   DefaultMaxHistory,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sessionID != "" {
		e.logger = logging.WithSession(e.logger, e.sessionID)
	}
	e.history = e.initialHistory()
	e.seq = len(e.history)
	return e
}

func (e *Engine) initialHistory() []Message {
	if e.systemPrompt == "" {
		return nil
	}
	return []Message{SystemMessage(e.systemPrompt)}
}

// History returns a copy of the committed history.
func (e *Engine) History() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneMessages(e.history)
}

// Len returns the number of committed messages.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history)
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Cancel cancels the running turn, if any.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Clear drops every message except the system prompt.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrTurnInProgress
	}
	e.history = e.initialHistory()
	e.mu.Unlock()

	e.logger.Debug("history cleared")
	if e.recorder != nil {
		if err := e.recorder.RecordReset(ctx); err != nil {
			e.logger.Warn("failed to record reset", logging.Err(err))
		}
	}
	return nil
}

// StartTurn appends text as a user message and runs the turn to completion.
//
// On success it returns the final answer. When the turn budget runs out the
// diagnostic answer is returned together with ErrTurnBudgetExhausted; both
// outcomes commit the turn to the history. Any other error, including a
// *ModelError or ErrTurnCancelled, leaves the history untouched.
func (e *Engine) StartTurn(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyInput
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return "", ErrTurnInProgress
	}
	e.state = StateAwaitingModel
	e.cancel = func() { cancel(ErrTurnCancelled) }
	t := &turn{base: cloneMessages(e.history), ids: make(map[string]bool)}
	e.mu.Unlock()

	start := time.Now()
	ctx, span := instrumentation.StartTurnSpan(ctx, e.sessionID)
	defer span.End()

	t.append(UserMessage(text))
	answer, rounds, err := e.run(ctx, t)

	var keep []Message
	switch {
	case err == nil, errors.Is(err, ErrTurnBudgetExhausted):
		keep = t.msgs
	case errors.Is(err, ErrTurnCancelled):
		// Rounds whose results were all folded stay; the round in flight
		// is dropped.
		keep = t.msgs[:t.folded]
	}
	if len(keep) > 0 {
		e.commit(ctx, keep)
	}

	e.mu.Lock()
	e.state = StateIdle
	e.cancel = nil
	e.mu.Unlock()

	appended := len(keep)
	duration := time.Since(start)
	result := turnResult(err)
	e.metrics.RecordTurn(ctx, result)
	span.SetAttributes(attribute.Int(instrumentation.SpanAttrRound, rounds))
	if err != nil && !errors.Is(err, ErrTurnBudgetExhausted) {
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	e.emit(TurnFinished{Rounds: rounds, Appended: appended, Duration: duration, Err: err})

	logger := e.logger.With(logging.Round(rounds), logging.Duration(duration), logging.Status(result))
	switch {
	case err == nil:
		logger.Info("turn completed", slog.Int("appended", appended))
	case errors.Is(err, ErrTurnCancelled):
		logger.Debug("turn cancelled")
	default:
		logger.Warn("turn ended with error", logging.Err(err))
	}

	return answer, err
}

func (e *Engine) run(ctx context.Context, t *turn) (string, int, error) {
	for round := 1; round <= e.turnBudget; round++ {
		e.setState(StateAwaitingModel)

		completion, err := e.complete(ctx, round, t.history())
		if err != nil {
			return "", round, err
		}

		if !completion.HasToolCalls() {
			text := completion.Text
			if strings.TrimSpace(text) == "" {
				text = EmptyAnswerText
			}
			t.append(AssistantMessage(text))
			return text, round, nil
		}

		reqs := t.requests(round, completion.ToolCalls)
		t.append(AssistantToolCallsMessage(completion.Text, reqs))

		e.setState(StateDispatching)
		e.emit(ToolCallsStarted{Round: round, Calls: reqs})
		results := e.dispatcher.DispatchAll(ctx, reqs, func(i int, r tools.ToolCallResult) {
			e.emit(ToolCallFinished{Round: round, Index: i, Total: len(reqs), Call: reqs[i], Result: r})
		})
		if ctx.Err() != nil {
			return "", round, cancelled(ctx)
		}

		for _, r := range results {
			t.append(ToolMessage(r, e.folder.Fold(r).Content))
		}
		t.folded = len(t.msgs)
	}

	t.append(AssistantMessage(BudgetExhaustedText))
	return BudgetExhaustedText, e.turnBudget,
		fmt.Errorf("%w after %d round-trips", ErrTurnBudgetExhausted, e.turnBudget)
}

// complete performs one model call under the model timeout.
func (e *Engine) complete(ctx context.Context, round int, history []Message) (*Completion, error) {
	modelCtx, cancel := context.WithTimeout(ctx, e.modelTimeout)
	defer cancel()
	modelCtx, span := instrumentation.StartModelSpan(modelCtx, round, len(history))
	defer span.End()

	start := time.Now()
	completion, err := e.model.Complete(modelCtx, history, e.catalog.Procedures())
	duration := time.Since(start)

	if ctx.Err() != nil {
		e.metrics.RecordModelCall(ctx, instrumentation.ModelResultError, duration)
		return nil, cancelled(ctx)
	}
	if err != nil {
		e.metrics.RecordModelCall(ctx, instrumentation.ModelResultError, duration)
		instrumentation.SetSpanError(span, err)
		return nil, &ModelError{Round: round, Err: err}
	}
	if completion == nil {
		completion = &Completion{}
	}

	result := instrumentation.ModelResultFinal
	if completion.HasToolCalls() {
		result = instrumentation.ModelResultToolCalls
		span.SetAttributes(attribute.Int(instrumentation.SpanAttrToolCallCount, len(completion.ToolCalls)))
	}
	e.metrics.RecordModelCall(ctx, result, duration)
	instrumentation.SetSpanSuccess(span)
	e.logger.Debug("model call completed",
		logging.Round(round),
		logging.Duration(duration),
		slog.Int("tool_calls", len(completion.ToolCalls)))

	return completion, nil
}

// commit appends msgs to the history and applies the window.
func (e *Engine) commit(ctx context.Context, msgs []Message) {
	e.mu.Lock()
	first := e.seq
	e.history = windowHistory(append(e.history, msgs...), e.maxHistory)
	e.seq += len(msgs)
	e.mu.Unlock()

	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordMessages(context.WithoutCancel(ctx), first, cloneMessages(msgs)); err != nil {
		e.logger.Warn("failed to record messages", logging.Err(err))
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) emit(ev Event) {
	if e.observer != nil {
		e.observer.Observe(ev)
	}
}

func cancelled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrTurnCancelled) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrTurnCancelled, cause)
}

func turnResult(err error) string {
	switch {
	case err == nil:
		return instrumentation.TurnResultCompleted
	case errors.Is(err, ErrTurnBudgetExhausted):
		return instrumentation.TurnResultExhausted
	case errors.Is(err, ErrTurnCancelled):
		return instrumentation.TurnResultCancelled
	default:
		return instrumentation.TurnResultFailed
	}
}

// turn holds the messages of the running turn until they are committed.
type turn struct {
	base []Message
	msgs []Message
	ids  map[string]bool

	// folded is the length of msgs at the end of the last round whose
	// results were all folded.
	folded int
}

func (t *turn) append(m Message) {
	t.msgs = append(t.msgs, m)
}

// history returns the model input: committed history plus this turn so far.
func (t *turn) history() []Message {
	out := make([]Message, 0, len(t.base)+len(t.msgs))
	out = append(out, t.base...)
	return append(out, t.msgs...)
}

// requests converts model tool calls to requests. Missing or repeated call
// ids are replaced so every id is unique within the turn.
func (t *turn) requests(round int, calls []ToolCall) []tools.ToolCallRequest {
	reqs := make([]tools.ToolCallRequest, len(calls))
	for i, c := range calls {
		id := c.ID
		for n := i + 1; id == "" || t.ids[id]; n++ {
			id = fmt.Sprintf("call_%d_%d", round, n)
		}
		t.ids[id] = true
		reqs[i] = tools.ToolCallRequest{
			ID:        id,
			Name:      c.Name,
			Arguments: c.Arguments,
			Context:   c.ContextHint,
		}
		if c.ArgumentsError != nil {
			reqs[i].ArgumentsError = c.ArgumentsError.Error()
		}
	}
	return reqs
}
