package conversation

import (
	"time"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/tools"
)

// Event is emitted by the engine while a turn runs.
type Event interface {
	event()
}

// ToolCallsStarted is emitted before a batch of calls is dispatched.
type ToolCallsStarted struct {
	Round int
	Calls []tools.ToolCallRequest
}

// ToolCallFinished is emitted as each call of a batch completes. Index is the
// position of the call in the batch, so events may arrive out of order.
type ToolCallFinished struct {
	Round  int
	Index  int
	Total  int
	Call   tools.ToolCallRequest
	Result tools.ToolCallResult
}

// TurnFinished is emitted once per turn.
type TurnFinished struct {
	Rounds   int
	Appended int
	Duration time.Duration
	Err      error
}

func (ToolCallsStarted) event() {}
func (ToolCallFinished) event() {}
func (TurnFinished) event()     {}

// Observer receives engine events. It may be called from several goroutines
// at once and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f.
func (f ObserverFunc) Observe(e Event) { f(e) }
