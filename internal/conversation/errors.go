package conversation

import "errors"

var (
	// ErrTurnInProgress is returned when a turn is started, or the history
	// cleared, while another turn is running.
	ErrTurnInProgress = errors.New("a turn is already in progress")

	// ErrTurnBudgetExhausted is returned when the model keeps calling tools
	// after the last allowed round-trip.
	ErrTurnBudgetExhausted = errors.New("turn budget exhausted")

	// ErrTurnCancelled is returned when the turn's context is cancelled. The
	// history keeps the rounds whose results were all folded; the round in
	// flight is dropped. Cancelled before any round completed, the history
	// is left as it was before the turn.
	ErrTurnCancelled = errors.New("turn cancelled")

	// ErrEmptyInput is returned for blank user text.
	ErrEmptyInput = errors.New("user message is empty")
)
