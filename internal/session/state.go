package session

import (
	"fmt"

	"github.com/bytebrain/docchat/internal/model/chat"
)

// State is the input-eligibility state of a session.
type State int

const (
	// Ready - no turn in flight, input enabled.
	Ready State = iota
	// AwaitingFirstToken - question submitted, no bot token yet.
	AwaitingFirstToken
	// Streaming - the trailing bot turn is still growing.
	Streaming
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case AwaitingFirstToken:
		return "AWAITING_FIRST_TOKEN"
	case Streaming:
		return "STREAMING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// CanSubmit reports whether a new question may be submitted.
func (s State) CanSubmit() bool {
	return s == Ready
}

// StateOf derives the state from the trailing turn of t:
//
//	none / complete turn   → Ready
//	user turn              → AwaitingFirstToken
//	incomplete bot turn    → Streaming
func StateOf(t chat.Transcript) State {
	last, ok := t.Last()
	switch {
	case !ok:
		return Ready
	case last.Speaker == chat.User:
		return AwaitingFirstToken
	case !last.Complete:
		return Streaming
	default:
		return Ready
	}
}
