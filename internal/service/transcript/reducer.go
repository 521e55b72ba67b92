// Package transcript folds chat submissions and streamed token events into a
// transcript. Every function is pure: inputs are never modified and each call
// returns a fresh slice.
package transcript

import (
	"errors"

	"github.com/bytebrain/docchat/internal/model/chat"
)

// ErrEventAfterCompletion reports a token event that arrived for a bot turn
// that was already closed by a terminal event.
var ErrEventAfterCompletion = errors.New("token event after completed bot turn")

// AppendQuestion appends a complete user turn. It never merges with the
// preceding turn.
func AppendQuestion(t chat.Transcript, question string) chat.Transcript {
	return appendTurn(t, chat.Turn{Speaker: chat.User, Text: question, Complete: true})
}

// ApplyEvent folds one token event into the transcript.
//
// An empty transcript or a trailing user turn gets a new bot turn. Otherwise
// the trailing bot turn is replaced by one whose text is the old text plus the
// token; completion and references always come from the event.
func ApplyEvent(t chat.Transcript, e chat.TokenEvent) chat.Transcript {
	last, ok := t.Last()
	if !ok || last.Speaker == chat.User {
		return appendTurn(t, chat.Turn{
			Speaker:    chat.Bot,
			Text:       e.Token,
			Complete:   e.Completed,
			References: e.TurnReferences(),
		})
	}

	out := make(chat.Transcript, len(t))
	copy(out, t)
	out[len(out)-1] = chat.Turn{
		Speaker:    chat.Bot,
		Text:       last.Text + e.Token,
		Complete:   e.Completed,
		References: e.TurnReferences(),
	}
	return out
}

// Apply is ApplyEvent with protocol checking: an event targeting a bot turn
// that is already complete is rejected and t is returned unchanged.
func Apply(t chat.Transcript, e chat.TokenEvent) (chat.Transcript, error) {
	if last, ok := t.Last(); ok && last.Speaker == chat.Bot && last.Complete {
		return t, ErrEventAfterCompletion
	}
	return ApplyEvent(t, e), nil
}

// Fail closes the in-flight bot turn with an error marker. When no bot turn
// has started yet a complete bot turn carrying only the marker is appended.
// A transcript whose trailing turn is already a complete bot turn is returned
// unchanged.
func Fail(t chat.Transcript, reason string) chat.Transcript {
	last, ok := t.Last()
	if !ok || last.Speaker == chat.User {
		return appendTurn(t, chat.Turn{Speaker: chat.Bot, Complete: true, Err: reason})
	}
	if last.Complete {
		return t
	}

	out := make(chat.Transcript, len(t))
	copy(out, t)
	last.Complete = true
	last.Err = reason
	out[len(out)-1] = last
	return out
}

// History returns the text of every turn except the first one, which is the
// seeded greeting and must not be sent back as conversational context.
//
// Bot turns closed by a failure are left out together with the user turn they
// answered, so the history keeps alternating between questions and answers.
func History(t chat.Transcript) []string {
	if len(t) <= 1 {
		return []string{}
	}
	history := make([]string, 0, len(t)-1)
	for i := 1; i < len(t); i++ {
		turn := t[i]
		if turn.Err != "" {
			continue
		}
		if turn.Speaker == chat.User && i+1 < len(t) && t[i+1].Err != "" {
			continue
		}
		history = append(history, turn.Text)
	}
	return history
}

// Incomplete returns the indexes of all incomplete turns.
func Incomplete(t chat.Transcript) []int {
	var idx []int
	for i, turn := range t {
		if !turn.Complete {
			idx = append(idx, i)
		}
	}
	return idx
}

func appendTurn(t chat.Transcript, turn chat.Turn) chat.Transcript {
	out := make(chat.Transcript, len(t), len(t)+1)
	copy(out, t)
	return append(out, turn)
}
