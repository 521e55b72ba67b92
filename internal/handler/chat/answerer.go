package chat

import (
	"context"
	_ "embed"
	"strings"
	"time"

	"github.com/bytebrain/docchat/internal/model/chat"
)

// Answerer produces the answer to one submission, handing each token to emit
// in order. The returned references are sent with the terminal frame.
type Answerer interface {
	Answer(ctx context.Context, sub chat.Submission, emit func(token string) error) ([]chat.ReferenceItem, error)
}

// StreamingModel is satisfied by the ai service.
type StreamingModel interface {
	Answer(ctx context.Context, question string, history []string, emit func(token string) error) error
}

// ModelAnswerer adapts a StreamingModel. The model does not retrieve
// documents, so the reference list is always empty.
type ModelAnswerer struct {
	Model StreamingModel
}

func (a ModelAnswerer) Answer(ctx context.Context, sub chat.Submission, emit func(string) error) ([]chat.ReferenceItem, error) {
	if err := a.Model.Answer(ctx, sub.Question, sub.History, emit); err != nil {
		return nil, err
	}
	return []chat.ReferenceItem{}, nil
}

//go:embed dummy.md
var dummyDocument string

// DummyReferences are attached to every canned answer.
var DummyReferences = []chat.ReferenceItem{
	{PageTitle: "Ref", PageURL: "https://zio.dev/reference/concurrency/ref"},
	{PageTitle: "Global Shared State Using Ref", PageURL: "https://zio.dev/reference/state-management/global-shared-state"},
	{PageTitle: "TRef", PageURL: "https://zio.dev/reference/stm/tref"},
}

// DummyAnswerer ignores the question and streams a canned document one word
// at a time, for exercising clients without a model.
type DummyAnswerer struct {
	Document string
	Delay    time.Duration
}

// NewDummyAnswerer streams the built-in document with delay between tokens.
func NewDummyAnswerer(delay time.Duration) DummyAnswerer {
	return DummyAnswerer{Document: dummyDocument, Delay: delay}
}

func (a DummyAnswerer) Answer(ctx context.Context, _ chat.Submission, emit func(string) error) ([]chat.ReferenceItem, error) {
	for _, word := range strings.Split(a.Document, " ") {
		if a.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.Delay):
			}
		}
		if err := emit(word + " "); err != nil {
			return nil, err
		}
	}
	return append([]chat.ReferenceItem(nil), DummyReferences...), nil
}
