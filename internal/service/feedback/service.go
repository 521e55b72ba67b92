// Package feedback keeps the usefulness ratings clients post for answers.
package feedback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bytebrain/docchat/internal/model/chat"
)

var (
	ErrEmptyHistory = errors.New("chat history is required")
	ErrNotFound     = errors.New("feedback not found")
)

// Service is an in-memory feedback store.
type Service struct {
	mu        sync.RWMutex
	feedbacks map[string]chat.Feedback
	order     []string
	now       func() time.Time
}

// NewService creates an empty store.
func NewService() *Service {
	return &Service{
		feedbacks: make(map[string]chat.Feedback),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Save records req and returns the stored feedback.
func (s *Service) Save(_ context.Context, req chat.FeedbackRequest) (chat.Feedback, error) {
	if len(req.ChatHistory) == 0 {
		return chat.Feedback{}, ErrEmptyHistory
	}

	fb := chat.Feedback{
		ID:          uuid.NewString(),
		ChatHistory: chat.Transcript(req.ChatHistory).Clone(),
		IsUseful:    req.IsUseful,
		CreatedAt:   s.now(),
	}

	s.mu.Lock()
	s.feedbacks[fb.ID] = fb
	s.order = append(s.order, fb.ID)
	s.mu.Unlock()

	return fb, nil
}

// Get retrieves one feedback by identifier.
func (s *Service) Get(_ context.Context, id string) (chat.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fb, ok := s.feedbacks[id]
	if !ok {
		return chat.Feedback{}, ErrNotFound
	}
	return fb, nil
}

// List returns all feedback in insertion order.
func (s *Service) List(_ context.Context) []chat.Feedback {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Feedback, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.feedbacks[id])
	}
	return out
}
