package chat

import "time"

// FeedbackRequest is the body a client posts to rate an answer.
type FeedbackRequest struct {
	ChatHistory []Turn `json:"chat_history"`
	IsUseful    bool   `json:"is_useful"`
}

// Feedback is a stored FeedbackRequest.
type Feedback struct {
	ID          string    `json:"id"`
	ChatHistory []Turn    `json:"chat_history"`
	IsUseful    bool      `json:"is_useful"`
	CreatedAt   time.Time `json:"createdAt"`
}
