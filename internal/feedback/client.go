// Package feedback posts answer ratings to the chat server.
package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytebrain/docchat/internal/model/chat"
	"github.com/bytebrain/docchat/internal/transport"
)

var (
	ErrNoTurn      = errors.New("no bot answer at that index")
	ErrTurnPending = errors.New("bot answer is still streaming")
)

// Client sends feedback for answers of a transcript.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the HTTP side of endpoint.
func NewClient(endpoint transport.Endpoint, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: endpoint.BaseHTTPURL(), http: httpClient}
}

// HistoryUpTo returns the turns a rating of the answer at index refers to:
// everything after the greeting up to and including that answer.
func HistoryUpTo(t chat.Transcript, index int) ([]chat.Turn, error) {
	if index < 1 || index >= len(t) || t[index].Speaker != chat.Bot {
		return nil, fmt.Errorf("%w: %d", ErrNoTurn, index)
	}
	if !t[index].Complete {
		return nil, ErrTurnPending
	}
	return t[1 : index+1].Clone(), nil
}

// Rate posts a rating of the bot answer at index.
func (c *Client) Rate(ctx context.Context, t chat.Transcript, index int, useful bool) error {
	history, err := HistoryUpTo(t, index)
	if err != nil {
		return err
	}
	return c.Send(ctx, chat.FeedbackRequest{ChatHistory: history, IsUseful: useful})
}

// Send posts req to {base}/feedback/.
func (c *Client) Send(ctx context.Context, req chat.FeedbackRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode feedback: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/feedback/", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build feedback request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send feedback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("feedback rejected with status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
