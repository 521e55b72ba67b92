// Package transport opens one chat websocket per submitted question and turns
// the inbound frames into token events.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bytebrain/docchat/internal/model/chat"
	"github.com/bytebrain/docchat/internal/observability/logging"
)

// Options tunes the websocket connection.
type Options struct {
	HandshakeTimeout time.Duration // dial and upgrade
	ReadTimeout      time.Duration // max wait for one frame, 0 disables
	WriteTimeout     time.Duration // submission and control frames
	PingInterval     time.Duration // 0 disables keepalive pings
}

// DefaultOptions returns the connection defaults.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

// Dialer opens streams against a fixed endpoint. Connections are never reused:
// every Open dials a fresh one.
type Dialer struct {
	endpoint Endpoint
	options  Options
	header   http.Header
	ws       *websocket.Dialer
}

// NewDialer creates a dialer for endpoint.
func NewDialer(endpoint Endpoint, options Options) *Dialer {
	return &Dialer{
		endpoint: endpoint,
		options:  options,
		header:   http.Header{},
		ws: &websocket.Dialer{
			HandshakeTimeout: options.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

// Endpoint returns the endpoint the dialer connects to.
func (d *Dialer) Endpoint() Endpoint {
	return d.endpoint
}

// SetHeader adds a header sent with every handshake.
func (d *Dialer) SetHeader(key, value string) {
	d.header.Set(key, value)
}

// Open dials the endpoint and sends sub as the first and only outbound frame.
// On error nothing has been sent and no stream is returned.
func (d *Dialer) Open(ctx context.Context, sub chat.Submission) (*Stream, error) {
	url := d.endpoint.WebsocketURL()

	conn, resp, err := d.ws.DialContext(ctx, url, d.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s failed with status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s failed: %w", url, err)
	}

	id := uuid.NewString()
	logger := logging.WithConnection("transport", id)

	if d.options.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(d.options.WriteTimeout))
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send submission: %w", err)
	}
	conn.SetWriteDeadline(time.Time{})

	logger.Debug().
		Str("url", url).
		Int("historyLen", len(sub.History)).
		Msg("submission sent")

	return &Stream{
		id:      id,
		conn:    conn,
		options: d.options,
		log:     logger,
	}, nil
}

// Stream is the inbound half of one question's connection.
type Stream struct {
	id      string
	conn    *websocket.Conn
	options Options
	log     zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// ID identifies the connection in logs.
func (s *Stream) ID() string {
	return s.id
}

// Events hands each inbound token event to fn in arrival order. It returns nil
// after the terminal event, the error of fn, a decode error, or an error
// wrapping ErrClosedBeforeCompletion when the connection ends early. When ctx
// ends the connection is torn down and the context cause is returned.
//
// Events closes the stream before returning and must be called at most once.
func (s *Stream) Events(ctx context.Context, fn func(chat.TokenEvent) error) error {
	defer s.Close()

	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		return nil
	})

	if s.options.PingInterval > 0 {
		pingCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go s.pingLoop(pingCtx)
	}

	for {
		s.extendReadDeadline()

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn().Err(err).Msg("connection closed unexpectedly")
			}
			return fmt.Errorf("%w: %w", ErrClosedBeforeCompletion, err)
		}

		event, err := DecodeFrame(data)
		if err != nil {
			var serverErr *ServerError
			if errors.As(err, &serverErr) {
				s.log.Error().Str("message", serverErr.Message).Msg("server reported an error")
			} else {
				s.log.Error().Err(err).Msg("dropping stream on malformed frame")
			}
			return err
		}

		if err := fn(event); err != nil {
			return err
		}
		if event.Completed {
			s.log.Debug().Msg("terminal event received")
			return nil
		}
	}
}

// Close tears the connection down. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Stream) extendReadDeadline() {
	if s.options.ReadTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.options.ReadTimeout))
	}
}

// pingLoop 定期发送ping消息
func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(max(s.options.WriteTimeout, time.Second))
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}
