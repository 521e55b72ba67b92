// Package session binds the transport and the transcript reducer into a
// conversation controller that gates submissions and exposes the transcript to
// a renderer.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bytebrain/docchat/internal/model/chat"
	"github.com/bytebrain/docchat/internal/observability/logging"
	"github.com/bytebrain/docchat/internal/observability/metrics"
	"github.com/bytebrain/docchat/internal/service/transcript"
	"github.com/bytebrain/docchat/internal/transport"
)

var (
	ErrInputLocked   = errors.New("a turn is still in flight")
	ErrEmptyQuestion = errors.New("question is empty")
	ErrClosed        = errors.New("session closed")
	ErrStreamStalled = errors.New("no terminal event before the stream timeout")
)

// Stream delivers the token events of one submitted question.
type Stream interface {
	Events(ctx context.Context, fn func(chat.TokenEvent) error) error
	Close() error
}

// Transport opens one stream per submitted question.
type Transport interface {
	Open(ctx context.Context, sub chat.Submission) (Stream, error)
}

// Listener is called after every transcript or state change with a private copy
// of the transcript.
type Listener func(t chat.Transcript, s State)

// Options configures a Controller.
type Options struct {
	// Welcome is the pool the greeting is picked from.
	Welcome []string
	// StreamTimeout closes a turn that receives no event for this long.
	// Zero disables the timeout.
	StreamTimeout time.Duration
	// Rand picks the greeting; nil uses the global source.
	Rand *rand.Rand
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Controller owns the transcript of one conversation.
//
// All transcript mutation happens under mu and always folds into the value
// current at apply time, so back-to-back events can never be lost.
type Controller struct {
	transport Transport
	opts      Options
	log       zerolog.Logger

	mu         sync.Mutex
	transcript chat.Transcript
	inFlight   bool
	cancel     context.CancelCauseFunc
	done       chan struct{}
	listeners  []Listener
	closed     bool
}

// New creates a controller that dials through d.
func New(d *transport.Dialer, opts Options) *Controller {
	return NewWithTransport(dialerTransport{d}, opts)
}

// NewWithTransport creates a controller on top of an arbitrary transport.
func NewWithTransport(t Transport, opts Options) *Controller {
	return &Controller{
		transport:  t,
		opts:       opts,
		log:        logging.WithComponent("session"),
		transcript: transcript.Seed(opts.Welcome, opts.Rand),
	}
}

// Snapshot returns a copy of the current transcript.
func (c *Controller) Snapshot() chat.Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Clone()
}

// State returns the current input-eligibility state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// OnChange registers fn to be called after every change.
func (c *Controller) OnChange(fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Submit sends question with the history of the current transcript.
//
// The input lock engages before the transport is dialed, so a concurrent second
// Submit fails with ErrInputLocked. The user turn is appended only once the
// connection is open and the submission has been sent; a dial failure releases
// the lock and leaves the transcript untouched. Close during the dial aborts it
// and Submit returns ErrClosed.
func (c *Controller) Submit(ctx context.Context, question string) error {
	if strings.TrimSpace(question) == "" {
		return ErrEmptyQuestion
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.stateLocked().CanSubmit() {
		c.mu.Unlock()
		return ErrInputLocked
	}
	c.inFlight = true
	sub := chat.Submission{Question: question, History: transcript.History(c.transcript)}
	streamCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()
	c.notify()

	// Close cancels streamCtx, which also aborts a dial still in progress.
	dialCtx, stopDial := context.WithCancelCause(ctx)
	unlink := context.AfterFunc(streamCtx, func() { stopDial(context.Cause(streamCtx)) })
	stream, err := c.transport.Open(dialCtx, sub)
	unlink()
	stopDial(nil)
	if err != nil {
		cancel(err)
		c.settle(done, nil)
		if c.isClosed() {
			return ErrClosed
		}
		c.log.Error().Err(err).Msg("failed to open chat stream")
		return fmt.Errorf("open chat stream: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		stream.Close()
		cancel(ErrClosed)
		c.settle(done, nil)
		return ErrClosed
	}
	c.transcript = transcript.AppendQuestion(c.transcript, question)
	c.mu.Unlock()
	c.notify()

	go c.consume(streamCtx, cancel, stream, done)
	return nil
}

// Wait blocks until the turn in flight, if any, is settled.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the turn in flight and rejects further submissions.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel(ErrClosed)
	}
}

func (c *Controller) consume(ctx context.Context, cancel context.CancelCauseFunc, stream Stream, done chan struct{}) {
	defer stream.Close()
	defer cancel(nil)

	var idle *time.Timer
	if c.opts.StreamTimeout > 0 {
		idle = time.AfterFunc(c.opts.StreamTimeout, func() { cancel(ErrStreamStalled) })
		defer idle.Stop()
	}

	completed := false
	err := stream.Events(ctx, func(e chat.TokenEvent) error {
		if idle != nil {
			idle.Reset(c.opts.StreamTimeout)
		}

		c.mu.Lock()
		next, err := transcript.Apply(c.transcript, e)
		if err != nil {
			c.mu.Unlock()
			c.log.Warn().Err(err).Str("token", e.Token).Msg("protocol violation, event dropped")
			return nil
		}
		c.transcript = next
		if e.Completed {
			// Input unlocks with the terminal event itself, not when the
			// connection is torn down.
			completed = true
			c.inFlight = false
			c.cancel = nil
		}
		c.mu.Unlock()
		c.notify()
		return nil
	})

	if completed {
		if c.opts.Metrics != nil {
			c.opts.Metrics.TurnsCompleted.Inc()
		}
		close(done)
		return
	}

	if err == nil {
		err = transport.ErrClosedBeforeCompletion
	}
	reason := failureReason(err)
	c.log.Error().Err(err).Str("reason", reason).Msg("chat turn failed")
	if c.opts.Metrics != nil {
		c.opts.Metrics.StreamFailures.WithLabelValues(reason).Inc()
	}
	c.settle(done, err)
}

// settle releases the input lock. A non-nil err closes the trailing turn with
// an error marker.
func (c *Controller) settle(done chan struct{}, err error) {
	c.mu.Lock()
	if err != nil {
		c.transcript = transcript.Fail(c.transcript, err.Error())
	}
	c.inFlight = false
	c.cancel = nil
	c.mu.Unlock()

	close(done)
	c.notify()
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) stateLocked() State {
	state := StateOf(c.transcript)
	if c.inFlight && state == Ready {
		// Dialing: the user turn is appended only once the stream is open.
		return AwaitingFirstToken
	}
	return state
}

func (c *Controller) notify() {
	c.mu.Lock()
	snapshot := c.transcript.Clone()
	state := c.stateLocked()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot, state)
	}
}

func failureReason(err error) string {
	var serverErr *transport.ServerError
	switch {
	case errors.Is(err, ErrStreamStalled):
		return "stalled"
	case errors.Is(err, ErrClosed):
		return "canceled"
	case errors.Is(err, transport.ErrMalformedFrame):
		return "malformed"
	case errors.As(err, &serverErr):
		return "server"
	case errors.Is(err, transport.ErrClosedBeforeCompletion):
		return "closed"
	default:
		return "other"
	}
}

type dialerTransport struct {
	d *transport.Dialer
}

func (t dialerTransport) Open(ctx context.Context, sub chat.Submission) (Stream, error) {
	stream, err := t.d.Open(ctx, sub)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
