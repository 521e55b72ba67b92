package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytebrain/docchat/internal/model/chat"
	"github.com/bytebrain/docchat/internal/observability/metrics"
	"github.com/bytebrain/docchat/internal/transport"
)

type fakeStream struct {
	events chan chat.TokenEvent
	closed chan struct{}
	once   sync.Once

	// endErr is returned when events is closed before a terminal event.
	endErr      error
	// keepReading delivers events past the terminal one, like a faulty server.
	keepReading bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan chat.TokenEvent, 256), closed: make(chan struct{})}
}

func (s *fakeStream) Events(ctx context.Context, fn func(chat.TokenEvent) error) error {
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case e, ok := <-s.events:
			if !ok {
				return s.endErr
			}
			if err := fn(e); err != nil {
				return err
			}
			if e.Completed && !s.keepReading {
				return nil
			}
		}
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeTransport struct {
	mu      sync.Mutex
	subs    []chat.Submission
	streams []*fakeStream
	openErr error
	gate    chan struct{}

	keepReading  bool
	// ignoreCancel keeps a gated dial going after its context ends.
	ignoreCancel bool
}

func (f *fakeTransport) Open(ctx context.Context, sub chat.Submission) (Stream, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			if !f.ignoreCancel {
				return nil, context.Cause(ctx)
			}
			<-f.gate
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := newFakeStream()
	s.keepReading = f.keepReading
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeTransport) last() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[len(f.streams)-1]
}

func (f *fakeTransport) submissions() []chat.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Submission(nil), f.subs...)
}

func newController(t *testing.T, tr Transport, opts Options) *Controller {
	t.Helper()
	if opts.Welcome == nil {
		opts.Welcome = []string{"Welcome!"}
	}
	c := NewWithTransport(tr, opts)
	t.Cleanup(c.Close)
	return c
}

func waitSettled(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func TestNewControllerIsReadyWithGreeting(t *testing.T) {
	c := newController(t, &fakeTransport{}, Options{Welcome: []string{"a", "b", "c"}, Rand: rand.New(rand.NewPCG(1, 1))})

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, chat.Bot, snap[0].Speaker)
	assert.True(t, snap[0].Complete)
	assert.Equal(t, Ready, c.State())
}

func TestSubmitStreamsAnswer(t *testing.T) {
	ft := &fakeTransport{}
	c := newController(t, ft, Options{})

	require.NoError(t, c.Submit(context.Background(), "hi"))
	assert.Equal(t, AwaitingFirstToken, c.State())

	s := ft.last()
	s.events <- chat.TokenEvent{Token: "Hel"}
	s.events <- chat.TokenEvent{Token: "lo", Completed: true, References: []chat.ReferenceItem{{PageURL: "u", PageTitle: "t"}}}
	waitSettled(t, c)

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, chat.Turn{Speaker: chat.User, Text: "hi", Complete: true}, snap[1])
	assert.Equal(t, chat.Turn{
		Speaker:    chat.Bot,
		Text:       "Hello",
		Complete:   true,
		References: []chat.Reference{{URL: "u", Title: "t"}},
	}, snap[2])
	assert.Equal(t, Ready, c.State())
}

func TestSubmitSendsHistoryWithoutGreetingOrQuestion(t *testing.T) {
	ft := &fakeTransport{}
	c := newController(t, ft, Options{})

	require.NoError(t, c.Submit(context.Background(), "foo"))
	ft.last().events <- chat.TokenEvent{Token: "bar", Completed: true}
	waitSettled(t, c)

	require.NoError(t, c.Submit(context.Background(), "What is retry?"))
	subs := ft.submissions()
	require.Len(t, subs, 2)

	assert.Equal(t, chat.Submission{Question: "foo", History: []string{}}, subs[0])
	assert.Equal(t, chat.Submission{Question: "What is retry?", History: []string{"foo", "bar"}}, subs[1])
	for _, sub := range subs {
		assert.NotContains(t, sub.History, "Welcome!")
		assert.NotContains(t, sub.History, sub.Question)
	}
}

func TestSubmitRejectedWhileTurnInFlight(t *testing.T) {
	ft := &fakeTransport{}
	c := newController(t, ft, Options{})

	require.NoError(t, c.Submit(context.Background(), "one"))
	assert.ErrorIs(t, c.Submit(context.Background(), "two"), ErrInputLocked)

	s := ft.last()
	s.events <- chat.TokenEvent{Token: "partial"}
	require.Eventually(t, func() bool { return c.State() == Streaming }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, c.Submit(context.Background(), "two"), ErrInputLocked)

	s.events <- chat.TokenEvent{Completed: true}
	waitSettled(t, c)
	assert.NoError(t, c.Submit(context.Background(), "two"))
	assert.Len(t, ft.submissions(), 2)
}

func TestSubmitLocksInputBeforeDialCompletes(t *testing.T) {
	ft := &fakeTransport{gate: make(chan struct{})}
	c := newController(t, ft, Options{})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Submit(context.Background(), "slow") }()

	require.Eventually(t, func() bool { return c.State() == AwaitingFirstToken }, time.Second, time.Millisecond)
	assert.ErrorIs(t, c.Submit(context.Background(), "double"), ErrInputLocked)
	assert.Len(t, c.Snapshot(), 1, "user turn must wait for the open stream")

	close(ft.gate)
	require.NoError(t, <-errCh)
	assert.Len(t, c.Snapshot(), 2)
	assert.Len(t, ft.submissions(), 1)
}

func TestSubmitDialFailureLeavesInputEnabled(t *testing.T) {
	dialErr := errors.New("connection refused")
	ft := &fakeTransport{openErr: dialErr}
	c := newController(t, ft, Options{})

	err := c.Submit(context.Background(), "hello")
	require.ErrorIs(t, err, dialErr)

	assert.Len(t, c.Snapshot(), 1)
	assert.Equal(t, Ready, c.State())
	waitSettled(t, c)

	ft.openErr = nil
	assert.NoError(t, c.Submit(context.Background(), "hello"))
}

func TestSubmitRejectsEmptyQuestion(t *testing.T) {
	c := newController(t, &fakeTransport{}, Options{})
	assert.ErrorIs(t, c.Submit(context.Background(), "   "), ErrEmptyQuestion)
}

func TestStalledStreamRecoversToReady(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	ft := &fakeTransport{}
	c := newController(t, ft, Options{StreamTimeout: 30 * time.Millisecond, Metrics: m})

	require.NoError(t, c.Submit(context.Background(), "q"))
	ft.last().events <- chat.TokenEvent{Token: "half an ans"}
	waitSettled(t, c)

	last, _ := c.Snapshot().Last()
	assert.Equal(t, "half an ans", last.Text)
	assert.True(t, last.Complete)
	assert.Contains(t, last.Err, ErrStreamStalled.Error())
	assert.Equal(t, Ready, c.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamFailures.WithLabelValues("stalled")))
}

func TestStallBeforeFirstTokenAddsErrorTurn(t *testing.T) {
	ft := &fakeTransport{}
	c := newController(t, ft, Options{StreamTimeout: 20 * time.Millisecond})

	require.NoError(t, c.Submit(context.Background(), "q"))
	waitSettled(t, c)

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, chat.Bot, snap[2].Speaker)
	assert.True(t, snap[2].Complete)
	assert.NotEmpty(t, snap[2].Err)
}

func TestFailedTurnIsLeftOutOfNextHistory(t *testing.T) {
	ft := &fakeTransport{}
	c := newController(t, ft, Options{})

	require.NoError(t, c.Submit(context.Background(), "q1"))
	close(ft.last().events)
	waitSettled(t, c)

	require.NoError(t, c.Submit(context.Background(), "q2"))
	ft.last().events <- chat.TokenEvent{Token: "a2", Completed: true}
	waitSettled(t, c)

	require.NoError(t, c.Submit(context.Background(), "q3"))

	subs := ft.submissions()
	require.Len(t, subs, 3)
	assert.Equal(t, []string{}, subs[1].History)
	assert.Equal(t, []string{"q2", "a2"}, subs[2].History)

	snap := c.Snapshot()
	require.Len(t, snap, 6)
	assert.NotEmpty(t, snap[2].Err, "failed turn stays visible in the transcript")
}

func TestMalformedFrameClosesTurnWithError(t *testing.T) {
	ft := &fakeTransport{}
	c := newController(t, ft, Options{})

	require.NoError(t, c.Submit(context.Background(), "q"))
	s := ft.last()
	s.endErr = &transport.FrameError{Raw: []byte("oops"), Err: transport.ErrMissingToken}
	s.events <- chat.TokenEvent{Token: "ok"}
	close(s.events)
	waitSettled(t, c)

	last, _ := c.Snapshot().Last()
	assert.Equal(t, "ok", last.Text)
	assert.True(t, last.Complete)
	assert.Contains(t, last.Err, "malformed frame")
	assert.Equal(t, Ready, c.State())
}

func TestStreamEndingWithoutTerminalEvent(t *testing.T) {
	ft := &fakeTransport{}
	c := newController(t, ft, Options{})

	require.NoError(t, c.Submit(context.Background(), "q"))
	close(ft.last().events)
	waitSettled(t, c)

	last, _ := c.Snapshot().Last()
	assert.Contains(t, last.Err, transport.ErrClosedBeforeCompletion.Error())
	assert.Equal(t, Ready, c.State())
}

func TestEventAfterCompletionIsDropped(t *testing.T) {
	ft := &fakeTransport{keepReading: true}
	c := newController(t, ft, Options{})
	require.NoError(t, c.Submit(context.Background(), "q"))

	s := ft.last()
	s.events <- chat.TokenEvent{Token: "done", Completed: true}
	s.events <- chat.TokenEvent{Token: " and more"}
	close(s.events)
	waitSettled(t, c)

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "done", snap[2].Text)
	assert.True(t, snap[2].Complete)
	assert.Empty(t, snap[2].Err)
	assert.Equal(t, Ready, c.State())
}

func TestBackToBackEventsAreNeverLost(t *testing.T) {
	ft := &fakeTransport{}
	c := newController(t, ft, Options{})

	var mu sync.Mutex
	var observed []string
	c.OnChange(func(tr chat.Transcript, _ State) {
		if len(tr) != 3 {
			return
		}
		mu.Lock()
		observed = append(observed, tr[2].Text)
		mu.Unlock()
	})

	require.NoError(t, c.Submit(context.Background(), "count"))
	s := ft.last()
	var want strings.Builder
	for i := range 200 {
		token := strconv.Itoa(i) + " "
		want.WriteString(token)
		s.events <- chat.TokenEvent{Token: token}
	}
	s.events <- chat.TokenEvent{Completed: true}
	waitSettled(t, c)

	last, _ := c.Snapshot().Last()
	assert.Equal(t, want.String(), last.Text)
	assert.True(t, last.Complete)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, observed)
	for i := 1; i < len(observed); i++ {
		assert.True(t, strings.HasPrefix(observed[i], observed[i-1]), "bot text shrank: %q -> %q", observed[i-1], observed[i])
	}
}

func TestListenersSeeStateTransitions(t *testing.T) {
	ft := &fakeTransport{}
	c := newController(t, ft, Options{})

	var mu sync.Mutex
	var states []State
	c.OnChange(func(_ chat.Transcript, s State) {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 || states[len(states)-1] != s {
			states = append(states, s)
		}
	})

	require.NoError(t, c.Submit(context.Background(), "q"))
	s := ft.last()
	s.events <- chat.TokenEvent{Token: "a"}
	s.events <- chat.TokenEvent{Token: "b", Completed: true}
	waitSettled(t, c)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{AwaitingFirstToken, Streaming, Ready}, states)
}

func TestCloseCancelsInFlightTurn(t *testing.T) {
	ft := &fakeTransport{}
	c := NewWithTransport(ft, Options{Welcome: []string{"hi"}})

	require.NoError(t, c.Submit(context.Background(), "q"))
	c.Close()
	waitSettled(t, c)

	last, _ := c.Snapshot().Last()
	assert.Contains(t, last.Err, ErrClosed.Error())
	assert.ErrorIs(t, c.Submit(context.Background(), "again"), ErrClosed)
	<-ft.last().closed
}

func TestCloseAbortsDialInProgress(t *testing.T) {
	ft := &fakeTransport{gate: make(chan struct{})}
	c := newController(t, ft, Options{})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Submit(context.Background(), "slow") }()
	require.Eventually(t, func() bool { return c.State() == AwaitingFirstToken }, time.Second, time.Millisecond)

	c.Close()
	assert.ErrorIs(t, <-errCh, ErrClosed)
	waitSettled(t, c)

	assert.Len(t, c.Snapshot(), 1)
	assert.Equal(t, Ready, c.State())
	assert.Empty(t, ft.streams)
}

func TestCloseDuringDialDiscardsOpenedStream(t *testing.T) {
	ft := &fakeTransport{gate: make(chan struct{}), ignoreCancel: true}
	c := newController(t, ft, Options{})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Submit(context.Background(), "slow") }()
	require.Eventually(t, func() bool { return c.State() == AwaitingFirstToken }, time.Second, time.Millisecond)

	c.Close()
	close(ft.gate)
	assert.ErrorIs(t, <-errCh, ErrClosed)
	waitSettled(t, c)

	assert.Len(t, c.Snapshot(), 1, "no user turn for a closed session")
	select {
	case <-ft.last().closed:
	case <-time.After(time.Second):
		t.Fatal("opened stream was not closed")
	}
}

func TestStateOf(t *testing.T) {
	cases := []struct {
		name string
		tr   chat.Transcript
		want State
	}{
		{"empty", nil, Ready},
		{"greeting", chat.Transcript{{Speaker: chat.Bot, Text: "hi", Complete: true}}, Ready},
		{"user last", chat.Transcript{{Speaker: chat.User, Text: "q", Complete: true}}, AwaitingFirstToken},
		{"bot streaming", chat.Transcript{{Speaker: chat.User, Complete: true}, {Speaker: chat.Bot, Text: "a"}}, Streaming},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StateOf(tc.tr))
		})
	}
	assert.Equal(t, "STREAMING", Streaming.String())
	assert.Equal(t, "UNKNOWN(9)", State(9).String())
}
