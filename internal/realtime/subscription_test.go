package realtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanapbuhay/chat-service/internal/realtime"
	"github.com/hanapbuhay/chat-service/internal/ws"
)

// fakeConn feeds scripted events to the subscription and fails afterwards.
type fakeConn struct {
	mu     sync.Mutex
	events []*ws.Event
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(events ...*ws.Event) *fakeConn {
	return &fakeConn{events: events, closed: make(chan struct{})}
}

func (c *fakeConn) ReadEvent() (*ws.Event, error) {
	c.mu.Lock()
	if len(c.events) > 0 {
		ev := c.events[0]
		c.events = c.events[1:]
		c.mu.Unlock()
		return ev, nil
	}
	c.mu.Unlock()

	<-c.closed
	return nil, errors.New("connection closed")
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Drop fails the connection from the server side.
func (c *fakeConn) Drop() {
	c.Close()
}

// fakeTransport hands out scripted connections in order, then blocks dialing
// until the context is cancelled.
type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (t *fakeTransport) Dial(ctx context.Context) (realtime.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if len(t.conns) == 0 {
		return nil, errors.New("no more connections")
	}
	c := t.conns[0]
	t.conns = t.conns[1:]
	return c, nil
}

// stateRecorder collects transitions in order.
type stateRecorder struct {
	mu     sync.Mutex
	states []realtime.State
	notify chan realtime.State
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{notify: make(chan realtime.State, 32)}
}

func (r *stateRecorder) record(st realtime.State) {
	r.mu.Lock()
	r.states = append(r.states, st)
	r.mu.Unlock()
	r.notify <- st
}

func (r *stateRecorder) history() []realtime.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]realtime.State(nil), r.states...)
}

func (r *stateRecorder) waitFor(t *testing.T, want realtime.State) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-r.notify:
			if st == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, have %v", want, r.history())
		}
	}
}

func TestSubscribeDeliversEvents(t *testing.T) {
	conn := newFakeConn(
		&ws.Event{Type: ws.EventMessage, RoomID: 10, MessageID: 1, Content: "hello"},
	)
	transport := &fakeTransport{conns: []*fakeConn{conn}}

	rec := newStateRecorder()
	events := make(chan *ws.Event, 8)
	sub := realtime.Subscribe(context.Background(), transport, realtime.Options{
		RoomID:  10,
		OnEvent: func(ev *ws.Event) { events <- ev },
		OnState: rec.record,
	})
	defer sub.Close()

	rec.waitFor(t, realtime.StateSubscribed)

	select {
	case ev := <-events:
		assert.Equal(t, int64(1), ev.MessageID)
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestRoomFiltering(t *testing.T) {
	conn := newFakeConn(
		&ws.Event{Type: ws.EventMessage, RoomID: 99, MessageID: 1},
		&ws.Event{Type: ws.EventMessage, RoomID: 10, MessageID: 2},
		&ws.Event{Type: ws.EventUserOnline, UserID: 7}, // no room: passes through
	)
	transport := &fakeTransport{conns: []*fakeConn{conn}}

	events := make(chan *ws.Event, 8)
	sub := realtime.Subscribe(context.Background(), transport, realtime.Options{
		RoomID:  10,
		OnEvent: func(ev *ws.Event) { events <- ev },
	})
	defer sub.Close()

	first := <-events
	assert.Equal(t, int64(2), first.MessageID)
	second := <-events
	assert.Equal(t, ws.EventUserOnline, second.Type)
	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn(&ws.Event{Type: ws.EventMessage, RoomID: 10, MessageID: 5})
	transport := &fakeTransport{conns: []*fakeConn{first, second}}

	rec := newStateRecorder()
	events := make(chan *ws.Event, 8)
	sub := realtime.Subscribe(context.Background(), transport, realtime.Options{
		OnEvent: func(ev *ws.Event) { events <- ev },
		OnState: rec.record,
	})
	defer sub.Close()

	rec.waitFor(t, realtime.StateSubscribed)
	first.Drop()

	rec.waitFor(t, realtime.StateDisconnected)
	rec.waitFor(t, realtime.StateSubscribed)

	select {
	case ev := <-events:
		assert.Equal(t, int64(5), ev.MessageID)
	case <-time.After(5 * time.Second):
		t.Fatal("no event after reconnect")
	}

	history := rec.history()
	require.GreaterOrEqual(t, len(history), 4)
	assert.Equal(t, realtime.StateConnecting, history[0])
	assert.Equal(t, realtime.StateSubscribed, history[1])
	assert.Equal(t, realtime.StateDisconnected, history[2])
	assert.Equal(t, realtime.StateReconnecting, history[3])
}

func TestCloseIsSynchronousAndFinal(t *testing.T) {
	conn := newFakeConn()
	transport := &fakeTransport{conns: []*fakeConn{conn}}

	rec := newStateRecorder()
	var mu sync.Mutex
	closedAt := time.Time{}
	lateCallback := false

	sub := realtime.Subscribe(context.Background(), transport, realtime.Options{
		OnEvent: func(ev *ws.Event) {
			mu.Lock()
			if !closedAt.IsZero() {
				lateCallback = true
			}
			mu.Unlock()
		},
		OnState: func(st realtime.State) {
			mu.Lock()
			if !closedAt.IsZero() {
				lateCallback = true
			}
			mu.Unlock()
			rec.record(st)
		},
	})
	rec.waitFor(t, realtime.StateSubscribed)

	require.NoError(t, sub.Close())
	mu.Lock()
	closedAt = time.Now()
	mu.Unlock()

	assert.Equal(t, realtime.StateClosed, sub.State())
	history := rec.history()
	assert.Equal(t, realtime.StateClosed, history[len(history)-1])

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, lateCallback, "callback fired after Close returned")
}

func TestCloseIdempotent(t *testing.T) {
	conn := newFakeConn()
	transport := &fakeTransport{conns: []*fakeConn{conn}}

	sub := realtime.Subscribe(context.Background(), transport, realtime.Options{})
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, realtime.StateClosed, sub.State())
}
