package conversation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanapbuhay/chat-service/internal/conversation"
	"github.com/hanapbuhay/chat-service/internal/realtime"
	"github.com/hanapbuhay/chat-service/internal/ws"
)

// historyStore plays the server's message log for Follower tests.
type historyStore struct {
	mu   sync.Mutex
	msgs []conversation.Incoming
	fail bool
}

func (s *historyStore) add(m conversation.Incoming) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
}

func (s *historyStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *historyStore) load(ctx context.Context) ([]conversation.Incoming, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("history endpoint unavailable")
	}
	return append([]conversation.Incoming(nil), s.msgs...), nil
}

type scriptedConn struct {
	events chan *ws.Event
	closed chan struct{}
	once   sync.Once
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{
		events: make(chan *ws.Event, 8),
		closed: make(chan struct{}),
	}
}

func (c *scriptedConn) ReadEvent() (*ws.Event, error) {
	select {
	case <-c.closed:
		return nil, errors.New("connection closed")
	case ev := <-c.events:
		return ev, nil
	}
}

func (c *scriptedConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// queueTransport hands out scripted connections in order.
type queueTransport struct {
	mu    sync.Mutex
	conns []*scriptedConn
}

func (t *queueTransport) Dial(ctx context.Context) (realtime.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil, errors.New("no connection available")
	}
	c := t.conns[0]
	t.conns = t.conns[1:]
	return c, nil
}

func waitForState(t *testing.T, ch <-chan realtime.State, want realtime.State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-ch:
			if st == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		}
	}
}

func TestFollowerRefreshRecoversMissedMessage(t *testing.T) {
	v, clock := newView(t)
	base := clock.Now()

	store := &historyStore{}
	store.add(conversation.Incoming{ID: 501, SenderID: peerID, Content: "hi", CreatedAt: base})
	f := conversation.NewFollower(v, store.load, nil)

	f.HandleState(realtime.StateSubscribed)
	require.Len(t, v.Entries(), 1)

	// Connection down: the peer's message is persisted server-side but its
	// live event never arrives.
	f.HandleState(realtime.StateDisconnected)
	store.add(conversation.Incoming{ID: 502, SenderID: peerID, Content: "still there?", CreatedAt: base.Add(time.Second)})
	f.HandleState(realtime.StateReconnecting)
	assert.Len(t, v.Entries(), 1)

	f.HandleState(realtime.StateSubscribed)
	entries := v.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(501), entries[0].ServerID)
	assert.Equal(t, int64(502), entries[1].ServerID)
}

func TestFollowerRefreshErrorKeepsView(t *testing.T) {
	v, clock := newView(t)

	store := &historyStore{}
	store.add(conversation.Incoming{ID: 501, SenderID: peerID, Content: "hi", CreatedAt: clock.Now()})
	f := conversation.NewFollower(v, store.load, nil)

	f.HandleState(realtime.StateSubscribed)
	require.Len(t, v.Entries(), 1)

	store.setFail(true)
	f.HandleState(realtime.StateSubscribed)
	assert.Len(t, v.Entries(), 1, "a failed reload must not clear the view")

	store.setFail(false)
	store.add(conversation.Incoming{ID: 502, SenderID: peerID, Content: "again", CreatedAt: clock.Now().Add(time.Second)})
	f.HandleState(realtime.StateSubscribed)
	assert.Len(t, v.Entries(), 2)
}

func TestMessageSentWhileDisconnectedArrivesViaHistory(t *testing.T) {
	v, clock := newView(t)
	base := clock.Now()

	store := &historyStore{}
	store.add(conversation.Incoming{ID: 601, SenderID: peerID, Content: "hello", CreatedAt: base})

	conn1 := newScriptedConn()
	conn2 := newScriptedConn()
	transport := &queueTransport{conns: []*scriptedConn{conn1, conn2}}

	f := conversation.NewFollower(v, store.load, nil)
	states := make(chan realtime.State, 16)
	sub := realtime.Subscribe(context.Background(), transport, realtime.Options{
		RoomID: roomID,
		OnEvent: func(ev *ws.Event) {
			f.HandleEvent(ev)
		},
		OnState: func(st realtime.State) {
			f.HandleState(st)
			states <- st
		},
	})
	defer sub.Close()

	waitForState(t, states, realtime.StateSubscribed)
	require.Len(t, v.Entries(), 1)

	// The history message may also arrive as a live echo; exactly-once
	// regardless.
	conn1.events <- &ws.Event{Type: ws.EventMessage, RoomID: roomID, MessageID: 601, SenderID: peerID, Content: "hello", CreatedAt: base}

	// The peer's next message lands server-side just as the connection
	// drops, so its live event is lost.
	store.add(conversation.Incoming{ID: 602, SenderID: peerID, Content: "are you there?", CreatedAt: base.Add(time.Second)})
	conn1.Close()

	waitForState(t, states, realtime.StateDisconnected)
	waitForState(t, states, realtime.StateReconnecting)
	waitForState(t, states, realtime.StateSubscribed)

	entries := v.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(601), entries[0].ServerID)
	assert.Equal(t, int64(602), entries[1].ServerID)
}
