package ws_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hanapbuhay/chat-service/internal/ws"
)

// countingConn flags any overlapping WriteJSON calls; the underlying
// websocket library permits only one writer at a time.
type countingConn struct {
	writers int32
	overlap int32
	writes  int32
	closed  int32
	err     error
}

func (c *countingConn) WriteJSON(v interface{}) error {
	if atomic.AddInt32(&c.writers, 1) > 1 {
		atomic.StoreInt32(&c.overlap, 1)
	}
	time.Sleep(time.Millisecond)
	atomic.AddInt32(&c.writes, 1)
	atomic.AddInt32(&c.writers, -1)
	return c.err
}

func (c *countingConn) Close() error {
	atomic.AddInt32(&c.closed, 1)
	return nil
}

func TestBroadcastsSerializeWritesPerConnection(t *testing.T) {
	hub := ws.NewHub()
	conn := &countingConn{}
	wsc := hub.Register(7, conn)
	defer hub.Unregister(7, wsc)

	const rounds = 16
	var wg sync.WaitGroup
	wg.Add(2 * rounds)
	for i := 0; i < rounds; i++ {
		go func() {
			defer wg.Done()
			hub.BroadcastAll(&ws.Event{Type: ws.EventTyping, RoomID: 1})
		}()
		go func() {
			defer wg.Done()
			hub.BroadcastToUsers([]int64{7}, &ws.Event{Type: ws.EventTyping, RoomID: 1})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), atomic.LoadInt32(&conn.overlap), "concurrent WriteJSON calls on one connection")
	assert.Equal(t, int32(2*rounds), atomic.LoadInt32(&conn.writes))
}

func TestDirectWriteSerializesWithBroadcast(t *testing.T) {
	hub := ws.NewHub()
	conn := &countingConn{}
	wsc := hub.Register(3, conn)
	defer hub.Unregister(3, wsc)

	// The read loop replies on the same connection the hub fans out to.
	const rounds = 16
	var wg sync.WaitGroup
	wg.Add(2 * rounds)
	for i := 0; i < rounds; i++ {
		go func() {
			defer wg.Done()
			hub.BroadcastToUsers([]int64{3}, &ws.Event{Type: ws.EventMessage, RoomID: 1})
		}()
		go func() {
			defer wg.Done()
			_ = wsc.WriteJSON(&ws.Event{Type: ws.EventError, Message: "nope"})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), atomic.LoadInt32(&conn.overlap))
}

func TestBroadcastClosesFailedConnection(t *testing.T) {
	hub := ws.NewHub()
	healthy := &countingConn{}
	broken := &countingConn{err: errors.New("write: broken pipe")}
	hc := hub.Register(1, healthy)
	bc := hub.Register(2, broken)
	defer hub.Unregister(1, hc)
	defer hub.Unregister(2, bc)

	hub.BroadcastAll(&ws.Event{Type: ws.EventUserOnline, UserID: 9})

	assert.Equal(t, int32(1), atomic.LoadInt32(&broken.closed))
	assert.Equal(t, int32(0), atomic.LoadInt32(&healthy.closed))
}

func TestUnregisterStopsDelivery(t *testing.T) {
	hub := ws.NewHub()
	conn := &countingConn{}
	wsc := hub.Register(5, conn)
	hub.Unregister(5, wsc)

	hub.BroadcastToUsers([]int64{5}, &ws.Event{Type: ws.EventMessage, RoomID: 1})

	assert.Equal(t, int32(0), atomic.LoadInt32(&conn.writes))
}
