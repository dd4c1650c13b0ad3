package ws

import (
	"sync"
)

// Broadcaster delivers events to connected users. The Hub is the single-node
// implementation; the Redis bridge wraps it for multi-node deployments.
type Broadcaster interface {
	BroadcastToUsers(userIDs []int64, ev *Event)
	BroadcastAll(ev *Event)
}

// jsonWriter is the slice of *websocket.Conn the hub needs.
type jsonWriter interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Conn serializes writes to a single websocket connection. gorilla/websocket
// allows at most one concurrent writer per connection, so hub fanout and the
// read loop's error replies must all go through the same mutex.
type Conn struct {
	mu sync.Mutex
	ws jsonWriter
}

func (c *Conn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *Conn) Close() error {
	return c.ws.Close()
}

// Hub manages active WebSocket connections keyed by user ID and fans events
// out to them. A user may hold several connections (multiple tabs/devices).
type Hub struct {
	mu    sync.RWMutex
	conns map[int64]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[int64]map[*Conn]struct{}),
	}
}

var _ Broadcaster = (*Hub)(nil)

// Register adds a connection for the given user and returns the write-safe
// wrapper all further writes must use.
func (h *Hub) Register(userID int64, ws jsonWriter) *Conn {
	conn := &Conn{ws: ws}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*Conn]struct{})
	}
	h.conns[userID][conn] = struct{}{}
	return conn
}

// Unregister removes a connection for the given user.
func (h *Hub) Unregister(userID int64, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.conns[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.conns, userID)
		}
	}
}

// BroadcastToUsers sends the event to all active connections of the provided
// user IDs. Connections that fail are closed; removal happens on the next
// Register/Unregister.
func (h *Hub) BroadcastToUsers(userIDs []int64, ev *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, uid := range userIDs {
		conns, ok := h.conns[uid]
		if !ok {
			continue
		}
		for conn := range conns {
			if err := conn.WriteJSON(ev); err != nil {
				conn.Close()
			}
		}
	}
}

// BroadcastAll sends the event to every connected user.
func (h *Hub) BroadcastAll(ev *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conns := range h.conns {
		for conn := range conns {
			if err := conn.WriteJSON(ev); err != nil {
				conn.Close()
			}
		}
	}
}
