package realtime

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/hanapbuhay/chat-service/internal/ws"
)

// Conn is a single live connection to the event channel.
type Conn interface {
	// ReadEvent blocks until the next event arrives or the connection fails.
	ReadEvent() (*ws.Event, error)
	Close() error
}

// Transport dials the event channel. Each Dial produces a fresh connection;
// the subscription redials through the same transport after a drop.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebSocketTransport dials the /ws endpoint, authenticating through the
// "bearer" subprotocol pair.
type WebSocketTransport struct {
	URL    string // ws:// or wss:// endpoint
	Token  string
	Origin string
}

var _ Transport = (*WebSocketTransport)(nil)

func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	dialer := websocket.Dialer{
		Subprotocols: []string{"bearer", t.Token},
	}
	header := http.Header{}
	if t.Origin != "" {
		header.Set("Origin", t.Origin)
	}

	conn, resp, err := dialer.DialContext(ctx, t.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadEvent() (*ws.Event, error) {
	var ev ws.Event
	if err := c.conn.ReadJSON(&ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
