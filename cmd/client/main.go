package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hanapbuhay/chat-service/internal/conversation"
	"github.com/hanapbuhay/chat-service/internal/realtime"
	"github.com/hanapbuhay/chat-service/internal/ws"
)

// A line-oriented chat client. Logs in, opens the private room with the
// given counterpart (or the global room), loads history, subscribes to the
// live channel, and sends each stdin line as a message.
func main() {
	server := flag.String("server", "http://localhost:8000", "server base URL")
	username := flag.String("user", "", "username")
	password := flag.String("pass", "", "password")
	peer := flag.Int64("peer", 0, "counterpart user id (0 for the global room)")
	flag.Parse()

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: client -user NAME -pass SECRET [-peer ID]")
		os.Exit(1)
	}

	c := &client{base: strings.TrimRight(*server, "/"), http: &http.Client{Timeout: 10 * time.Second}}

	if err := c.login(*username, *password); err != nil {
		fatal("login: %v", err)
	}

	roomID, err := c.resolveRoom(*peer)
	if err != nil {
		fatal("open room: %v", err)
	}
	fmt.Printf("connected as %s (user %d), room %d\n", *username, c.userID, roomID)

	view := conversation.NewView(roomID, c.userID, clockwork.NewRealClock())
	follower := conversation.NewFollower(view, func(ctx context.Context) ([]conversation.Incoming, error) {
		return c.loadHistory(roomID)
	}, nil)

	if err := follower.Refresh(context.Background()); err != nil {
		fatal("load history: %v", err)
	}
	for _, e := range view.Entries() {
		printEntry(e)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := &realtime.WebSocketTransport{
		URL:   wsURL(c.base),
		Token: c.token,
	}
	sub := realtime.Subscribe(ctx, transport, realtime.Options{
		RoomID: roomID,
		OnEvent: func(ev *ws.Event) {
			follower.HandleEvent(ev)
			switch ev.Type {
			case ws.EventMessage:
				if ev.SenderID != c.userID {
					fmt.Printf("[%s] %s: %s\n", ev.CreatedAt.Format("15:04:05"), ev.SenderName, ev.Content)
				}
			case ws.EventTyping:
				fmt.Printf("* %s is typing\n", ev.Username)
			}
		},
		// Every resubscribe reloads history, recovering messages sent
		// while the connection was down.
		OnState: func(st realtime.State) {
			fmt.Printf("* connection: %s\n", st)
			if st == realtime.StateSubscribed {
				if err := follower.Refresh(context.Background()); err != nil {
					fmt.Fprintf(os.Stderr, "history refresh failed: %v\n", err)
				}
			}
		},
	})
	defer sub.Close()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		entry, _ := view.AppendLocal(line)
		if err := c.send(roomID, line, entry.LocalID); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
	}
}

type client struct {
	base   string
	http   *http.Client
	token  string
	userID int64
}

func (c *client) login(username, password string) error {
	var resp struct {
		AccessToken string `json:"access_token"`
		User        struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	err := c.post("/api/auth/login", map[string]any{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return err
	}
	c.token = resp.AccessToken
	c.userID = resp.User.ID
	return nil
}

func (c *client) resolveRoom(peer int64) (int64, error) {
	if peer == 0 {
		var rooms []struct {
			ID   int64  `json:"id"`
			Type string `json:"type"`
		}
		if err := c.get("/api/rooms/", &rooms); err != nil {
			return 0, err
		}
		for _, r := range rooms {
			if r.Type == "global" {
				return r.ID, nil
			}
		}
		return 0, fmt.Errorf("no global room")
	}

	var room struct {
		ID int64 `json:"id"`
	}
	if err := c.post("/api/rooms/open", map[string]any{"user_id": peer}, &room); err != nil {
		return 0, err
	}
	return room.ID, nil
}

func (c *client) loadHistory(roomID int64) ([]conversation.Incoming, error) {
	var msgs []struct {
		ID          int64     `json:"id"`
		SenderID    int64     `json:"sender_id"`
		SenderName  string    `json:"sender_name"`
		Content     string    `json:"content"`
		ClientToken string    `json:"client_token"`
		CreatedAt   time.Time `json:"created_at"`
		ReadBy      []int64   `json:"read_by"`
	}
	if err := c.get(fmt.Sprintf("/api/rooms/%d/messages", roomID), &msgs); err != nil {
		return nil, err
	}

	res := make([]conversation.Incoming, len(msgs))
	for i, m := range msgs {
		res[i] = conversation.Incoming{
			ID:          m.ID,
			SenderID:    m.SenderID,
			SenderName:  m.SenderName,
			Content:     m.Content,
			ClientToken: m.ClientToken,
			CreatedAt:   m.CreatedAt,
			ReadBy:      m.ReadBy,
		}
	}
	return res, nil
}

func (c *client) send(roomID int64, content, clientToken string) error {
	return c.post(fmt.Sprintf("/api/rooms/%d/messages", roomID), map[string]any{
		"content":      content,
		"client_token": clientToken,
	}, nil)
}

func (c *client) post(path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *client) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func wsURL(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "/ws"
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	return u.String()
}

func printEntry(e conversation.Entry) {
	fmt.Printf("[%s] user %d: %s\n", e.CreatedAt.Format("15:04:05"), e.SenderID, e.Content)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
