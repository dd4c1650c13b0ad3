package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/hanapbuhay/chat-service/internal/ws"
)

// State is the lifecycle phase of a Subscription.
type State string

const (
	StateConnecting   State = "connecting"
	StateSubscribed   State = "subscribed"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// Options configures a Subscription.
type Options struct {
	// RoomID limits delivered events to one room. Zero delivers every room.
	// Events without a room id (presence, errors) always pass through.
	RoomID int64

	// OnEvent receives each delivered event. Called from the subscription's
	// own goroutine, one event at a time.
	OnEvent func(*ws.Event)

	// OnState observes every state transition, in order.
	OnState func(State)

	Logger *zap.Logger
}

// Subscription is a live event feed that survives connection drops. It dials
// through its Transport, redials with capped exponential backoff after a
// failure, and reports each lifecycle phase through OnState. Events and state
// changes are delivered sequentially from a single goroutine, so a dropped
// connection can never surface an event after its disconnect notification.
type Subscription struct {
	transport Transport
	opts      Options

	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state State

	connMu sync.Mutex
	conn   Conn
}

// Subscribe opens a subscription and starts delivering events. The returned
// handle must be released with Close.
func Subscribe(ctx context.Context, transport Transport, opts Options) *Subscription {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		transport: transport,
		opts:      opts,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateConnecting,
	}
	go s.run(ctx)
	return s
}

// State returns the current lifecycle phase.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close tears the subscription down and waits for delivery to stop. After
// Close returns no further OnEvent or OnState call is made; the final OnState
// call, StateClosed, happens before that. Close is idempotent. It must not be
// called from inside a callback.
func (s *Subscription) Close() error {
	s.cancel()
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()
	<-s.done
	return nil
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateClosed)

	s.notifyState(StateConnecting)

	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		if !first {
			s.setState(StateReconnecting)
		}
		first = false

		conn, err := s.dial(ctx)
		if err != nil {
			// Only a cancelled context stops the redial loop.
			return
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		s.setState(StateSubscribed)

		s.readLoop(ctx, conn)

		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		s.setState(StateDisconnected)
	}
}

// dial retries until a connection is established or ctx is cancelled. The
// backoff is exponential from initialBackoff, capped at maxBackoff, and
// resets on each successful connection.
func (s *Subscription) dial(ctx context.Context) (Conn, error) {
	backoff := retry.WithCappedDuration(maxBackoff, retry.NewExponential(initialBackoff))

	var conn Conn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := s.transport.Dial(ctx)
		if err != nil {
			s.opts.Logger.Debug("realtime: dial failed", zap.Error(err))
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Subscription) readLoop(ctx context.Context, conn Conn) {
	for {
		ev, err := conn.ReadEvent()
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if s.wants(ev) && s.opts.OnEvent != nil {
			s.opts.OnEvent(ev)
		}
	}
}

func (s *Subscription) wants(ev *ws.Event) bool {
	if s.opts.RoomID == 0 || ev.RoomID == 0 {
		return true
	}
	return ev.RoomID == s.opts.RoomID
}

// setState records the transition and notifies, skipping no-op transitions.
func (s *Subscription) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	s.notifyState(st)
}

func (s *Subscription) notifyState(st State) {
	if s.opts.OnState != nil {
		s.opts.OnState(st)
	}
}
