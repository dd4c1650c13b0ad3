package conversation

import (
	"context"

	"go.uber.org/zap"

	"github.com/hanapbuhay/chat-service/internal/realtime"
	"github.com/hanapbuhay/chat-service/internal/ws"
)

// HistoryFunc loads the room's current history.
type HistoryFunc func(ctx context.Context) ([]Incoming, error)

// Follower keeps a View current over a live subscription. Events feed the
// view directly; every transition into Subscribed reloads history under a
// fresh generation, which recovers messages sent while the connection was
// down. A reload that lost the race with a newer one is dropped by the
// view's generation guard.
type Follower struct {
	view   *View
	load   HistoryFunc
	logger *zap.Logger
}

func NewFollower(view *View, load HistoryFunc, logger *zap.Logger) *Follower {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Follower{view: view, load: load, logger: logger}
}

// HandleEvent applies a live event to the view. Wire it to Options.OnEvent.
func (f *Follower) HandleEvent(ev *ws.Event) ScrollSignal {
	switch ev.Type {
	case ws.EventMessage:
		return f.view.ApplyMessage(FromEvent(ev))
	case ws.EventMessagesRead:
		f.view.ApplyRead(ev.UserID, ev.MessageIDs)
	}
	return ScrollNone
}

// HandleState reacts to subscription lifecycle changes. Wire it to
// Options.OnState; it then runs on the subscription's delivery goroutine, so
// the refresh completes before any event that follows the resubscribe.
func (f *Follower) HandleState(st realtime.State) {
	if st != realtime.StateSubscribed {
		return
	}
	if err := f.Refresh(context.Background()); err != nil {
		f.logger.Warn("history refresh failed", zap.Error(err))
	}
}

// Refresh reloads history under a fresh generation and applies it to the view.
func (f *Follower) Refresh(ctx context.Context) error {
	gen := f.view.NextGeneration()
	msgs, err := f.load(ctx)
	if err != nil {
		return err
	}
	f.view.SetHistory(gen, msgs)
	return nil
}
