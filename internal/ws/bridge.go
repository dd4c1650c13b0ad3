package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const bridgeChannel = "chat.events"

// envelope is the frame relayed between nodes. An empty UserIDs slice means
// "every connected user".
type envelope struct {
	UserIDs []int64 `json:"user_ids,omitempty"`
	Event   *Event  `json:"event"`
}

// Bridge relays hub events through Redis pub/sub so that a user connected to
// one node receives events produced on another. Events published here come
// back through the subscription, the node's own included, and are delivered
// to the local hub at that point.
type Bridge struct {
	hub    *Hub
	rdb    *redis.Client
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Broadcaster = (*Bridge)(nil)

func NewBridge(hub *Hub, redisURL string, logger *zap.Logger) (*Bridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		hub:    hub,
		rdb:    rdb,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go b.run(ctx)
	return b, nil
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)

	sub := b.rdb.Subscribe(ctx, bridgeChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("bridge: bad envelope", zap.Error(err))
				continue
			}
			if len(env.UserIDs) == 0 {
				b.hub.BroadcastAll(env.Event)
			} else {
				b.hub.BroadcastToUsers(env.UserIDs, env.Event)
			}
		}
	}
}

func (b *Bridge) publish(env envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("bridge: marshal envelope", zap.Error(err))
		return
	}
	if err := b.rdb.Publish(context.Background(), bridgeChannel, payload).Err(); err != nil {
		b.logger.Warn("bridge: publish failed, delivering locally", zap.Error(err))
		if len(env.UserIDs) == 0 {
			b.hub.BroadcastAll(env.Event)
		} else {
			b.hub.BroadcastToUsers(env.UserIDs, env.Event)
		}
	}
}

func (b *Bridge) BroadcastToUsers(userIDs []int64, ev *Event) {
	b.publish(envelope{UserIDs: userIDs, Event: ev})
}

func (b *Bridge) BroadcastAll(ev *Event) {
	b.publish(envelope{Event: ev})
}

// Close stops the subscriber loop and releases the Redis client.
func (b *Bridge) Close() error {
	b.cancel()
	<-b.done
	return b.rdb.Close()
}
