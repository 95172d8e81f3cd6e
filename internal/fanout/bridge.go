package fanout

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"carebridge.org/internal/obs"
)

const bridgeChannel = "carebridge:fanout"

// envelope is the wire frame relayed between instances. Origin lets a
// subscriber discard frames it published itself, which the local hub has
// already delivered. Exclude carries the originating publish's excluded
// user so typing events do not echo to the typist on other instances.
type envelope struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Exclude string          `json:"exclude,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// RedisBridge relays room publishes across service instances over Redis
// pub/sub. Delivery inherits the channel's fire-and-forget semantics: a
// dropped relay frame is recovered by the next message-log fetch, not by
// the bridge.
type RedisBridge struct {
	client *redis.Client
	hub    *Hub
	origin string
	cancel context.CancelFunc
}

// NewRedisBridge wires a hub to a Redis instance and starts the subscriber
// loop. Callers must Close the bridge on shutdown.
func NewRedisBridge(ctx context.Context, client *redis.Client, hub *Hub) (*RedisBridge, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b := &RedisBridge{
		client: client,
		hub:    hub,
		origin: uuid.NewString(),
		cancel: cancel,
	}
	hub.SetRelay(b)

	sub := client.Subscribe(loopCtx, bridgeChannel)
	go b.receive(loopCtx, sub)
	return b, nil
}

// Forward publishes a local room frame for other instances. Best-effort.
func (b *RedisBridge) Forward(room string, payload []byte, excludeUserID string) {
	data, err := json.Marshal(envelope{Origin: b.origin, Room: room, Exclude: excludeUserID, Payload: payload})
	if err != nil {
		return
	}
	if err := b.client.Publish(context.Background(), bridgeChannel, data).Err(); err != nil {
		obs.LogEvent(map[string]any{
			"level": "warn",
			"msg":   "fanout bridge publish failed",
			"room":  room,
			"error": err.Error(),
		})
	}
}

// Close stops the subscriber loop.
func (b *RedisBridge) Close() error {
	b.cancel()
	return nil
}

func (b *RedisBridge) receive(ctx context.Context, sub *redis.PubSub) {
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
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			b.hub.Deliver(env.Room, env.Payload, env.Exclude)
		}
	}
}
