package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// DefaultRelayChannel is the pub/sub channel notifications travel on.
const DefaultRelayChannel = "discussion-notifications"

// RedisRelay shares notifications between instances over Redis pub/sub.
type RedisRelay struct {
	client  *redis.Client
	channel string
}

func NewRedisRelay(client *redis.Client, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{client: client, channel: channel}
}

func (r *RedisRelay) Publish(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Subscribe delivers every relayed notification to hub until ctx is done.
func (r *RedisRelay) Subscribe(ctx context.Context, hub *Hub) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	go func() {
		<-ctx.Done()
		_ = pubsub.Close()
	}()

	for msg := range pubsub.Channel() {
		n, ok := decodeNotification(msg.Payload)
		if !ok {
			log.Printf("notification relay dropped malformed payload channel=%s", msg.Channel)
			continue
		}
		hub.Deliver(n)
	}
}

func decodeNotification(payload string) (Notification, bool) {
	var n Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil || n.UserID == 0 {
		return Notification{}, false
	}
	return n, true
}
