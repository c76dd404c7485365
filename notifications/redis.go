package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisChannel is the pub/sub channel carrying bus messages between nodes.
const RedisChannel = "pryv:notifications"

// RedisTransport mirrors bus messages onto a redis pub/sub channel and, when
// started, re-publishes messages from other nodes onto the local bus.
type RedisTransport struct {
	client     *redis.Client
	instanceID string
	sub        *redis.PubSub
}

type redisEnvelope struct {
	Instance string  `json:"instance"`
	Msg      Message `json:"msg"`
}

// NewRedisTransport builds a transport over an existing redis client. The
// instance id identifies this node so its own publications are skipped on
// receive.
func NewRedisTransport(client *redis.Client, instanceID string) *RedisTransport {
	return &RedisTransport{client: client, instanceID: instanceID}
}

// Send publishes one message to the shared channel.
func (t *RedisTransport) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(redisEnvelope{Instance: t.instanceID, Msg: msg})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return t.client.Publish(ctx, RedisChannel, payload).Err()
}

// Listen subscribes to the shared channel and forwards messages from other
// nodes to the local bus subscribers until the context is cancelled.
// Delivery bypasses the bus transports so forwarded messages never echo
// back onto the channel.
func (t *RedisTransport) Listen(ctx context.Context, bus *Bus) error {
	t.sub = t.client.Subscribe(ctx, RedisChannel)
	ch := t.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var env redisEnvelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				continue
			}
			if env.Instance == t.instanceID {
				continue
			}
			bus.DeliverLocal(ctx, env.Msg)
		}
	}
}

// Close unsubscribes the listener if started.
func (t *RedisTransport) Close() error {
	if t.sub != nil {
		return t.sub.Close()
	}
	return nil
}
