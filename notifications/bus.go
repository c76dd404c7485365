// Package notifications implements the internal change bus: mutation
// methods publish coarse-grained change topics, and subscribers (webhooks
// dispatcher, cache invalidation, external transports) react to them.
package notifications

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"open-pryv.io/core/common"
)

// Topics published on the bus. Data-change topics carry the username of the
// affected user; ServerReady carries no payload.
const (
	TopicAccessesChanged       = "accesses-changed"
	TopicStreamsChanged        = "streams-changed"
	TopicEventsChanged         = "events-changed"
	TopicFollowedSlicesChanged = "followed-slices-changed"
	TopicServerReady           = "server-ready"
)

// Message is one bus notification.
type Message struct {
	Topic    string `json:"topic"`
	Username string `json:"username,omitempty"`
}

// Handler receives bus messages. Handlers run synchronously on the
// publishing goroutine, in subscription order.
type Handler func(ctx context.Context, msg Message)

// Transport forwards bus messages to another process (TCP messaging).
type Transport interface {
	// Send forwards one message; errors are logged, never propagated to
	// the publisher.
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Bus is the in-process publish/subscribe hub. Subscribers registered for a
// topic are invoked in FIFO order; a nil topic subscription receives every
// message.
type Bus struct {
	mu         sync.RWMutex
	handlers   map[string][]Handler
	all        []Handler
	transports []Transport
	log        *logrus.Entry
}

// NewBus builds an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		log:      common.Logger.WithField("component", "notifications"),
	}
}

// Subscribe registers a handler for one topic.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// SubscribeAll registers a handler for every topic.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// AttachTransport adds an external transport mirroring every published
// message.
func (b *Bus) AttachTransport(t Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transports = append(b.transports, t)
}

// Publish delivers a message to every matching subscriber and transport.
// Delivery is synchronous and ordered; transports come after in-process
// handlers and their failures are logged, not returned.
func (b *Bus) Publish(ctx context.Context, topic, username string) {
	msg := Message{Topic: topic, Username: username}
	b.deliver(ctx, msg)

	b.mu.RLock()
	transports := append([]Transport(nil), b.transports...)
	b.mu.RUnlock()
	for _, t := range transports {
		if err := t.Send(ctx, msg); err != nil {
			b.log.WithError(err).WithField("topic", topic).Warn("transport send failed")
		}
	}
}

// DeliverLocal invokes in-process subscribers without mirroring to
// transports. Transports use it to inject messages received from other
// nodes without echoing them back out.
func (b *Bus) DeliverLocal(ctx context.Context, msg Message) {
	b.deliver(ctx, msg)
}

func (b *Bus) deliver(ctx context.Context, msg Message) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[msg.Topic]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, msg)
	}
}

// Close releases every attached transport.
func (b *Bus) Close() error {
	b.mu.Lock()
	transports := b.transports
	b.transports = nil
	b.mu.Unlock()

	var firstErr error
	for _, t := range transports {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
