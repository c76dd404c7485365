package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToTopicSubscribers(t *testing.T) {
	bus := NewBus()
	var got []Message
	bus.Subscribe(TopicEventsChanged, func(ctx context.Context, msg Message) {
		got = append(got, msg)
	})
	bus.Subscribe(TopicStreamsChanged, func(ctx context.Context, msg Message) {
		t.Fatal("wrong topic delivered")
	})

	bus.Publish(context.Background(), TopicEventsChanged, "alice")
	require.Len(t, got, 1)
	assert.Equal(t, Message{Topic: TopicEventsChanged, Username: "alice"}, got[0])
}

func TestSubscribeAllSeesEveryTopic(t *testing.T) {
	bus := NewBus()
	var topics []string
	bus.SubscribeAll(func(ctx context.Context, msg Message) {
		topics = append(topics, msg.Topic)
	})

	bus.Publish(context.Background(), TopicAccessesChanged, "alice")
	bus.Publish(context.Background(), TopicServerReady, "")
	assert.Equal(t, []string{TopicAccessesChanged, TopicServerReady}, topics)
}

func TestSubscribersRunInOrder(t *testing.T) {
	bus := NewBus()
	var order []int
	bus.Subscribe(TopicEventsChanged, func(ctx context.Context, msg Message) { order = append(order, 1) })
	bus.Subscribe(TopicEventsChanged, func(ctx context.Context, msg Message) { order = append(order, 2) })

	bus.Publish(context.Background(), TopicEventsChanged, "alice")
	assert.Equal(t, []int{1, 2}, order)
}

type recordingTransport struct {
	sent   []Message
	err    error
	closed bool
}

func (t *recordingTransport) Send(ctx context.Context, msg Message) error {
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *recordingTransport) Close() error {
	t.closed = true
	return nil
}

func TestPublishMirrorsToTransports(t *testing.T) {
	bus := NewBus()
	transport := &recordingTransport{}
	bus.AttachTransport(transport)

	bus.Publish(context.Background(), TopicStreamsChanged, "bob")
	require.Len(t, transport.sent, 1)
	assert.Equal(t, "bob", transport.sent[0].Username)
}

func TestTransportErrorDoesNotPropagate(t *testing.T) {
	bus := NewBus()
	bus.AttachTransport(&recordingTransport{err: errors.New("broker down")})
	delivered := false
	bus.Subscribe(TopicEventsChanged, func(ctx context.Context, msg Message) { delivered = true })

	// Publishing must not panic nor skip in-process delivery.
	bus.Publish(context.Background(), TopicEventsChanged, "alice")
	assert.True(t, delivered)
}

func TestDeliverLocalSkipsTransports(t *testing.T) {
	bus := NewBus()
	transport := &recordingTransport{}
	bus.AttachTransport(transport)
	delivered := false
	bus.Subscribe(TopicEventsChanged, func(ctx context.Context, msg Message) { delivered = true })

	bus.DeliverLocal(context.Background(), Message{Topic: TopicEventsChanged, Username: "alice"})
	assert.True(t, delivered)
	assert.Empty(t, transport.sent)
}

func TestCloseReleasesTransports(t *testing.T) {
	bus := NewBus()
	transport := &recordingTransport{}
	bus.AttachTransport(transport)
	require.NoError(t, bus.Close())
	assert.True(t, transport.closed)

	// Messages published after close reach no transport.
	bus.Publish(context.Background(), TopicEventsChanged, "alice")
	assert.Empty(t, transport.sent)
}

func TestAMQPTransportPublishesPersistentJSON(t *testing.T) {
	dialer := &MockAMQPDialer{}
	transport, err := NewAMQPTransportWithDialer("amqp://broker:5672/", "notifs", dialer)
	require.NoError(t, err)

	require.Len(t, dialer.Connections, 1)
	conn := dialer.Connections[0]
	require.Len(t, conn.Channels, 1)
	ch := conn.Channels[0]
	assert.Equal(t, []string{"notifs"}, ch.DeclaredQueues)

	require.NoError(t, transport.Send(context.Background(),
		Message{Topic: TopicEventsChanged, Username: "alice"}))
	require.Len(t, ch.Published, 1)
	assert.Equal(t, "application/json", ch.Published[0].ContentType)

	var msg Message
	require.NoError(t, json.Unmarshal(ch.Published[0].Body, &msg))
	assert.Equal(t, TopicEventsChanged, msg.Topic)
	assert.Equal(t, "alice", msg.Username)

	require.NoError(t, transport.Close())
	assert.True(t, ch.Closed)
	assert.True(t, conn.Closed)
}

func TestAMQPTransportDialFailure(t *testing.T) {
	dialer := &MockAMQPDialer{DialErr: errors.New("connection refused")}
	_, err := NewAMQPTransportWithDialer("amqp://broker:5672/", "notifs", dialer)
	assert.Error(t, err)
}

func TestAMQPTransportDeclareFailureClosesConnection(t *testing.T) {
	dialer := &MockAMQPDialer{}
	// Declare failure needs a channel pre-armed with an error; dial first
	// to get hold of the connection the transport will use.
	conn, err := dialer.Dial("amqp://broker:5672/")
	require.NoError(t, err)
	mock := conn.(*MockAMQPConnection)
	mock.ChannelErr = errors.New("channel refused")

	failing := &staticDialer{conn: mock}
	_, err = NewAMQPTransportWithDialer("amqp://broker:5672/", "notifs", failing)
	require.Error(t, err)
	assert.True(t, mock.Closed)
}

type staticDialer struct{ conn AMQPConnection }

func (d *staticDialer) Dial(url string) (AMQPConnection, error) { return d.conn, nil }
