package notifications

import (
	"sync"

	"github.com/streadway/amqp"
)

// MockAMQPDialer records dialed URLs and hands out mock connections.
type MockAMQPDialer struct {
	mu          sync.Mutex
	DialErr     error
	DialedURLs  []string
	Connections []*MockAMQPConnection
}

// Dial returns a fresh mock connection, or DialErr when set.
func (d *MockAMQPDialer) Dial(url string) (AMQPConnection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialedURLs = append(d.DialedURLs, url)
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	conn := &MockAMQPConnection{}
	d.Connections = append(d.Connections, conn)
	return conn, nil
}

// MockAMQPConnection implements AMQPConnection for tests.
type MockAMQPConnection struct {
	mu         sync.Mutex
	ChannelErr error
	Channels   []*MockAMQPChannel
	Closed     bool
}

func (c *MockAMQPConnection) Channel() (AMQPChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ChannelErr != nil {
		return nil, c.ChannelErr
	}
	ch := &MockAMQPChannel{}
	c.Channels = append(c.Channels, ch)
	return ch, nil
}

func (c *MockAMQPConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// MockAMQPChannel implements AMQPChannel, recording declared queues and
// published messages.
type MockAMQPChannel struct {
	mu             sync.Mutex
	DeclareErr     error
	PublishErr     error
	DeclaredQueues []string
	Published      []amqp.Publishing
	Closed         bool
}

func (ch *MockAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.DeclareErr != nil {
		return amqp.Queue{}, ch.DeclareErr
	}
	ch.DeclaredQueues = append(ch.DeclaredQueues, name)
	return amqp.Queue{Name: name}, nil
}

func (ch *MockAMQPChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.PublishErr != nil {
		return ch.PublishErr
	}
	ch.Published = append(ch.Published, msg)
	return nil
}

func (ch *MockAMQPChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.Closed = true
	return nil
}
