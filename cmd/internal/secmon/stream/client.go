package stream

import (
	"sync"

	"vigil/cmd/internal/secmon"
)

// Client is one connected alert subscriber.
//
// Send is never closed by the hub so concurrent broadcasts cannot panic;
// done signals the client goroutines to stop. Close is idempotent.
type Client struct {
	ID   string
	Send chan secmon.StoredEvent

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueue
	}
	return &Client{
		ID:   id,
		Send: make(chan secmon.StoredEvent, sendQueueSize),
		done: make(chan struct{}),
	}
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals shutdown without closing Send.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
