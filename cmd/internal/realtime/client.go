package realtime

import (
	"sync"

	v1 "parley/shared/contracts/chat/v1"
)

// Client represents one connected websocket session.
//
// Design notes:
// - Send is NOT closed by the server so concurrent emitters never panic.
// - done signals goroutines to stop; Close is idempotent.
// - Username is empty until the connection has registered.
type Client struct {
	ConnID string
	Send   chan v1.Envelope

	mu       sync.RWMutex
	username string

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnID: connID,
		Send:   make(chan v1.Envelope, sendQueueSize),
		done:   make(chan struct{}),
	}
}

func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Client) SetUsername(u string) {
	c.mu.Lock()
	c.username = u
	c.mu.Unlock()
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// offer queues env without blocking.
func (c *Client) offer(env v1.Envelope) error {
	select {
	case <-c.Done():
		return ErrConnClosed
	default:
	}

	select {
	case c.Send <- env:
		return nil
	default:
		return ErrBackpressure
	}
}
