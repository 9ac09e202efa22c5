package realtime

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
)

// IdentityKey is the registry key for a live channel.
// An empty SessionID addresses every channel of the user in lookups.
type IdentityKey struct {
	UserID    string
	SessionID string
}

func (k IdentityKey) String() string {
	if k.SessionID == "" {
		return k.UserID
	}
	return k.UserID + "/" + k.SessionID
}

// Valid reports whether k can key a registered channel.
func (k IdentityKey) Valid() bool {
	return strings.TrimSpace(k.UserID) != "" && strings.TrimSpace(k.SessionID) != ""
}

func (k IdentityKey) matches(other IdentityKey) bool {
	if k.UserID != other.UserID {
		return false
	}
	return k.SessionID == "" || k.SessionID == other.SessionID
}

// State is the lifecycle position of a channel.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type closeRequest struct {
	code   websocket.StatusCode
	reason string
}

// Client is one live realtime channel.
//
// Outbound frames go through a bounded queue drained by the gateway writer.
// Frames queued before Close are flushed ahead of the close frame.
// The send queue is never closed, so concurrent senders cannot panic.
type Client struct {
	Key IdentityKey
	// ConnID identifies this connection in logs; it changes on every reconnect.
	ConnID string

	send     chan string
	closeReq chan closeRequest
	closing  chan struct{}
	done     chan struct{}

	state     atomic.Int32
	closeOnce sync.Once
	doneOnce  sync.Once
}

// NewClient constructs a Client in StateConnecting.
func NewClient(key IdentityKey, connID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = wsMinSendQueueSize
	}
	return &Client{
		Key:      key,
		ConnID:   connID,
		send:     make(chan string, sendQueueSize),
		closeReq: make(chan closeRequest, 1),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// advance moves the state forward; it never moves backwards.
func (c *Client) advance(to State) bool {
	for {
		cur := c.state.Load()
		if State(cur) >= to {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(to)) {
			return true
		}
	}
}

// Send queues a text frame without blocking.
// It reports false when the channel is closing or the queue is full.
func (c *Client) Send(text string) bool {
	if c == nil || c.State() >= StateClosing {
		return false
	}
	select {
	case c.send <- text:
		return true
	default:
		return false
	}
}

// Close requests a close handshake with code and reason. It never blocks and
// only the first request counts.
func (c *Client) Close(code websocket.StatusCode, reason string) bool {
	if c == nil {
		return false
	}
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.advance(StateClosing)
		c.closeReq <- closeRequest{code: code, reason: reason}
		close(c.closing)
	})
	return first
}

// Closing is closed once Close has been requested.
func (c *Client) Closing() <-chan struct{} {
	return c.closing
}

// Done is closed when the underlying connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) markClosed() {
	c.doneOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
}
