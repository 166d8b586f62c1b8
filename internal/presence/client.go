package presence

import (
	"sync"
	"sync/atomic"
)

// ConnState tracks a live connection through its lifecycle.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateRegistered
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Transport is the write side of a live connection. WriteJSON is only ever
// called from the client's own writer goroutine.
type Transport interface {
	WriteJSON(v any) error
	Close() error
}

// Client is one registered connection of a user.
type Client struct {
	id        uint64
	userID    string
	transport Transport
	out       chan Event
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
}

func newClient(id uint64, userID string, t Transport, buffer int) *Client {
	c := &Client{
		id:        id,
		userID:    userID,
		transport: t,
		out:       make(chan Event, buffer),
		done:      make(chan struct{}),
	}
	c.state.Store(int32(StateAuthenticated))
	return c
}

func (c *Client) UserID() string { return c.userID }

func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// enqueue never blocks. It reports false when the queue is full.
func (c *Client) enqueue(ev Event) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.out <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) writeLoop(onError func(*Client, error)) {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.out:
			if err := c.transport.WriteJSON(ev); err != nil {
				select {
				case <-c.done:
				default:
					onError(c, err)
				}
				return
			}
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		_ = c.transport.Close()
	})
}
