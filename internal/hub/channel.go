package hub

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"chatcore/internal/domain/chat"
	"chatcore/internal/wire"
)

// State is the channel lifecycle. Closed is terminal; a closed channel is
// removed from every conversation group.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Channel is one authenticated participant's live session in one
// conversation. The transport drains Events and pushes inbound frames
// through the hub.
type Channel struct {
	ID             string
	ConversationID string
	UserID         string

	mu           sync.Mutex
	state        State
	events       chan wire.Event
	protocolErrs int
	maxProtocol  int
}

// NewChannel creates a channel in Connecting state with a bounded send
// queue. A consumer that cannot keep up is closed rather than allowed to
// stall the broadcaster.
func NewChannel(conversationID, userID string, queueSize, maxProtocolErrs int) *Channel {
	if queueSize <= 0 {
		queueSize = 64
	}
	if maxProtocolErrs <= 0 {
		maxProtocolErrs = 5
	}
	return &Channel{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		state:          StateConnecting,
		events:         make(chan wire.Event, queueSize),
		maxProtocol:    maxProtocolErrs,
	}
}

// Events is the outbound stream the transport writes to the client.
func (c *Channel) Events() <-chan wire.Event {
	return c.events
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Authenticate moves Connecting -> Authenticated. Authentication happens
// once, at connection establishment; failures close the channel instead.
func (c *Channel) Authenticate() error {
	return c.transition(StateConnecting, StateAuthenticated)
}

func (c *Channel) activate() error {
	return c.transition(StateAuthenticated, StateActive)
}

func (c *Channel) transition(from, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return fmt.Errorf("%w: channel %s is %s, not %s", chat.ErrProtocol, c.ID, c.state, from)
	}
	c.state = to
	return nil
}

// Close moves the channel through Closing to Closed and releases the event
// queue. Idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	close(c.events)
	c.state = StateClosed
	c.mu.Unlock()
}

// send enqueues an event without blocking. A full queue or a closed channel
// reports false; the hub treats a full queue as a dead consumer.
func (c *Channel) send(event wire.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return false
	}
	select {
	case c.events <- event:
		return true
	default:
		return false
	}
}

// noteProtocolError counts a malformed frame and reports whether the abuse
// ceiling was hit.
func (c *Channel) noteProtocolError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.protocolErrs++
	return c.protocolErrs >= c.maxProtocol
}
