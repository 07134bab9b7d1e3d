// Package realtime holds the in-process half of the coordination core: the
// connection registry and group index, the presence tracker, presence
// subscriptions, and the room membership syncer. Cross-instance visibility is
// layered on top through the bus; everything here is also correct standalone.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/willowchat/realtime-service/pkg/chat"
)

// ErrSendQueueFull is returned when a connection's outbound queue is full.
// The frame is dropped; a slow client must not block the emitting path.
var ErrSendQueueFull = errors.New("connection send queue is full")

// ErrConnClosed is returned when sending on a closed connection.
var ErrConnClosed = errors.New("connection is closed")

// State is a connection's lifecycle position. Transitions only move forward:
// Connecting → Authenticated → Joined → Closed.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// socket is the subset of *websocket.Conn the connection needs. Tests
// substitute an in-memory implementation.
type socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

const sendQueueSize = 64

// Conn is one live transport session belonging to exactly one identity. Its
// lifetime is bounded by the transport: it is created after a successful
// handshake and destroyed when the socket closes. All outbound frames pass
// through a single buffered queue drained by one writer goroutine, which
// gives per-connection FIFO ordering.
type Conn struct {
	id       string
	identity chat.Identity

	sock  socket
	send  chan []byte
	done  chan struct{}
	state atomic.Int32

	closeOnce sync.Once
	logger    zerolog.Logger
}

func newConn(id string, identity chat.Identity, sock socket, logger zerolog.Logger) *Conn {
	c := &Conn{
		id:       id,
		identity: identity,
		sock:     sock,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
		logger:   logger.With().Str("conn", id).Str("user", identity.String()).Logger(),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *Conn) ID() string              { return c.id }
func (c *Conn) Identity() chat.Identity { return c.identity }
func (c *Conn) State() State            { return State(c.state.Load()) }

// setState advances the lifecycle; it never moves backwards.
func (c *Conn) setState(next State) {
	for {
		cur := c.state.Load()
		if cur >= int32(next) {
			return
		}
		if c.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

// Send enqueues one event frame. It never blocks: a full queue drops the
// frame and reports ErrSendQueueFull.
func (c *Conn) Send(ev chat.Event) error {
	if c.State() == StateClosed {
		return ErrConnClosed
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", ev.Kind, err)
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendQueueFull
	}
}

// writePump is the single writer for the socket. Run in its own goroutine.
func (c *Conn) writePump() {
	for {
		select {
		case data := <-c.send:
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("Write failed, closing connection.")
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		close(c.done)
		if err := c.sock.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Error closing socket.")
		}
	})
}
