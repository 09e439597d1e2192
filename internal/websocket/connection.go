package websocket

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is a connection's lifecycle position.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateOpen
	StateClosed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Connection is one authenticated client socket. It is not bound to a room.
// The username is fixed at the handshake.
type Connection struct {
	ID        string
	Username  string
	CreatedAt time.Time

	conn  *websocket.Conn
	send  chan []byte
	state atomic.Int32
}

// NewConnection wraps conn for username with a send queue of the given size.
func NewConnection(conn *websocket.Conn, username string, sendBuffer int) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = 1
	}
	c := &Connection{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: time.Now(),
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

// enqueue offers payload without blocking. The caller must hold the hub's
// read lock so the send channel cannot be closed underneath it.
func (c *Connection) enqueue(payload []byte) bool {
	if c.State() != StateOpen {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}
