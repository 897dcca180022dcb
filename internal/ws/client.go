package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var (
	errClientClosed = errors.New("ws: client closed")
	errSendBuffer   = errors.New("ws: client send buffer full")
)

// client owns one WebSocket connection's write side. All sends go
// through a buffered channel drained by a single write pump, so Send is
// safe from any goroutine and never blocks on the network.
type client struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, buffer int) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, buffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Send queues msg for delivery. A full buffer means the client is not
// keeping up; it is disconnected rather than blocking the caller or
// stalling other sessions.
func (c *client) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		// Closing the send channel lets the write pump drain what is
		// queued and drop the connection, which the read loop sees as
		// a disconnect.
		c.closed = true
		close(c.send)
		return errSendBuffer
	}
}

// close shuts down the write pump. Safe to call more than once; Send
// calls racing with close get errClientClosed instead of panicking on a
// closed channel.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
