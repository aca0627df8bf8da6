package signal

import (
	"sync"

	"github.com/dkeye/Boardly/internal/core"
	"github.com/gorilla/websocket"
)

// WsSignalConn is the core.SignalConnection of one websocket. Writes go
// through the send channel drained by the write pump.
type WsSignalConn struct {
	id   core.ConnID
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(id core.ConnID, ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		id:   id,
		conn: ws,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) ID() core.ConnID { return c.id }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// Close stops accepting frames. The write pump flushes what is queued, sends
// a close frame and tears the socket down.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
