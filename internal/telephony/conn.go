package telephony

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Conn is a carrier media-stream socket shared by every session it carries.
// Writes are serialized; only the connection handler closes it.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	open    atomic.Bool
}

// NewConn wraps an upgraded websocket
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{ws: ws}
	c.open.Store(true)
	return c
}

// WriteJSON sends v as one text frame
func (c *Conn) WriteJSON(v interface{}) error {
	if !c.IsOpen() {
		return websocket.ErrCloseSent
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

// IsOpen reports whether the socket still accepts writes
func (c *Conn) IsOpen() bool {
	return c.open.Load()
}

// MarkClosed stops further writes without closing the socket
func (c *Conn) MarkClosed() {
	c.open.Store(false)
}

// Close marks the connection closed and closes the socket
func (c *Conn) Close() error {
	c.MarkClosed()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Close()
}
