package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrTransport reports a connection-level fault.
var ErrTransport = errors.New("transport error")

// Conn is a message channel over one websocket. Reads must come from a single
// goroutine; Send may be called concurrently and writes are serialized so
// events reach the peer in the order Send was called.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

func NewConn(ws *websocket.Conn) *Conn { return &Conn{ws: ws} }

// Read blocks for the next message. Binary frames are returned as audio
// events carrying raw PCM.
func (c *Conn) Read() (Message, error) {
	kind, data, err := c.ws.ReadMessage()
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if kind == websocket.BinaryMessage {
		return BinaryAudio(data), nil
	}
	return Decode(data)
}

// Send writes m as a JSON text frame. Sending on a closed Conn is a no-op.
func (c *Conn) Send(ctx context.Context, m Message) error {
	if c.closed.Load() {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrInvalidMessage, m.Event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return nil
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(dl)
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrTransport, m.Event, err)
	}
	return nil
}

// SendBinary writes raw PCM as a binary frame.
func (c *Conn) SendBinary(ctx context.Context, pcm []byte) error {
	if c.closed.Load() {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(dl)
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fmt.Errorf("%w: write binary: %v", ErrTransport, err)
	}
	return nil
}

// Close marks the conn closed and closes the socket. Safe to call twice.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool { return c.closed.Load() }

// Dial connects to a server websocket. http(s) URLs are rewritten to ws(s).
func Dial(ctx context.Context, rawurl string) (*Conn, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, u.String(), err)
	}
	return NewConn(ws), nil
}
