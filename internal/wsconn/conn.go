// Package wsconn adapts a gorilla/websocket connection into the two
// narrow capabilities the rest of the gateway depends on:
// streambuffer.Sender (so a Stream Buffer can deliver frames directly to
// the socket) and connregistry.Transport (so the idle sweeper can tear a
// connection down by closing it). It also owns the heartbeat liveness
// probe of §5.
package wsconn

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jgtux/convogateway/internal/streambuffer"
)

const (
	// WriteWait bounds how long a single write may block.
	WriteWait = 10 * time.Second

	// PongWait is the heartbeat timeout of §5: a ping must be answered
	// within this window or the connection is torn down. It is fixed by
	// the spec, independent of the configured ping-send interval.
	PongWait = 10 * time.Second

	// MaxMessageSize bounds a single inbound text frame.
	MaxMessageSize = 1 << 20
)

// Conn wraps one client websocket connection. All writes go through
// writeMu since gorilla/websocket connections support at most one
// concurrent writer; reads are only ever issued by the owning read loop.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	log     zerolog.Logger

	closeOnce sync.Once
}

// New wraps ws, installing the pong handler that resets the read
// deadline on every heartbeat response.
func New(ws *websocket.Conn, log zerolog.Logger) *Conn {
	ws.SetReadLimit(MaxMessageSize)
	c := &Conn{ws: ws, log: log}
	ws.SetReadDeadline(time.Now().Add(PongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})
	return c
}

// ReadMessage blocks for the next text frame and returns its raw bytes.
// It returns the websocket library's error verbatim (including deadline
// timeouts from an unanswered heartbeat) so the caller's read loop can
// distinguish a clean close from a liveness failure if it cares to.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// ReadJSON blocks for the next text frame and decodes it into v.
func (c *Conn) ReadJSON(v interface{}) error {
	data, err := c.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// WriteJSON sends v as one text frame, serialized under writeMu.
func (c *Conn) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(WriteWait))
	return c.ws.WriteJSON(v)
}

// SendFrame satisfies streambuffer.Sender.
func (c *Conn) SendFrame(f streambuffer.Frame) error {
	return c.WriteJSON(f)
}

// Ping sends one heartbeat ping frame.
func (c *Conn) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(WriteWait))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

// Close satisfies connregistry.Transport. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close()
	})
	return err
}

// Heartbeat runs until stop is closed, sending a ping every interval. A
// failed ping (including one that fires after the peer already dropped
// the connection) closes the connection, which in turn unblocks the
// read loop's pending ReadMessage.
func (c *Conn) Heartbeat(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.Ping(); err != nil {
				c.log.Debug().Err(err).Msg("heartbeat ping failed, closing connection")
				c.Close()
				return
			}
		}
	}
}
