package twilio

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNoStreamSid is returned when an outbound frame is attempted before the
// stream SID arrived in the provider's start event. Twilio requires the SID
// on every outbound media-stream message, so these writes must be held back.
var ErrNoStreamSid = errors.New("twilio: stream SID not yet known")

const writeWait = 10 * time.Second

// Conn wraps the accepted media-stream socket. It serializes writes and
// gates outbound frames on the stream SID.
type Conn struct {
	conn *websocket.Conn

	writeMutex sync.Mutex
	closed     bool

	sidMutex  sync.RWMutex
	streamSid string
}

// NewConn wraps an accepted media-stream WebSocket connection.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

// ReadMessage returns the next raw frame. Parsing is left to the caller so a
// malformed frame can be dropped without treating it as a transport error.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, msg, err := c.conn.ReadMessage()
	return msg, err
}

// SetStreamSid records the correlation identifier from the start event.
func (c *Conn) SetStreamSid(sid string) {
	c.sidMutex.Lock()
	c.streamSid = sid
	c.sidMutex.Unlock()
}

// StreamSid returns the correlation identifier, empty until start arrives.
func (c *Conn) StreamSid() string {
	c.sidMutex.RLock()
	defer c.sidMutex.RUnlock()
	return c.streamSid
}

// WriteMedia sends one base64 audio payload back to the call.
func (c *Conn) WriteMedia(payload string) error {
	sid := c.StreamSid()
	if sid == "" {
		return ErrNoStreamSid
	}
	return c.writeJSON(mediaMessage{
		Event:     EventMedia,
		StreamSid: sid,
		Media:     mediaMessageBody{Payload: payload},
	})
}

// WriteClear tells Twilio to drop any buffered playback.
func (c *Conn) WriteClear() error {
	sid := c.StreamSid()
	if sid == "" {
		return ErrNoStreamSid
	}
	return c.writeJSON(clearMessage{Event: "clear", StreamSid: sid})
}

func (c *Conn) writeJSON(v interface{}) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Ping sends a transport-level keepalive ping.
func (c *Conn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close sends a close frame and closes the socket. Safe to call repeatedly.
func (c *Conn) Close() error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	// Best effort: the peer may already be gone.
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
