package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client is one live socket. Reads happen on the goroutine running readPump,
// writes only on writePump.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	log  *logrus.Entry

	pongWait  time.Duration
	writeWait time.Duration
}

func newClient(id string, conn *websocket.Conn, queueSize int, pongWait, writeWait time.Duration) *Client {
	return &Client{
		ID:        id,
		conn:      conn,
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
		log:       logrus.WithField("connection_id", id),
		pongWait:  pongWait,
		writeWait: writeWait,
	}
}

// enqueue queues frame for writing; it never blocks and reports false when the
// frame was dropped.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) emit(event string, payload interface{}) {
	frame, err := encode(event, payload)
	if err != nil {
		c.log.WithError(err).WithField("event", event).Error("Failed to encode event")
		return
	}
	if !c.enqueue(frame) {
		c.log.WithField("event", event).Warn("Dropping frame; outbound buffer full")
	}
}

func (c *Client) emitError(message string) {
	c.emit(EventError, ErrorPayload{Message: message})
}

// reject writes an error event synchronously and closes the socket. Used
// before the pumps start.
func (c *Client) reject(message string) {
	deadline := time.Now().Add(c.writeWait)
	if frame, err := encode(EventError, ErrorPayload{Message: message}); err == nil {
		_ = c.conn.SetWriteDeadline(deadline)
		_ = c.conn.WriteMessage(websocket.TextMessage, frame)
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), deadline)
	c.close()
}

// shutdown tells the peer the server is going away and closes the socket.
func (c *Client) shutdown() {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(c.writeWait))
	c.close()
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// writePump drains the outbound queue and keeps the connection alive with
// pings until the client is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.WithError(err).Debug("Write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.WithError(err).Debug("Ping failed")
				return
			}
		}
	}
}

// readPump delivers inbound frames to handle one at a time, so control
// messages from one connection are processed in arrival order.
func (c *Client) readPump(maxMessageSize int64, handle func(raw []byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("Unexpected socket close")
			}
			return
		}
		// any inbound frame counts as liveness
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		handle(raw)
	}
}
