package server

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxInboundSize = 4096
	sendBufferSize = 32
)

var (
	errConnectionClosed = errors.New("connection closed")
	errSendBufferFull   = errors.New("connection buffer exceeded")
)

// connection wraps a websocket and serializes outbound writes through one goroutine.
type connection struct {
	userID     string
	ws         *websocket.Conn
	send       chan []byte
	closed     chan struct{}
	once       sync.Once
	pingPeriod time.Duration

	finishing    chan struct{}
	finishOnce   sync.Once
	finishCode   int
	finishReason string
}

func newConnection(userID string, ws *websocket.Conn, pingPeriod time.Duration) *connection {
	return &connection{
		userID:     userID,
		ws:         ws,
		send:       make(chan []byte, sendBufferSize),
		closed:     make(chan struct{}),
		pingPeriod: pingPeriod,
		finishing:  make(chan struct{}),
	}
}

// Start launches the write loop. It must be called exactly once.
func (c *connection) Start() {
	go c.writeLoop()
}

// SendJSON enqueues a frame. A client too slow to drain its buffer is disconnected.
func (c *connection) SendJSON(value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return errConnectionClosed
	default:
	}
	select {
	case <-c.closed:
		return errConnectionClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errSendBufferFull
	}
}

// Close sends a close frame once and tears down the socket.
func (c *connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// Finish writes the frames already queued and then closes with code. It gives up and
// closes immediately after writeWait.
func (c *connection) Finish(code int, reason string) {
	c.finishOnce.Do(func() {
		c.finishCode = code
		c.finishReason = reason
		close(c.finishing)
	})
	select {
	case <-c.closed:
	case <-time.After(writeWait):
		c.Close(code, reason)
	}
}

// readLoop discards client frames and returns when the peer goes away or stops
// answering pings.
func (c *connection) readLoop() {
	pongWait := 2 * c.pingPeriod
	c.ws.SetReadLimit(maxInboundSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.NextReader(); err != nil {
			return
		}
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				c.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-c.finishing:
			for {
				select {
				case payload := <-c.send:
					if err := c.write(websocket.TextMessage, payload); err != nil {
						c.Close(websocket.CloseInternalServerErr, "write failed")
						return
					}
				default:
					c.Close(c.finishCode, c.finishReason)
					return
				}
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

func (c *connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
