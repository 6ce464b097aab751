package http

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quiz-room-service/internal/domain"
)

var (
	ErrClientClosed = errors.New("client connection closed")
	ErrSlowClient   = errors.New("client send buffer full")
)

// Client is one WebSocket connection. Send never blocks: events are queued on
// a bounded buffer drained by writePump, and a client that falls behind is
// disconnected.
type Client struct {
	id   string
	ws   *websocket.Conn
	opts Options
	log  zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func newClient(ws *websocket.Conn, opts Options, log zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:   id,
		ws:   ws,
		opts: opts,
		log:  log.With().Str("conn_id", id).Logger(),
		send: make(chan []byte, opts.SendBuffer),
		done: make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Send queues e for delivery.
func (c *Client) Send(e domain.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.log.Warn().Str("event", string(e.Type)).Msg("send buffer full, dropping connection")
		c.closeLocked()
		return ErrSlowClient
	}
}

// Close stops the writer; the reader notices once the socket is torn down.
func (c *Client) Close() {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
}

func (c *Client) closeLocked() {
	c.closeOnce.Do(func() {
		c.closed = true
		close(c.done)
	})
}

// writePump is the only goroutine writing to the socket.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("ws write error")
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes what was queued before the close so final events such as
// quiz-closed still reach the client.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readPump delivers inbound messages to handle in arrival order until the socket fails.
func (c *Client) readPump(handle func([]byte)) {
	defer c.Close()

	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Debug().Err(err).Msg("ws read error")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		handle(data)
	}
}
