package hub

import (
	"bytes"
	"time"

	"github.com/gorilla/websocket"

	"marketchat/internal/middleware"
	"marketchat/internal/models"
)

var newline = []byte{'\n'}

// Client is one websocket connection. The read goroutine owns joined,
// LastWarning and the limiters; send is closed only by the hub loop.
type Client struct {
	Conn *websocket.Conn
	Hub  *Hub

	send   chan []byte
	user   models.Participant
	joined map[string]struct{}

	Limiter     *middleware.RateLimiter
	typing      *middleware.RateLimiter
	LastWarning time.Time
}

func newClient(h *Hub, conn *websocket.Conn, user models.Participant) *Client {
	return &Client{
		Conn:    conn,
		Hub:     h,
		send:    make(chan []byte, h.opts.SendBuffer),
		user:    user,
		joined:  make(map[string]struct{}),
		Limiter: middleware.NewRatelimiter(h.opts.Burst, h.opts.Refill),
		typing:  middleware.NewRatelimiter(h.opts.Burst*2, h.opts.Refill/2),
	}
}

func (c *Client) unregister() {
	select {
	case c.Hub.Unregister <- c:
	case <-c.Hub.done:
	}
}

func (c *Client) WritePump() {
	opts := c.Hub.opts
	ticker := time.NewTicker(opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.unregister()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Frames queued meanwhile go out in the same write, one per line.
			n := len(c.send)
			for i := 0; i < n; i++ {
				msg, ok := <-c.send
				if !ok {
					break
				}
				w.Write(newline)
				w.Write(msg)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) ReadPump() {
	opts := c.Hub.opts
	defer func() {
		c.unregister()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(opts.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.Hub.log.Warn("unexpected close", "user", c.user.ID, "error", err)
			}
			return
		}
		for _, frame := range bytes.Split(raw, newline) {
			frame = bytes.TrimSpace(frame)
			if len(frame) == 0 {
				continue
			}
			c.handle(frame)
		}
	}
}
