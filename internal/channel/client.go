package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"marketchat/internal/logger"
	"marketchat/internal/types"
)

var (
	ErrNotConnected = errors.New("channel is not connected")
	ErrBufferFull   = errors.New("channel send buffer is full")
	ErrUnauthorized = errors.New("channel rejected the credentials")
)

type Config struct {
	URL   string
	Token string

	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBuffer     int

	// RetryInitial and RetryMax bound the redial backoff.
	RetryInitial time.Duration
	RetryMax     time.Duration

	Dialer *websocket.Dialer
	Log    *logger.Logger
}

func (c *Config) defaults() {
	if c.WriteWait == 0 {
		c.WriteWait = 5 * time.Second
	}
	if c.PongWait == 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod == 0 {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 64 << 10
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = 256
	}
	if c.RetryInitial == 0 {
		c.RetryInitial = 500 * time.Millisecond
	}
	if c.RetryMax == 0 {
		c.RetryMax = 30 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Log == nil {
		c.Log = logger.Nop()
	}
}

// Client is the duplex channel to the chat server. It redials with
// exponential backoff until Run's context ends. Handlers run on the read
// goroutine and must hand work to their own loop.
type Client struct {
	cfg Config
	log *logger.Logger

	mu        sync.Mutex
	nextID    uint64
	handlers  map[types.EventType]map[uint64]func(types.Envelope)
	reconnect map[uint64]func()

	send      chan []byte
	connected atomic.Bool
}

func New(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		cfg:       cfg,
		log:       cfg.Log.With("component", "CHANNEL"),
		handlers:  make(map[types.EventType]map[uint64]func(types.Envelope)),
		reconnect: make(map[uint64]func()),
		send:      make(chan []byte, cfg.SendBuffer),
	}
}

func (c *Client) On(t types.EventType, fn func(env types.Envelope)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.handlers[t] == nil {
		c.handlers[t] = make(map[uint64]func(types.Envelope))
	}
	c.handlers[t][id] = fn
	return func() {
		c.mu.Lock()
		delete(c.handlers[t], id)
		c.mu.Unlock()
	}
}

func (c *Client) OnReconnect(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.reconnect[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.reconnect, id)
		c.mu.Unlock()
	}
}

func (c *Client) Connected() bool { return c.connected.Load() }

// Emit queues one event. It never blocks: while the connection is down or
// the buffer is full the event is refused.
func (c *Client) Emit(t types.EventType, room string, data any) error {
	if !t.ServerBound() {
		return fmt.Errorf("emit %s: %w", t, types.ErrUnknownEvent)
	}
	env, err := types.NewEnvelope(t, room, data)
	if err != nil {
		return err
	}
	if err := env.Validate(); err != nil {
		return fmt.Errorf("emit %s: %w", t, err)
	}
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	if !c.connected.Load() {
		return ErrNotConnected
	}
	select {
	case c.send <- raw:
		return nil
	default:
		return ErrBufferFull
	}
}

// Run dials and serves the connection until ctx is done. A rejected
// handshake ends it with ErrUnauthorized.
func (c *Client) Run(ctx context.Context) error {
	first := true
	for {
		conn, err := c.redial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.connected.Store(true)
		if first {
			c.log.Info("connected", "url", c.cfg.URL)
		} else {
			c.log.Info("reconnected", "url", c.cfg.URL)
			c.fireReconnect()
		}
		first = false

		c.serve(ctx, conn)
		c.connected.Store(false)
		c.drain()
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Client) redial(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitial
	b.MaxInterval = c.cfg.RetryMax

	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		return c.dial(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn("dial failed", "error", err, "retry_in", next)
		}),
	)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, backoff.Permanent(ErrUnauthorized)
		}
		return nil, err
	}
	return conn, nil
}

// serve blocks until the connection breaks or ctx ends.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(conn, stop, ctx.Done())
	}()

	c.readPump(conn)
	close(stop)
	<-writerDone
}

func (c *Client) writePump(conn *websocket.Conn, stop <-chan struct{}, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			w, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.log.Warn("write failed", "error", err)
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				c.log.Warn("write failed", "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait))
			return

		case <-stop:
			return
		}
	}
}

func (c *Client) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(c.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("unexpected close", "error", err)
			}
			return
		}
		for _, raw := range bytes.Split(frame, []byte{'\n'}) {
			if len(raw) == 0 {
				continue
			}
			c.dispatch(raw)
		}
	}
}

func (c *Client) dispatch(raw []byte) {
	env, err := types.Decode(raw)
	if err != nil {
		c.log.Warn("dropping invalid frame", "error", err)
		return
	}
	if !env.Type.ClientBound() {
		c.log.Warn("dropping server bound event", "event", env.Type)
		return
	}
	c.mu.Lock()
	fns := make([]func(types.Envelope), 0, len(c.handlers[env.Type]))
	for _, fn := range c.handlers[env.Type] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(env)
	}
}

func (c *Client) fireReconnect() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.reconnect))
	for _, fn := range c.reconnect {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// drain drops whatever was queued for a connection that is gone.
func (c *Client) drain() {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}
