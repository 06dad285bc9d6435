// Package hub is the server end of the duplex chat channel: room
// membership, event routing and fan-out to connected clients.
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketchat/internal/bus"
	"marketchat/internal/logger"
	"marketchat/internal/metrics"
	"marketchat/internal/middleware"
	"marketchat/internal/repository"
	"marketchat/internal/types"
)

type Options struct {
	// InstanceID tags events this hub puts on the bus. A random id is used
	// when empty.
	InstanceID string

	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBuffer     int

	// Burst and Refill size the per connection token bucket for
	// persisted events. Typing events have their own, looser bucket and
	// are dropped silently when it runs dry.
	Burst  int32
	Refill time.Duration

	// MediaPrefix, when set, is the only accepted prefix for attachment
	// urls in sendMessage.
	MediaPrefix string
	// AllowedOrigins restricts browser handshakes; empty allows all.
	AllowedOrigins []string
}

func (o *Options) defaults() {
	if o.WriteWait == 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.PongWait == 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod == 0 {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.MaxMessageSize == 0 {
		o.MaxMessageSize = 16 << 10
	}
	if o.SendBuffer == 0 {
		o.SendBuffer = 256
	}
	if o.Burst == 0 {
		o.Burst = 5
	}
	if o.Refill == 0 {
		o.Refill = 500 * time.Millisecond
	}
}

type opKind int

const (
	opDeliver opKind = iota
	opJoin
	opLeave
	opReply
)

// op is a routing instruction for the hub loop. Membership changes and
// deliveries from one client share the channel so they apply in order.
type op struct {
	kind   opKind
	client *Client
	room   string
	env    types.Envelope
	raw    []byte
	// except skips one member, used for typing fan-out.
	except *Client
}

type Hub struct {
	ID string

	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}

	Register   chan *Client
	Unregister chan *Client
	ops        chan op
	Quit       chan struct{}
	done       chan struct{}
	quitOnce   sync.Once

	messages repository.MessageRepo
	roomRepo repository.RoomRepo
	bus      bus.Bus
	upgrader websocket.Upgrader
	opts     Options
	log      *logger.Logger
}

func New(messages repository.MessageRepo, rooms repository.RoomRepo, b bus.Bus, opts Options, log *logger.Logger) *Hub {
	opts.defaults()
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	h := &Hub{
		ID:         opts.InstanceID,
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		ops:        make(chan op, 256),
		Quit:       make(chan struct{}),
		done:       make(chan struct{}),
		messages:   messages,
		roomRepo:   rooms,
		bus:        b,
		opts:       opts,
		log:        log.With("component", "HUB"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.opts.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// Stop ends Run and closes every connection.
func (h *Hub) Stop() {
	h.quitOnce.Do(func() { close(h.Quit) })
}

// Run is the hub loop. It owns the client and room maps.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("main loop started", "instance", h.ID)
	defer close(h.done)

	if h.bus != nil {
		if err := h.bus.StartForwarder(ctx, h.fromBus); err != nil {
			h.log.Error("bus forwarder failed, running single instance", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case <-h.Quit:
			h.shutdown()
			return

		case c := <-h.Register:
			h.clients[c] = struct{}{}
			metrics.Connections.Inc()
			h.log.Debug("client registered", "user", c.user.ID, "active", len(h.clients))

		case c := <-h.Unregister:
			h.drop(c)

		case o := <-h.ops:
			switch o.kind {
			case opJoin:
				if _, ok := h.clients[o.client]; !ok {
					continue
				}
				members := h.rooms[o.room]
				if members == nil {
					members = make(map[*Client]struct{})
					h.rooms[o.room] = members
				}
				members[o.client] = struct{}{}
			case opLeave:
				h.leave(o.client, o.room)
			case opDeliver:
				h.deliver(o)
			case opReply:
				if _, ok := h.clients[o.client]; ok {
					h.push(o.client, o.raw)
				}
			}
		}
	}
}

func (h *Hub) shutdown() {
	h.log.Info("quit signal received, closing all client connections", "active", len(h.clients))
	for c := range h.clients {
		h.drop(c)
	}
}

func (h *Hub) leave(c *Client, room string) {
	members := h.rooms[room]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for room := range h.rooms {
		h.leave(c, room)
	}
	close(c.send)
	metrics.Connections.Dec()
	h.log.Debug("client removed", "user", c.user.ID, "active", len(h.clients))
}

func (h *Hub) deliver(o op) {
	for c := range h.rooms[o.env.Room] {
		if c == o.except {
			continue
		}
		h.push(c, o.raw)
	}
}

func (h *Hub) push(c *Client, raw []byte) {
	select {
	case c.send <- raw:
	default:
		h.log.Warn("client buffer full, evicting slow consumer", "user", c.user.ID)
		metrics.SlowConsumers.Inc()
		h.drop(c)
	}
}

// submit hands an op to the loop unless the hub has stopped.
func (h *Hub) submit(o op) {
	select {
	case h.ops <- o:
	case <-h.done:
	}
}

// publish fans env out to the room, and to other instances unless it came
// from the bus.
func (h *Hub) publish(ctx context.Context, env types.Envelope, except *Client) error {
	env.Origin = h.ID
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	if h.bus != nil && !env.FromBus {
		if err := h.bus.Publish(ctx, env); err != nil {
			h.log.Warn("bus publish failed", "event", env.Type, "room", env.Room, "error", err)
		}
	}
	h.submit(op{kind: opDeliver, env: env, raw: raw, except: except})
	return nil
}

func (h *Hub) fromBus(env types.Envelope) {
	if !env.Type.ClientBound() {
		return
	}
	raw, err := env.Encode()
	if err != nil {
		return
	}
	h.submit(op{kind: opDeliver, env: env, raw: raw})
}

// ServeWS upgrades an authenticated request and starts the client pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFrom(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "error", err)
		return
	}
	c := newClient(h, conn, user.Participant())
	select {
	case h.Register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.WritePump()
	go c.ReadPump()
}
