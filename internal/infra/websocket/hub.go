package websocket

import (
	"context"
	"sync"

	"github.com/openctemio/secmon/pkg/logger"
)

const (
	maxConnectionsPerTenant = 100
	broadcastQueueSize      = 256
)

// Hub owns every connection and routes engine events to them.
//
// Connections are grouped into one room per tenant, and a broadcast only
// ever looks inside the room of the event's tenant. A client can therefore
// subscribe to another tenant's scan channel but will never receive its
// events.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room

	queue      chan delivery
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	logger *logger.Logger
}

type room struct {
	clients  map[*Client]struct{}
	channels map[string]map[*Client]struct{}
}

func newRoom() *room {
	return &room{
		clients:  make(map[*Client]struct{}),
		channels: make(map[string]map[*Client]struct{}),
	}
}

func (r *room) drop(c *Client) {
	delete(r.clients, c)
	for ch, members := range r.channels {
		delete(members, c)
		if len(members) == 0 {
			delete(r.channels, ch)
		}
	}
}

type delivery struct {
	tenantID string
	channel  string
	msg      *Message
}

// NewHub creates a hub. Nothing is delivered until Run is started.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]*room),
		queue:      make(chan delivery, broadcastQueueSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     log.With("component", "ws_hub"),
	}
}

// defaultAuthorize: tenant channels only for the client's own tenant, scan
// channels for any client that has a tenant.
func defaultAuthorize(c *Client, channel string) bool {
	kind, id := ParseChannel(channel)
	if c.TenantID == "" || id == "" {
		return false
	}
	switch kind {
	case ChannelTypeTenant:
		return id == c.TenantID
	case ChannelTypeScan:
		return true
	default:
		return false
	}
}

// Run serializes registration and delivery until ctx is done, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			h.logger.Info("websocket hub stopped")
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case d := <-h.queue:
			h.deliver(d)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	r := h.rooms[c.TenantID]
	if r == nil {
		r = newRoom()
		h.rooms[c.TenantID] = r
	}
	if len(r.clients) >= maxConnectionsPerTenant {
		h.mu.Unlock()
		h.logger.Warn("tenant connection limit reached", "tenant_id", c.TenantID, "max", maxConnectionsPerTenant)
		c.Close()
		return
	}
	r.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("client registered", "client_id", c.ID, "tenant_id", c.TenantID)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.rooms[c.TenantID]
	if r == nil {
		return
	}
	r.drop(c)
	if len(r.clients) == 0 {
		delete(h.rooms, c.TenantID)
	}
}

// RegisterClient hands c to the hub. It returns false once the hub has stopped.
func (h *Hub) RegisterClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// UnregisterClient removes c and its subscriptions from its tenant room. It is
// a no-op once the hub has stopped.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues msg for the subscribers of channel within tenantID's room.
// An empty tenantID addresses every room. It blocks while the queue is full,
// until ctx is done; after the hub stops it is a no-op.
func (h *Hub) Broadcast(ctx context.Context, channel string, msg *Message, tenantID string) error {
	select {
	case h.queue <- delivery{tenantID: tenantID, channel: channel, msg: msg}:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe adds c to channel. It returns false when the channel is not
// allowed for c or c is at its subscription limit.
func (h *Hub) Subscribe(c *Client, channel string) bool {
	if !defaultAuthorize(c, channel) {
		return false
	}
	if !c.Subscribe(channel) {
		return c.IsSubscribed(channel)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[c.TenantID]
	if r == nil {
		r = newRoom()
		h.rooms[c.TenantID] = r
	}
	if r.channels[channel] == nil {
		r.channels[channel] = make(map[*Client]struct{})
	}
	r.channels[channel][c] = struct{}{}
	return true
}

func (h *Hub) unsubscribeFromChannel(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r := h.rooms[c.TenantID]; r != nil {
		delete(r.channels[channel], c)
		if len(r.channels[channel]) == 0 {
			delete(r.channels, channel)
		}
	}
}

func (h *Hub) deliver(d delivery) {
	h.mu.RLock()
	var targets []*Client
	for tenantID, r := range h.rooms {
		if d.tenantID != "" && tenantID != d.tenantID {
			continue
		}
		for c := range r.channels[d.channel] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.SendMessage(d.msg); err != nil {
			h.logger.Debug("send to client failed", "client_id", c.ID, "channel", d.channel, "error", err)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		for c := range r.clients {
			c.Close()
		}
	}
	h.rooms = make(map[string]*room)
}

// HubStats is a point-in-time view of the hub.
type HubStats struct {
	Tenants  int `json:"tenants"`
	Clients  int `json:"clients"`
	Channels int `json:"channels"`
}

// GetStats counts rooms, clients and subscribed channels. Empty rooms are
// dropped, so Tenants counts tenants with at least one client.
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := HubStats{Tenants: len(h.rooms)}
	for _, r := range h.rooms {
		s.Clients += len(r.clients)
		s.Channels += len(r.channels)
	}
	return s
}
