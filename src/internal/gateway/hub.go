package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Room emits events to every socket subscribed to one tenant.
type Room interface {
	Emit(ctx context.Context, event string, payload interface{})
}

// Broadcaster is the capability handed to event emitters.
type Broadcaster interface {
	ToRoom(tenantID string) Room
}

// Hub owns room membership for sockets attached to this process. With a bus
// configured, room emits are published to every instance and delivered
// locally by the forwarder.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	bus   Bus
	log   *logrus.Entry
}

func NewHub(bus Bus) *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
		bus:   bus,
		log:   logrus.WithField("component", "RealtimeHub"),
	}
}

// Start subscribes to the bus. A hub without a bus needs no start. If the
// subscription fails the hub detaches the bus and delivers locally.
func (h *Hub) Start(ctx context.Context) error {
	bus := h.currentBus()
	if bus == nil {
		return nil
	}
	err := bus.StartForwarder(ctx, func(m RoomMessage) {
		h.deliver(m.Room, m.Frame)
	})
	if err != nil {
		h.mu.Lock()
		h.bus = nil
		h.mu.Unlock()
		return err
	}
	return nil
}

func (h *Hub) currentBus() Bus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bus
}

func roomName(tenantID string) string {
	return "tenant:" + tenantID
}

// join adds c to the tenant room. It reports false if c was already there.
func (h *Hub) join(c *Client, tenantID string) bool {
	room := roomName(tenantID)

	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[room]
	if !ok {
		clients = make(map[*Client]struct{})
		h.rooms[room] = clients
	}
	if _, exists := clients[c]; exists {
		return false
	}
	clients[c] = struct{}{}

	h.log.WithFields(logrus.Fields{
		"connection_id": c.ID,
		"room":          room,
	}).Debug("Client joined room")
	return true
}

func (h *Hub) leave(c *Client, tenantID string) {
	room := roomName(tenantID)

	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.rooms[room]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, room)
		}
	}
}

// RoomSize reports how many local sockets are subscribed to the tenant room.
func (h *Hub) RoomSize(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomName(tenantID)])
}

// deliver fans frame out to local subscribers without waiting on any of them.
func (h *Hub) deliver(room string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[room] {
		if !c.enqueue(frame) {
			h.log.WithFields(logrus.Fields{
				"connection_id": c.ID,
				"room":          room,
			}).Warn("Dropping frame; outbound buffer full")
		}
	}
}

func (h *Hub) ToRoom(tenantID string) Room {
	return &roomEmitter{hub: h, room: roomName(tenantID)}
}

type roomEmitter struct {
	hub  *Hub
	room string
}

func (r *roomEmitter) Emit(ctx context.Context, event string, payload interface{}) {
	frame, err := encode(event, payload)
	if err != nil {
		r.hub.log.WithError(err).WithField("event", event).Error("Failed to encode room event")
		return
	}

	if bus := r.hub.currentBus(); bus != nil {
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := bus.Publish(pubCtx, RoomMessage{Room: r.room, Frame: frame})
		if err == nil {
			return
		}
		r.hub.log.WithError(err).WithField("room", r.room).Warn("Room bus publish failed, delivering locally")
	}
	r.hub.deliver(r.room, frame)
}
