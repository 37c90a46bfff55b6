package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/arisdnt/project-kas-sub006/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	DefaultSendBuffer = 64
	// DefaultVersionIdle is how long a session's last sent version is kept
	// without a new snapshot.
	DefaultVersionIdle = time.Hour
)

// sentVersion is the newest snapshot delivered for one session key in a room.
type sentVersion struct {
	sessionID string
	version   int64
	at        time.Time
}

// Hub fans events out to websocket connections grouped in rooms. Delivery is
// best effort: a connection whose send buffer is full is dropped and must
// re-fetch its session after reconnecting.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]map[*Client]struct{}
	clients    map[*Client]struct{}
	versions   map[string]map[string]sentVersion // room -> session key
	sendBuffer int
	upgrader   websocket.Upgrader

	versionIdle time.Duration
	lastSweep   time.Time
	now         func() time.Time
}

type Option func(*Hub)

func WithSendBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.sendBuffer = size
		}
	}
}

// WithVersionIdle sets how long an idle session key keeps its version gate.
func WithVersionIdle(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.versionIdle = d
		}
	}
}

// WithCheckOrigin replaces the default origin check, which accepts every origin.
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = check }
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		clients:    make(map[*Client]struct{}),
		versions:    make(map[string]map[string]sentVersion),
		sendBuffer:  DefaultSendBuffer,
		versionIdle: DefaultVersionIdle,
		now:         time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeWS upgrades the request and runs the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	c := h.register(conn)
	go c.writePump()
	c.readPump()
}

// Broadcast delivers event to every connection in room. Versioned session
// snapshots older than one already sent for the same key and session are
// dropped. A new session id under the same key resets the gate.
func (h *Hub) Broadcast(room string, event domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[room]
	if len(members) == 0 {
		return
	}

	now := h.now()
	h.sweepLocked(now)
	if event.Key != "" && event.Version > 0 {
		sent, ok := h.versions[room]
		if !ok {
			sent = make(map[string]sentVersion)
			h.versions[room] = sent
		}
		last, seen := sent[event.Key]
		if seen && last.sessionID == event.SessionID && event.Version <= last.version {
			return
		}
		sent[event.Key] = sentVersion{sessionID: event.SessionID, version: event.Version, at: now}
	}

	event.Room = room
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("failed to encode %s event for room %s: %v", event.Type, room, err)
		return
	}

	for c := range members {
		select {
		case c.send <- data:
		default:
			log.Printf("dropping slow websocket client from room %s", room)
			h.removeLocked(c)
		}
	}
}

// RoomSize reports how many connections are in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) register(conn *websocket.Conn) *Client {
	c := &Client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, h.sendBuffer),
		rooms: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) join(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
	return true
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	members := h.rooms[room]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
		delete(h.versions, room)
	}
}

// sweepLocked drops version gates idle for longer than versionIdle. It runs
// at most once per versionIdle.
func (h *Hub) sweepLocked(now time.Time) {
	if now.Sub(h.lastSweep) < h.versionIdle {
		return
	}
	h.lastSweep = now
	for room, sent := range h.versions {
		for key, v := range sent {
			if now.Sub(v.at) >= h.versionIdle {
				delete(sent, key)
			}
		}
		if len(sent) == 0 {
			delete(h.versions, room)
		}
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked forgets c and closes its send channel, which ends its
// writer. Safe to call more than once.
func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	delete(h.clients, c)
	close(c.send)
}

// reply queues a control message for c without blocking.
func (h *Hub) reply(c *Client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("failed to encode websocket reply: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		h.removeLocked(c)
	}
}
