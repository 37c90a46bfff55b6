package realtime

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/arisdnt/project-kas-sub006/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

const (
	ActionJoinStore   = "join_store_room"
	ActionLeaveStore  = "leave_store_room"
	ActionJoinTenant  = "join_tenant_room"
	ActionLeaveTenant = "leave_tenant_room"
)

// Command is what a terminal sends over the socket.
type Command struct {
	Action   string `json:"action"`
	StoreID  string `json:"store_id,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
}

// Reply acknowledges a command. Type is "joined", "left" or "error".
type Reply struct {
	Type   string `json:"type"`
	Room   string `json:"room,omitempty"`
	Action string `json:"action,omitempty"`
	Error  string `json:"error,omitempty"`
}

var errUnknownAction = errors.New("unknown action")

// Client is one websocket connection. Only writePump writes to conn.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// rooms is guarded by hub.mu
	rooms map[string]struct{}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.hub.reply(c, Reply{Type: "error", Error: "invalid JSON command"})
			continue
		}
		c.handle(cmd)
	}
}

func (c *Client) handle(cmd Command) {
	room, join, err := roomFor(cmd)
	if err != nil {
		c.hub.reply(c, Reply{Type: "error", Action: cmd.Action, Error: err.Error()})
		return
	}

	if join {
		if c.hub.join(c, room) {
			c.hub.reply(c, Reply{Type: "joined", Room: room, Action: cmd.Action})
		}
		return
	}
	c.hub.leave(c, room)
	c.hub.reply(c, Reply{Type: "left", Room: room, Action: cmd.Action})
}

func roomFor(cmd Command) (string, bool, error) {
	switch cmd.Action {
	case ActionJoinStore, ActionLeaveStore:
		if cmd.StoreID == "" {
			return "", false, errors.New("store_id is required")
		}
		return domain.StoreRoom(cmd.StoreID), cmd.Action == ActionJoinStore, nil
	case ActionJoinTenant, ActionLeaveTenant:
		if cmd.TenantID == "" {
			return "", false, errors.New("tenant_id is required")
		}
		return domain.TenantRoom(cmd.TenantID), cmd.Action == ActionJoinTenant, nil
	default:
		return "", false, errUnknownAction
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
