/*
Copyright © 2025 Japonism Festival <dev@japonism.live>
*/

package main

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// clientEvent is the inbound JSON envelope. One struct covers every event
// type; pointers distinguish absent numeric fields from zero.
type clientEvent struct {
	Type      string   `json:"type"`                // "setRole", "move", "moveVector", "updateName", "removePlayer", "ping"
	Role      string   `json:"role,omitempty"`      // setRole: "player" or "viewer"
	Direction string   `json:"direction,omitempty"` // move: "up", "down", "left", "right"
	X         *float64 `json:"x,omitempty"`         // move: absolute target / moveVector: direction component
	Y         *float64 `json:"y,omitempty"`         // move: absolute target / moveVector: direction component
	Speed     *float64 `json:"speed,omitempty"`     // moveVector: zero means stick released
	Name      string   `json:"name,omitempty"`      // updateName
	Target    string   `json:"target,omitempty"`    // removePlayer: connection id to evict
}

type Client struct {
	id   string
	role role // guarded by the hub mutex
	conn *websocket.Conn
	send chan any
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWS(hub *Hub, log *zap.SugaredLogger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnf("upgrade error from %s: %v", realIP(r), err)
			return
		}

		client := &Client{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan any, 16),
		}

		hub.Register(client)

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 16)

	for {
		var ev clientEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			return
		}

		switch ev.Type {
		case "setRole":
			h.SetRole(c, ev.Role)
		case "move":
			h.Move(c, ev.Direction, ev.X, ev.Y)
		case "moveVector":
			h.MoveVector(c, ev.X, ev.Y, ev.Speed)
		case "updateName":
			h.UpdateName(c, ev.Name)
		case "removePlayer":
			h.RemovePlayer(c, ev.Target)
		case "ping":
			h.Ping(c)
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
