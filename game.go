// Festival Position Sync
//
// A single venue room shared by every connection. Phones connect as
// "player" and steer an avatar around the isometric map; stage screens
// and dashboards connect as "viewer" and watch. The server owns all
// positions: every mutation rewrites the in-memory player store and
// rebroadcasts the full snapshot to everyone, so clients can treat each
// `players` event as idempotent replacement.
//
// Features:
// - Roles declared over the socket: player (avatar) or viewer (watch-only)
// - Random spawn inside the map margin, random HSL avatar color
// - Discrete step, point-and-click target, and joystick vector movement
// - Display name updates from the controller
// - Dashboard-initiated player removal with forced disconnect
// - Optional broadcast coalescing on a fixed interval
//
// Nothing here survives a restart; state lives and dies with the process.

package main

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// role is the explicit per-connection state machine. A connection starts
// unassigned and moves to exactly one of player or viewer; there is no
// transition between the two short of reconnecting.
type role int

const (
	roleUnassigned role = iota
	rolePlayer
	roleViewer
)

// Player is one avatar as stored server-side and sent on the wire.
// SocketID is the owning connection's id; clients key on it.
type Player struct {
	ID          string    `json:"id"`
	SocketID    string    `json:"socketId"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Color       string    `json:"color"`
	Name        string    `json:"name"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Sent once to a connection that just became a player.
type playerDataMessage struct {
	Type   string `json:"type"` // "playerData"
	Player Player `json:"player"`
}

// The full snapshot, broadcast to every connection on each mutation.
type playersMessage struct {
	Type    string            `json:"type"` // "players"
	Players map[string]Player `json:"players"`
}

// Sent to the requester of a successful removePlayer.
type playerRemovedMessage struct {
	Type       string `json:"type"` // "playerRemoved"
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

type pongMessage struct {
	Type string `json:"type"` // "pong"
}

// Hub owns the connection registry and the player store. All mutation
// happens under mu, so a mutation and its broadcast are atomic; HTTP
// status handlers take the read side.
type Hub struct {
	cfg *Config
	log *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[*Client]bool
	players map[string]*Player // keyed by connection id
	dirty   bool               // snapshot pending when coalescing

	started time.Time
}

func newHub(cfg *Config, log *zap.SugaredLogger) *Hub {
	return &Hub{
		cfg:     cfg,
		log:     log,
		clients: make(map[*Client]bool),
		players: make(map[string]*Player),
		started: time.Now(),
	}
}

// run flushes coalesced broadcasts. Only needed when --broadcast-interval
// is set; with the default per-mutation behavior there is nothing to do.
func (h *Hub) run(ctx context.Context) {
	if h.cfg.broadcastInterval <= 0 {
		return
	}

	ticker := time.NewTicker(h.cfg.broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			if h.dirty {
				h.dirty = false
				h.flushLocked()
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = true
	h.log.Debugf("client connected: %s", c.id)
}

// Unregister handles both graceful and abrupt disconnects; the transport
// makes no distinction. A departing player is purged and everyone is told;
// a departing viewer changes nothing.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}

	if c.role == rolePlayer {
		if p, ok := h.players[c.id]; ok {
			delete(h.players, c.id)
			h.log.Infof("player %s disconnected", p.Name)
			h.broadcastLocked()
		}
		return
	}

	h.log.Debugf("client disconnected: %s", c.id)
}

// SetRole assigns a connection its role. Re-declaring after assignment is
// a rejected transition: the existing record (and identity) is kept.
func (h *Hub) SetRole(c *Client, r string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.role != roleUnassigned {
		h.log.Debugf("ignoring role re-declaration from %s", c.id)
		return
	}

	switch r {
	case "player":
		c.role = rolePlayer

		x, y := spawnPosition(h.cfg.mapWidth, h.cfg.mapHeight)
		p := &Player{
			ID:          "player_" + uuid.NewString(),
			SocketID:    c.id,
			X:           x,
			Y:           y,
			Color:       randomColor(),
			Name:        fmt.Sprintf("Player %d", len(h.players)+1),
			ConnectedAt: time.Now().UTC(),
		}
		h.players[c.id] = p

		h.log.Infof("player %s spawned at (%.1f, %.1f)", p.Name, p.X, p.Y)

		h.sendLocked(c, playerDataMessage{Type: "playerData", Player: *p})
		h.broadcastLocked()

	case "viewer":
		c.role = roleViewer
		h.log.Debugf("viewer connected: %s", c.id)

		// No mutation, but broadcast so the new viewer sees current state.
		h.broadcastLocked()

	default:
		h.log.Debugf("unknown role %q from %s", r, c.id)
	}
}

// Move applies a discrete directional step or an absolute target. A
// connection without a player, an unknown direction, or a non-finite
// coordinate is a silent no-op: no mutation, no broadcast.
func (h *Hub) Move(c *Client, direction string, x, y *float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.players[c.id]
	if !ok {
		return
	}

	switch {
	case direction != "":
		nx, ny, ok := stepPosition(p.X, p.Y, direction, h.cfg.mapWidth, h.cfg.mapHeight)
		if !ok {
			h.log.Debugf("unknown direction %q from %s", direction, c.id)
			return
		}
		p.X, p.Y = nx, ny

	case x != nil && y != nil:
		if !isFinite(*x) || !isFinite(*y) {
			h.log.Debugf("rejecting non-finite target from %s", c.id)
			return
		}
		p.X = clamp(*x, 0, h.cfg.mapWidth)
		p.Y = clamp(*y, 0, h.cfg.mapHeight)

	default:
		return
	}

	h.broadcastLocked()
}

// MoveVector applies a joystick direction. The speed field is only a
// gate: zero or negative means the stick is released.
func (h *Hub) MoveVector(c *Client, dx, dy, speed *float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.players[c.id]
	if !ok {
		return
	}

	if dx == nil || dy == nil || speed == nil {
		return
	}
	if !isFinite(*dx) || !isFinite(*dy) || !isFinite(*speed) {
		h.log.Debugf("rejecting non-finite vector from %s", c.id)
		return
	}
	if *speed <= 0 {
		return
	}

	p.X, p.Y = vectorPosition(p.X, p.Y, *dx, *dy, h.cfg.mapWidth, h.cfg.mapHeight)

	h.broadcastLocked()
}

// UpdateName renames the connection's player. Blank names (after
// trimming) keep the existing name.
func (h *Hub) UpdateName(c *Client, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.players[c.id]
	if !ok {
		return
	}

	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return
	}

	h.log.Infof("player %s renamed to %s", p.Name, trimmed)
	p.Name = trimmed

	h.broadcastLocked()
}

// RemovePlayer evicts the player owned by targetID on behalf of a
// dashboard connection: the record is deleted, the target's transport is
// force-closed, everyone gets the new snapshot, and the requester gets a
// confirmation. A nonexistent target is a strict no-op.
func (h *Hub) RemovePlayer(requester *Client, targetID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.players[targetID]
	if !ok {
		return
	}

	delete(h.players, targetID)

	for c := range h.clients {
		if c.id == targetID {
			h.dropClientLocked(c)
			break
		}
	}

	h.log.Infof("removed player %s", p.Name)

	h.broadcastLocked()
	h.sendLocked(requester, playerRemovedMessage{
		Type:       "playerRemoved",
		PlayerID:   targetID,
		PlayerName: p.Name,
	})
}

// Ping answers the client-side connection health probe.
func (h *Hub) Ping(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sendLocked(c, pongMessage{Type: "pong"})
}

// broadcastLocked queues or fires a full-snapshot broadcast depending on
// whether coalescing is enabled.
func (h *Hub) broadcastLocked() {
	if h.cfg.broadcastInterval > 0 {
		h.dirty = true
		return
	}
	h.flushLocked()
}

func (h *Hub) flushLocked() {
	msg := playersMessage{Type: "players", Players: h.snapshotLocked()}
	for c := range h.clients {
		h.sendLocked(c, msg)
	}
}

// snapshotLocked copies player values out of the store so later mutations
// never race with a marshal in a write pump.
func (h *Hub) snapshotLocked() map[string]Player {
	snap := make(map[string]Player, len(h.players))
	for id, p := range h.players {
		snap[id] = *p
	}
	return snap
}

// sendLocked enqueues without blocking; a client that cannot keep up with
// the snapshot rate is dropped rather than allowed to stall the hub. A
// client already dropped (evicted, or the target of its own removal) has
// a closed queue, so sends go only to current registry members.
func (h *Hub) sendLocked(c *Client, msg any) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.dropClientLocked(c)
	}
}

func (h *Hub) dropClientLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Snapshot returns a copy of the player store for the status endpoints.
func (h *Hub) Snapshot() map[string]Player {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.snapshotLocked()
}

func (h *Hub) PlayerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.players)
}

func (h *Hub) Uptime() time.Duration {
	return time.Since(h.started)
}

// spawnPosition samples uniformly inside the map with a margin so avatars
// never spawn flush against an edge. Maps smaller than twice the margin
// spawn at center.
func spawnPosition(width, height float64) (float64, float64) {
	return sampleAxis(width), sampleAxis(height)
}

func sampleAxis(dim float64) float64 {
	const margin = 50
	if dim <= 2*margin {
		return dim / 2
	}
	return margin + rand.Float64()*(dim-2*margin)
}

func randomColor() string {
	return fmt.Sprintf("hsl(%d, 70%%, 60%%)", rand.Intn(360))
}
