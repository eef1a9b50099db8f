package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/teamclash/backend/internal/events"
)

const sendBuffer = 256

// Hub tracks the websocket clients connected to this process and the rooms
// they follow. It implements events.Broadcaster for local delivery.
type Hub struct {
	clients map[string]*Client            // playerID -> Client
	rooms   map[string]map[string]*Client // roomID -> playerID -> Client
	mu      sync.RWMutex
	log     zerolog.Logger
}

var _ events.Broadcaster = (*Hub)(nil)

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		log:     log.With().Str("component", "ws").Logger(),
	}
}

// attach registers c as the player's live connection, closing any older one.
func (h *Hub) attach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.clients[c.playerID]; ok {
		h.log.Info().Str("player_id", c.playerID).Msg("player reconnected, closing old connection")
		h.dropLocked(old)
	}
	h.clients[c.playerID] = c
}

// detach removes c. It reports false when c had already been replaced.
func (h *Hub) detach(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.playerID] != c {
		return false
	}
	h.dropLocked(c)
	return true
}

func (h *Hub) dropLocked(c *Client) {
	delete(h.clients, c.playerID)
	for roomID, members := range h.rooms {
		if members[c.playerID] == c {
			delete(members, c.playerID)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	c.closeSend()
}

// Subscribe makes the player's connection receive events addressed to roomID.
func (h *Hub) Subscribe(playerID, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[playerID]
	if !ok {
		return false
	}
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][playerID] = c
	return true
}

func (h *Hub) Unsubscribe(playerID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[roomID]; ok {
		delete(members, playerID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Subscribed reports whether the player's live connection follows roomID
func (h *Hub) Subscribed(playerID, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomID][playerID]
	return ok
}

// Connected reports whether the player has a live connection here
func (h *Hub) Connected(playerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[playerID]
	return ok
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers e to the local clients in the audience. Slow clients
// whose buffers are full miss the event.
func (h *Hub) Broadcast(_ context.Context, to events.Audience, e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.log.Error().Err(err).Str("event", e.Type).Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.targetsLocked(to) {
		if c.playerID == to.Except {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.log.Warn().Str("player_id", c.playerID).Str("event", e.Type).Msg("send buffer full, dropping event")
		}
	}
}

func (h *Hub) targetsLocked(to events.Audience) []*Client {
	switch to.Kind {
	case events.AudiencePlayer:
		if c, ok := h.clients[to.ID]; ok {
			return []*Client{c}
		}
		return nil

	case events.AudienceRoom:
		seen := make(map[string]bool)
		var out []*Client
		for _, id := range to.Members {
			if c, ok := h.clients[id]; ok && !seen[id] {
				seen[id] = true
				out = append(out, c)
			}
		}
		for id, c := range h.rooms[to.ID] {
			if !seen[id] {
				seen[id] = true
				out = append(out, c)
			}
		}
		return out

	case events.AudienceAll:
		out := make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			out = append(out, c)
		}
		return out
	}
	return nil
}
