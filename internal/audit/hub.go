package audit

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Hub fans threat events out to connected admin clients.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan SecurityThreat
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan SecurityThreat, 256),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case threat := <-h.broadcast:
			h.broadcastThreat(threat)

		case <-h.done:
			return
		}
	}
}

func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) Broadcast(threat SecurityThreat) {
	select {
	case h.broadcast <- threat:
	default:
		log.Warn().Msg("[WS] Threat broadcast buffer full, dropping event")
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	log.Info().
		Str("ownerId", client.ownerID).
		Int("totalClients", len(h.clients)).
		Msg("[WS] Audit client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	log.Info().
		Str("ownerId", client.ownerID).
		Int("totalClients", len(h.clients)).
		Msg("[WS] Audit client unregistered")
}

func (h *Hub) broadcastThreat(threat SecurityThreat) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- threat:
		default:
			// Slow client; skip rather than block the hub.
		}
	}
}
