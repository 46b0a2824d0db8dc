// Package admin is the read-only introspection sideband: a chi-routed HTTP
// surface plus a websocket push channel streaming pipeline operating-unit
// telemetry as queries execute. It never touches catalog state and is not
// part of the SQL wire surface.
package admin

import (
	"sync"

	"github.com/google/uuid"
)

// Client is one connected websocket subscriber, abstracted over the
// connection so the hub has no transport dependency.
type Client struct {
	ID   string
	Send func(msgType string, payload any) error
}

// Hub fans telemetry events out to every subscriber. Slow or dead
// subscribers are dropped on their first failed send.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(send func(msgType string, payload any) error) *Client {
	cl := &Client{ID: uuid.NewString(), Send: send}
	h.mu.Lock()
	h.clients[cl.ID] = cl
	h.mu.Unlock()
	return cl
}

func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// Publish sends payload to every subscriber, removing any whose send
// fails.
func (h *Hub) Publish(msgType string, payload any) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.RUnlock()

	for _, cl := range clients {
		if err := cl.Send(msgType, payload); err != nil {
			h.Unregister(cl.ID)
		}
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
