// Package feed streams collection mirror snapshots to websocket clients.
package feed

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/anfrage-erp/anfrage/internal/docstore"
)

// Frame is one pushed snapshot.
type Frame struct {
	Collection string    `json:"collection"`
	Version    uint64    `json:"version"`
	Items      any       `json:"items"`
	SentAt     time.Time `json:"sentAt"`
}

type snapshotFunc func() (any, uint64)

// client is one websocket subscriber. send is closed by the hub only.
type client struct {
	topic string
	send  chan []byte
}

// Hub tracks subscribers per collection and fans out mirror updates.
type Hub struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	topics  map[string]snapshotFunc
	clients map[string]map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		now:     time.Now,
		topics:  make(map[string]snapshotFunc),
		clients: make(map[string]map[*client]struct{}),
	}
}

// Attach publishes every snapshot applied to mirror under topic.
func Attach[T any](h *Hub, topic string, mirror *docstore.Mirror[T]) {
	h.mu.Lock()
	h.topics[topic] = func() (any, uint64) {
		items, version := mirror.Snapshot()
		return items, version
	}
	h.mu.Unlock()
	mirror.OnUpdate(func([]T) { h.Broadcast(topic) })
}

// Has reports whether topic is attached.
func (h *Hub) Has(topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.topics[topic]
	return ok
}

// Frame encodes the current snapshot of topic.
func (h *Hub) Frame(topic string) ([]byte, bool) {
	h.mu.RLock()
	snapshot, ok := h.topics[topic]
	h.mu.RUnlock()
	if !ok {
		return nil, false
	}
	items, version := snapshot()
	payload, err := json.Marshal(Frame{Collection: topic, Version: version, Items: items, SentAt: h.now().UTC()})
	if err != nil {
		h.logger.Error("feed frame encode failed", slog.String("collection", topic), slog.Any("error", err))
		return nil, false
	}
	return payload, true
}

// Broadcast sends the current snapshot of topic to all its subscribers. Subscribers
// whose buffer is full are dropped; they reconnect and receive a fresh snapshot.
func (h *Hub) Broadcast(topic string) {
	payload, ok := h.Frame(topic)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[topic] {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("feed client too slow, dropping", slog.String("collection", topic))
			delete(h.clients[topic], c)
			close(c.send)
		}
	}
}

// Subscribers returns the number of connected clients for topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

func (h *Hub) register(topic string) *client {
	c := &client{topic: topic, send: make(chan []byte, 8)}
	h.mu.Lock()
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*client]struct{})
	}
	h.clients[topic][c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.topic][c]; ok {
		delete(h.clients[c.topic], c)
		close(c.send)
	}
}
