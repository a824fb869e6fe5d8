package gateway

import (
	"encoding/json"
	"sync"

	"PRelay/module/relay/model"

	"go.uber.org/zap"
)

// Hub holds the live connections of this node, keyed by handle id.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*conn
	log   *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{conns: make(map[string]*conn), log: log}
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	if cur, ok := h.conns[c.id]; ok && cur == c {
		delete(h.conns, c.id)
	}
	h.mu.Unlock()
}

// Deliver queues env on every connection except exceptHandleID. The frame is encoded once.
func (h *Hub) Deliver(env model.Envelope, exceptHandleID string) {
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error("encode broadcast", zap.String("event", env.Event), zap.Error(err))
		return
	}
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for id, c := range h.conns {
		if id != exceptHandleID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.enqueue(data); err != nil {
			h.log.Debug("broadcast frame dropped", zap.String("handle", c.id), zap.String("event", env.Event), zap.Error(err))
		}
	}
}

// DeliverTo queues env on handleID when that connection lives here.
func (h *Hub) DeliverTo(env model.Envelope, handleID string) {
	h.mu.RLock()
	c, ok := h.conns[handleID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := c.Send(env); err != nil {
		h.log.Debug("direct frame dropped", zap.String("handle", handleID), zap.String("event", env.Event), zap.Error(err))
	}
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll asks every connection to close. Their read loops do the cleanup.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.shutdown()
	}
}
