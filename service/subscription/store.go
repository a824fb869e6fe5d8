package subscription

import (
	"context"
	"encoding/json"
	"sync"
)

// Descriptor is an opaque, transport-specific push subscription (a web-push
// subscription object in practice). The relay never looks inside.
type Descriptor = json.RawMessage

// Store maps a user id to its latest push subscription. Entries never expire.
type Store interface {
	Save(ctx context.Context, userID string, d Descriptor) error
	// Get reports ok=false when the user has no subscription.
	Get(ctx context.Context, userID string) (d Descriptor, ok bool, err error)
}

// Memory is the single-process Store.
type Memory struct {
	mu   sync.RWMutex
	subs map[string]Descriptor
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]Descriptor)}
}

func (m *Memory) Save(_ context.Context, userID string, d Descriptor) error {
	cp := append(Descriptor(nil), d...)
	m.mu.Lock()
	m.subs[userID] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, userID string) (Descriptor, bool, error) {
	m.mu.RLock()
	d, ok := m.subs[userID]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return append(Descriptor(nil), d...), true, nil
}
