package presence

import (
	"context"
	"sort"
	"sync"
)

// ChangeKind tells observers what happened to the registry.
type ChangeKind int

const (
	// Joined: a user was bound to a handle.
	Joined ChangeKind = iota + 1
	// Left: a handle went away. UserID is empty when the handle owned no slot.
	Left
)

func (k ChangeKind) String() string {
	switch k {
	case Joined:
		return "joined"
	case Left:
		return "left"
	default:
		return "unknown"
	}
}

// Change describes one registry mutation.
type Change struct {
	Kind   ChangeKind
	UserID string
	Handle Handle
	// Fresh is true on Joined when the user had no binding before.
	Fresh bool
	// Replaced is the handle that lost the slot on an overwriting Joined.
	Replaced Handle
	// Roster is the sorted set of bound users right after the mutation.
	Roster []string
}

// Observer receives registry changes in mutation order. Callbacks run while later
// mutations wait, so they must not call back into the Registry; Change carries the roster.
type Observer interface {
	OnPresence(ctx context.Context, c Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, c Change)

func (f ObserverFunc) OnPresence(ctx context.Context, c Change) { f(ctx, c) }

// Registry maps a user id to the handle that currently owns it. Last bind wins.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[string]Handle
	byHandle map[string]string // handle id -> user id

	// notifyMu keeps observer callbacks in mutation order without holding mu.
	notifyMu  sync.Mutex
	observers []Observer
}

func NewRegistry() *Registry {
	return &Registry{
		byUser:   make(map[string]Handle),
		byHandle: make(map[string]string),
	}
}

// Observe registers o. Call before the registry is shared.
func (r *Registry) Observe(o Observer) {
	r.notifyMu.Lock()
	r.observers = append(r.observers, o)
	r.notifyMu.Unlock()
}

// Bind points userID at h, overwriting any previous handle.
func (r *Registry) Bind(ctx context.Context, userID string, h Handle) Change {
	r.mu.Lock()
	prev, existed := r.byUser[userID]
	if existed && prev.ID() != h.ID() {
		delete(r.byHandle, prev.ID())
	}
	// a handle owns at most one slot
	if old, ok := r.byHandle[h.ID()]; ok && old != userID {
		if cur, ok := r.byUser[old]; ok && cur.ID() == h.ID() {
			delete(r.byUser, old)
		}
	}
	r.byUser[userID] = h
	r.byHandle[h.ID()] = userID

	c := Change{Kind: Joined, UserID: userID, Handle: h, Fresh: !existed, Roster: r.snapshotLocked()}
	if existed && prev.ID() != h.ID() {
		c.Replaced = prev
	}
	r.publish(ctx, c)
	return c
}

// Unbind releases whatever slot h still owns. Observers are told even when it owned none.
func (r *Registry) Unbind(ctx context.Context, h Handle) (string, bool) {
	r.mu.Lock()
	userID, ok := r.byHandle[h.ID()]
	if ok {
		ok = r.removeLocked(userID, h)
	}
	if !ok {
		userID = ""
	}
	r.publish(ctx, Change{Kind: Left, UserID: userID, Handle: h, Roster: r.snapshotLocked()})
	return userID, ok
}

func (r *Registry) removeLocked(userID string, h Handle) bool {
	cur, ok := r.byUser[userID]
	if !ok || cur.ID() != h.ID() {
		return false
	}
	delete(r.byUser, userID)
	delete(r.byHandle, h.ID())
	return true
}

// publish is called with mu held and releases it.
func (r *Registry) publish(ctx context.Context, c Change) {
	r.notifyMu.Lock()
	r.mu.Unlock()
	defer r.notifyMu.Unlock()
	for _, o := range r.observers {
		o.OnPresence(ctx, c)
	}
}

func (r *Registry) Lookup(userID string) (Handle, bool) {
	r.mu.RLock()
	h, ok := r.byUser[userID]
	r.mu.RUnlock()
	return h, ok
}

func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// handle returns the local handle with id, if it still owns a slot.
func (r *Registry) handle(id string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byHandle[id]
	if !ok {
		return nil, false
	}
	h, ok := r.byUser[u]
	if !ok || h.ID() != id {
		return nil, false
	}
	return h, true
}

// Snapshot returns the bound user ids, sorted.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) snapshotLocked() []string {
	out := make([]string, 0, len(r.byUser))
	for u := range r.byUser {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
