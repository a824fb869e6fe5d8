package presence

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"

	"PRelay/module/relay/model"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// memShared is an in-memory Shared table that several registries can point at.
type memShared struct {
	mu    sync.Mutex
	owner map[string]string
	err   error
}

func newMemShared() *memShared { return &memShared{owner: make(map[string]string)} }

func (m *memShared) rosterLocked() []string {
	out := make([]string, 0, len(m.owner))
	for u := range m.owner {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (m *memShared) Claim(_ context.Context, userID, handleID string) (string, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", nil, m.err
	}
	prev := m.owner[userID]
	m.owner[userID] = handleID
	return prev, m.rosterLocked(), nil
}

func (m *memShared) Release(_ context.Context, userID, handleID string) (bool, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, nil, m.err
	}
	if m.owner[userID] != handleID {
		return false, m.rosterLocked(), nil
	}
	delete(m.owner, userID)
	return true, m.rosterLocked(), nil
}

func (m *memShared) Owner(_ context.Context, userID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	id, ok := m.owner[userID]
	return id, ok, nil
}

func (m *memShared) Roster(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.rosterLocked(), nil
}

func (m *memShared) fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

type sent struct {
	to  string
	env model.Envelope
}

type memRemote struct {
	mu  sync.Mutex
	got []sent
}

func (r *memRemote) SendTo(_ context.Context, handleID string, env model.Envelope) error {
	r.mu.Lock()
	r.got = append(r.got, sent{to: handleID, env: env})
	r.mu.Unlock()
	return nil
}

type node struct {
	reg *Registry
	dir *Directory
	fan *fakeFanout
}

func newNode(t *testing.T, shared Shared, remote Remote) node {
	t.Helper()
	reg := NewRegistry()
	dir := NewDirectory(reg, WithShared(shared, remote), WithLogger(zaptest.NewLogger(t)))
	fan := &fakeFanout{}
	NewBroadcaster(dir, fan, zaptest.NewLogger(t), nil)
	return node{reg: reg, dir: dir, fan: fan}
}

func TestDirectoryLocalMode(t *testing.T) {
	reg := NewRegistry()
	dir := NewDirectory(reg)
	ctx := context.Background()
	h := newHandle("h1")

	reg.Bind(ctx, "alice", h)
	if got, ok := dir.Lookup(ctx, "alice"); !ok || got != Handle(h) {
		t.Fatalf("Lookup = %v %v", got, ok)
	}
	if !dir.IsOnline(ctx, "alice") || dir.IsOnline(ctx, "bob") {
		t.Fatal("IsOnline mismatch")
	}
	if got := dir.Roster(ctx); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("roster = %v", got)
	}
}

func TestDirectorySharedNeedsRemote(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewDirectory(NewRegistry(), WithShared(newMemShared(), nil))
}

func TestSharedLookupReachesOtherNode(t *testing.T) {
	ctx := context.Background()
	shared, remote := newMemShared(), &memRemote{}
	a := newNode(t, shared, remote)
	b := newNode(t, shared, remote)

	alice, bob := newHandle("a1"), newHandle("b1")
	a.reg.Bind(ctx, "alice", alice)
	b.reg.Bind(ctx, "bob", bob)

	got, ok := b.dir.Lookup(ctx, "alice")
	if !ok || got.ID() != "a1" {
		t.Fatalf("Lookup(alice) from b = %v %v", got, ok)
	}
	if got == Handle(alice) {
		t.Fatal("b must not hold a's handle")
	}
	env := model.MustEnvelope(model.EventNotify, model.Notify{From: "bob", Body: "hi"})
	if err := got.Send(env); err != nil {
		t.Fatal(err)
	}
	if len(remote.got) != 1 || remote.got[0].to != "a1" || remote.got[0].env.Event != model.EventNotify {
		t.Fatalf("remote sends = %+v", remote.got)
	}

	if got, ok := b.dir.Lookup(ctx, "bob"); !ok || got != Handle(bob) {
		t.Fatalf("local owner should be the local handle, got %v %v", got, ok)
	}
	if !b.dir.IsOnline(ctx, "alice") {
		t.Fatal("alice should be online from b")
	}
	if roster := b.dir.Roster(ctx); !reflect.DeepEqual(roster, []string{"alice", "bob"}) {
		t.Fatalf("roster = %v", roster)
	}
}

func TestSharedRosterOnJoin(t *testing.T) {
	ctx := context.Background()
	shared, remote := newMemShared(), &memRemote{}
	a := newNode(t, shared, remote)
	b := newNode(t, shared, remote)

	bob := newHandle("b1")
	b.fan.attach(bob)
	b.reg.Bind(ctx, "bob", bob)

	alice := newHandle("a1")
	a.fan.attach(alice)
	a.reg.Bind(ctx, "alice", alice)

	if roster := decodeData[[]string](t, alice.last()); !reflect.DeepEqual(roster, []string{"alice", "bob"}) {
		t.Fatalf("joiner roster = %v", roster)
	}
}

func TestCrossNodeTakeoverKeepsUserOnline(t *testing.T) {
	ctx := context.Background()
	shared, remote := newMemShared(), &memRemote{}
	a := newNode(t, shared, remote)
	b := newNode(t, shared, remote)

	a1, watcher := newHandle("a1"), newHandle("w")
	a.fan.attach(a1, watcher)
	a.reg.Bind(ctx, "alice", a1)

	// alice reconnects through b before a notices the old socket is gone
	b2 := newHandle("b2")
	b.fan.attach(b2)
	b.reg.Bind(ctx, "alice", b2)
	if got := b2.events(); !reflect.DeepEqual(got, []string{model.EventUpdateOnlineUsers}) {
		t.Fatalf("takeover must not announce user_online again, got %v", got)
	}

	watcher.reset()
	a.reg.Unbind(ctx, a1)
	if got := watcher.events(); !reflect.DeepEqual(got, []string{model.EventUpdateOnlineUsers}) {
		t.Fatalf("stale release events = %v", got)
	}
	if roster := decodeData[[]string](t, watcher.last()); !reflect.DeepEqual(roster, []string{"alice"}) {
		t.Fatalf("roster = %v", roster)
	}
	if !a.dir.IsOnline(ctx, "alice") {
		t.Fatal("alice is still online through b")
	}

	b.reg.Unbind(ctx, b2)
	if a.dir.IsOnline(ctx, "alice") {
		t.Fatal("alice should be offline everywhere")
	}
}

func TestSharedErrorFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	shared := newMemShared()
	n := newNode(t, shared, &memRemote{})
	h := newHandle("h1")
	n.fan.attach(h)
	n.reg.Bind(ctx, "alice", h)

	shared.fail(errors.New("redis down"))
	if got, ok := n.dir.Lookup(ctx, "alice"); !ok || got != Handle(h) {
		t.Fatalf("Lookup = %v %v", got, ok)
	}
	if roster := n.dir.Roster(ctx); !reflect.DeepEqual(roster, []string{"alice"}) {
		t.Fatalf("roster = %v", roster)
	}
}

func TestReplacedHandleIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	reg := NewRegistry()
	NewBroadcaster(NewDirectory(reg), &fakeFanout{}, zap.New(core), nil)
	ctx := context.Background()

	reg.Bind(ctx, "alice", newHandle("old"))
	reg.Bind(ctx, "alice", newHandle("new"))

	entries := logs.FilterMessage("user joined").All()
	if len(entries) != 2 {
		t.Fatalf("join logs = %d", len(entries))
	}
	if _, ok := entries[0].ContextMap()["replaced"]; ok {
		t.Fatal("first join replaced nothing")
	}
	if got := entries[1].ContextMap()["replaced"]; got != "old" {
		t.Fatalf("replaced = %v", got)
	}
}
