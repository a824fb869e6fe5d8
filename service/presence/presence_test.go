package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"PRelay/module/relay/model"

	"go.uber.org/zap/zaptest"
)

type fakeHandle struct {
	id  string
	mu  sync.Mutex
	got []model.Envelope
}

func newHandle(id string) *fakeHandle { return &fakeHandle{id: id} }

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Send(env model.Envelope) error {
	h.mu.Lock()
	h.got = append(h.got, env)
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.got))
	for _, e := range h.got {
		out = append(out, e.Event)
	}
	return out
}

func (h *fakeHandle) last() model.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.got[len(h.got)-1]
}

func (h *fakeHandle) reset() {
	h.mu.Lock()
	h.got = nil
	h.mu.Unlock()
}

// fakeFanout delivers to every attached handle, like the gateway hub.
type fakeFanout struct {
	mu      sync.Mutex
	handles []*fakeHandle
}

func (f *fakeFanout) attach(hs ...*fakeHandle) {
	f.mu.Lock()
	f.handles = append(f.handles, hs...)
	f.mu.Unlock()
}

func (f *fakeFanout) Broadcast(_ context.Context, env model.Envelope, except string) error {
	f.mu.Lock()
	hs := append([]*fakeHandle(nil), f.handles...)
	f.mu.Unlock()
	for _, h := range hs {
		if h.id != except {
			_ = h.Send(env)
		}
	}
	return nil
}

func newFixture(t *testing.T) (*Registry, *Broadcaster, *fakeFanout) {
	t.Helper()
	reg := NewRegistry()
	fan := &fakeFanout{}
	b := NewBroadcaster(NewDirectory(reg), fan, zaptest.NewLogger(t), nil)
	return reg, b, fan
}

func decodeData[T any](t *testing.T, env model.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", env.Event, err)
	}
	return v
}

func TestLookupAfterBind(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	h := newHandle("h1")

	reg.Bind(ctx, "alice", h)
	got, ok := reg.Lookup("alice")
	if !ok || got.ID() != "h1" {
		t.Fatalf("Lookup = %v, %v", got, ok)
	}
	if !reg.IsOnline("alice") || reg.IsOnline("bob") {
		t.Fatal("IsOnline mismatch")
	}

	reg.Bind(ctx, "bob", newHandle("h2"))
	if got, _ := reg.Lookup("alice"); got.ID() != "h1" {
		t.Fatal("binding another user must not touch alice")
	}
	if !reflect.DeepEqual(reg.Snapshot(), []string{"alice", "bob"}) {
		t.Fatalf("snapshot = %v", reg.Snapshot())
	}
}

func TestStaleUnbindKeepsNewerBinding(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	oldH, newH := newHandle("old"), newHandle("new")

	reg.Bind(ctx, "alice", oldH)
	c := reg.Bind(ctx, "alice", newH)
	if c.Fresh {
		t.Fatal("rebind must not be fresh")
	}
	if c.Replaced == nil || c.Replaced.ID() != "old" {
		t.Fatalf("replaced = %v", c.Replaced)
	}

	if user, ok := reg.Unbind(ctx, oldH); ok {
		t.Fatalf("stale unbind removed %q", user)
	}
	got, ok := reg.Lookup("alice")
	if !ok || got.ID() != "new" {
		t.Fatalf("newer binding lost: %v %v", got, ok)
	}

	if user, ok := reg.Unbind(ctx, newH); !ok || user != "alice" {
		t.Fatalf("Unbind(new) = %q, %v", user, ok)
	}
	if reg.IsOnline("alice") || reg.Len() != 0 {
		t.Fatal("registry should be empty")
	}
}

func TestHandleOwnsOneSlot(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	h := newHandle("h1")

	reg.Bind(ctx, "alice", h)
	reg.Bind(ctx, "bob", h)
	if reg.IsOnline("alice") {
		t.Fatal("alice should be released when her handle binds bob")
	}
	if got, ok := reg.handle("h1"); !ok || got != Handle(h) {
		t.Fatalf("handle(h1) = %v %v", got, ok)
	}
	if got, ok := reg.Lookup("bob"); !ok || got.ID() != "h1" {
		t.Fatalf("Lookup(bob) = %v %v", got, ok)
	}
}

func TestJoinBroadcasts(t *testing.T) {
	reg, _, fan := newFixture(t)
	ctx := context.Background()
	a, b := newHandle("ha"), newHandle("hb")
	fan.attach(a, b)

	reg.Bind(ctx, "alice", a)
	if got := a.events(); !reflect.DeepEqual(got, []string{model.EventUpdateOnlineUsers}) {
		t.Fatalf("joiner events = %v", got)
	}
	if got := b.events(); !reflect.DeepEqual(got, []string{model.EventUserOnline, model.EventUpdateOnlineUsers}) {
		t.Fatalf("peer events = %v", got)
	}
	if roster := decodeData[[]string](t, b.last()); !reflect.DeepEqual(roster, []string{"alice"}) {
		t.Fatalf("roster = %v", roster)
	}
}

func TestRebindNotReannounced(t *testing.T) {
	reg, _, fan := newFixture(t)
	ctx := context.Background()
	a1, a2, b := newHandle("a1"), newHandle("a2"), newHandle("hb")
	fan.attach(a1, a2, b)

	reg.Bind(ctx, "alice", a1)
	b.reset()
	reg.Bind(ctx, "alice", a2)

	if got := b.events(); !reflect.DeepEqual(got, []string{model.EventUpdateOnlineUsers}) {
		t.Fatalf("rebind should only refresh the roster, got %v", got)
	}
}

func TestDisconnectBroadcasts(t *testing.T) {
	reg, _, fan := newFixture(t)
	ctx := context.Background()
	a, b := newHandle("ha"), newHandle("hb")
	fan.attach(a, b)
	reg.Bind(ctx, "alice", a)
	reg.Bind(ctx, "bob", b)
	a.reset()
	b.reset()

	reg.Unbind(ctx, a)

	if got := a.events(); len(got) != 0 {
		t.Fatalf("departing session got %v", got)
	}
	if got := b.events(); !reflect.DeepEqual(got, []string{model.EventUserOffline, model.EventUpdateOnlineUsers}) {
		t.Fatalf("peer events = %v", got)
	}
	if roster := decodeData[[]string](t, b.last()); !reflect.DeepEqual(roster, []string{"bob"}) {
		t.Fatalf("roster = %v", roster)
	}
}

func TestUnjoinedDisconnectStillSendsRoster(t *testing.T) {
	reg, _, fan := newFixture(t)
	ctx := context.Background()
	anon, b := newHandle("anon"), newHandle("hb")
	fan.attach(anon, b)
	reg.Bind(ctx, "bob", b)
	b.reset()

	if _, ok := reg.Unbind(ctx, anon); ok {
		t.Fatal("unjoined handle owns nothing")
	}
	if got := b.events(); !reflect.DeepEqual(got, []string{model.EventUpdateOnlineUsers}) {
		t.Fatalf("events = %v", got)
	}
}

func TestCheckStatus(t *testing.T) {
	reg, br, _ := newFixture(t)
	ctx := context.Background()
	asker := newHandle("asker")
	a := newHandle("ha")

	check := func() model.Envelope {
		asker.reset()
		if err := br.CheckStatus(ctx, asker, "alice"); err != nil {
			t.Fatal(err)
		}
		if n := len(asker.events()); n != 1 {
			t.Fatalf("expected one reply, got %d", n)
		}
		return asker.last()
	}

	if env := check(); env.Event != model.EventUserOffline {
		t.Fatalf("before join: %s", env.Event)
	}
	reg.Bind(ctx, "alice", a)
	first, second := check(), check()
	if first.Event != model.EventUserOnline {
		t.Fatalf("after join: %s", first.Event)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("not idempotent: %+v vs %+v", first, second)
	}
	if st := decodeData[model.UserStatus](t, first); st.UserID != "alice" {
		t.Fatalf("status = %+v", st)
	}
	if n := len(a.events()); n != 0 {
		t.Fatalf("check_status must not broadcast, alice got %d", n)
	}

	reg.Unbind(ctx, a)
	if env := check(); env.Event != model.EventUserOffline {
		t.Fatalf("after disconnect: %s", env.Event)
	}
}

func TestObserversSeeMutationOrder(t *testing.T) {
	reg := NewRegistry()
	var (
		mu      sync.Mutex
		lengths []int
	)
	reg.Observe(ObserverFunc(func(_ context.Context, c Change) {
		mu.Lock()
		lengths = append(lengths, len(c.Roster))
		mu.Unlock()
	}))

	ctx := context.Background()
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg.Bind(ctx, fmt.Sprintf("u%02d", i), newHandle(fmt.Sprintf("h%02d", i)))
		}(i)
	}
	wg.Wait()

	if len(lengths) != n {
		t.Fatalf("observer calls = %d", len(lengths))
	}
	for i, l := range lengths {
		if l != i+1 {
			t.Fatalf("roster sizes out of order: %v", lengths)
		}
	}
}

func TestConcurrentBindUnbind(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := newHandle(fmt.Sprintf("h%d", i))
			user := fmt.Sprintf("u%d", i%10)
			reg.Bind(ctx, user, h)
			_ = reg.IsOnline(user)
			_ = reg.Snapshot()
			reg.Unbind(ctx, h)
		}(i)
	}
	wg.Wait()

	if reg.Len() != 0 {
		t.Fatalf("leftover bindings: %v", reg.Snapshot())
	}
}
