package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"PRelay/module/relay/model"
	"PRelay/service/natsx"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

type delivery struct {
	env    model.Envelope
	except string
	to     string
}

type recorder struct {
	mu  sync.Mutex
	got []delivery
	ch  chan delivery
}

func newRecorder() *recorder { return &recorder{ch: make(chan delivery, 16)} }

func (r *recorder) Deliver(env model.Envelope, except string) {
	r.mu.Lock()
	r.got = append(r.got, delivery{env: env, except: except})
	r.mu.Unlock()
	r.ch <- delivery{env: env, except: except}
}

func (r *recorder) DeliverTo(env model.Envelope, handleID string) {
	d := delivery{env: env, to: handleID}
	r.mu.Lock()
	r.got = append(r.got, d)
	r.mu.Unlock()
	r.ch <- d
}

func (r *recorder) next(t *testing.T) delivery {
	t.Helper()
	select {
	case d := <-r.ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return delivery{}
	}
}

var roster = model.MustEnvelope(model.EventUpdateOnlineUsers, []string{"alice"})

func TestLocal(t *testing.T) {
	rec := newRecorder()
	b := NewLocal(rec)
	if err := b.Broadcast(context.Background(), roster, "h1"); err != nil {
		t.Fatal(err)
	}
	d := rec.next(t)
	if d.env.Event != model.EventUpdateOnlineUsers || d.except != "h1" {
		t.Fatalf("delivery = %+v", d)
	}
}

func TestRedisFanoutReachesEveryNode(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	newNode := func(origin string) (*Redis, *recorder) {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		rec := newRecorder()
		b, err := NewRedis(ctx, rdb, "test:broadcast", origin, rec, zaptest.NewLogger(t))
		if err != nil {
			t.Fatalf("NewRedis: %v", err)
		}
		t.Cleanup(func() { _ = b.Close() })
		return b, rec
	}
	n1, rec1 := newNode("n1")
	_, rec2 := newNode("n2")

	if err := n1.Broadcast(ctx, roster, "h9"); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	for _, rec := range []*recorder{rec1, rec2} {
		d := rec.next(t)
		if d.env.Event != model.EventUpdateOnlineUsers || d.except != "h9" {
			t.Fatalf("delivery = %+v", d)
		}
		if string(d.env.Data) != `["alice"]` {
			t.Fatalf("data = %s", d.env.Data)
		}
	}
}

func TestRedisSendToReachesEveryNode(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	var recs []*recorder
	var nodes []*Redis
	for _, origin := range []string{"n1", "n2"} {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		rec := newRecorder()
		b, err := NewRedis(ctx, rdb, "test:direct", origin, rec, zaptest.NewLogger(t))
		if err != nil {
			t.Fatalf("NewRedis: %v", err)
		}
		t.Cleanup(func() { _ = b.Close() })
		recs = append(recs, rec)
		nodes = append(nodes, b)
	}

	env := model.MustEnvelope(model.EventNotify, model.Notify{From: "alice", Body: "hi"})
	if err := nodes[0].SendTo(ctx, "h42", env); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	for _, rec := range recs {
		d := rec.next(t)
		if d.to != "h42" || d.except != "" || d.env.Event != model.EventNotify {
			t.Fatalf("delivery = %+v", d)
		}
	}
}

func TestLocalSendTo(t *testing.T) {
	rec := newRecorder()
	if err := NewLocal(rec).SendTo(context.Background(), "h7", roster); err != nil {
		t.Fatal(err)
	}
	if d := rec.next(t); d.to != "h7" {
		t.Fatalf("delivery = %+v", d)
	}
}

func TestRedisCloseIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	b, err := NewRedis(context.Background(), rdb, "c", "n1", newRecorder(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestNatsDeliverHandler(t *testing.T) {
	rec := newRecorder()
	h := deliverHandler(rec)

	data, err := encodeFrame("n1", roster, "h2")
	if err != nil {
		t.Fatal(err)
	}
	if err := h(context.Background(), natsx.NatsxMessage{Subject: "s", Data: data}); err != nil {
		t.Fatal(err)
	}
	d := rec.next(t)
	if d.except != "h2" || d.env.Event != model.EventUpdateOnlineUsers {
		t.Fatalf("delivery = %+v", d)
	}

	direct, err := encodeDirect("n1", "h5", roster)
	if err != nil {
		t.Fatal(err)
	}
	if err := h(context.Background(), natsx.NatsxMessage{Subject: "s", Data: direct}); err != nil {
		t.Fatal(err)
	}
	if d := rec.next(t); d.to != "h5" {
		t.Fatalf("direct delivery = %+v", d)
	}

	if err := h(context.Background(), natsx.NatsxMessage{Data: []byte("{")}); err == nil {
		t.Fatal("expected decode error")
	}
}
