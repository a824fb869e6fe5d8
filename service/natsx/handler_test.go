package natsx

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap/zaptest"
)

func TestChainOrder(t *testing.T) {
	var trace []string
	mw := func(name string) NatsxMiddleware {
		return func(next NatsxHandler) NatsxHandler {
			return func(ctx context.Context, msg NatsxMessage) error {
				trace = append(trace, name)
				return next(ctx, msg)
			}
		}
	}
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		trace = append(trace, "handler")
		return nil
	}, mw("outer"), mw("inner"))

	if err := h(context.Background(), NatsxMessage{}); err != nil {
		t.Fatal(err)
	}
	want := []string{"outer", "inner", "handler"}
	if !reflect.DeepEqual(trace, want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
}

func TestRecoverTurnsPanicIntoError(t *testing.T) {
	log := zaptest.NewLogger(t)
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		panic("boom")
	}, LogErrors(log), Recover(log))

	if err := h(context.Background(), NatsxMessage{Subject: "s"}); err == nil {
		t.Fatal("expected error from recovered panic")
	}
}

func TestLogErrorsPassesThrough(t *testing.T) {
	want := errors.New("nope")
	h := LogErrors(zaptest.NewLogger(t))(func(context.Context, NatsxMessage) error { return want })
	if err := h(context.Background(), NatsxMessage{}); !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
}

func TestHeaderHelpers(t *testing.T) {
	if headerToMap(nil) != nil {
		t.Fatal("empty header should map to nil")
	}
	msg := newMsg("subj", []byte("x"), map[string]string{"Origin": "n1"})
	got := headerToMap(msg.Header)
	if got["Origin"] != "n1" {
		t.Fatalf("header = %v", got)
	}
	h := nats.Header{}
	h.Add("K", "a")
	h.Add("K", "b")
	if headerToMap(h)["K"] != "a" {
		t.Fatal("first value should win")
	}
}

func TestNewClientRequiresServers(t *testing.T) {
	if _, err := NewNatsxClient(NatsxConfig{}, nil); err == nil {
		t.Fatal("expected error without servers")
	}
}
