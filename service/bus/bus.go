package bus

import (
	"context"
	"encoding/json"

	"PRelay/module/relay/model"
)

// Deliverer hands an envelope to the live sessions of this node. The gateway hub implements it.
type Deliverer interface {
	Deliver(env model.Envelope, exceptHandleID string)
	// DeliverTo queues env on handleID if that handle lives on this node, and does nothing otherwise.
	DeliverTo(env model.Envelope, handleID string)
}

// Bus fans frames out to every node. Broadcast reaches every session; SendTo reaches one
// handle wherever it lives. Handle ids are unique across nodes.
type Bus interface {
	Broadcast(ctx context.Context, env model.Envelope, exceptHandleID string) error
	SendTo(ctx context.Context, handleID string, env model.Envelope) error
	Close() error
}

// frame is what travels between nodes. To set means a direct frame.
type frame struct {
	Origin string         `json:"origin"`
	Except string         `json:"except,omitempty"`
	To     string         `json:"to,omitempty"`
	Env    model.Envelope `json:"env"`
}

func encodeFrame(origin string, env model.Envelope, except string) ([]byte, error) {
	return json.Marshal(frame{Origin: origin, Except: except, Env: env})
}

func encodeDirect(origin, to string, env model.Envelope) ([]byte, error) {
	return json.Marshal(frame{Origin: origin, To: to, Env: env})
}

func (f frame) deliver(d Deliverer) {
	if f.To != "" {
		d.DeliverTo(f.Env, f.To)
		return
	}
	d.Deliver(f.Env, f.Except)
}

func decodeFrame(data []byte) (frame, error) {
	var f frame
	err := json.Unmarshal(data, &f)
	return f, err
}

// Local delivers straight to this node's sessions.
type Local struct {
	d Deliverer
}

func NewLocal(d Deliverer) *Local { return &Local{d: d} }

func (l *Local) Broadcast(_ context.Context, env model.Envelope, except string) error {
	l.d.Deliver(env, except)
	return nil
}

func (l *Local) SendTo(_ context.Context, handleID string, env model.Envelope) error {
	l.d.DeliverTo(env, handleID)
	return nil
}

func (l *Local) Close() error { return nil }
