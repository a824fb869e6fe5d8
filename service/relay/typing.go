package relay

import (
	"context"

	"PRelay/module/relay/model"

	"go.uber.org/zap"
)

// Typing forwards typing signals to a live receiver. Offline receivers are ignored.
type Typing struct {
	dir Directory
	log *zap.Logger
}

func NewTyping(dir Directory, log *zap.Logger) *Typing {
	return &Typing{dir: dir, log: log}
}

func (t *Typing) Relay(ctx context.Context, p model.Typing) error {
	if err := requireFields(model.EventTyping, "senderId", p.SenderID, "receiverId", p.ReceiverID); err != nil {
		return err
	}
	if h, ok := t.dir.Lookup(ctx, p.ReceiverID); ok {
		emit(t.log, h, model.EventTyping, model.Typing{SenderID: p.SenderID})
	}
	return nil
}
