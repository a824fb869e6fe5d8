package relay

import (
	"context"
	"time"

	"PRelay/module/relay/model"

	"go.uber.org/zap"
)

// SeenTimeLayout is the hour:minute format of message_seen.time.
const SeenTimeLayout = "15:04"

// Seen relays read receipts to each original sender, in input order.
type Seen struct {
	dir Directory
	log *zap.Logger
	now func() time.Time
}

func NewSeen(dir Directory, log *zap.Logger) *Seen {
	return &Seen{dir: dir, log: log, now: time.Now}
}

func (s *Seen) Relay(ctx context.Context, p model.MarkSeen) error {
	for i, e := range p.SeenMessages {
		if e.ID == "" || e.SenderID == "" {
			s.log.Warn("skipping malformed seen entry", zap.Int("index", i), zap.String("receiver", p.ReceiverID))
			continue
		}
		h, ok := s.dir.Lookup(ctx, e.SenderID)
		if !ok {
			continue
		}
		emit(s.log, h, model.EventMessageSeen, model.MessageSeen{
			MessageID: e.ID,
			Time:      s.now().Format(SeenTimeLayout),
		})
	}
	return nil
}
