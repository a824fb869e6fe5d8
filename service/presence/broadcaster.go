package presence

import (
	"context"

	"PRelay/module/relay/model"
	"PRelay/service/metrics"

	"go.uber.org/zap"
)

// Fanout delivers an envelope to every live session except exceptHandleID ("" for none).
type Fanout interface {
	Broadcast(ctx context.Context, env model.Envelope, exceptHandleID string) error
}

// Broadcaster turns registry changes into user_online, user_offline and
// update_online_users events.
type Broadcaster struct {
	dir     *Directory
	fanout  Fanout
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewBroadcaster builds a broadcaster and subscribes it to the directory's registry.
func NewBroadcaster(dir *Directory, fanout Fanout, log *zap.Logger, m *metrics.Metrics) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Broadcaster{dir: dir, fanout: fanout, log: log.Named("presence"), metrics: m}
	dir.Registry().Observe(b)
	return b
}

func (b *Broadcaster) OnPresence(ctx context.Context, c Change) {
	self := c.Handle.ID()

	switch c.Kind {
	case Joined:
		fresh, roster := b.dir.claim(ctx, c)
		fields := []zap.Field{zap.String("user", c.UserID), zap.String("handle", self), zap.Bool("fresh", fresh)}
		if c.Replaced != nil {
			fields = append(fields, zap.String("replaced", c.Replaced.ID()))
		}
		b.log.Info("user joined", fields...)
		if fresh {
			b.broadcast(ctx, model.EventUserOnline, model.UserStatus{UserID: c.UserID}, self)
		}
		// the new session gets the roster too
		b.sendRoster(ctx, roster, "")
	case Left:
		gone, roster := b.dir.release(ctx, c)
		if gone {
			b.log.Info("user left", zap.String("user", c.UserID), zap.String("handle", self))
			b.broadcast(ctx, model.EventUserOffline, model.UserStatus{UserID: c.UserID}, self)
		} else if c.UserID != "" {
			b.log.Info("stale slot released, user still online elsewhere", zap.String("user", c.UserID), zap.String("handle", self))
		}
		b.sendRoster(ctx, roster, self)
	}
}

func (b *Broadcaster) sendRoster(ctx context.Context, roster []string, except string) {
	b.metrics.SetUsersOnline(len(roster))
	b.broadcast(ctx, model.EventUpdateOnlineUsers, roster, except)
}

// CheckStatus answers a point query to the requester only.
func (b *Broadcaster) CheckStatus(ctx context.Context, requester Handle, userID string) error {
	event := model.EventUserOffline
	if b.dir.IsOnline(ctx, userID) {
		event = model.EventUserOnline
	}
	return requester.Send(model.MustEnvelope(event, model.UserStatus{UserID: userID}))
}

func (b *Broadcaster) broadcast(ctx context.Context, event string, payload any, except string) {
	env, err := model.NewEnvelope(event, payload)
	if err != nil {
		b.log.Error("encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	if err := b.fanout.Broadcast(ctx, env, except); err != nil {
		b.log.Warn("broadcast failed", zap.String("event", event), zap.Error(err))
	}
}
