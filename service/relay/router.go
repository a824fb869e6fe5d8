package relay

import (
	"context"

	"PRelay/module/relay/model"
	"PRelay/service/metrics"
	"PRelay/service/presence"
	"PRelay/service/push"
	"PRelay/service/subscription"
	"PRelay/tools/errs"

	"go.uber.org/zap"
)

// Directory resolves a user id to its live handle, local or on another node.
// *presence.Directory implements it.
type Directory interface {
	Lookup(ctx context.Context, userID string) (presence.Handle, bool)
}

// Pusher hands a notification to the push path without waiting for it.
type Pusher interface {
	Dispatch(ctx context.Context, receiverID string, sub subscription.Descriptor, n push.Notification)
}

// Router delivers one chat message: accept-ack to the sender, then either the
// live socket of the receiver or a push notification, or nothing.
type Router struct {
	dir     Directory
	subs    subscription.Store
	pusher  Pusher
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewRouter(dir Directory, subs subscription.Store, pusher Pusher, log *zap.Logger, m *metrics.Metrics) *Router {
	return &Router{dir: dir, subs: subs, pusher: pusher, log: log, metrics: m}
}

// Route never reports delivery problems; the only error is a malformed message.
func (r *Router) Route(ctx context.Context, m model.SendMessage) error {
	m.Normalize()
	if err := requireFields(model.EventSendMessage,
		"senderId", m.SenderID,
		"receiverId", m.ReceiverID,
		"body", m.Body,
		"time", m.Time,
	); err != nil {
		return err
	}

	if h, ok := r.dir.Lookup(ctx, m.SenderID); ok {
		emit(r.log, h, model.EventMessageDelivered, model.MessageDelivered{ReceiverID: m.ReceiverID, Time: m.Time})
	}

	if h, ok := r.dir.Lookup(ctx, m.ReceiverID); ok {
		emit(r.log, h, model.EventReceiveMessage, model.ReceiveMessage{
			Body:              m.Body,
			SenderID:          m.SenderID,
			Time:              m.Time,
			SenderDisplayName: m.SenderDisplayName,
		})
		emit(r.log, h, model.EventNotify, model.Notify{From: m.DisplayName(), Body: m.Body, Time: m.Time})
		r.metrics.RecordMessage(metrics.PathLive)
		return nil
	}

	sub, ok, err := r.subs.Get(ctx, m.ReceiverID)
	if err != nil {
		r.log.Error("subscription lookup failed, message dropped",
			zap.String("sender", m.SenderID), zap.String("receiver", m.ReceiverID), zap.Error(err))
		r.metrics.RecordMessage(metrics.PathDropped)
		return nil
	}
	if !ok {
		r.log.Debug("receiver offline without subscription, message dropped",
			zap.String("sender", m.SenderID), zap.String("receiver", m.ReceiverID))
		r.metrics.RecordMessage(metrics.PathDropped)
		return nil
	}
	r.pusher.Dispatch(ctx, m.ReceiverID, sub, push.MessageNotification(m.DisplayName(), m.Body, m.SenderID))
	r.metrics.RecordMessage(metrics.PathPush)
	return nil
}

func emit(log *zap.Logger, h presence.Handle, event string, payload any) {
	env, err := model.NewEnvelope(event, payload)
	if err == nil {
		err = h.Send(env)
	}
	if err != nil {
		log.Warn("emit failed", zap.String("event", event), zap.String("handle", h.ID()), zap.Error(err))
	}
}

// requireFields takes name/value pairs and rejects the first empty value.
func requireFields(event string, kv ...string) error {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			return errs.ErrArgs.WrapMsg(event, "missing", kv[i])
		}
	}
	return nil
}
