package relay

import (
	"context"

	"PRelay/module/relay/model"
	"PRelay/service/metrics"
	"PRelay/service/presence"
	"PRelay/service/subscription"
	"PRelay/tools/decode"
	"PRelay/tools/errs"
	"PRelay/tools/safe"

	"go.uber.org/zap"
)

// Dispatcher routes the inbound events of a session to the owning component.
type Dispatcher struct {
	dir      *presence.Directory
	reg      *presence.Registry
	presence *presence.Broadcaster
	subs     subscription.Store
	router   *Router
	typing   *Typing
	seen     *Seen
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewDispatcher(
	dir *presence.Directory,
	br *presence.Broadcaster,
	subs subscription.Store,
	pusher Pusher,
	log *zap.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	safe.MustNotNil(dir, "directory")
	safe.MustNotNil(br, "broadcaster")
	safe.MustNotNil(subs, "subscription store")
	safe.MustNotNil(pusher, "pusher")
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("relay")
	return &Dispatcher{
		dir:      dir,
		reg:      dir.Registry(),
		presence: br,
		subs:     subs,
		router:   NewRouter(dir, subs, pusher, log, m),
		typing:   NewTyping(dir, log),
		seen:     NewSeen(dir, log),
		log:      log,
		metrics:  m,
	}
}

// Handle runs one inbound event. Errors are already counted; the caller decides
// whether to tell the client.
func (d *Dispatcher) Handle(ctx context.Context, s *Session, env model.Envelope) error {
	err := d.handle(ctx, s, env)
	label := env.Event
	if errs.Code(err) == errs.UnknownEventError {
		label = "unknown"
	}
	d.metrics.RecordEvent(label)
	if err != nil {
		d.metrics.RecordEventError(label, errs.Code(err))
	}
	return err
}

func (d *Dispatcher) handle(ctx context.Context, s *Session, env model.Envelope) error {
	switch env.Event {
	case model.EventJoin:
		p, err := decodePayload[model.Join](env)
		if err != nil {
			return err
		}
		return d.join(ctx, s, p.UserID)

	case model.EventSaveSubscription:
		p, err := decodePayload[model.SaveSubscription](env)
		if err != nil {
			return err
		}
		return d.SaveSubscription(ctx, p.UserID, p.Subscription)

	case model.EventSendMessage:
		p, err := decodePayload[model.SendMessage](env)
		if err != nil {
			return err
		}
		return d.router.Route(ctx, *p)

	case model.EventTyping:
		p, err := decodePayload[model.Typing](env)
		if err != nil {
			return err
		}
		return d.typing.Relay(ctx, *p)

	case model.EventMarkSeen:
		p, err := decodePayload[model.MarkSeen](env)
		if err != nil {
			return err
		}
		return d.seen.Relay(ctx, *p)

	case model.EventCheckUserStatus:
		p, err := decodePayload[model.CheckUserStatus](env)
		if err != nil {
			return err
		}
		if err := requireFields(env.Event, "userId", p.UserID); err != nil {
			return err
		}
		return d.presence.CheckStatus(ctx, s.Handle(), p.UserID)

	default:
		return errs.ErrUnknownEvent.WrapMsg("", "event", env.Event)
	}
}

func (d *Dispatcher) join(ctx context.Context, s *Session, userID string) error {
	if err := requireFields(model.EventJoin, "userId", userID); err != nil {
		return err
	}
	if err := s.bind(userID); err != nil {
		return err
	}
	d.reg.Bind(ctx, userID, s.Handle())
	return nil
}

// SaveSubscription stores the push descriptor for userID. Also used by the REST endpoint.
func (d *Dispatcher) SaveSubscription(ctx context.Context, userID string, sub subscription.Descriptor) error {
	if err := requireFields(model.EventSaveSubscription, "userId", userID); err != nil {
		return err
	}
	if len(sub) == 0 || string(sub) == "null" {
		return errs.ErrArgs.WrapMsg(model.EventSaveSubscription, "missing", "subscription")
	}
	if err := d.subs.Save(ctx, userID, sub); err != nil {
		return errs.WrapMsg(err, "save subscription", "user", userID)
	}
	d.log.Debug("subscription saved", zap.String("user", userID))
	return nil
}

// Disconnect releases the slot the session still owns and refreshes everyone's roster.
func (d *Dispatcher) Disconnect(ctx context.Context, s *Session) {
	user, ok := d.reg.Unbind(ctx, s.Handle())
	if ok {
		d.log.Debug("session unbound", zap.String("user", user), zap.String("handle", s.ID()))
	}
}

// Online returns the sorted roster of the cluster, or of this node when presence is local.
func (d *Dispatcher) Online(ctx context.Context) []string {
	return d.dir.Roster(ctx)
}

func decodePayload[T any](env model.Envelope) (*T, error) {
	p, err := decode.JSON[T](env.Data)
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg(env.Event, "decode", err.Error())
	}
	return p, nil
}
