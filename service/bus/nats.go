package bus

import (
	"context"
	"fmt"

	"PRelay/module/relay/model"
	"PRelay/service/natsx"

	"go.uber.org/zap"
)

const natsBiz = "relay.broadcast"

// Nats publishes broadcasts on a subject every node subscribes to (no queue
// group), so each node delivers to its own sessions.
type Nats struct {
	origin   string
	producer *natsx.NatsxProducer
	log      *zap.Logger
}

// NewNats registers the broadcast route on c and starts the subscriber.
func NewNats(c *natsx.NatsxClient, subject, origin string, d Deliverer, log *zap.Logger) (*Nats, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("bus.nats")
	if err := c.RegisterRoute(natsx.NatsxRoute{Biz: natsBiz, Subject: subject, Mode: natsx.Core}); err != nil {
		return nil, err
	}
	consumer := natsx.NewNatsxConsumer(c, natsx.LogErrors(log), natsx.Recover(log))
	if err := consumer.Subscribe(natsBiz, deliverHandler(d)); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return &Nats{origin: origin, producer: natsx.NewNatsxProducer(c), log: log}, nil
}

func deliverHandler(d Deliverer) natsx.NatsxHandler {
	return func(_ context.Context, msg natsx.NatsxMessage) error {
		f, err := decodeFrame(msg.Data)
		if err != nil {
			return fmt.Errorf("decode broadcast frame: %w", err)
		}
		f.deliver(d)
		return nil
	}
}

func (n *Nats) Broadcast(ctx context.Context, env model.Envelope, except string) error {
	data, err := encodeFrame(n.origin, env, except)
	if err != nil {
		return err
	}
	return n.producer.Publish(ctx, natsBiz, data, map[string]string{"Origin": n.origin})
}

func (n *Nats) SendTo(ctx context.Context, handleID string, env model.Envelope) error {
	data, err := encodeDirect(n.origin, handleID, env)
	if err != nil {
		return err
	}
	return n.producer.Publish(ctx, natsBiz, data, map[string]string{"Origin": n.origin})
}

// Close is a no-op; the shared natsx client drains subscriptions on its own Close.
func (n *Nats) Close() error { return nil }
