package bus

import (
	"context"
	"errors"
	"sync"

	"PRelay/module/relay/model"
	"PRelay/tools/safe"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis uses pub/sub on one channel. Every node subscribes and delivers locally.
type Redis struct {
	rdb     redis.UniversalClient
	channel string
	origin  string
	log     *zap.Logger

	pubsub *redis.PubSub
	once   sync.Once
	done   chan struct{}
}

// NewRedis subscribes to channel and waits for the subscription to be confirmed.
func NewRedis(ctx context.Context, rdb redis.UniversalClient, channel, origin string, d Deliverer, log *zap.Logger) (*Redis, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ps := rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	r := &Redis{
		rdb:     rdb,
		channel: channel,
		origin:  origin,
		log:     log.Named("bus.redis"),
		pubsub:  ps,
		done:    make(chan struct{}),
	}
	safe.Go(r.log, "bus.redis.receive", func() { r.receive(d) })
	return r, nil
}

func (r *Redis) receive(d Deliverer) {
	defer close(r.done)
	for msg := range r.pubsub.Channel() {
		f, err := decodeFrame([]byte(msg.Payload))
		if err != nil {
			r.log.Warn("decode broadcast frame", zap.Error(err))
			continue
		}
		safe.Run(r.log, "bus.redis.deliver", func() { f.deliver(d) })
	}
}

func (r *Redis) Broadcast(ctx context.Context, env model.Envelope, except string) error {
	data, err := encodeFrame(r.origin, env, except)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, data).Err()
}

func (r *Redis) SendTo(ctx context.Context, handleID string, env model.Envelope) error {
	data, err := encodeDirect(r.origin, handleID, env)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, data).Err()
}

// Close stops the subscriber and waits for the receive loop to exit.
func (r *Redis) Close() error {
	var err error
	r.once.Do(func() {
		err = r.pubsub.Close()
		<-r.done
	})
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}
