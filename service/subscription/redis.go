package subscription

import (
	"context"
	"errors"

	"PRelay/tools/errs"

	"github.com/redis/go-redis/v9"
)

// Redis keeps one string key per user: <prefix>:<userId>.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "prelay:pushsub"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) key(userID string) string { return r.prefix + ":" + userID }

func (r *Redis) Save(ctx context.Context, userID string, d Descriptor) error {
	if err := r.rdb.Set(ctx, r.key(userID), []byte(d), 0).Err(); err != nil {
		return errs.WrapMsg(err, "redis save subscription", "user", userID)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, userID string) (Descriptor, bool, error) {
	b, err := r.rdb.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.WrapMsg(err, "redis get subscription", "user", userID)
	}
	return Descriptor(b), true, nil
}
