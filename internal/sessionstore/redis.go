package sessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a shared Redis deployment, letting the broker's
// idle-timeout tracking survive a process restart and be shared across
// multiple broker instances behind the same load balancer — the same
// cross-node motivation as the teacher's registry package, narrowed here to
// one key per session rather than a replicated map.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing *redis.Client. keyPrefix namespaces the keys
// this Store writes, so a shared Redis deployment can host other data
// without collision.
func NewRedis(client *redis.Client, keyPrefix string) *Redis {
	return &Redis{client: client, prefix: keyPrefix}
}

func (r *Redis) key(sessionID string) string {
	return r.prefix + sessionID
}

func (r *Redis) Touch(ctx context.Context, sessionID string, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(sessionID), time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

func (r *Redis) Alive(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) Forget(ctx context.Context, sessionID string) error {
	err := r.client.Del(ctx, r.key(sessionID)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
