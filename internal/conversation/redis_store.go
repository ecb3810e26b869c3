package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const stateKeyPrefix = "wa:state:"

// RedisStateStore is a StateStore backed by Redis, for deployments where the
// bot process restarts more often than conversations go stale.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStateStore wraps the provided Redis client. A zero ttl means
// entries never expire.
func NewRedisStateStore(client *redis.Client, ttl time.Duration) *RedisStateStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	return &RedisStateStore{client: client, ttl: ttl}
}

func stateKey(sender string) string {
	return stateKeyPrefix + sender
}

func (s *RedisStateStore) Get(ctx context.Context, sender string) (State, error) {
	val, err := s.client.Get(ctx, stateKey(sender)).Result()
	if errors.Is(err, redis.Nil) {
		return StateUnset, nil
	}
	if err != nil {
		return StateUnset, fmt.Errorf("conversation: redis get state: %w", err)
	}
	return State(val), nil
}

func (s *RedisStateStore) Set(ctx context.Context, sender string, state State) error {
	if state == StateUnset {
		return s.Reset(ctx, sender)
	}
	if err := s.client.Set(ctx, stateKey(sender), string(state), s.ttl).Err(); err != nil {
		return fmt.Errorf("conversation: redis set state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) Reset(ctx context.Context, sender string) error {
	if err := s.client.Del(ctx, stateKey(sender)).Err(); err != nil {
		return fmt.Errorf("conversation: redis reset state: %w", err)
	}
	return nil
}
