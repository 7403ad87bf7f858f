package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"slack-intake-go/internal/errs"
)

const redisKeyPrefix = "slack-intake:dedup:"

// RedisStore keeps seen event ids as expiring keys. Expiry replaces Purge.
type RedisStore struct {
	client  redis.UniversalClient
	horizon time.Duration
}

// NewRedisStore creates a dedup store whose records live for horizon
func NewRedisStore(client redis.UniversalClient, horizon time.Duration) *RedisStore {
	return &RedisStore{client: client, horizon: horizon}
}

// Accept sets the key only if it does not exist
func (s *RedisStore) Accept(ctx context.Context, eventID string) (Outcome, error) {
	ok, err := s.client.SetNX(ctx, redisKeyPrefix+eventID, time.Now().Unix(), s.horizon).Result()
	if err != nil {
		return Accepted, errs.Transient("dedup.accept", err)
	}
	if !ok {
		return Duplicate, nil
	}
	return Accepted, nil
}

// Forget deletes the key for eventID
func (s *RedisStore) Forget(ctx context.Context, eventID string) error {
	return errs.Transient("dedup.forget", s.client.Del(ctx, redisKeyPrefix+eventID).Err())
}

// Purge is a no-op; keys expire on their own
func (s *RedisStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
