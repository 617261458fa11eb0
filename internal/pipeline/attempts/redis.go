// internal/pipeline/attempts/redis.go
package attempts

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"diagram-submissions/internal/common/errors"
	"diagram-submissions/internal/models"
)

const keyPrefix = "attempt:"

// RedisStore keeps attempts as JSON so retry state outlives page reloads and
// service restarts for as long as the tutoring session does.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Key returns the redis key for an identity.
func Key(identity models.QuestionIdentity) string {
	return keyPrefix + identity.Key()
}

func (s *RedisStore) Store(ctx context.Context, identity models.QuestionIdentity, attempt models.Attempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		record(BackendRedis, "store", err)
		return errors.NewAttemptStoreFailedError(BackendRedis, err)
	}

	if err := s.client.Set(ctx, Key(identity), data, s.ttl).Err(); err != nil {
		record(BackendRedis, "store", err)
		return errors.NewAttemptStoreFailedError(BackendRedis, err)
	}
	record(BackendRedis, "store", nil)
	return nil
}

func (s *RedisStore) Get(ctx context.Context, identity models.QuestionIdentity) (*models.Attempt, bool, error) {
	raw, err := s.client.Get(ctx, Key(identity)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		record(BackendRedis, "get", nil)
		return nil, false, nil
	}
	if err != nil {
		record(BackendRedis, "get", err)
		return nil, false, errors.NewAttemptStoreFailedError(BackendRedis, err)
	}

	var attempt models.Attempt
	if err := json.Unmarshal(raw, &attempt); err != nil {
		record(BackendRedis, "get", err)
		return nil, false, errors.NewRestoreFailedError("stored attempt is unreadable", err).
			WithMetadata("key", Key(identity))
	}
	record(BackendRedis, "get", nil)
	return &attempt, true, nil
}
