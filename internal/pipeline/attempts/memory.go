// internal/pipeline/attempts/memory.go
package attempts

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"diagram-submissions/internal/models"
)

// MemoryStore is a process-wide LRU with per-entry expiry. Attempts are copied
// on the way in and out so callers never share scene slices with the cache.
type MemoryStore struct {
	cache *expirable.LRU[string, models.Attempt]
}

// NewMemoryStore bounds the cache to capacity entries, each living for ttl
// after its last write. A zero ttl keeps entries until they are evicted.
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{cache: expirable.NewLRU[string, models.Attempt](capacity, nil, ttl)}
}

func (s *MemoryStore) Store(_ context.Context, identity models.QuestionIdentity, attempt models.Attempt) error {
	s.cache.Add(identity.Key(), cloneAttempt(attempt))
	record(BackendMemory, "store", nil)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, identity models.QuestionIdentity) (*models.Attempt, bool, error) {
	cached, ok := s.cache.Get(identity.Key())
	record(BackendMemory, "get", nil)
	if !ok {
		return nil, false, nil
	}
	attempt := cloneAttempt(cached)
	return &attempt, true, nil
}

// Len reports the number of cached attempts. Expired entries count until the
// background sweep removes them.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}
