// internal/pipeline/attempts/store.go
package attempts

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"diagram-submissions/internal/common/config"
	"diagram-submissions/internal/common/errors"
	"diagram-submissions/internal/common/logger"
	"diagram-submissions/internal/common/metrics"
	"diagram-submissions/internal/models"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	DefaultCapacity = 1000
	DefaultTTL      = 12 * time.Hour
)

// ErrCorruptAttempt matches any stored attempt that could not be decoded.
var ErrCorruptAttempt = errors.NewRestoreFailedError("stored attempt is unreadable", nil)

// Store keeps the last attempt per question identity. Store overwrites.
type Store interface {
	Store(ctx context.Context, identity models.QuestionIdentity, attempt models.Attempt) error
	Get(ctx context.Context, identity models.QuestionIdentity) (*models.Attempt, bool, error)
}

// New selects the backend named by cfg.Backend. rdb is only used for redis.
func New(cfg config.AttemptsConfig, rdb redis.Cmdable, log logger.Logger) (Store, error) {
	ttl := config.GetDuration(cfg.TTL)
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	switch cfg.Backend {
	case "", BackendMemory:
		capacity := cfg.Capacity
		if capacity <= 0 {
			capacity = DefaultCapacity
		}
		log.Info("attempt store ready", map[string]interface{}{"backend": BackendMemory, "capacity": capacity, "ttl": ttl.String()})
		return NewMemoryStore(capacity, ttl), nil
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("attempt store backend redis requires a redis client")
		}
		log.Info("attempt store ready", map[string]interface{}{"backend": BackendRedis, "ttl": ttl.String()})
		return NewRedisStore(rdb, ttl), nil
	default:
		return nil, fmt.Errorf("unknown attempt store backend %q", cfg.Backend)
	}
}

func record(backend, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.AttemptStoreOperations.WithLabelValues(backend, operation, result).Inc()
}

func cloneAttempt(a models.Attempt) models.Attempt {
	a.FileIDs = append([]string(nil), a.FileIDs...)
	a.InlineImages = append([]string(nil), a.InlineImages...)
	if a.Scene != nil {
		scene := *a.Scene
		scene.Elements = make([]models.SceneElement, len(a.Scene.Elements))
		for i, el := range a.Scene.Elements {
			el.Points = append([]models.Point(nil), el.Points...)
			scene.Elements[i] = el
		}
		scene.Files = make(map[string]models.SceneFile, len(a.Scene.Files))
		for id, f := range a.Scene.Files {
			scene.Files[id] = f
		}
		if a.Scene.AppState.GridSize != nil {
			g := *a.Scene.AppState.GridSize
			scene.AppState.GridSize = &g
		}
		a.Scene = &scene
	}
	return a
}
