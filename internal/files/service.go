// internal/files/service.go
package files

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"diagram-submissions/internal/common/config"
	"diagram-submissions/internal/common/errors"
	"diagram-submissions/internal/common/logger"
)

const (
	DefaultPrefix     = "drawings"
	DefaultPresignTTL = 15 * time.Minute
)

// ObjectStore is a blob backend for drawing images.
type ObjectStore interface {
	Name() string
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Ping(ctx context.Context) error
}

// File is one indexed drawing image.
type File struct {
	ID          string
	SessionID   string
	QuestionID  string
	Position    int
	ObjectKey   string
	ContentType string
	SizeBytes   int64
	CreatedAt   time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS drawing_files (
	file_id      TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	question_id  TEXT NOT NULL,
	position     INTEGER NOT NULL,
	object_key   TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size_bytes   BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS drawing_files_question_idx ON drawing_files (session_id, question_id)`

// Service stores drawing images in an object store and indexes them in
// Postgres. It is the upload collaborator and the preview URL resolver.
type Service struct {
	db         *sql.DB
	store      ObjectStore
	prefix     string
	presignTTL time.Duration
	log        logger.Logger
	now        func() time.Time
}

func NewService(db *sql.DB, store ObjectStore, cfg config.StorageConfig, log logger.Logger) *Service {
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	ttl := config.GetDuration(cfg.PresignTTL)
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	return &Service{
		db:         db,
		store:      store,
		prefix:     prefix,
		presignTTL: ttl,
		log:        log.Named("files"),
		now:        time.Now,
	}
}

// EnsureSchema creates the drawing_files table if needed.
func (s *Service) EnsureSchema(ctx context.Context) error {
	if s.db == nil {
		return errors.NewStorageUnavailableError("postgres", nil)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create drawing_files: %w", err)
	}
	return nil
}

// Ping checks both the index and the object store.
func (s *Service) Ping(ctx context.Context) error {
	if s.db == nil || s.store == nil {
		return errors.NewStorageUnavailableError("files", nil)
	}
	if err := s.db.PingContext(ctx); err != nil {
		return errors.NewStorageUnavailableError("postgres", err)
	}
	if err := s.store.Ping(ctx); err != nil {
		return errors.NewStorageUnavailableError(s.store.Name(), err)
	}
	return nil
}

// UploadBatch stores every image and indexes them in one transaction. It is
// all-or-nothing: on any failure the objects already written are removed and
// no rows are committed. File ids are returned in image order.
func (s *Service) UploadBatch(ctx context.Context, sessionID, questionID string, images [][]byte) ([]string, error) {
	if s.db == nil || s.store == nil {
		return nil, errors.NewStorageUnavailableError("files", nil)
	}
	if sessionID == "" || questionID == "" {
		return nil, errors.NewUploadFailedError("session and question are required", nil)
	}

	created := s.now().UTC()
	batch := make([]File, 0, len(images))
	for i, img := range images {
		mt := mimetype.Detect(img)
		id := uuid.NewString()
		f := File{
			ID:          id,
			SessionID:   sessionID,
			QuestionID:  questionID,
			Position:    i,
			ObjectKey:   path.Join(s.prefix, sessionID, questionID, id+mt.Extension()),
			ContentType: mt.String(),
			SizeBytes:   int64(len(img)),
			CreatedAt:   created,
		}
		if err := s.store.Put(ctx, f.ObjectKey, img, f.ContentType); err != nil {
			s.cleanup(batch)
			return nil, s.classify(fmt.Sprintf("put image %d", i+1), err)
		}
		batch = append(batch, f)
	}

	if err := s.index(ctx, batch); err != nil {
		s.cleanup(batch)
		return nil, err
	}

	ids := make([]string, len(batch))
	for i, f := range batch {
		ids[i] = f.ID
	}
	s.log.Info("drawing batch stored", map[string]interface{}{
		"sessionId":  sessionID,
		"questionId": questionID,
		"fileIds":    ids,
		"backend":    s.store.Name(),
	})
	return ids, nil
}

func (s *Service) index(ctx context.Context, batch []File) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify("begin transaction", err)
	}

	for _, f := range batch {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO drawing_files (
				file_id, session_id, question_id, position,
				object_key, content_type, size_bytes, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			f.ID, f.SessionID, f.QuestionID, f.Position,
			f.ObjectKey, f.ContentType, f.SizeBytes, f.CreatedAt,
		)
		if err != nil {
			_ = tx.Rollback()
			return s.classify("index "+f.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.classify("commit", err)
	}
	return nil
}

// cleanup runs on a fresh context so an expired caller deadline still removes
// orphaned objects.
func (s *Service) cleanup(batch []File) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, f := range batch {
		if err := s.store.Delete(ctx, f.ObjectKey); err != nil {
			s.log.WithError(err).Warn("orphaned drawing object not removed", map[string]interface{}{
				"objectKey": f.ObjectKey,
			})
		}
	}
}

// classify keeps typed errors and maps connectivity problems to
// STORAGE_UNAVAILABLE; everything else is UPLOAD_FAILED.
func (s *Service) classify(step string, err error) error {
	if _, ok := errors.AsStandardError(err); ok {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, sql.ErrConnDone) {
		return errors.NewStorageUnavailableError(s.store.Name(), err)
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && pqErr.Code.Class() == "08" {
		return errors.NewStorageUnavailableError("postgres", err)
	}
	return errors.NewUploadFailedError(step, err)
}

// Lookup returns the index row for fileID.
func (s *Service) Lookup(ctx context.Context, fileID string) (*File, error) {
	if s.db == nil {
		return nil, errors.NewStorageUnavailableError("postgres", nil)
	}

	var f File
	err := s.db.QueryRowContext(ctx, `
		SELECT file_id, session_id, question_id, position, object_key, content_type, size_bytes, created_at
		FROM drawing_files WHERE file_id = $1`, fileID,
	).Scan(&f.ID, &f.SessionID, &f.QuestionID, &f.Position, &f.ObjectKey, &f.ContentType, &f.SizeBytes, &f.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewFileNotFoundError(fileID)
	}
	if err != nil {
		return nil, errors.NewStorageUnavailableError("postgres", err)
	}
	return &f, nil
}

// ResolveURL returns a time-limited preview URL for a stored drawing.
func (s *Service) ResolveURL(ctx context.Context, fileID string) (string, error) {
	f, err := s.Lookup(ctx, fileID)
	if err != nil {
		return "", err
	}
	if s.store == nil {
		return "", errors.NewStorageUnavailableError("files", nil)
	}
	url, err := s.store.PresignGet(ctx, f.ObjectKey, s.presignTTL)
	if err != nil {
		return "", errors.NewStorageUnavailableError(s.store.Name(), err)
	}
	return url, nil
}

// ResolveURLs resolves ids in order, failing on the first unknown id.
func (s *Service) ResolveURLs(ctx context.Context, fileIDs []string) ([]string, error) {
	urls := make([]string, 0, len(fileIDs))
	for _, id := range fileIDs {
		url, err := s.ResolveURL(ctx, id)
		if err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}
