// internal/files/service_test.go
package files

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagram-submissions/internal/common/config"
	"diagram-submissions/internal/common/errors"
	"diagram-submissions/internal/common/logger"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	types     map[string]string
	deleted   []string
	failOnPut int
	putErr    error
	puts      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *fakeStore) Name() string { return "fake" }

func (s *fakeStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.failOnPut == s.puts {
		return s.putErr
	}
	s.objects[key] = data
	s.types[key] = contentType
	return nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://objects.test/%s?expires=%d", key, int(ttl.Seconds())), nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func pngBytes(n int) []byte {
	data := make([]byte, n)
	copy(data, "\x89PNG\r\n\x1a\n")
	return data
}

func newTestService(t *testing.T, store ObjectStore) (*Service, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc := NewService(db, store, config.StorageConfig{Prefix: "/drawings/", PresignTTL: 60000}, logger.NewTestLogger(t))
	svc.now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }
	return svc, mock
}

// ==========================
// UploadBatch Tests
// ==========================

func TestUploadBatch_StoresAndIndexesInOrder(t *testing.T) {
	store := newFakeStore()
	svc, mock := newTestService(t, store)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO drawing_files`).
		WithArgs(sqlmock.AnyArg(), "sess-1", "card-7", 0, sqlmock.AnyArg(), "image/png", int64(64), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO drawing_files`).
		WithArgs(sqlmock.AnyArg(), "sess-1", "card-7", 1, sqlmock.AnyArg(), "image/png", int64(128), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ids, err := svc.UploadBatch(context.Background(), "sess-1", "card-7", [][]byte{pngBytes(64), pngBytes(128)})

	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
	assert.Len(t, store.objects, 2)
	assert.Len(t, store.objects["drawings/sess-1/card-7/"+ids[0]+".png"], 64)
	assert.Len(t, store.objects["drawings/sess-1/card-7/"+ids[1]+".png"], 128)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadBatch_Failures(t *testing.T) {
	tests := []struct {
		name        string
		failOnPut   int
		putErr      error
		setupMock   func(mock sqlmock.Sqlmock)
		wantCode    errors.ErrorCode
		wantDeleted int
	}{
		{
			name:        "second put fails",
			failOnPut:   2,
			putErr:      fmt.Errorf("bucket quota exceeded"),
			setupMock:   func(sqlmock.Sqlmock) {},
			wantCode:    errors.ErrCodeUploadFailed,
			wantDeleted: 1,
		},
		{
			name:        "object store unreachable",
			failOnPut:   1,
			putErr:      errors.NewStorageUnavailableError("minio", fmt.Errorf("dial tcp: connection refused")),
			setupMock:   func(sqlmock.Sqlmock) {},
			wantCode:    errors.ErrCodeStorageUnavailable,
			wantDeleted: 0,
		},
		{
			name: "index insert fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`INSERT INTO drawing_files`).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(`INSERT INTO drawing_files`).WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})
				mock.ExpectRollback()
			},
			wantCode:    errors.ErrCodeUploadFailed,
			wantDeleted: 2,
		},
		{
			name: "database connection lost",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})
			},
			wantCode:    errors.ErrCodeStorageUnavailable,
			wantDeleted: 2,
		},
		{
			name: "commit fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`INSERT INTO drawing_files`).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(`INSERT INTO drawing_files`).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit().WillReturnError(fmt.Errorf("serialization failure"))
			},
			wantCode:    errors.ErrCodeUploadFailed,
			wantDeleted: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.failOnPut = tt.failOnPut
			store.putErr = tt.putErr
			svc, mock := newTestService(t, store)
			tt.setupMock(mock)

			ids, err := svc.UploadBatch(context.Background(), "sess-1", "card-7", [][]byte{pngBytes(32), pngBytes(32)})

			assert.Nil(t, ids)
			assert.Equal(t, tt.wantCode, errors.CodeOf(err))
			assert.Len(t, store.deleted, tt.wantDeleted)
			assert.Empty(t, store.objects, "no object survives a failed batch")
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUploadBatch_Unconfigured(t *testing.T) {
	svc := NewService(nil, nil, config.StorageConfig{}, logger.NewNoOpLogger())

	_, err := svc.UploadBatch(context.Background(), "sess-1", "card-7", [][]byte{pngBytes(8)})

	assert.ErrorIs(t, err, errors.ErrStorageUnavailable)
}

// ==========================
// Resolution Tests
// ==========================

func TestResolveURL(t *testing.T) {
	columns := []string{"file_id", "session_id", "question_id", "position", "object_key", "content_type", "size_bytes", "created_at"}

	t.Run("known file", func(t *testing.T) {
		svc, mock := newTestService(t, newFakeStore())
		mock.ExpectQuery(`SELECT file_id`).
			WithArgs("f-1").
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow("f-1", "sess-1", "card-7", 0, "drawings/sess-1/card-7/f-1.png", "image/png", 64, time.Now()))

		url, err := svc.ResolveURL(context.Background(), "f-1")

		require.NoError(t, err)
		assert.Equal(t, "https://objects.test/drawings/sess-1/card-7/f-1.png?expires=60", url)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown file", func(t *testing.T) {
		svc, mock := newTestService(t, newFakeStore())
		mock.ExpectQuery(`SELECT file_id`).WithArgs("nope").WillReturnRows(sqlmock.NewRows(columns))

		_, err := svc.ResolveURL(context.Background(), "nope")

		assert.ErrorIs(t, err, errors.ErrFileNotFound)
	})

	t.Run("several in order", func(t *testing.T) {
		svc, mock := newTestService(t, newFakeStore())
		for _, id := range []string{"f-2", "f-1"} {
			mock.ExpectQuery(`SELECT file_id`).
				WithArgs(id).
				WillReturnRows(sqlmock.NewRows(columns).
					AddRow(id, "sess-1", "card-7", 0, "k/"+id+".png", "image/png", 64, time.Now()))
		}

		urls, err := svc.ResolveURLs(context.Background(), []string{"f-2", "f-1"})

		require.NoError(t, err)
		require.Len(t, urls, 2)
		assert.True(t, strings.Contains(urls[0], "f-2.png"))
		assert.True(t, strings.Contains(urls[1], "f-1.png"))
	})
}

func TestEnsureSchema(t *testing.T) {
	svc, mock := newTestService(t, newFakeStore())
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS drawing_files`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, svc.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
