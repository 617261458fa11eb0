// internal/api/handlers_test.go
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagram-submissions/internal/common/errors"
	"diagram-submissions/internal/common/logger"
	"diagram-submissions/internal/models"
	"diagram-submissions/internal/pipeline/attempts"
	"diagram-submissions/internal/pipeline/controller"
	"diagram-submissions/internal/pipeline/extractor"
	"diagram-submissions/internal/pipeline/validator"
	"diagram-submissions/pkg/registry"
)

// ==========================
// Test Helper Functions
// ==========================

type stubUploader struct{}

func (stubUploader) Upload(_ context.Context, payloads []models.ImagePayload, _ models.QuestionIdentity) models.UploadOutcome {
	if len(payloads) == 0 {
		return models.NoUpload()
	}
	ids := make([]string, len(payloads))
	for i := range payloads {
		ids[i] = fmt.Sprintf("file-%d", i+1)
	}
	return models.Stored(ids)
}

type stubDispatcher struct {
	mu   sync.Mutex
	sent []models.SubmitCommand
	err  error
}

func (d *stubDispatcher) Dispatch(_ context.Context, _ models.QuestionIdentity, cmd models.SubmitCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, cmd)
	return nil
}

func (d *stubDispatcher) Close() error { return nil }

type stubFiles struct {
	urls map[string]string
	err  error
}

func (f *stubFiles) ResolveURL(_ context.Context, fileID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	url, ok := f.urls[fileID]
	if !ok {
		return "", errors.NewFileNotFoundError(fileID)
	}
	return url, nil
}

func (f *stubFiles) ResolveURLs(ctx context.Context, fileIDs []string) ([]string, error) {
	out := make([]string, 0, len(fileIDs))
	for _, id := range fileIDs {
		url, err := f.ResolveURL(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, url)
	}
	return out, nil
}

type testServer struct {
	router     *gin.Engine
	dispatcher *stubDispatcher
	store      *attempts.MemoryStore
}

func newTestServer(t *testing.T, files FileResolver, checks map[string]HealthCheck) *testServer {
	gin.SetMode(gin.TestMode)
	log := logger.NewTestLogger(t)

	store := attempts.NewMemoryStore(10, time.Hour)
	dispatcher := &stubDispatcher{}
	controllers := controller.NewRegistry(&controller.Deps{
		Extractor:  extractor.New(extractor.Config{}, log),
		Limits:     validator.DefaultLimits(),
		Uploader:   stubUploader{},
		Attempts:   store,
		Dispatcher: dispatcher,
		Log:        log,
		Now:        func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) },
	}, controller.RegistryConfig{})

	a := NewAPI(controllers, files, registry.Default(), nil, checks, log)
	return &testServer{router: NewRouter(a), dispatcher: dispatcher, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}

func smallPNG() string {
	data := make([]byte, 64)
	copy(data, "\x89PNG\r\n\x1a\n")
	return base64.StdEncoding.EncodeToString(data)
}

func testScene() *models.SceneData {
	return &models.SceneData{
		Type:    models.SceneType,
		Version: models.SceneVersion,
		Elements: []models.SceneElement{
			{ID: "r1", Type: models.ElementRectangle, X: 10, Y: 20, Width: 120, Height: 60, StrokeColor: "#1e1e1e"},
		},
		Files: map[string]models.SceneFile{},
	}
}

const questionPath = "/api/v1/sessions/sess-1/questions/card-7"

// ==========================
// Health
// ==========================

func TestHealthAndReady(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		s := newTestServer(t, nil, map[string]HealthCheck{
			"redis": func(context.Context) error { return nil },
		})
		assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)
		assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", nil).Code)
	})

	t.Run("failing check", func(t *testing.T) {
		s := newTestServer(t, nil, map[string]HealthCheck{
			"redis":   func(context.Context) error { return nil },
			"storage": func(context.Context) error { return fmt.Errorf("connection refused") },
		})
		rec := s.do(t, http.MethodGet, "/ready", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "connection refused")
	})
}

// ==========================
// Submit
// ==========================

func TestSubmit_Accepted(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := s.do(t, http.MethodPost, questionPath+"/submissions", SubmitBody{
		InteractionID: "int-1",
		Response:      "<p>A triangle</p>",
		Scene:         testScene(),
		Drawings:      []string{smallPNG()},
	})

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var out SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, controller.StateDispatched, out.State)
	assert.Equal(t, "int-1", out.InteractionID)
	assert.Equal(t, models.OutcomeStored, out.Outcome)
	// board raster first, then the client drawing
	assert.Equal(t, []string{"file-1", "file-2"}, out.FileIDs)
	assert.Equal(t, "card-7", out.Command.CardID)
	require.Len(t, s.dispatcher.sent, 1)

	rec = s.do(t, http.MethodPost, questionPath+"/submissions", SubmitBody{InteractionID: "int-1", Response: "<p>again</p>"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), string(errors.ErrCodeAlreadyDispatched))
	assert.Len(t, s.dispatcher.sent, 1)
}

func TestSubmit_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantCode   errors.ErrorCode
	}{
		{
			name:       "malformed body",
			body:       "not an object",
			wantStatus: http.StatusBadRequest,
			wantCode:   errors.ErrCodeBusinessRule,
		},
		{
			name:       "nothing to submit",
			body:       SubmitBody{InteractionID: "int-1", Response: "<p></p>"},
			wantStatus: http.StatusBadRequest,
			wantCode:   errors.ErrCodeNothingToSubmit,
		},
		{
			name:       "bad base64 drawing",
			body:       SubmitBody{InteractionID: "int-1", Response: "text", Drawings: []string{"%%%"}},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   errors.ErrCodeExtractionFailed,
		},
		{
			name: "invalid scene",
			body: SubmitBody{InteractionID: "int-1", Response: "text", Scene: &models.SceneData{
				Type: "something-else", Version: models.SceneVersion,
			}},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   errors.ErrCodeInvalidScene,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil, nil)
			rec := s.do(t, http.MethodPost, questionPath+"/submissions", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
			assert.Empty(t, s.dispatcher.sent)
		})
	}
}

func TestSubmit_ValidationViolations(t *testing.T) {
	s := newTestServer(t, nil, nil)

	drawings := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		drawings = append(drawings, smallPNG())
	}
	rec := s.do(t, http.MethodPost, questionPath+"/submissions", SubmitBody{
		InteractionID: "int-1",
		Response:      "text",
		Drawings:      drawings,
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, errors.ErrCodeValidationFailed, body.Code)
	assert.NotEmpty(t, body.Violations)
}

func TestSubmit_DispatchFailure(t *testing.T) {
	s := newTestServer(t, nil, nil)
	s.dispatcher.err = errors.NewDispatchFailedError("zeebe", fmt.Errorf("unavailable"))

	rec := s.do(t, http.MethodPost, questionPath+"/submissions", SubmitBody{InteractionID: "int-1", Response: "text"})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, errors.ErrCodeDispatchFailed, decodeError(t, rec).Code)
}

// ==========================
// Render
// ==========================

func TestRenderQuestion(t *testing.T) {
	t.Run("fresh question", func(t *testing.T) {
		s := newTestServer(t, nil, nil)
		rec := s.do(t, http.MethodGet, questionPath+"?interactionId=int-1", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var out RenderResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Equal(t, controller.StateIdle, out.State)
		assert.Equal(t, "int-1", out.InteractionID)
		assert.False(t, out.SceneRestored)
		assert.Nil(t, out.Scene)
	})

	t.Run("retry prepopulation", func(t *testing.T) {
		files := &stubFiles{urls: map[string]string{"file-1": "https://cdn.example/file-1"}}
		s := newTestServer(t, files, nil)

		rec := s.do(t, http.MethodPost, questionPath+"/submissions", SubmitBody{
			InteractionID: "int-1",
			Response:      "<p>first try</p>",
			Scene:         testScene(),
		})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		rec = s.do(t, http.MethodGet, questionPath+"?interactionId=int-2", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var out RenderResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

		assert.Equal(t, controller.StateRetryPrepopulated, out.State)
		assert.Equal(t, "int-2", out.InteractionID)
		assert.Equal(t, []string{"file-1"}, out.DrawingFileIDs)
		assert.Equal(t, []string{"https://cdn.example/file-1"}, out.DrawingURLs)
		assert.Equal(t, "<p>first try</p>", out.OriginalResponse)
		assert.Empty(t, out.InlineDrawings, "stored drawings resolve through file ids")
		assert.True(t, out.SceneRestored)
		require.NotNil(t, out.Scene)
		assert.Len(t, out.Scene.Elements, 1)
	})

	t.Run("preview lookup failure keeps ids", func(t *testing.T) {
		files := &stubFiles{err: errors.NewStorageUnavailableError("minio", nil)}
		s := newTestServer(t, files, nil)

		rec := s.do(t, http.MethodPost, questionPath+"/submissions", SubmitBody{
			InteractionID: "int-1",
			Response:      "text",
			Drawings:      []string{smallPNG()},
		})
		require.Equal(t, http.StatusAccepted, rec.Code)

		rec = s.do(t, http.MethodGet, questionPath+"?interactionId=int-2", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var out RenderResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Equal(t, []string{"file-1"}, out.DrawingFileIDs)
		assert.Empty(t, out.DrawingURLs)
	})

	t.Run("inline attempt restores images verbatim", func(t *testing.T) {
		s := newTestServer(t, nil, nil)
		original := `<p>see <img src="data:image/png;base64,` + smallPNG() + `"></p>`
		require.NoError(t, s.store.Store(context.Background(), models.QuestionIdentity{SessionID: "sess-1", QuestionID: "card-7"}, models.Attempt{
			InteractionID:    "int-1",
			CleanedResponse:  "<p>see [Drawing 1 submitted]</p>",
			OriginalResponse: original,
			InlineImages:     []string{smallPNG()},
		}))

		rec := s.do(t, http.MethodGet, questionPath+"?interactionId=int-2", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var out RenderResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

		assert.Equal(t, controller.StateRetryPrepopulated, out.State)
		assert.Equal(t, "<p>see [Drawing 1 submitted]</p>", out.PreviousResponse)
		assert.Equal(t, original, out.OriginalResponse)
		assert.Equal(t, []string{smallPNG()}, out.InlineDrawings)
		assert.Empty(t, out.DrawingFileIDs)
		assert.False(t, out.SceneRestored)
	})
}

// ==========================
// Files & Templates
// ==========================

func TestFileURL(t *testing.T) {
	tests := []struct {
		name       string
		files      FileResolver
		fileID     string
		wantStatus int
	}{
		{name: "resolved", files: &stubFiles{urls: map[string]string{"f1": "https://cdn/f1"}}, fileID: "f1", wantStatus: http.StatusOK},
		{name: "unknown file", files: &stubFiles{urls: map[string]string{}}, fileID: "missing", wantStatus: http.StatusNotFound},
		{name: "storage down", files: &stubFiles{err: errors.NewStorageUnavailableError("s3", nil)}, fileID: "f1", wantStatus: http.StatusServiceUnavailable},
		{name: "not configured", files: nil, fileID: "f1", wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.files, nil)
			rec := s.do(t, http.MethodGet, "/api/v1/files/"+tt.fileID+"/url", nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestListTemplates(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/templates", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Templates []TemplateSummary `json:"templates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.Templates)
	for i := 1; i < len(out.Templates); i++ {
		assert.Less(t, out.Templates[i-1].ID, out.Templates[i].ID)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code errors.ErrorCode
		want int
	}{
		{errors.ErrCodeSubmissionInFlight, http.StatusConflict},
		{errors.ErrCodeAlreadyDispatched, http.StatusConflict},
		{errors.ErrCodeTemplateNotFound, http.StatusNotFound},
		{errors.ErrCodeInternal, http.StatusInternalServerError},
		{errors.ErrCodeUploadFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.code))
		})
	}
}
