// internal/pipeline/controller/controller_test.go
package controller

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagram-submissions/internal/common/errors"
	"diagram-submissions/internal/common/logger"
	"diagram-submissions/internal/drawing/surface"
	"diagram-submissions/internal/models"
	"diagram-submissions/internal/pipeline/attempts"
	"diagram-submissions/internal/pipeline/extractor"
	"diagram-submissions/internal/pipeline/validator"
)

// ==========================
// Test Helper Functions
// ==========================

const kb = 1024

var (
	testIdentity = models.QuestionIdentity{SessionID: "sess-1", QuestionID: "card-7"}
	fixedNow     = time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
)

func fakePNG(size int) []byte {
	data := make([]byte, size)
	copy(data, "\x89PNG\r\n\x1a\n")
	return data
}

func imgTag(data []byte) string {
	return `<img src="data:image/png;base64,` + base64.StdEncoding.EncodeToString(data) + `">`
}

type fakeUploader struct {
	mu      sync.Mutex
	outcome *models.UploadOutcome
	calls   [][]models.ImagePayload
	ctxErrs []error
	started chan struct{}
	release chan struct{}
}

func (u *fakeUploader) Upload(ctx context.Context, payloads []models.ImagePayload, _ models.QuestionIdentity) models.UploadOutcome {
	if u.started != nil {
		close(u.started)
	}
	if u.release != nil {
		<-u.release
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, payloads)
	u.ctxErrs = append(u.ctxErrs, ctx.Err())

	if u.outcome != nil {
		return *u.outcome
	}
	if len(payloads) == 0 {
		return models.NoUpload()
	}
	ids := make([]string, len(payloads))
	for i := range payloads {
		ids[i] = fmt.Sprintf("file-%d", i+1)
	}
	return models.Stored(ids)
}

type fakeDispatcher struct {
	mu          sync.Mutex
	store       attempts.Store
	err         error
	cmds        []models.SubmitCommand
	attemptSeen []bool
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, identity models.QuestionIdentity, cmd models.SubmitCommand) error {
	_, found, _ := d.store.Get(ctx, identity)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.attemptSeen = append(d.attemptSeen, found)
	d.cmds = append(d.cmds, cmd)
	return d.err
}

func (d *fakeDispatcher) Close() error { return nil }

type failingStore struct{}

func (failingStore) Store(context.Context, models.QuestionIdentity, models.Attempt) error {
	return errors.NewAttemptStoreFailedError("redis", fmt.Errorf("connection refused"))
}

func (failingStore) Get(context.Context, models.QuestionIdentity) (*models.Attempt, bool, error) {
	return nil, false, errors.NewAttemptStoreFailedError("redis", fmt.Errorf("connection refused"))
}

type recordingView struct {
	mu         sync.Mutex
	states     []State
	violations [][]string
}

func (v *recordingView) StateChanged(_ models.QuestionIdentity, s State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.states = append(v.states, s)
}

func (v *recordingView) ShowViolations(messages []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.violations = append(v.violations, messages)
}

func (v *recordingView) snapshot() []State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]State(nil), v.states...)
}

type fixture struct {
	deps       *Deps
	uploader   *fakeUploader
	dispatcher *fakeDispatcher
	store      *attempts.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	log := logger.NewTestLogger(t)
	store := attempts.NewMemoryStore(100, time.Hour)
	f := &fixture{
		uploader:   &fakeUploader{},
		dispatcher: &fakeDispatcher{store: store},
		store:      store,
	}
	f.deps = &Deps{
		Extractor:  extractor.New(extractor.Config{}, log),
		Limits:     validator.DefaultLimits(),
		Uploader:   f.uploader,
		Attempts:   store,
		Dispatcher: f.dispatcher,
		Log:        log,
		Now:        func() time.Time { return fixedNow },
	}
	return f
}

func testScene() *models.SceneData {
	grid := 20
	return &models.SceneData{
		Type:    models.SceneType,
		Version: models.SceneVersion,
		Elements: []models.SceneElement{
			{ID: "r1", Type: models.ElementRectangle, X: 10, Y: 20, Width: 120, Height: 60, StrokeColor: "#1e1e1e"},
			{ID: "a1", Type: models.ElementArrow, X: 130, Y: 50, Width: 80, Points: []models.Point{{X: 0, Y: 0}, {X: 80, Y: 0}}},
		},
		Files:    map[string]models.SceneFile{},
		AppState: models.AppState{ViewBackgroundColor: "#ffffff", GridSize: &grid},
	}
}

// ==========================
// Nothing To Submit
// ==========================

func TestSubmit_NothingToSubmit(t *testing.T) {
	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{name: "empty document", req: SubmitRequest{}},
		{name: "whitespace markup", req: SubmitRequest{Document: "<p>  </p><p><br></p>"}},
		{name: "empty surface", req: SubmitRequest{Document: "", Surface: surface.NewBoard(surface.NewPNGEncoder(), nil)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := New(f.deps, testIdentity, "int-1")
			view := &recordingView{}
			c.Attach(view)

			res, err := c.Submit(context.Background(), tt.req)

			assert.Nil(t, res)
			assert.ErrorIs(t, err, errors.ErrNothingToSubmit)
			assert.True(t, errors.IsUserInputError(err))
			assert.Equal(t, StateIdle, c.State())
			assert.Equal(t, []State{StateIdle}, view.snapshot())
			assert.Empty(t, f.uploader.calls)
			assert.Empty(t, f.dispatcher.cmds)
		})
	}
}

// ==========================
// Happy Path
// ==========================

func TestSubmit_DrawnThenEmbeddedInOrder(t *testing.T) {
	f := newFixture(t)
	c := New(f.deps, testIdentity, "int-1")
	view := &recordingView{}
	c.Attach(view)

	embedded := fakePNG(500 * kb)
	drawn := fakePNG(400 * kb)
	drawn[100] = 'D'

	res, err := c.Submit(context.Background(), SubmitRequest{
		Document:    "<p>My answer " + imgTag(embedded) + "</p>",
		DrawnImages: []models.ImagePayload{{Data: drawn, MimeType: "image/png"}},
	})
	require.NoError(t, err)

	require.Len(t, f.uploader.calls, 1)
	uploaded := f.uploader.calls[0]
	require.Len(t, uploaded, 2)
	assert.Equal(t, models.OriginDrawn, uploaded[0].Origin)
	assert.True(t, bytes.Equal(drawn, uploaded[0].Data))
	assert.Equal(t, models.CanvasDrawingLabel, uploaded[0].Label)
	assert.Equal(t, models.OriginEmbedded, uploaded[1].Origin)
	assert.True(t, bytes.Equal(embedded, uploaded[1].Data))

	assert.Equal(t, StateDispatched, res.State)
	assert.Equal(t, StateDispatched, c.State())
	assert.Equal(t, []string{"file-1", "file-2"}, res.Outcome.FileIDs)
	assert.Equal(t, []string{"file-1", "file-2"}, res.Command.StudentDrawingFileIDs)
	assert.Nil(t, res.Command.StudentDrawing)
	assert.Contains(t, res.Command.StudentResponse, "[Drawing 1 submitted]")
	assert.NotContains(t, res.Command.StudentResponse, "base64")
	assert.Equal(t, "int-1", res.Command.InteractionID)
	assert.Equal(t, "card-7", res.Command.CardID)
	assert.Equal(t, "2026-03-14T09:26:53.589Z", res.Command.Timestamp)

	assert.Equal(t, []State{StateIdle, StateExtracting, StateValidating, StateUploading, StateDispatched}, view.snapshot())
}

func TestSubmit_StoresAttemptBeforeDispatch(t *testing.T) {
	f := newFixture(t)
	c := New(f.deps, testIdentity, "int-1")

	_, err := c.Submit(context.Background(), SubmitRequest{Document: "<p>42</p>"})
	require.NoError(t, err)

	require.Equal(t, []bool{true}, f.dispatcher.attemptSeen)
	stored, found, err := f.store.Get(context.Background(), testIdentity)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "<p>42</p>", stored.CleanedResponse)
	assert.Equal(t, "int-1", stored.InteractionID)
	assert.Equal(t, fixedNow, stored.SubmittedAt)
	assert.Nil(t, f.dispatcher.cmds[0].StudentDrawingFileIDs)
	assert.Nil(t, f.dispatcher.cmds[0].StudentDrawing)
}

func TestSubmit_DrawingSurface(t *testing.T) {
	f := newFixture(t)
	board := surface.NewBoard(surface.NewPNGEncoder(), nil)
	board.AddElement(models.SceneElement{Type: models.ElementRectangle, Width: 100, Height: 50, StrokeColor: "#000000"})
	c := New(f.deps, testIdentity, "int-1")

	res, err := c.Submit(context.Background(), SubmitRequest{Surface: board, DrawingText: "a box"})
	require.NoError(t, err)

	uploaded := f.uploader.calls[0]
	require.Len(t, uploaded, 1)
	assert.Equal(t, "image/png", uploaded[0].MimeType)
	assert.True(t, bytes.HasPrefix(uploaded[0].Data, []byte("\x89PNG")))
	require.NotNil(t, res.Attempt.Scene)
	assert.Len(t, res.Attempt.Scene.Elements, 1)
	require.NotNil(t, res.Command.StudentDrawingText)
	assert.Equal(t, "a box", *res.Command.StudentDrawingText)
}

// ==========================
// Validation
// ==========================

func TestSubmit_PerImageAndAggregateRulesAreIndependent(t *testing.T) {
	f := newFixture(t)
	c := New(f.deps, testIdentity, "int-1")
	view := &recordingView{}
	c.Attach(view)

	doc := "<p>" + imgTag(fakePNG(900*kb)) + imgTag(fakePNG(900*kb)) + imgTag(fakePNG(900*kb)) + "</p>"
	_, err := c.Submit(context.Background(), SubmitRequest{Document: doc})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, errors.ErrCodeValidationFailed, errors.CodeOf(err))

	rules := map[string]int{}
	for _, v := range verr.Violations {
		rules[v.Rule]++
	}
	assert.Equal(t, 3, rules[string(errors.ErrCodeImageTooLarge)])
	assert.Zero(t, rules[string(errors.ErrCodeAggregateTooLarge)])
	assert.Equal(t, "Drawing 2 is too large (900 KB). Maximum size per image is 800 KB.", verr.Messages()[1])

	assert.Equal(t, StateIdle, c.State())
	require.Len(t, view.violations, 1)
	assert.Len(t, view.violations[0], 3)
	assert.Empty(t, f.uploader.calls)
}

func TestSubmit_ExtractorViolationsBlock(t *testing.T) {
	f := newFixture(t)
	c := New(f.deps, testIdentity, "int-1")

	doc := `<p><img src="data:image/png;base64,` + base64.StdEncoding.EncodeToString([]byte("%PDF-1.7 not an image")) + `"></p>`
	_, err := c.Submit(context.Background(), SubmitRequest{Document: doc})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	assert.Equal(t, string(errors.ErrCodeUnsupportedImageType), verr.Violations[0].Rule)
	assert.Equal(t, StateIdle, c.State())
}

func TestSubmit_ExtractionFailure(t *testing.T) {
	f := newFixture(t)
	c := New(f.deps, testIdentity, "int-1")

	_, err := c.Submit(context.Background(), SubmitRequest{Document: `<img src="data:image/png;base64,@@@">`})

	assert.Equal(t, errors.ErrCodeExtractionFailed, errors.CodeOf(err))
	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, f.dispatcher.cmds)
}

// ==========================
// Upload Fallback
// ==========================

func TestSubmit_InlineFallback(t *testing.T) {
	one := fakePNG(2 * kb)
	two := fakePNG(3 * kb)

	tests := []struct {
		name   string
		images [][]byte
		want   string
	}{
		{
			name:   "single image is the raw buffer",
			images: [][]byte{one},
			want:   base64.StdEncoding.EncodeToString(one),
		},
		{
			name:   "several images are a JSON array",
			images: [][]byte{one, two},
			want:   `["` + base64.StdEncoding.EncodeToString(one) + `","` + base64.StdEncoding.EncodeToString(two) + `"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			inline := models.Inline(models.FallbackStorageUnavailable)
			f.uploader.outcome = &inline
			c := New(f.deps, testIdentity, "int-1")

			var doc strings.Builder
			for _, img := range tt.images {
				doc.WriteString(imgTag(img))
			}
			res, err := c.Submit(context.Background(), SubmitRequest{Document: doc.String()})
			require.NoError(t, err)

			assert.Equal(t, StateDispatched, c.State())
			assert.Nil(t, res.Command.StudentDrawingFileIDs)
			require.NotNil(t, res.Command.StudentDrawing)
			assert.Equal(t, tt.want, *res.Command.StudentDrawing)
			assert.Len(t, res.Attempt.InlineImages, len(tt.images))
		})
	}
}

// ==========================
// Failures After Validation
// ==========================

func TestSubmit_DispatchFailureReturnsToIdle(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = errors.NewDispatchFailedError("zeebe", fmt.Errorf("unavailable"))
	c := New(f.deps, testIdentity, "int-1")

	_, err := c.Submit(context.Background(), SubmitRequest{Document: "<p>answer</p>"})

	assert.Equal(t, errors.ErrCodeDispatchFailed, errors.CodeOf(err))
	assert.Equal(t, StateIdle, c.State())
	_, found, _ := f.store.Get(context.Background(), testIdentity)
	assert.True(t, found, "attempt is kept for the retry")

	f.dispatcher.err = nil
	_, err = c.Submit(context.Background(), SubmitRequest{Document: "<p>answer</p>"})
	require.NoError(t, err)
	assert.Equal(t, StateDispatched, c.State())
}

func TestSubmit_StoreFailureStillDispatches(t *testing.T) {
	f := newFixture(t)
	f.deps.Attempts = failingStore{}
	f.dispatcher.store = failingStore{}
	c := New(f.deps, testIdentity, "int-1")

	_, err := c.Submit(context.Background(), SubmitRequest{Document: "<p>answer</p>"})

	require.NoError(t, err)
	assert.Len(t, f.dispatcher.cmds, 1)
	assert.Equal(t, StateDispatched, c.State())
}

// ==========================
// Concurrency And Lifetime
// ==========================

func TestSubmit_RejectsSecondSubmitWhileUploading(t *testing.T) {
	f := newFixture(t)
	f.uploader.started = make(chan struct{})
	f.uploader.release = make(chan struct{})
	c := New(f.deps, testIdentity, "int-1")

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), SubmitRequest{Document: "<p>first</p>"})
		done <- err
	}()

	<-f.uploader.started
	assert.Equal(t, StateUploading, c.State())

	_, err := c.Submit(context.Background(), SubmitRequest{Document: "<p>second</p>"})
	assert.Equal(t, errors.ErrCodeSubmissionInFlight, errors.CodeOf(err))

	close(f.uploader.release)
	require.NoError(t, <-done)

	_, err = c.Submit(context.Background(), SubmitRequest{Document: "<p>third</p>"})
	assert.ErrorIs(t, err, errors.ErrAlreadyDispatched)
	assert.Len(t, f.dispatcher.cmds, 1)
}

func TestSubmit_TeardownDuringUpload(t *testing.T) {
	f := newFixture(t)
	f.uploader.started = make(chan struct{})
	f.uploader.release = make(chan struct{})
	c := New(f.deps, testIdentity, "int-1")
	view := &recordingView{}
	c.Attach(view)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(ctx, SubmitRequest{Document: "<p>answer " + imgTag(fakePNG(kb)) + "</p>"})
		done <- err
	}()

	<-f.uploader.started
	c.Detach()
	cancel()
	seen := len(view.snapshot())
	close(f.uploader.release)

	require.NoError(t, <-done)
	assert.Len(t, view.snapshot(), seen, "detached view receives no updates")
	assert.NoError(t, f.uploader.ctxErrs[0], "upload is not cancelled by teardown")
	assert.Equal(t, StateDispatched, c.State())

	stored, found, err := f.store.Get(context.Background(), testIdentity)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"file-1"}, stored.FileIDs)
}

// ==========================
// Render And Retry
// ==========================

func TestRender_FreshQuestion(t *testing.T) {
	f := newFixture(t)
	c := New(f.deps, testIdentity, "int-1")

	res, err := c.Render(context.Background(), surface.NewBoard(surface.NewPNGEncoder(), nil))

	require.NoError(t, err)
	assert.Equal(t, StateIdle, res.State)
	assert.Nil(t, res.Attempt)
	assert.False(t, res.SceneRestored)
}

func TestRender_RetryRestoresSceneWithoutRefit(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Store(context.Background(), testIdentity, models.Attempt{
		Identity:        testIdentity,
		InteractionID:   "int-0",
		CleanedResponse: "<p>old answer [Drawing 1 submitted]</p>",
		FileIDs:         []string{"file-1"},
		Scene:           testScene(),
	}))

	board := surface.NewBoard(surface.NewPNGEncoder(), nil)
	board.AddElement(models.SceneElement{Type: models.ElementEllipse, X: 400, Y: 400, Width: 10, Height: 10})
	board.ZoomToFit()
	require.NotEqual(t, 1.0, board.ViewState().Zoom)

	c := New(f.deps, testIdentity, "int-1")
	res, err := c.Render(context.Background(), board)
	require.NoError(t, err)

	assert.Equal(t, StateRetryPrepopulated, res.State)
	assert.Equal(t, StateRetryPrepopulated, c.State())
	assert.True(t, res.SceneRestored)
	require.NotNil(t, res.Attempt)
	assert.Equal(t, "<p>old answer [Drawing 1 submitted]</p>", res.Attempt.CleanedResponse)

	view := board.ViewState()
	assert.Equal(t, 1.0, view.Zoom)
	assert.Zero(t, view.ScrollX)
	assert.Zero(t, view.ScrollY)
	assert.Equal(t, "#ffffff", view.BackgroundColor)

	restored, err := board.ExportScene()
	require.NoError(t, err)
	require.Len(t, restored.Elements, 2)
	assert.Equal(t, models.ElementRectangle, restored.Elements[0].Type)
	assert.Equal(t, 10.0, restored.Elements[0].X)
}

func TestRender_CorruptSceneIsSkipped(t *testing.T) {
	f := newFixture(t)
	broken := testScene()
	broken.Elements = append(broken.Elements, models.SceneElement{ID: "r1", Type: "hexagon"})
	require.NoError(t, f.store.Store(context.Background(), testIdentity, models.Attempt{
		Identity:        testIdentity,
		CleanedResponse: "<p>old</p>",
		Scene:           broken,
	}))

	board := surface.NewBoard(surface.NewPNGEncoder(), nil)
	c := New(f.deps, testIdentity, "int-1")
	res, err := c.Render(context.Background(), board)

	require.NoError(t, err)
	assert.Equal(t, StateRetryPrepopulated, res.State)
	assert.False(t, res.SceneRestored)
	assert.True(t, board.IsEmpty())
}

func TestRender_StoreErrorMeansFresh(t *testing.T) {
	f := newFixture(t)
	f.deps.Attempts = failingStore{}
	c := New(f.deps, testIdentity, "int-1")

	res, err := c.Render(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, StateIdle, res.State)
}

func TestRender_AfterSubmitSeesLatestAttempt(t *testing.T) {
	f := newFixture(t)
	reg := NewRegistry(f.deps, RegistryConfig{})

	first := reg.Instance(testIdentity, "int-1")
	_, err := first.Submit(context.Background(), SubmitRequest{Document: "<p>first try</p>"})
	require.NoError(t, err)

	retry := reg.Instance(testIdentity, "int-2")
	require.NotSame(t, first, retry)
	res, err := retry.Render(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StateRetryPrepopulated, res.State)
	assert.Equal(t, "<p>first try</p>", res.Attempt.CleanedResponse)
}

// ==========================
// Registry
// ==========================

func TestRegistry_Instance(t *testing.T) {
	f := newFixture(t)
	reg := NewRegistry(f.deps, RegistryConfig{})

	a := reg.Instance(testIdentity, "int-1")
	assert.Same(t, a, reg.Instance(testIdentity, "int-1"))
	assert.Same(t, a, reg.Instance(testIdentity, ""), "empty interaction id reuses the live instance")

	other := reg.Instance(models.QuestionIdentity{SessionID: "sess-1", QuestionID: "card-8"}, "")
	assert.NotSame(t, a, other)
	assert.NotEmpty(t, other.InteractionID())
	assert.Equal(t, 2, reg.Len())

	_, err := a.Submit(context.Background(), SubmitRequest{Document: "<p>done</p>"})
	require.NoError(t, err)

	b := reg.Instance(testIdentity, "int-2")
	assert.NotSame(t, a, b, "a new interaction replaces the dispatched instance")
	assert.Equal(t, StateIdle, b.State())

	fresh := reg.Instance(testIdentity, "")
	assert.Same(t, b, fresh)
}

func TestRegistry_DispatchedInteractionIsNotResent(t *testing.T) {
	f := newFixture(t)
	reg := NewRegistry(f.deps, RegistryConfig{})

	first := reg.Instance(testIdentity, "int-1")
	_, err := first.Submit(context.Background(), SubmitRequest{Document: "<p>done</p>"})
	require.NoError(t, err)

	// a later interaction takes over the live slot
	_ = reg.Instance(testIdentity, "int-2")

	again := reg.Instance(testIdentity, "int-1")
	assert.Same(t, first, again)
	res, err := again.Submit(context.Background(), SubmitRequest{Document: "<p>done twice</p>"})

	assert.Nil(t, res)
	assert.Equal(t, errors.ErrCodeAlreadyDispatched, errors.CodeOf(err))
	assert.Len(t, f.dispatcher.cmds, 1)

	stored, _, err := f.store.Get(context.Background(), testIdentity)
	require.NoError(t, err)
	assert.Equal(t, "<p>done</p>", stored.CleanedResponse)
}

func TestRegistry_OneSubmissionInFlightPerQuestion(t *testing.T) {
	f := newFixture(t)
	f.uploader.started = make(chan struct{})
	f.uploader.release = make(chan struct{})
	reg := NewRegistry(f.deps, RegistryConfig{})

	first := reg.Instance(testIdentity, "int-1")
	done := make(chan error, 1)
	go func() {
		_, err := first.Submit(context.Background(), SubmitRequest{Document: "<p>first</p>"})
		done <- err
	}()
	<-f.uploader.started

	tests := []struct {
		name          string
		interactionID string
	}{
		{name: "same interaction", interactionID: "int-1"},
		{name: "new interaction", interactionID: "int-2"},
		{name: "no interaction", interactionID: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := reg.Instance(testIdentity, tt.interactionID)
			assert.Same(t, first, c)
			assert.Equal(t, StateUploading, c.State())

			res, err := c.Submit(context.Background(), SubmitRequest{Document: "<p>second</p>"})
			assert.Nil(t, res)
			assert.Equal(t, errors.ErrCodeSubmissionInFlight, errors.CodeOf(err))
		})
	}

	close(f.uploader.release)
	require.NoError(t, <-done)
	assert.Len(t, f.dispatcher.cmds, 1)
	assert.Len(t, f.uploader.calls, 1)
}

func TestRegistry_StaleInstanceCannotOverlap(t *testing.T) {
	f := newFixture(t)
	f.uploader.started = make(chan struct{})
	f.uploader.release = make(chan struct{})
	reg := NewRegistry(f.deps, RegistryConfig{})

	// both requests resolve their instance before either submits
	stale := reg.Instance(testIdentity, "int-1")
	current := reg.Instance(testIdentity, "int-2")
	require.NotSame(t, stale, current)

	done := make(chan error, 1)
	go func() {
		_, err := current.Submit(context.Background(), SubmitRequest{Document: "<p>current</p>"})
		done <- err
	}()
	<-f.uploader.started

	res, err := stale.Submit(context.Background(), SubmitRequest{Document: "<p>stale</p>"})
	assert.Nil(t, res)
	assert.Equal(t, errors.ErrCodeSubmissionInFlight, errors.CodeOf(err))
	assert.Equal(t, StateIdle, stale.State())

	close(f.uploader.release)
	require.NoError(t, <-done)
	assert.Len(t, f.dispatcher.cmds, 1)
}

func TestRegistry_IsBounded(t *testing.T) {
	f := newFixture(t)
	reg := NewRegistry(f.deps, RegistryConfig{Capacity: 2, TTL: time.Hour})

	for i := 0; i < 5; i++ {
		reg.Instance(models.QuestionIdentity{SessionID: "sess-1", QuestionID: fmt.Sprintf("card-%d", i)}, "")
	}
	assert.Equal(t, 2, reg.Len())

	short := NewRegistry(f.deps, RegistryConfig{Capacity: 10, TTL: 50 * time.Millisecond})
	short.Instance(testIdentity, "int-1")
	assert.Eventually(t, func() bool { return short.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
