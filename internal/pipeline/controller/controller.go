// internal/pipeline/controller/controller.go
package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"diagram-submissions/internal/common/errors"
	"diagram-submissions/internal/common/logger"
	"diagram-submissions/internal/common/metrics"
	"diagram-submissions/internal/drawing/scenecodec"
	"diagram-submissions/internal/drawing/surface"
	"diagram-submissions/internal/models"
	"diagram-submissions/internal/pipeline/attempts"
	"diagram-submissions/internal/pipeline/dispatch"
	"diagram-submissions/internal/pipeline/extractor"
	"diagram-submissions/internal/pipeline/validator"
)

const tracerName = "diagram-submissions/controller"

// DefaultDispatchTimeout bounds the outward dispatch when none is configured.
const DefaultDispatchTimeout = 10 * time.Second

// State is the position of a question instance in the submission flow.
type State string

const (
	StateIdle              State = "idle"
	StateRetryPrepopulated State = "retry_prepopulated"
	StateExtracting        State = "extracting"
	StateValidating        State = "validating"
	StateUploading         State = "uploading"
	StateDispatched        State = "dispatched"
)

// Extractor pulls embedded images out of a rich-text answer.
type Extractor interface {
	Extract(doc string) (*extractor.Result, error)
}

// Uploader stores payloads or decides on the inline fallback.
type Uploader interface {
	Upload(ctx context.Context, payloads []models.ImagePayload, identity models.QuestionIdentity) models.UploadOutcome
}

// Recorder receives one observation per finished submission.
type Recorder interface {
	RecordSubmission(ctx context.Context, result string, duration time.Duration)
}

// View is the live UI for a question instance. Methods are called with the
// controller lock held and must not call back into the controller.
type View interface {
	StateChanged(identity models.QuestionIdentity, state State)
	ShowViolations(messages []string)
}

// Deps are the collaborators shared by every controller.
type Deps struct {
	Extractor       Extractor
	Limits          validator.Limits
	Uploader        Uploader
	Attempts        attempts.Store
	Dispatcher      dispatch.Dispatcher
	DispatchTimeout time.Duration
	Recorder        Recorder
	Log             logger.Logger
	Now             func() time.Time
}

// SubmitRequest is one press of the submit button.
type SubmitRequest struct {
	// Document is the rich-text answer, possibly with inline data-URL images.
	Document string
	// Surface is the drawing canvas, if the question shows one.
	Surface surface.Surface
	// DrawnImages are canvas exports supplied by the client instead of a Surface.
	DrawnImages []models.ImagePayload
	// DrawingText is an optional textual description of the drawing.
	DrawingText string
}

// SubmitResult describes a dispatched submission.
type SubmitResult struct {
	State   State
	Outcome models.UploadOutcome
	Attempt models.Attempt
	Command models.SubmitCommand
}

// RenderResult describes what a fresh question render found.
type RenderResult struct {
	State         State
	Attempt       *models.Attempt
	SceneRestored bool
}

// ValidationError blocks a submission and carries every violation.
type ValidationError struct {
	Violations []models.Violation
	err        *errors.StandardError
}

func newValidationError(violations []models.Violation) *ValidationError {
	messages := make([]string, 0, len(violations))
	for _, v := range violations {
		messages = append(messages, v.Message)
	}
	return &ValidationError{Violations: violations, err: errors.NewValidationFailedError(messages)}
}

func (e *ValidationError) Error() string {
	return e.err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

// Messages returns the student-facing messages in rule order.
func (e *ValidationError) Messages() []string {
	return models.ValidationResult{Violations: e.Violations}.Messages()
}

// Controller runs the submission flow for one question instance.
type Controller struct {
	mu            sync.Mutex
	deps          *Deps
	identity      models.QuestionIdentity
	interactionID string
	state         State
	current       atomic.Value
	view          View
	registry      *Registry
	log           logger.Logger
	tracer        trace.Tracer
}

// New creates a controller in the Idle state.
func New(deps *Deps, identity models.QuestionIdentity, interactionID string) *Controller {
	log := deps.Log
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	c := &Controller{
		deps:          deps,
		identity:      identity,
		interactionID: interactionID,
		state:         StateIdle,
		log: log.Named("controller").WithFields(map[string]interface{}{
			"question":      identity.Key(),
			"interactionId": interactionID,
		}),
		tracer: otel.Tracer(tracerName),
	}
	c.current.Store(StateIdle)
	return c
}

func (c *Controller) Identity() models.QuestionIdentity {
	return c.identity
}

func (c *Controller) InteractionID() string {
	return c.interactionID
}

// State reads the latest state without waiting for a running stage.
func (c *Controller) State() State {
	return c.current.Load().(State)
}

// Attach connects a live view. The current state is pushed immediately.
func (c *Controller) Attach(v View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = v
	if v != nil {
		v.StateChanged(c.identity, c.state)
	}
}

// Detach disconnects the view. Work already in progress still completes and
// is persisted.
func (c *Controller) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = nil
}

// setState must be called with c.mu held.
func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.log.Debug("state change", map[string]interface{}{"from": string(c.state), "to": string(s)})
	c.state = s
	c.current.Store(s)
	if c.view != nil {
		c.view.StateChanged(c.identity, s)
	}
}

// Render looks up the previous attempt for the question. When one exists the
// instance enters RetryPrepopulated and its scene, if any, is imported into
// surf with the canonical viewport. Restore problems are logged and skipped.
func (c *Controller) Render(ctx context.Context, surf surface.Surface) (*RenderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, span := c.tracer.Start(ctx, "submission.render", trace.WithAttributes(
		attribute.String("question", c.identity.Key()),
	))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle && c.state != StateRetryPrepopulated {
		return &RenderResult{State: c.state}, nil
	}

	attempt, found, err := c.deps.Attempts.Get(ctx, c.identity)
	if err != nil {
		c.log.WithError(err).Warn("previous attempt unavailable, rendering fresh", nil)
		found = false
	}
	if !found {
		c.setState(StateIdle)
		return &RenderResult{State: StateIdle}, nil
	}

	result := &RenderResult{State: StateRetryPrepopulated, Attempt: attempt}
	if attempt.Scene != nil && surf != nil {
		if err := restoreScene(surf, attempt.Scene); err != nil {
			metrics.SceneRestores.WithLabelValues("failed").Inc()
			span.RecordError(err)
			c.log.WithError(err).Warn("previous drawing not restored, starting fresh", nil)
		} else {
			metrics.SceneRestores.WithLabelValues("restored").Inc()
			result.SceneRestored = true
		}
	}

	span.SetAttributes(attribute.Bool("scene_restored", result.SceneRestored))
	c.setState(StateRetryPrepopulated)
	return result, nil
}

func restoreScene(surf surface.Surface, scene *models.SceneData) error {
	if err := scenecodec.Validate(scene); err != nil {
		return errors.NewRestoreFailedError("cached scene failed validation", err)
	}
	if err := surf.ImportScene(*scene); err != nil {
		return errors.NewRestoreFailedError("cached scene could not be imported", err)
	}
	return nil
}

// prepared is a validated submission ready for upload.
type prepared struct {
	cleaned  string
	payloads []models.ImagePayload
	scene    *models.SceneData
}

// Submit runs extraction, validation, upload, attempt storage and dispatch.
// Upload and dispatch run detached from ctx cancellation so a torn-down caller
// cannot lose the attempt record.
func (c *Controller) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "submission.submit", trace.WithAttributes(
		attribute.String("question", c.identity.Key()),
		attribute.String("interaction_id", c.interactionID),
	))
	defer span.End()

	c.mu.Lock()
	switch c.state {
	case StateUploading:
		c.mu.Unlock()
		c.finish(ctx, span, "in_flight", start)
		return nil, errors.NewSubmissionInFlightError(c.identity.Key())
	case StateDispatched:
		c.mu.Unlock()
		c.finish(ctx, span, "already_dispatched", start)
		return nil, errors.NewAlreadyDispatchedError(c.identity.Key())
	}
	if c.registry != nil {
		if err := c.registry.claim(c); err != nil {
			c.mu.Unlock()
			c.finish(ctx, span, resultFor(err), start)
			return nil, err
		}
	}

	prep, err := c.prepare(ctx, req)
	if err != nil {
		c.settle(false)
		var result string
		switch {
		case errors.CodeOf(err) == errors.ErrCodeNothingToSubmit:
			result = "nothing_to_submit"
		case errors.CodeOf(err) == errors.ErrCodeValidationFailed:
			result = "invalid"
		default:
			result = "extraction_failed"
		}
		c.mu.Unlock()
		span.RecordError(err)
		c.finish(ctx, span, result, start)
		return nil, err
	}

	c.setState(StateUploading)
	c.mu.Unlock()

	metrics.SubmissionsInFlight.Inc()
	res, err := c.deliver(context.WithoutCancel(ctx), req, prep)
	metrics.SubmissionsInFlight.Dec()

	c.mu.Lock()
	if err != nil {
		c.setState(StateIdle)
	} else {
		c.setState(StateDispatched)
		res.State = StateDispatched
	}
	c.settle(err == nil)
	c.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		c.finish(ctx, span, "dispatch_failed", start)
		return nil, err
	}
	c.finish(ctx, span, "dispatched", start)
	return res, nil
}

// settle releases the question claim. Must be called with c.mu held.
func (c *Controller) settle(dispatched bool) {
	if c.registry != nil {
		c.registry.settle(c, dispatched)
	}
}

func resultFor(err error) string {
	if errors.CodeOf(err) == errors.ErrCodeAlreadyDispatched {
		return "already_dispatched"
	}
	return "in_flight"
}

func (c *Controller) finish(ctx context.Context, span trace.Span, result string, start time.Time) {
	span.SetAttributes(attribute.String("result", result))
	if result != "dispatched" {
		span.SetStatus(codes.Error, result)
	}
	metrics.SubmissionsTotal.WithLabelValues(result).Inc()
	if c.deps.Recorder != nil {
		c.deps.Recorder.RecordSubmission(ctx, result, time.Since(start))
	}
}

// prepare extracts and validates under c.mu. On failure the state is Idle,
// or unchanged when there was nothing to submit.
func (c *Controller) prepare(ctx context.Context, req SubmitRequest) (*prepared, error) {
	_, span := c.tracer.Start(ctx, "submission.extract")
	stageStart := time.Now()

	extracted, err := c.deps.Extractor.Extract(req.Document)
	if err != nil {
		span.End()
		c.setState(StateIdle)
		c.log.WithError(err).Warn("answer could not be extracted", nil)
		return nil, err
	}

	surfaceHasDrawing := req.Surface != nil && !req.Surface.IsEmpty()
	if strings.TrimSpace(extracted.Text) == "" && len(extracted.Payloads) == 0 &&
		len(req.DrawnImages) == 0 && !surfaceHasDrawing {
		span.End()
		return nil, errors.NewNothingToSubmitError()
	}

	c.setState(StateExtracting)
	drawn, scene, err := c.drawnPayloads(req, surfaceHasDrawing)
	if err != nil {
		span.End()
		c.setState(StateIdle)
		c.log.WithError(err).Warn("drawing could not be exported", nil)
		return nil, err
	}
	if scene == nil {
		scene = extracted.Scene
	}

	// drawn images first, then embedded images in document order
	payloads := append(drawn, extracted.Payloads...)
	metrics.SubmissionStageDuration.WithLabelValues("extract").Observe(time.Since(stageStart).Seconds())
	span.SetAttributes(attribute.Int("payloads", len(payloads)))
	span.End()

	c.setState(StateValidating)
	verdict := validator.Validate(payloads, c.deps.Limits)
	violations := append(verdict.Violations, extracted.Violations...)
	if len(violations) > 0 {
		c.setState(StateIdle)
		verr := newValidationError(violations)
		if c.view != nil {
			c.view.ShowViolations(verr.Messages())
		}
		c.log.Info("submission blocked by validation", map[string]interface{}{
			"violations": verr.Messages(),
		})
		return nil, verr
	}

	return &prepared{cleaned: extracted.CleanedDocument, payloads: payloads, scene: scene}, nil
}

func (c *Controller) drawnPayloads(req SubmitRequest, fromSurface bool) ([]models.ImagePayload, *models.SceneData, error) {
	var (
		out   []models.ImagePayload
		scene *models.SceneData
	)

	if fromSurface {
		raster, err := req.Surface.ExportRaster()
		if err != nil {
			return nil, nil, err
		}
		exported, err := req.Surface.ExportScene()
		if err != nil {
			return nil, nil, err
		}
		scene = &exported
		out = append(out, models.ImagePayload{
			Data:     raster,
			MimeType: "image/png",
			Origin:   models.OriginDrawn,
			Label:    models.CanvasDrawingLabel,
			Scene:    scene,
		})
	}

	for i, img := range req.DrawnImages {
		img.Origin = models.OriginDrawn
		if img.Label == "" {
			img.Label = models.CanvasDrawingLabel
			if len(req.DrawnImages)+len(out) > 1 {
				img.Label = fmt.Sprintf("%s %d", models.CanvasDrawingLabel, len(out)+i+1)
			}
		}
		if scene == nil && img.Scene != nil {
			scene = img.Scene
		}
		out = append(out, img)
	}
	return out, scene, nil
}

// deliver uploads, stores the attempt and dispatches. The attempt is always
// written before dispatch.
func (c *Controller) deliver(ctx context.Context, req SubmitRequest, prep *prepared) (*SubmitResult, error) {
	uploadCtx, span := c.tracer.Start(ctx, "submission.upload")
	outcome := c.deps.Uploader.Upload(uploadCtx, prep.payloads, c.identity)
	span.SetAttributes(
		attribute.String("outcome", string(outcome.Kind)),
		attribute.String("reason", outcome.Reason),
	)
	span.End()

	now := time.Now
	if c.deps.Now != nil {
		now = c.deps.Now
	}
	attempt := models.Attempt{
		Identity:         c.identity,
		InteractionID:    c.interactionID,
		CleanedResponse:  prep.cleaned,
		OriginalResponse: req.Document,
		DrawingText:      req.DrawingText,
		Scene:            prep.scene,
		SubmittedAt:      now().UTC(),
	}
	switch outcome.Kind {
	case models.OutcomeStored:
		attempt.FileIDs = outcome.FileIDs
	case models.OutcomeInline:
		attempt.InlineImages = models.InlineImages(prep.payloads)
	}

	storeCtx, storeSpan := c.tracer.Start(ctx, "submission.store_attempt")
	if err := c.deps.Attempts.Store(storeCtx, c.identity, attempt); err != nil {
		storeSpan.RecordError(err)
		c.log.WithError(err).Error("attempt not stored, dispatching anyway", nil)
	}
	storeSpan.End()

	cmd, err := models.NewSubmitCommand(&attempt)
	if err != nil {
		return nil, errors.NewDispatchFailedError("encode", err)
	}

	timeout := c.deps.DispatchTimeout
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	dispatchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	dispatchCtx, dispatchSpan := c.tracer.Start(dispatchCtx, "submission.dispatch")
	defer dispatchSpan.End()

	dispatchStart := time.Now()
	err = c.deps.Dispatcher.Dispatch(dispatchCtx, c.identity, cmd)
	metrics.SubmissionStageDuration.WithLabelValues("dispatch").Observe(time.Since(dispatchStart).Seconds())
	if err != nil {
		dispatchSpan.RecordError(err)
		c.log.WithError(err).Error("submission dispatch failed", nil)
		if _, ok := errors.AsStandardError(err); !ok {
			err = errors.NewDispatchFailedError("unknown", err)
		}
		return nil, err
	}

	c.log.Info("submission dispatched", map[string]interface{}{
		"outcome": string(outcome.Kind),
		"reason":  outcome.Reason,
		"images":  len(prep.payloads),
	})
	return &SubmitResult{Outcome: outcome, Attempt: attempt, Command: cmd}, nil
}
