// internal/api/handlers.go
package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"diagram-submissions/internal/common/errors"
	"diagram-submissions/internal/common/logger"
	"diagram-submissions/internal/drawing/scenecodec"
	"diagram-submissions/internal/drawing/surface"
	"diagram-submissions/internal/models"
	"diagram-submissions/internal/pipeline/controller"
	"diagram-submissions/pkg/registry"
)

// FileResolver turns stored drawing ids into preview URLs.
type FileResolver interface {
	ResolveURL(ctx context.Context, fileID string) (string, error)
	ResolveURLs(ctx context.Context, fileIDs []string) ([]string, error)
}

// HealthCheck is one named readiness probe.
type HealthCheck func(ctx context.Context) error

type API struct {
	controllers *controller.Registry
	files       FileResolver
	templates   *registry.TemplateRegistry
	encoder     scenecodec.RasterEncoder
	checks      map[string]HealthCheck
	log         logger.Logger
}

// NewAPI wires the handlers. files may be nil when no storage is configured.
func NewAPI(
	controllers *controller.Registry,
	files FileResolver,
	templates *registry.TemplateRegistry,
	encoder scenecodec.RasterEncoder,
	checks map[string]HealthCheck,
	log logger.Logger,
) *API {
	if templates == nil {
		templates = registry.Default()
	}
	if encoder == nil {
		encoder = surface.NewPNGEncoder()
	}
	return &API{
		controllers: controllers,
		files:       files,
		templates:   templates,
		encoder:     encoder,
		checks:      checks,
		log:         log.Named("api"),
	}
}

// ==========================
// Request / Response Types
// ==========================

type SubmitBody struct {
	InteractionID string            `json:"interactionId"`
	Response      string            `json:"response"`
	Scene         *models.SceneData `json:"scene,omitempty"`
	// Drawings are client-rendered canvas images, standard base64.
	Drawings    []string `json:"drawings,omitempty"`
	DrawingText string   `json:"drawingText,omitempty"`
}

type SubmitResponse struct {
	State         controller.State     `json:"state"`
	InteractionID string               `json:"interactionId"`
	Outcome       models.OutcomeKind   `json:"outcome"`
	Reason        string               `json:"reason,omitempty"`
	FileIDs       []string             `json:"fileIds,omitempty"`
	Command       models.SubmitCommand `json:"command"`
}

type RenderResponse struct {
	State            controller.State  `json:"state"`
	InteractionID    string            `json:"interactionId"`
	PreviousResponse string            `json:"previousResponse,omitempty"`
	DrawingText      string            `json:"drawingText,omitempty"`
	DrawingFileIDs   []string          `json:"drawingFileIds,omitempty"`
	DrawingURLs      []string          `json:"drawingUrls,omitempty"`
	Scene            *models.SceneData `json:"scene,omitempty"`
	SceneRestored    bool              `json:"sceneRestored"`

	// OriginalResponse is the previous answer with its embedded images.
	// InlineDrawings are the previous drawings when they never reached storage.
	OriginalResponse string   `json:"originalResponse,omitempty"`
	InlineDrawings   []string `json:"inlineDrawings,omitempty"`
}

type TemplateSummary struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Elements    int      `json:"elements"`
}

type errorBody struct {
	Code       errors.ErrorCode `json:"code"`
	Message    string           `json:"message"`
	Details    string           `json:"details,omitempty"`
	Violations []string         `json:"violations,omitempty"`
}

// ==========================
// Handlers
// ==========================

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(a.checks))
	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	c.JSON(status, gin.H{"checks": results})
}

// RenderQuestion returns retry prepopulation for a question, including the
// restored scene in its canonical viewport.
func (a *API) RenderQuestion(c *gin.Context) {
	identity := models.QuestionIdentity{SessionID: c.Param("sessionId"), QuestionID: c.Param("cardId")}
	ctrl := a.controllers.Instance(identity, c.Query("interactionId"))

	board := surface.NewBoard(a.encoder, a.templates)
	res, err := ctrl.Render(c.Request.Context(), board)
	if err != nil {
		a.writeError(c, err)
		return
	}

	out := RenderResponse{
		State:         res.State,
		InteractionID: ctrl.InteractionID(),
		SceneRestored: res.SceneRestored,
	}
	if res.Attempt != nil {
		out.PreviousResponse = res.Attempt.CleanedResponse
		out.OriginalResponse = res.Attempt.EditorResponse()
		out.InlineDrawings = res.Attempt.InlineDrawings()
		out.DrawingText = res.Attempt.DrawingText
		out.DrawingFileIDs = res.Attempt.FileIDs
		if a.files != nil && len(res.Attempt.FileIDs) > 0 {
			urls, err := a.files.ResolveURLs(c.Request.Context(), res.Attempt.FileIDs)
			if err != nil {
				a.log.WithError(err).Warn("drawing previews unavailable", map[string]interface{}{
					"question": identity.Key(),
				})
			} else {
				out.DrawingURLs = urls
			}
		}
	}
	if res.SceneRestored {
		if scene, err := board.ExportScene(); err == nil {
			out.Scene = &scene
		}
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) Submit(c *gin.Context) {
	identity := models.QuestionIdentity{SessionID: c.Param("sessionId"), QuestionID: c.Param("cardId")}

	var body SubmitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{
			Code:    errors.ErrCodeBusinessRule,
			Message: "Invalid request payload",
			Details: err.Error(),
		}})
		return
	}

	req := controller.SubmitRequest{Document: body.Response, DrawingText: body.DrawingText}
	if body.Scene != nil {
		board, err := a.boardFromScene(body.Scene)
		if err != nil {
			a.writeError(c, err)
			return
		}
		req.Surface = board
	}
	for _, encoded := range body.Drawings {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			a.writeError(c, errors.NewExtractionFailedError("drawing is not valid base64", err))
			return
		}
		req.DrawnImages = append(req.DrawnImages, models.ImagePayload{Data: data, MimeType: "image/png"})
	}

	ctrl := a.controllers.Instance(identity, body.InteractionID)
	res, err := ctrl.Submit(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, SubmitResponse{
		State:         res.State,
		InteractionID: ctrl.InteractionID(),
		Outcome:       res.Outcome.Kind,
		Reason:        res.Outcome.Reason,
		FileIDs:       res.Outcome.FileIDs,
		Command:       res.Command,
	})
}

func (a *API) boardFromScene(scene *models.SceneData) (*surface.Board, error) {
	if err := scenecodec.Validate(scene); err != nil {
		return nil, err
	}
	board := surface.NewBoard(a.encoder, a.templates)
	if err := board.ImportScene(*scene); err != nil {
		return nil, err
	}
	return board, nil
}

func (a *API) FileURL(c *gin.Context) {
	if a.files == nil {
		a.writeError(c, errors.NewStorageUnavailableError("files", nil))
		return
	}
	url, err := a.files.ResolveURL(c.Request.Context(), c.Param("fileId"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (a *API) ListTemplates(c *gin.Context) {
	out := make([]TemplateSummary, 0, len(a.templates.Templates))
	for _, t := range a.templates.Templates {
		out = append(out, TemplateSummary{
			ID:          t.ID,
			DisplayName: t.DisplayName,
			Description: t.Description,
			Category:    t.Category,
			Tags:        t.Tags,
			Elements:    len(t.Elements),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	c.JSON(http.StatusOK, gin.H{"version": a.templates.Version, "templates": out})
}

// ==========================
// Error Mapping
// ==========================

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeNothingToSubmit, errors.ErrCodeBusinessRule:
		return http.StatusBadRequest
	case errors.ErrCodeValidationFailed, errors.ErrCodeExtractionFailed, errors.ErrCodeExportFailed,
		errors.ErrCodeEmptyScene, errors.ErrCodeInvalidScene:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeSubmissionInFlight, errors.ErrCodeAlreadyDispatched:
		return http.StatusConflict
	case errors.ErrCodeDispatchFailed:
		return http.StatusBadGateway
	case errors.ErrCodeFileNotFound, errors.ErrCodeTemplateNotFound:
		return http.StatusNotFound
	case errors.ErrCodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(c *gin.Context, err error) {
	body := errorBody{Code: errors.ErrCodeInternal, Message: "Internal error"}
	if stdErr, ok := errors.AsStandardError(err); ok {
		body.Code = stdErr.Code
		body.Message = stdErr.Message
		body.Details = stdErr.Details
		if violations, ok := stdErr.Metadata["violations"].([]string); ok {
			body.Violations = violations
		}
	}

	status := statusFor(body.Code)
	if status >= 500 {
		a.log.WithError(err).Error("request failed", map[string]interface{}{"code": string(body.Code)})
	}
	c.JSON(status, gin.H{"error": body})
}
