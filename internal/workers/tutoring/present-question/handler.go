// internal/workers/tutoring/present-question/handler.go
package presentquestion

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"diagram-submissions/internal/common/errors"
	"diagram-submissions/internal/common/logger"
	"diagram-submissions/internal/common/metrics"
	"diagram-submissions/internal/common/validation"
	"diagram-submissions/internal/models"
	"diagram-submissions/internal/pipeline/attempts"
)

const TaskType = "present-question"

var ErrInvalidInput = stderrors.New("INVALID_INPUT")

var schema = validation.MustCompile(inputSchema)

type Handler struct {
	config       *Config
	store        attempts.Store
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(cfg *Config, store attempts.Store, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       cfg,
		store:        store,
		errorHandler: errors.NewErrorHandler(log),
		logger:       log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := parseInput(job)
	if err == nil {
		var output *Output
		output, err = h.Execute(ctx, input)
		if err == nil {
			h.errorHandler.CompleteJob(ctx, client, job, output)
			metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
			return
		}
	}

	stdErr := toStandardError(err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, stdErr)
}

func parseInput(job entities.Job) (*Input, error) {
	raw := []byte(job.GetVariables())
	if result := schema.ValidateBytes(raw); !result.Valid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(result.GetErrorMessages(), "; "))
	}

	var input Input
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return &input, nil
}

// Execute looks up the last attempt for the question. A missing or unreadable
// attempt presents the question fresh.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil {
		return nil, fmt.Errorf("%w: input cannot be nil", ErrInvalidInput)
	}
	if !h.config.Enabled {
		return &Output{}, nil
	}

	identity := models.QuestionIdentity{SessionID: input.SessionID, QuestionID: input.CardID}
	attempt, found, err := h.store.Get(ctx, identity)
	if err != nil {
		if stderrors.Is(err, attempts.ErrCorruptAttempt) {
			h.logger.WithError(err).Warn("previous attempt unreadable, presenting fresh", map[string]interface{}{
				"question": identity.Key(),
			})
			return &Output{}, nil
		}
		return nil, err
	}
	if !found {
		return &Output{}, nil
	}

	out := &Output{
		HasPreviousAttempt:       true,
		PreviousResponse:         attempt.CleanedResponse,
		PreviousDrawingFileIDs:   attempt.FileIDs,
		PreviousDrawingText:      attempt.DrawingText,
		PreviousInteractionID:    attempt.InteractionID,
		HasEditableDrawing:       attempt.Scene != nil && len(attempt.Scene.LiveElements()) > 0,
		PreviousOriginalResponse: attempt.EditorResponse(),
		PreviousInlineDrawings:   attempt.InlineDrawings(),
	}
	if !attempt.SubmittedAt.IsZero() {
		out.PreviousSubmittedAt = attempt.SubmittedAt.UTC().Format(models.TimestampLayout)
	}
	return out, nil
}

func toStandardError(err error) *errors.StandardError {
	if stdErr, ok := errors.AsStandardError(err); ok {
		return stdErr
	}
	if stderrors.Is(err, ErrInvalidInput) {
		return errors.NewBusinessRuleError("Invalid present-question input", err.Error())
	}
	return errors.NewExternalServiceError("attempts", err)
}
