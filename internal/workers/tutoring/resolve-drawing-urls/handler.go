// internal/workers/tutoring/resolve-drawing-urls/handler.go
package resolvedrawingurls

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
)

const TaskType = "resolve-drawing-urls"

var (
	ErrInvalidInput  = stderrors.New("INVALID_INPUT")
	ErrTooManyFiles  = stderrors.New("TOO_MANY_FILES")
	ErrNoFileService = stderrors.New("FILE_SERVICE_NOT_CONFIGURED")
)

var schema = validation.MustCompile(inputSchema)

// URLResolver is satisfied by *files.Service.
type URLResolver interface {
	ResolveURLs(ctx context.Context, fileIDs []string) ([]string, error)
}

type Handler struct {
	config       *Config
	files        URLResolver
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(cfg *Config, files URLResolver, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       cfg,
		files:        files,
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

// Execute returns one URL per id, in input order.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil {
		return nil, fmt.Errorf("%w: input cannot be nil", ErrInvalidInput)
	}
	if !h.config.Enabled || len(input.DrawingFileIDs) == 0 {
		return &Output{DrawingURLs: []string{}}, nil
	}
	if h.config.MaxFiles > 0 && len(input.DrawingFileIDs) > h.config.MaxFiles {
		return nil, fmt.Errorf("%w: %d ids, limit %d", ErrTooManyFiles, len(input.DrawingFileIDs), h.config.MaxFiles)
	}
	if h.files == nil {
		return nil, ErrNoFileService
	}

	urls, err := h.files.ResolveURLs(ctx, input.DrawingFileIDs)
	if err != nil {
		return nil, err
	}
	return &Output{DrawingURLs: urls}, nil
}

func toStandardError(err error) *errors.StandardError {
	if stdErr, ok := errors.AsStandardError(err); ok {
		return stdErr
	}
	switch {
	case stderrors.Is(err, ErrInvalidInput), stderrors.Is(err, ErrTooManyFiles):
		return errors.NewBusinessRuleError("Invalid resolve-drawing-urls input", err.Error())
	case stderrors.Is(err, ErrNoFileService):
		return errors.NewStorageUnavailableError("files", err)
	default:
		return errors.NewExternalServiceError("files", err)
	}
}
