// internal/pipeline/uploader/uploader.go
package uploader

import (
	"context"
	stderrors "errors"
	"time"

	"diagram-submissions/internal/common/errors"
	"diagram-submissions/internal/common/logger"
	"diagram-submissions/internal/common/metrics"
	"diagram-submissions/internal/models"
)

const DefaultTimeout = 20 * time.Second

// BatchUploader stores images and returns one reference per image, in order.
// Errors are StandardErrors with UPLOAD_FAILED or STORAGE_UNAVAILABLE.
type BatchUploader interface {
	UploadBatch(ctx context.Context, sessionID, questionID string, images [][]byte) ([]string, error)
}

// Uploader turns validated payloads into storage references, falling back to
// inline embedding whenever storage cannot take the whole batch.
type Uploader struct {
	backend BatchUploader
	timeout time.Duration
	log     logger.Logger
}

// New returns an uploader. A nil backend means storage is not configured and
// every upload falls back to inline.
func New(backend BatchUploader, timeout time.Duration, log logger.Logger) *Uploader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Uploader{backend: backend, timeout: timeout, log: log.Named("uploader")}
}

// Upload never fails; problems are reported through the outcome's fallback reason.
func (u *Uploader) Upload(ctx context.Context, payloads []models.ImagePayload, identity models.QuestionIdentity) models.UploadOutcome {
	outcome := u.upload(ctx, payloads, identity)
	metrics.UploadOutcomes.WithLabelValues(string(outcome.Kind), outcome.Reason).Inc()
	return outcome
}

func (u *Uploader) upload(ctx context.Context, payloads []models.ImagePayload, identity models.QuestionIdentity) models.UploadOutcome {
	if len(payloads) == 0 {
		return models.NoUpload()
	}

	fields := map[string]interface{}{
		"question": identity.Key(),
		"images":   len(payloads),
	}

	if !identity.Complete() {
		u.log.Warn("question identity incomplete, embedding drawings inline", fields)
		return models.Inline(models.FallbackIncompleteIdentity)
	}
	if u.backend == nil {
		u.log.Warn("no storage backend configured, embedding drawings inline", fields)
		return models.Inline(models.FallbackStorageUnavailable)
	}

	images := make([][]byte, len(payloads))
	for i, p := range payloads {
		images[i] = p.Data
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	start := time.Now()
	ids, err := u.backend.UploadBatch(ctx, identity.SessionID, identity.QuestionID, images)
	metrics.SubmissionStageDuration.WithLabelValues("upload").Observe(time.Since(start).Seconds())

	if err != nil {
		reason := classify(err)
		u.log.WithError(err).Warn("drawing upload failed, embedding drawings inline", mergeFields(fields, map[string]interface{}{
			"reason": reason,
		}))
		return models.Inline(reason)
	}
	if len(ids) != len(payloads) {
		u.log.Error("storage returned wrong number of references, embedding drawings inline", mergeFields(fields, map[string]interface{}{
			"references": len(ids),
		}))
		return models.Inline(models.FallbackUploadFailed)
	}

	metrics.UploadedBytes.Add(float64(models.TotalSize(payloads)))
	u.log.Info("drawings uploaded", mergeFields(fields, map[string]interface{}{
		"fileIds": ids,
	}))
	return models.Stored(ids)
}

func classify(err error) string {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return models.FallbackStorageUnavailable
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeStorageUnavailable, errors.ErrCodeTimeout, errors.ErrCodeExternalService:
		return models.FallbackStorageUnavailable
	default:
		return models.FallbackUploadFailed
	}
}

func mergeFields(base, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
