// internal/pipeline/validator/validator.go
package validator

import (
	"fmt"
	"strconv"

	"diagram-submissions/internal/common/config"
	"diagram-submissions/internal/common/errors"
	"diagram-submissions/internal/common/metrics"
	"diagram-submissions/internal/models"
)

const (
	kb = 1024
	mb = 1024 * kb
)

// Limits bounds a submission's images. Sizes are in bytes.
type Limits struct {
	MaxImages    int
	MaxImageSize int64
	MaxTotalSize int64
}

// DefaultLimits allows 5 images of at most 800 KB each and 3 MB in total.
func DefaultLimits() Limits {
	return Limits{MaxImages: 5, MaxImageSize: 800 * kb, MaxTotalSize: 3 * mb}
}

// LimitsFromConfig converts configured KB values, keeping defaults for unset fields.
func LimitsFromConfig(cfg config.LimitsConfig) Limits {
	l := DefaultLimits()
	if cfg.MaxImages > 0 {
		l.MaxImages = cfg.MaxImages
	}
	if cfg.MaxImageKB > 0 {
		l.MaxImageSize = int64(cfg.MaxImageKB) * kb
	}
	if cfg.MaxTotalKB > 0 {
		l.MaxTotalSize = int64(cfg.MaxTotalKB) * kb
	}
	return l
}

// Validate checks every rule independently so the student sees all problems at once.
func Validate(payloads []models.ImagePayload, limits Limits) models.ValidationResult {
	var violations []models.Violation

	for i, p := range payloads {
		if p.Size() > limits.MaxImageSize {
			label := p.DisplayName(i)
			violations = append(violations, models.Violation{
				Rule:  string(errors.ErrCodeImageTooLarge),
				Label: label,
				Message: fmt.Sprintf("%s is too large (%s). Maximum size per image is %s.",
					label, FormatSize(p.Size()), FormatSize(limits.MaxImageSize)),
			})
		}
	}

	if len(payloads) > limits.MaxImages {
		violations = append(violations, models.Violation{
			Rule:    string(errors.ErrCodeTooManyImages),
			Message: fmt.Sprintf("Too many images (%d). Maximum is %d.", len(payloads), limits.MaxImages),
		})
	}

	if total := models.TotalSize(payloads); total > limits.MaxTotalSize {
		violations = append(violations, models.Violation{
			Rule: string(errors.ErrCodeAggregateTooLarge),
			Message: fmt.Sprintf("Total image size (%s) exceeds the %s limit.",
				FormatSize(total), FormatSize(limits.MaxTotalSize)),
		})
	}

	for _, v := range violations {
		metrics.ValidationViolations.WithLabelValues(v.Rule).Inc()
	}

	return models.ValidationResult{Valid: len(violations) == 0, Violations: violations}
}

// FormatSize renders bytes as B, KB or MB with at most one decimal.
func FormatSize(n int64) string {
	switch {
	case n >= mb:
		return tenths(n, mb) + " MB"
	case n >= kb:
		return tenths(n, kb) + " KB"
	default:
		return strconv.FormatInt(n, 10) + " B"
	}
}

// tenths rounds n/unit up to one decimal so a size over a limit never prints
// as the limit itself.
func tenths(n, unit int64) string {
	t := (n*10 + unit - 1) / unit
	if t%10 == 0 {
		return strconv.FormatInt(t/10, 10)
	}
	return fmt.Sprintf("%d.%d", t/10, t%10)
}
