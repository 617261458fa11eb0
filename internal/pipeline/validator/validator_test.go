// internal/pipeline/validator/validator_test.go
package validator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagram-submissions/internal/common/config"
	"diagram-submissions/internal/common/errors"
	"diagram-submissions/internal/models"
)

func payloadsOfKB(sizes ...int) []models.ImagePayload {
	out := make([]models.ImagePayload, len(sizes))
	for i, s := range sizes {
		out[i] = models.ImagePayload{
			Data:   make([]byte, s*1024),
			Origin: models.OriginEmbedded,
			Label:  fmt.Sprintf("Drawing %d", i+1),
		}
	}
	return out
}

func rules(res models.ValidationResult) []string {
	out := make([]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		out = append(out, v.Rule)
	}
	return out
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		payloads []models.ImagePayload
		rules    []string
		messages []string
	}{
		{name: "no payloads", payloads: nil},
		{name: "within every limit", payloads: payloadsOfKB(800, 800, 800)},
		{
			name:     "one oversize image",
			payloads: payloadsOfKB(100, 900),
			rules:    []string{string(errors.ErrCodeImageTooLarge)},
			messages: []string{"Drawing 2 is too large (900 KB). Maximum size per image is 800 KB."},
		},
		{
			name:     "six small images",
			payloads: payloadsOfKB(10, 10, 10, 10, 10, 10),
			rules:    []string{string(errors.ErrCodeTooManyImages)},
			messages: []string{"Too many images (6). Maximum is 5."},
		},
		{
			name:     "aggregate exceeded",
			payloads: payloadsOfKB(700, 700, 700, 700, 800),
			rules:    []string{string(errors.ErrCodeAggregateTooLarge)},
			messages: []string{"Total image size (3.5 MB) exceeds the 3 MB limit."},
		},
		{
			name:     "every rule at once",
			payloads: payloadsOfKB(900, 900, 900, 900, 100, 100),
			rules: []string{
				string(errors.ErrCodeImageTooLarge),
				string(errors.ErrCodeImageTooLarge),
				string(errors.ErrCodeImageTooLarge),
				string(errors.ErrCodeImageTooLarge),
				string(errors.ErrCodeTooManyImages),
				string(errors.ErrCodeAggregateTooLarge),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.payloads, DefaultLimits())

			assert.Equal(t, len(tt.rules) == 0, res.Valid)
			if len(tt.rules) == 0 {
				assert.Empty(t, res.Violations)
				return
			}
			assert.Equal(t, tt.rules, rules(res))
			if tt.messages != nil {
				assert.Equal(t, tt.messages, res.Messages())
			}
		})
	}
}

func TestValidate_CanvasLabel(t *testing.T) {
	payloads := []models.ImagePayload{{Data: make([]byte, 801*1024), Origin: models.OriginDrawn, Label: models.CanvasDrawingLabel}}

	res := Validate(payloads, DefaultLimits())
	require.False(t, res.Valid)
	assert.Equal(t, "Canvas drawing is too large (801 KB). Maximum size per image is 800 KB.", res.Violations[0].Message)
}

func TestValidate_SizeJustOverLimit(t *testing.T) {
	payloads := []models.ImagePayload{{Data: make([]byte, 800*1024+20), Origin: models.OriginDrawn, Label: models.CanvasDrawingLabel}}

	res := Validate(payloads, DefaultLimits())
	require.False(t, res.Valid)
	assert.Equal(t, "Canvas drawing is too large (800.1 KB). Maximum size per image is 800 KB.", res.Violations[0].Message)
}

func TestLimitsFromConfig(t *testing.T) {
	assert.Equal(t, DefaultLimits(), LimitsFromConfig(config.LimitsConfig{}))
	assert.Equal(t,
		Limits{MaxImages: 2, MaxImageSize: 100 * 1024, MaxTotalSize: 3 * 1024 * 1024},
		LimitsFromConfig(config.LimitsConfig{MaxImages: 2, MaxImageKB: 100}),
	)
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{in: 512, want: "512 B"},
		{in: 1024, want: "1 KB"},
		{in: 1536, want: "1.5 KB"},
		{in: 900 * 1024, want: "900 KB"},
		{in: 3 * 1024 * 1024, want: "3 MB"},
		{in: 3584 * 1024, want: "3.5 MB"},
		{in: 800*1024 + 20, want: "800.1 KB"},
		{in: 3*1024*1024 + 1, want: "3.1 MB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatSize(tt.in))
		})
	}
}
