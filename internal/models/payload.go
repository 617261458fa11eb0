// internal/models/payload.go
package models

import "fmt"

// Origin tags where an image payload came from.
type Origin string

const (
	OriginDrawn    Origin = "drawn"
	OriginEmbedded Origin = "embedded-in-text"
)

// CanvasDrawingLabel names the directly drawn image in messages shown to students.
const CanvasDrawingLabel = "Canvas drawing"

// ImagePayload is one encoded image headed for validation and upload.
type ImagePayload struct {
	Data     []byte
	MimeType string
	Origin   Origin
	// Label is the name the student sees for this image, e.g. "Drawing 2".
	Label string
	// Scene is set only for the first embedded image that carried a scene annotation,
	// or for the drawn canvas image.
	Scene *SceneData
}

// Size returns the decoded byte size.
func (p ImagePayload) Size() int64 {
	return int64(len(p.Data))
}

// DisplayName returns Label, falling back to a positional name.
func (p ImagePayload) DisplayName(index int) string {
	if p.Label != "" {
		return p.Label
	}
	return fmt.Sprintf("Image %d", index+1)
}

// TotalSize sums the decoded sizes of a batch.
func TotalSize(payloads []ImagePayload) int64 {
	var total int64
	for _, p := range payloads {
		total += p.Size()
	}
	return total
}

// Violation is one failed validation rule.
type Violation struct {
	Rule    string `json:"rule"`
	Label   string `json:"label,omitempty"`
	Message string `json:"message"`
}

// ValidationResult is an all-or-nothing verdict over a payload batch.
type ValidationResult struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

// Messages returns the human-readable violation messages in rule order.
func (r ValidationResult) Messages() []string {
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, v.Message)
	}
	return out
}
