// internal/models/command.go
package models

import (
	"encoding/base64"
	"encoding/json"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

const (
	ActionSubmitAnswer         = "submit_answer"
	InteractionAnswerSubmitted = "answer_submission"
)

// SubmitCommand is the outward payload consumed by the chat orchestrator.
// Nullable fields are pointers so they marshal as JSON null.
type SubmitCommand struct {
	Action                string   `json:"action"`
	StudentResponse       string   `json:"student_response"`
	StudentDrawingFileIDs []string `json:"student_drawing_file_ids"`
	StudentDrawing        *string  `json:"student_drawing"`
	StudentDrawingText    *string  `json:"student_drawing_text"`
	InteractionType       string   `json:"interaction_type"`
	CardID                string   `json:"card_id"`
	InteractionID         string   `json:"interaction_id"`
	Timestamp             string   `json:"timestamp"`
}

// EncodeInline encodes the legacy inline drawing field: one image becomes its
// base64 string, several become the JSON text of an array of base64 strings.
func EncodeInline(images []string) (*string, error) {
	switch len(images) {
	case 0:
		return nil, nil
	case 1:
		s := images[0]
		return &s, nil
	}
	raw, err := json.Marshal(images)
	if err != nil {
		return nil, err
	}
	s := string(raw)
	return &s, nil
}

// InlineImages base64-encodes payload buffers in order.
func InlineImages(payloads []ImagePayload) []string {
	out := make([]string, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, base64.StdEncoding.EncodeToString(p.Data))
	}
	return out
}

// NewSubmitCommand collapses an attempt into the documented outward shape.
// File ids and the inline drawing are mutually exclusive.
func NewSubmitCommand(attempt *Attempt) (SubmitCommand, error) {
	cmd := SubmitCommand{
		Action:          ActionSubmitAnswer,
		StudentResponse: attempt.CleanedResponse,
		InteractionType: InteractionAnswerSubmitted,
		CardID:          attempt.Identity.QuestionID,
		InteractionID:   attempt.InteractionID,
		Timestamp:       attempt.SubmittedAt.UTC().Format(TimestampLayout),
	}

	switch {
	case len(attempt.FileIDs) > 0:
		cmd.StudentDrawingFileIDs = append([]string(nil), attempt.FileIDs...)
	case len(attempt.InlineImages) > 0:
		drawing, err := EncodeInline(attempt.InlineImages)
		if err != nil {
			return SubmitCommand{}, err
		}
		cmd.StudentDrawing = drawing
	}

	if attempt.DrawingText != "" {
		text := attempt.DrawingText
		cmd.StudentDrawingText = &text
	}
	return cmd, nil
}
