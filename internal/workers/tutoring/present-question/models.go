// internal/workers/tutoring/present-question/models.go
package presentquestion

type Input struct {
	SessionID string `json:"sessionId"`
	CardID    string `json:"cardId"`
}

// Output is merged into the process variables before the question interrupt.
type Output struct {
	HasPreviousAttempt     bool     `json:"hasPreviousAttempt"`
	PreviousResponse       string   `json:"previousResponse"`
	PreviousDrawingFileIDs []string `json:"previousDrawingFileIds"`
	PreviousDrawingText    string   `json:"previousDrawingText"`
	PreviousInteractionID  string   `json:"previousInteractionId,omitempty"`
	PreviousSubmittedAt    string   `json:"previousSubmittedAt,omitempty"`
	HasEditableDrawing     bool     `json:"hasEditableDrawing"`

	// PreviousOriginalResponse keeps the embedded images that PreviousResponse
	// replaced with placeholders.
	PreviousOriginalResponse string   `json:"previousOriginalResponse"`
	PreviousInlineDrawings   []string `json:"previousInlineDrawings,omitempty"`
}

const inputSchema = `{
	"type": "object",
	"required": ["sessionId", "cardId"],
	"properties": {
		"sessionId": {"type": "string", "minLength": 1},
		"cardId": {"type": "string", "minLength": 1}
	}
}`
