// internal/models/attempt.go
package models

import (
	"fmt"
	"time"
)

// QuestionIdentity correlates everything in the pipeline: caching, uploads and restores.
type QuestionIdentity struct {
	SessionID  string `json:"sessionId"`
	QuestionID string `json:"questionId"`
}

// Key returns the cache key for the identity.
func (q QuestionIdentity) Key() string {
	return fmt.Sprintf("%s:%s", q.SessionID, q.QuestionID)
}

// Complete reports whether both halves of the identity are present.
func (q QuestionIdentity) Complete() bool {
	return q.SessionID != "" && q.QuestionID != ""
}

// Attempt is the last submission for a question identity.
// Each submission overwrites the previous one; nothing is merged.
type Attempt struct {
	Identity         QuestionIdentity `json:"identity"`
	InteractionID    string           `json:"interactionId"`
	CleanedResponse  string           `json:"cleanedResponse"`
	OriginalResponse string           `json:"originalResponse,omitempty"`
	FileIDs          []string         `json:"fileIds,omitempty"`
	InlineImages     []string         `json:"inlineImages,omitempty"`
	DrawingText      string           `json:"drawingText,omitempty"`
	Scene            *SceneData       `json:"scene,omitempty"`
	SubmittedAt      time.Time        `json:"submittedAt"`
}

// HasDrawings reports whether the attempt carried any image.
func (a *Attempt) HasDrawings() bool {
	return len(a.FileIDs) > 0 || len(a.InlineImages) > 0
}

// EditorResponse is the answer as the student left it, embedded images
// included. Attempts written before the original was kept fall back to the
// cleaned text.
func (a *Attempt) EditorResponse() string {
	if a.OriginalResponse != "" {
		return a.OriginalResponse
	}
	return a.CleanedResponse
}

// InlineDrawings returns the base64 drawings kept on the attempt when storage
// was bypassed. Stored attempts resolve their drawings through file ids.
func (a *Attempt) InlineDrawings() []string {
	if len(a.FileIDs) > 0 {
		return nil
	}
	return a.InlineImages
}
