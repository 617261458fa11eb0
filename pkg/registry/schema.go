// pkg/registry/schema.go
package registry

import "diagram-submissions/internal/models"

type TemplateRegistry struct {
	Version     string     `json:"version"`
	LastUpdated string     `json:"lastUpdated"`
	Templates   []Template `json:"templates"`
}

// Template is a reusable group of shapes a student can drop onto the board.
// Element coordinates are relative to the template origin.
type Template struct {
	ID          string                `json:"id"`
	DisplayName string                `json:"displayName"`
	Description string                `json:"description"`
	Category    string                `json:"category"`
	Tags        []string              `json:"tags"`
	Elements    []models.SceneElement `json:"elements"`
}
