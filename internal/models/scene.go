// internal/models/scene.go
package models

// SceneType and SceneVersion identify the scene JSON produced by this service.
const (
	SceneType    = "diagram/scene"
	SceneVersion = 2
)

// Element types understood by the drawing board and rasterizer.
const (
	ElementRectangle = "rectangle"
	ElementEllipse   = "ellipse"
	ElementDiamond   = "diamond"
	ElementLine      = "line"
	ElementArrow     = "arrow"
	ElementFreedraw  = "freedraw"
	ElementText      = "text"
	ElementImage     = "image"
)

// KnownElementTypes lists every element type accepted on import.
var KnownElementTypes = map[string]bool{
	ElementRectangle: true,
	ElementEllipse:   true,
	ElementDiamond:   true,
	ElementLine:      true,
	ElementArrow:     true,
	ElementFreedraw:  true,
	ElementText:      true,
	ElementImage:     true,
}

// SceneData is a transportable snapshot of a vector drawing.
// It deliberately has no zoom or scroll fields.
type SceneData struct {
	Type     string               `json:"type"`
	Version  int                  `json:"version"`
	Elements []SceneElement       `json:"elements"`
	Files    map[string]SceneFile `json:"files"`
	AppState AppState             `json:"appState"`
}

// Point is a vertex relative to the element origin.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SceneElement is one shape record.
type SceneElement struct {
	ID              string  `json:"id"`
	Type            string  `json:"type"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Width           float64 `json:"width"`
	Height          float64 `json:"height"`
	Angle           float64 `json:"angle,omitempty"`
	StrokeColor     string  `json:"strokeColor,omitempty"`
	BackgroundColor string  `json:"backgroundColor,omitempty"`
	StrokeWidth     float64 `json:"strokeWidth,omitempty"`
	Opacity         int     `json:"opacity,omitempty"`
	Points          []Point `json:"points,omitempty"`
	Text            string  `json:"text,omitempty"`
	FontSize        float64 `json:"fontSize,omitempty"`
	FileID          string  `json:"fileId,omitempty"`
	IsDeleted       bool    `json:"isDeleted,omitempty"`

	// Engine bookkeeping, regenerated on every import.
	Version      int   `json:"version,omitempty"`
	VersionNonce int64 `json:"versionNonce,omitempty"`
	Updated      int64 `json:"updated,omitempty"`
	Seed         int64 `json:"seed,omitempty"`
}

// SceneFile is a binary blob referenced by image elements.
type SceneFile struct {
	ID       string `json:"id"`
	MimeType string `json:"mimeType"`
	DataURL  string `json:"dataURL"`
	Created  int64  `json:"created,omitempty"`
}

// AppState is the whitelisted subset of view state carried with a scene.
type AppState struct {
	ViewBackgroundColor string `json:"viewBackgroundColor,omitempty"`
	GridSize            *int   `json:"gridSize"`
}

// ViewState is the engine-side viewport. Only BackgroundColor and GridSize
// ever travel inside SceneData.
type ViewState struct {
	Zoom            float64
	ScrollX         float64
	ScrollY         float64
	BackgroundColor string
	GridSize        *int
}

// LiveElements returns the non-deleted elements in order.
func (s *SceneData) LiveElements() []SceneElement {
	out := make([]SceneElement, 0, len(s.Elements))
	for _, el := range s.Elements {
		if !el.IsDeleted {
			out = append(out, el)
		}
	}
	return out
}
