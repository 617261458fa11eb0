// internal/drawing/scenecodec/codec.go
package scenecodec

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"diagram-submissions/internal/common/errors"
	"diagram-submissions/internal/common/validation"
	"diagram-submissions/internal/models"
)

// Upper bounds for element styling, shared with the embedded schema.
const (
	MaxStrokeWidth = 64
	MaxFontSize    = 512
)

//go:embed scene.schema.json
var sceneSchemaJSON string

var sceneSchema = validation.MustCompile(sceneSchemaJSON)

// RasterEncoder turns live elements into an encoded image.
type RasterEncoder interface {
	Encode(elements []models.SceneElement, files map[string]models.SceneFile, view models.ViewState) ([]byte, error)
}

// Handle is what the codec needs from a drawing engine.
type Handle interface {
	Elements() []models.SceneElement
	Files() map[string]models.SceneFile
	ViewState() models.ViewState
	ReplaceScene(elements []models.SceneElement, files map[string]models.SceneFile)
	SetViewState(view models.ViewState)
	Ready() bool
	Encoder() RasterEncoder
}

// Export snapshots the non-deleted shapes, the files they reference and the
// whitelisted view state. Zoom and scroll are never exported.
func Export(h Handle) (models.SceneData, error) {
	if h == nil {
		return models.SceneData{}, errors.NewExportFailedError("no drawing surface", nil)
	}

	live := make([]models.SceneElement, 0)
	for _, el := range h.Elements() {
		if !el.IsDeleted {
			live = append(live, cloneElement(el))
		}
	}
	if len(live) == 0 {
		return models.SceneData{}, errors.NewEmptySceneError()
	}

	engineFiles := h.Files()
	files := make(map[string]models.SceneFile)
	for _, el := range live {
		if el.Type != models.ElementImage || el.FileID == "" {
			continue
		}
		if f, ok := engineFiles[el.FileID]; ok {
			files[el.FileID] = f
		}
	}

	view := h.ViewState()
	return models.SceneData{
		Type:     models.SceneType,
		Version:  models.SceneVersion,
		Elements: live,
		Files:    files,
		AppState: models.AppState{
			ViewBackgroundColor: view.BackgroundColor,
			GridSize:            copyInt(view.GridSize),
		},
	}, nil
}

// Import replaces the engine contents with the scene and resets the viewport
// to zoom 1 at the origin. It never fits the view to the content.
func Import(h Handle, data models.SceneData) error {
	if h == nil || !h.Ready() {
		return errors.NewRestoreFailedError("drawing surface not ready", nil)
	}

	elements := make([]models.SceneElement, 0, len(data.Elements))
	for _, el := range data.Elements {
		elements = append(elements, cloneElement(el))
	}
	files := make(map[string]models.SceneFile, len(data.Files))
	for id, f := range data.Files {
		files[id] = f
	}

	h.ReplaceScene(elements, files)
	h.SetViewState(models.ViewState{
		Zoom:            1,
		ScrollX:         0,
		ScrollY:         0,
		BackgroundColor: data.AppState.ViewBackgroundColor,
		GridSize:        copyInt(data.AppState.GridSize),
	})
	return nil
}

// Rasterize encodes the live shapes through the engine's encoder.
func Rasterize(h Handle) ([]byte, error) {
	if h == nil || !h.Ready() {
		return nil, errors.NewExportFailedError("drawing surface not ready", nil)
	}
	enc := h.Encoder()
	if enc == nil {
		return nil, errors.NewExportFailedError("no raster encoder", nil)
	}

	live := make([]models.SceneElement, 0)
	for _, el := range h.Elements() {
		if !el.IsDeleted {
			live = append(live, el)
		}
	}

	data, err := enc.Encode(live, h.Files(), h.ViewState())
	if err != nil {
		return nil, errors.NewExportFailedError("raster encoding failed", err)
	}
	if len(data) == 0 {
		return nil, errors.NewExportFailedError("raster encoder returned no data", nil)
	}
	return data, nil
}

// Marshal serializes a scene, stamping type and version when missing.
func Marshal(data models.SceneData) ([]byte, error) {
	if data.Type == "" {
		data.Type = models.SceneType
	}
	if data.Version == 0 {
		data.Version = models.SceneVersion
	}
	if data.Elements == nil {
		data.Elements = []models.SceneElement{}
	}
	if data.Files == nil {
		data.Files = map[string]models.SceneFile{}
	}
	return json.Marshal(data)
}

// Unmarshal parses scene JSON after checking it against the scene schema.
// Every schema error is reported in the returned INVALID_SCENE error.
func Unmarshal(raw []byte) (*models.SceneData, error) {
	result := sceneSchema.ValidateBytes(raw)
	if !result.Valid {
		msgs := result.GetErrorMessages()
		return nil, errors.NewInvalidSceneError(strings.Join(msgs, "; "), nil).
			WithMetadata("schemaErrors", msgs)
	}

	var data models.SceneData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.NewInvalidSceneError("scene JSON could not be decoded", err)
	}
	if data.Files == nil {
		data.Files = map[string]models.SceneFile{}
	}
	return &data, nil
}

// Validate performs the structural checks required before a scene is
// restored into a surface.
func Validate(data *models.SceneData) error {
	if data == nil {
		return errors.NewInvalidSceneError("scene is missing", nil)
	}

	var problems []string
	if data.Type != "" && data.Type != models.SceneType {
		problems = append(problems, fmt.Sprintf("unexpected scene type %q", data.Type))
	}

	seen := make(map[string]bool, len(data.Elements))
	for i, el := range data.Elements {
		switch {
		case el.ID == "":
			problems = append(problems, fmt.Sprintf("elements[%d]: missing id", i))
		case seen[el.ID]:
			problems = append(problems, fmt.Sprintf("elements[%d]: duplicate id %s", i, el.ID))
		}
		seen[el.ID] = true

		if !models.KnownElementTypes[el.Type] {
			problems = append(problems, fmt.Sprintf("elements[%d]: unknown type %q", i, el.Type))
		}
		if el.StrokeWidth < 0 || el.StrokeWidth > MaxStrokeWidth {
			problems = append(problems, fmt.Sprintf("elements[%d]: strokeWidth %g outside 0..%d", i, el.StrokeWidth, MaxStrokeWidth))
		}
		if el.FontSize < 0 || el.FontSize > MaxFontSize {
			problems = append(problems, fmt.Sprintf("elements[%d]: fontSize %g outside 0..%d", i, el.FontSize, MaxFontSize))
		}
		if el.Type == models.ElementImage && !el.IsDeleted {
			if _, ok := data.Files[el.FileID]; !ok {
				problems = append(problems, fmt.Sprintf("elements[%d]: image references missing file %q", i, el.FileID))
			}
		}
	}

	for id, f := range data.Files {
		if !strings.HasPrefix(f.DataURL, "data:") {
			problems = append(problems, fmt.Sprintf("files[%s]: dataURL is not a data URL", id))
		}
	}

	if len(problems) > 0 {
		return errors.NewInvalidSceneError(strings.Join(problems, "; "), nil).
			WithMetadata("problems", problems)
	}
	return nil
}

func cloneElement(el models.SceneElement) models.SceneElement {
	if el.Points != nil {
		pts := make([]models.Point, len(el.Points))
		copy(pts, el.Points)
		el.Points = pts
	}
	return el
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
