// internal/drawing/surface/board.go
package surface

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"diagram-submissions/internal/common/errors"
	"diagram-submissions/internal/drawing/scenecodec"
	"diagram-submissions/internal/models"
	"diagram-submissions/pkg/registry"
)

// templateGap separates an inserted template from the shapes above it.
const templateGap = 24

// Surface is the drawing capability the submission flow relies on.
type Surface interface {
	IsEmpty() bool
	ExportScene() (models.SceneData, error)
	ImportScene(data models.SceneData) error
	ExportRaster() ([]byte, error)
	InsertTemplate(id string) error
}

// Board is an in-memory drawing engine. It implements scenecodec.Handle for
// the codec and Surface for the submission flow.
type Board struct {
	mu        sync.RWMutex
	elements  []models.SceneElement
	files     map[string]models.SceneFile
	view      models.ViewState
	ready     bool
	encoder   scenecodec.RasterEncoder
	templates *registry.TemplateRegistry

	viewportW float64
	viewportH float64
}

var (
	_ Surface           = (*Board)(nil)
	_ scenecodec.Handle = (*Board)(nil)
)

// NewBoard returns a mounted, empty board. templates may be nil, in which case
// the built-in library is used.
func NewBoard(encoder scenecodec.RasterEncoder, templates *registry.TemplateRegistry) *Board {
	if templates == nil {
		templates = registry.Default()
	}
	return &Board{
		files:     make(map[string]models.SceneFile),
		view:      models.ViewState{Zoom: 1},
		ready:     true,
		encoder:   encoder,
		templates: templates,
		viewportW: 1024,
		viewportH: 768,
	}
}

// SetReady toggles whether the engine has finished mounting.
func (b *Board) SetReady(ready bool) {
	b.mu.Lock()
	b.ready = ready
	b.mu.Unlock()
}

// --- scenecodec.Handle ---

func (b *Board) Elements() []models.SceneElement {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.SceneElement, len(b.elements))
	copy(out, b.elements)
	return out
}

func (b *Board) Files() map[string]models.SceneFile {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]models.SceneFile, len(b.files))
	for id, f := range b.files {
		out[id] = f
	}
	return out
}

func (b *Board) ViewState() models.ViewState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.view
}

// ReplaceScene swaps in new contents. Each loaded element gets fresh engine
// bookkeeping, as a real canvas engine does on restore.
func (b *Board) ReplaceScene(elements []models.SceneElement, files map[string]models.SceneFile) {
	now := time.Now().UnixMilli()
	loaded := make([]models.SceneElement, len(elements))
	for i, el := range elements {
		el.VersionNonce = rand.Int64()
		el.Updated = now
		if el.Version == 0 {
			el.Version = 1
		}
		if el.Seed == 0 {
			el.Seed = rand.Int64N(1 << 31)
		}
		loaded[i] = el
	}

	copied := make(map[string]models.SceneFile, len(files))
	for id, f := range files {
		copied[id] = f
	}

	b.mu.Lock()
	b.elements = loaded
	b.files = copied
	b.mu.Unlock()
}

func (b *Board) SetViewState(view models.ViewState) {
	b.mu.Lock()
	b.view = view
	b.mu.Unlock()
}

func (b *Board) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

func (b *Board) Encoder() scenecodec.RasterEncoder {
	return b.encoder
}

// --- Surface ---

func (b *Board) IsEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, el := range b.elements {
		if !el.IsDeleted {
			return false
		}
	}
	return true
}

func (b *Board) ExportScene() (models.SceneData, error) {
	return scenecodec.Export(b)
}

func (b *Board) ImportScene(data models.SceneData) error {
	return scenecodec.Import(b, data)
}

func (b *Board) ExportRaster() ([]byte, error) {
	return scenecodec.Rasterize(b)
}

// InsertTemplate clones a library template below the existing shapes.
func (b *Board) InsertTemplate(id string) error {
	tmpl, ok := b.templates.Lookup(id)
	if !ok {
		return errors.NewTemplateNotFoundError(id)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	offsetY := 0.0
	if len(b.elements) > 0 {
		_, _, _, maxY := liveBounds(b.elements)
		if !math.IsInf(maxY, 0) {
			offsetY = maxY + templateGap
		}
	}

	now := time.Now().UnixMilli()
	for _, el := range tmpl.Elements {
		el.ID = uuid.NewString()
		el.Y += offsetY
		el.Version = 1
		el.VersionNonce = rand.Int64()
		el.Updated = now
		el.Seed = rand.Int64N(1 << 31)
		if el.Points != nil {
			pts := make([]models.Point, len(el.Points))
			copy(pts, el.Points)
			el.Points = pts
		}
		b.elements = append(b.elements, el)
	}
	return nil
}

// AddElement appends a shape, assigning an id when missing.
func (b *Board) AddElement(el models.SceneElement) string {
	if el.ID == "" {
		el.ID = uuid.NewString()
	}
	el.Version++
	el.VersionNonce = rand.Int64()
	el.Updated = time.Now().UnixMilli()

	b.mu.Lock()
	b.elements = append(b.elements, el)
	b.mu.Unlock()
	return el.ID
}

// DeleteElement marks a shape deleted. Deleted shapes stay in the engine but
// never reach exports.
func (b *Board) DeleteElement(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.elements {
		if b.elements[i].ID == id && !b.elements[i].IsDeleted {
			b.elements[i].IsDeleted = true
			b.elements[i].Version++
			return true
		}
	}
	return false
}

// AddFile registers a binary file for image elements.
func (b *Board) AddFile(f models.SceneFile) {
	b.mu.Lock()
	b.files[f.ID] = f
	b.mu.Unlock()
}

// ZoomToFit centres the content in the viewport. Restoring a scene never calls
// it; the student decides when to refit.
func (b *Board) ZoomToFit() {
	b.mu.Lock()
	defer b.mu.Unlock()

	minX, minY, maxX, maxY := liveBounds(b.elements)
	if math.IsInf(minX, 0) {
		return
	}
	w, h := maxX-minX, maxY-minY
	zoom := 1.0
	if w > 0 && h > 0 {
		zoom = math.Min(b.viewportW/w, b.viewportH/h)
		zoom = math.Max(0.1, math.Min(zoom, 4))
	}
	b.view.Zoom = zoom
	b.view.ScrollX = b.viewportW/(2*zoom) - (minX + w/2)
	b.view.ScrollY = b.viewportH/(2*zoom) - (minY + h/2)
}

func liveBounds(elements []models.SceneElement) (float64, float64, float64, float64) {
	live := make([]models.SceneElement, 0, len(elements))
	for _, el := range elements {
		if !el.IsDeleted {
			live = append(live, el)
		}
	}
	if len(live) == 0 {
		return math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)
	}
	return contentBounds(live)
}
