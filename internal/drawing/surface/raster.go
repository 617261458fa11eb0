// internal/drawing/surface/raster.go
package surface

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"strconv"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"diagram-submissions/internal/models"
)

const (
	defaultPadding      = 16
	defaultMaxDimension = 2048
	lineHeight          = 15

	// maxStrokeWidth caps the brush whatever width the scene asks for.
	maxStrokeWidth = 64
)

// PNGEncoder renders scene elements onto an RGBA canvas sized to the content.
type PNGEncoder struct {
	Padding int
	// MaxDimension caps the longer raster side; larger drawings are scaled down uniformly.
	MaxDimension int
}

func NewPNGEncoder() *PNGEncoder {
	return &PNGEncoder{Padding: defaultPadding, MaxDimension: defaultMaxDimension}
}

func (e *PNGEncoder) Encode(elements []models.SceneElement, files map[string]models.SceneFile, view models.ViewState) ([]byte, error) {
	if len(elements) == 0 {
		return nil, fmt.Errorf("nothing to render")
	}

	minX, minY, maxX, maxY := contentBounds(elements)
	pad := e.Padding
	w := int(math.Ceil(maxX-minX)) + 2*pad
	h := int(math.Ceil(maxY-minY)) + 2*pad
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid raster size %dx%d", w, h)
	}

	// unscaled canvases beyond this are refused outright
	if limit := 4 * e.maxDimension(); w > limit || h > limit {
		return nil, fmt.Errorf("drawing extent %dx%d exceeds %d", w, h, limit)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bg := parseColor(view.BackgroundColor, color.RGBA{255, 255, 255, 255})
	draw.Draw(img, img.Bounds(), &image.Uniform{bg}, image.Point{}, draw.Src)

	offX := float64(pad) - minX
	offY := float64(pad) - minY
	for _, el := range elements {
		renderElement(img, el, files, offX, offY)
	}

	out := e.downscale(img)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *PNGEncoder) maxDimension() int {
	if e.MaxDimension <= 0 {
		return defaultMaxDimension
	}
	return e.MaxDimension
}

func (e *PNGEncoder) downscale(img *image.RGBA) image.Image {
	b := img.Bounds()
	longest := b.Dx()
	if b.Dy() > longest {
		longest = b.Dy()
	}
	limit := e.maxDimension()
	if longest <= limit {
		return img
	}

	ratio := float64(limit) / float64(longest)
	dw := int(math.Max(1, math.Round(float64(b.Dx())*ratio)))
	dh := int(math.Max(1, math.Round(float64(b.Dy())*ratio)))
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

func contentBounds(elements []models.SceneElement) (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	extend := func(x, y float64) {
		minX = math.Min(minX, x)
		minY = math.Min(minY, y)
		maxX = math.Max(maxX, x)
		maxY = math.Max(maxY, y)
	}

	for _, el := range elements {
		if len(el.Points) > 0 {
			for _, p := range el.Points {
				extend(el.X+p.X, el.Y+p.Y)
			}
			continue
		}
		extend(el.X, el.Y)
		extend(el.X+el.Width, el.Y+el.Height)
		if el.Type == models.ElementText {
			w, h := textExtent(el.Text)
			extend(el.X+float64(w), el.Y+float64(h))
		}
	}
	return minX, minY, maxX, maxY
}

func renderElement(img *image.RGBA, el models.SceneElement, files map[string]models.SceneFile, offX, offY float64) {
	stroke := withOpacity(parseColor(el.StrokeColor, color.RGBA{30, 30, 30, 255}), el.Opacity)
	fill, hasFill := fillColor(el)
	thick := brushSize(el.StrokeWidth, img.Bounds())

	x0 := int(math.Round(el.X + offX))
	y0 := int(math.Round(el.Y + offY))
	x1 := int(math.Round(el.X + el.Width + offX))
	y1 := int(math.Round(el.Y + el.Height + offY))

	switch el.Type {
	case models.ElementRectangle:
		if hasFill {
			draw.Draw(img, image.Rect(x0, y0, x1, y1).Canon(), &image.Uniform{fill}, image.Point{}, draw.Over)
		}
		drawLine(img, x0, y0, x1, y0, stroke, thick)
		drawLine(img, x1, y0, x1, y1, stroke, thick)
		drawLine(img, x1, y1, x0, y1, stroke, thick)
		drawLine(img, x0, y1, x0, y0, stroke, thick)
	case models.ElementEllipse:
		cx, cy := (x0+x1)/2, (y0+y1)/2
		rx, ry := abs(x1-x0)/2, abs(y1-y0)/2
		if hasFill {
			fillEllipse(img, cx, cy, rx, ry, fill)
		}
		drawEllipse(img, cx, cy, rx, ry, stroke, thick)
	case models.ElementDiamond:
		cx, cy := (x0+x1)/2, (y0+y1)/2
		drawLine(img, cx, y0, x1, cy, stroke, thick)
		drawLine(img, x1, cy, cx, y1, stroke, thick)
		drawLine(img, cx, y1, x0, cy, stroke, thick)
		drawLine(img, x0, cy, cx, y0, stroke, thick)
	case models.ElementLine, models.ElementFreedraw, models.ElementArrow:
		pts := polyline(el, offX, offY)
		for i := 1; i < len(pts); i++ {
			drawLine(img, pts[i-1].X, pts[i-1].Y, pts[i].X, pts[i].Y, stroke, thick)
		}
		if el.Type == models.ElementArrow && len(pts) >= 2 {
			tail, tip := pts[len(pts)-2], pts[len(pts)-1]
			drawArrowHead(img, tail.X, tail.Y, tip.X, tip.Y, stroke, thick)
		}
	case models.ElementText:
		drawText(img, x0, y0, el.Text, stroke)
	case models.ElementImage:
		if f, ok := files[el.FileID]; ok {
			drawImageFile(img, image.Rect(x0, y0, x1, y1).Canon(), f)
		}
	}
}

func polyline(el models.SceneElement, offX, offY float64) []image.Point {
	if len(el.Points) == 0 {
		return []image.Point{
			{X: int(math.Round(el.X + offX)), Y: int(math.Round(el.Y + offY))},
			{X: int(math.Round(el.X + el.Width + offX)), Y: int(math.Round(el.Y + el.Height + offY))},
		}
	}
	pts := make([]image.Point, 0, len(el.Points))
	for _, p := range el.Points {
		pts = append(pts, image.Point{
			X: int(math.Round(el.X + p.X + offX)),
			Y: int(math.Round(el.Y + p.Y + offY)),
		})
	}
	return pts
}

func fillColor(el models.SceneElement) (color.RGBA, bool) {
	if el.BackgroundColor == "" || el.BackgroundColor == "transparent" {
		return color.RGBA{}, false
	}
	return withOpacity(parseColor(el.BackgroundColor, color.RGBA{}), el.Opacity), true
}

// parseColor accepts #rgb and #rrggbb.
func parseColor(s string, fallback color.RGBA) color.RGBA {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return fallback
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return fallback
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}

// withOpacity applies a 0-100 opacity; 0 means unset.
func withOpacity(c color.RGBA, opacity int) color.RGBA {
	if opacity <= 0 || opacity >= 100 {
		return c
	}
	f := float64(opacity) / 100
	return color.RGBA{
		R: uint8(float64(c.R) * f),
		G: uint8(float64(c.G) * f),
		B: uint8(float64(c.B) * f),
		A: uint8(float64(c.A) * f),
	}
}

func textExtent(text string) (int, int) {
	d := &font.Drawer{Face: basicfont.Face7x13}
	lines := strings.Split(text, "\n")
	w := 0
	for _, line := range lines {
		if lw := d.MeasureString(line).Ceil(); lw > w {
			w = lw
		}
	}
	return w, len(lines) * lineHeight
}

func drawText(img *image.RGBA, x, y int, text string, col color.Color) {
	d := &font.Drawer{Dst: img, Src: image.NewUniform(col), Face: basicfont.Face7x13}
	for i, line := range strings.Split(text, "\n") {
		d.Dot = fixed.P(x, y+basicfont.Face7x13.Ascent+i*lineHeight)
		d.DrawString(line)
	}
}

func drawImageFile(img *image.RGBA, rect image.Rectangle, f models.SceneFile) {
	if rect.Empty() {
		return
	}
	comma := strings.IndexByte(f.DataURL, ',')
	if comma < 0 {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(f.DataURL[comma+1:])
	if err != nil {
		return
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return
	}
	xdraw.ApproxBiLinear.Scale(img, rect, src, src.Bounds(), xdraw.Over, nil)
}

// brushSize turns a stroke width into a brush side no wider than
// maxStrokeWidth or the canvas.
func brushSize(width float64, bounds image.Rectangle) int {
	thick := int(math.Max(1, math.Round(width)))
	return min(thick, maxStrokeWidth, max(bounds.Dx(), bounds.Dy(), 1))
}

func setThickPixel(img *image.RGBA, x, y, thick int, col color.Color) {
	r := thick / 2
	brush := image.Rect(x-r, y-r, x+r+1, y+r+1).Intersect(img.Bounds())
	if brush.Empty() {
		return
	}
	draw.Draw(img, brush, &image.Uniform{col}, image.Point{}, draw.Src)
}

// drawLine is Bresenham with a square brush.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, col color.Color, thick int) {
	dx := abs(x1 - x0)
	dy := abs(y1 - y0)
	sx, sy := -1, -1
	if x0 < x1 {
		sx = 1
	}
	if y0 < y1 {
		sy = 1
	}
	err := dx - dy
	for {
		setThickPixel(img, x0, y0, thick, col)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

func drawEllipse(img *image.RGBA, cx, cy, rx, ry int, col color.Color, thick int) {
	steps := int(math.Ceil(2 * math.Pi * math.Sqrt(float64(rx*rx+ry*ry))))
	if steps < 8 {
		steps = 8
	}
	var prevX, prevY int
	for i := 0; i <= steps; i++ {
		angle := 2 * math.Pi * float64(i) / float64(steps)
		x := cx + int(math.Cos(angle)*float64(rx))
		y := cy + int(math.Sin(angle)*float64(ry))
		if i > 0 {
			drawLine(img, prevX, prevY, x, y, col, thick)
		}
		prevX, prevY = x, y
	}
}

func fillEllipse(img *image.RGBA, cx, cy, rx, ry int, col color.Color) {
	if rx == 0 || ry == 0 {
		return
	}
	for dy := -ry; dy <= ry; dy++ {
		for dx := -rx; dx <= rx; dx++ {
			nx := float64(dx) / float64(rx)
			ny := float64(dy) / float64(ry)
			if nx*nx+ny*ny <= 1 && image.Pt(cx+dx, cy+dy).In(img.Bounds()) {
				img.Set(cx+dx, cy+dy, col)
			}
		}
	}
}

func drawArrowHead(img *image.RGBA, x0, y0, x1, y1 int, col color.Color, thick int) {
	angle := math.Atan2(float64(y1-y0), float64(x1-x0))
	size := float64(6 + thick*2)
	a1 := angle + math.Pi/6
	a2 := angle - math.Pi/6
	drawLine(img, x1, y1, x1-int(math.Cos(a1)*size), y1-int(math.Sin(a1)*size), col, thick)
	drawLine(img, x1, y1, x1-int(math.Cos(a2)*size), y1-int(math.Sin(a2)*size), col, thick)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
