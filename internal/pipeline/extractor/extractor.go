// internal/pipeline/extractor/extractor.go
package extractor

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"diagram-submissions/internal/common/errors"
	"diagram-submissions/internal/common/logger"
	"diagram-submissions/internal/common/metrics"
	"diagram-submissions/internal/drawing/scenecodec"
	"diagram-submissions/internal/models"
)

const DefaultSceneAttribute = "data-drawing-scene"

var DefaultAcceptedTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

type Config struct {
	SceneAttribute string
	AcceptedTypes  []string
}

// Result is the outcome of pulling embedded drawings out of a rich-text answer.
type Result struct {
	CleanedDocument string
	Payloads        []models.ImagePayload
	// Violations are content problems found while extracting, such as a
	// data URL that decodes to something other than a raster image.
	Violations []models.Violation
	Scene      *models.SceneData
	// Text is the student's visible text without drawing placeholders.
	Text string
}

type Extractor struct {
	sceneAttr string
	accepted  []string
	log       logger.Logger
}

func New(cfg Config, log logger.Logger) *Extractor {
	attr := strings.ToLower(strings.TrimSpace(cfg.SceneAttribute))
	if attr == "" {
		attr = DefaultSceneAttribute
	}
	accepted := cfg.AcceptedTypes
	if len(accepted) == 0 {
		accepted = DefaultAcceptedTypes
	}
	return &Extractor{
		sceneAttr: attr,
		accepted:  accepted,
		log:       log.Named("extractor"),
	}
}

// Extract replaces every inline data-URL image with a "[Drawing N submitted]"
// marker and returns the decoded images in document order.
func (e *Extractor) Extract(doc string) (*Result, error) {
	bodyCtx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(doc), bodyCtx)
	if err != nil {
		return nil, errors.NewExtractionFailedError("response is not parseable rich text", err)
	}

	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		root.AppendChild(n)
	}

	result := &Result{}
	markers := make(map[*html.Node]bool)
	sceneChecked := false
	index := 0

	for _, img := range collectImages(root) {
		src := strings.TrimSpace(attr(img, "src"))
		if !isImageDataURL(src) {
			removeAttr(img, e.sceneAttr)
			continue
		}

		index++
		label := fmt.Sprintf("Drawing %d", index)

		data, declared, err := decodeDataURL(src)
		if err != nil {
			return nil, errors.NewExtractionFailedError(fmt.Sprintf("%s could not be decoded", label), err)
		}

		payload := models.ImagePayload{
			Data:     data,
			MimeType: declared,
			Origin:   models.OriginEmbedded,
			Label:    label,
		}

		detected := mimetype.Detect(data)
		if e.acceptedType(detected) {
			payload.MimeType = detected.String()
		} else {
			result.Violations = append(result.Violations, models.Violation{
				Rule:    string(errors.ErrCodeUnsupportedImageType),
				Label:   label,
				Message: fmt.Sprintf("%s is not a supported image (%s).", label, detected.String()),
			})
		}

		if raw, ok := attrValue(img, e.sceneAttr); ok && !sceneChecked {
			sceneChecked = true
			if scene := e.recoverScene(raw, label); scene != nil {
				result.Scene = scene
				payload.Scene = scene
			}
		}

		result.Payloads = append(result.Payloads, payload)

		marker := &html.Node{Type: html.TextNode, Data: fmt.Sprintf("[%s submitted]", label)}
		img.Parent.InsertBefore(marker, img)
		img.Parent.RemoveChild(img)
		markers[marker] = true
	}

	var buf bytes.Buffer
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return nil, errors.NewExtractionFailedError("cleaned response could not be rendered", err)
		}
	}
	result.CleanedDocument = buf.String()
	result.Text = visibleText(root, markers)

	metrics.ExtractedImages.Observe(float64(len(result.Payloads)))
	return result, nil
}

func (e *Extractor) acceptedType(m *mimetype.MIME) bool {
	for _, t := range e.accepted {
		if m.Is(t) {
			return true
		}
	}
	return false
}

// recoverScene accepts the annotation either as scene JSON or as base64 of it.
// Failures are logged and yield nil.
func (e *Extractor) recoverScene(raw, label string) *models.SceneData {
	payload := []byte(strings.TrimSpace(raw))
	if len(payload) > 0 && payload[0] != '{' {
		decoded, err := base64.StdEncoding.DecodeString(string(payload))
		if err != nil {
			e.log.Warn("ignoring unreadable scene annotation", map[string]interface{}{
				"image": label,
				"error": err,
			})
			return nil
		}
		payload = decoded
	}

	scene, err := scenecodec.Unmarshal(payload)
	if err != nil {
		e.log.Warn("ignoring corrupt scene annotation", map[string]interface{}{
			"image": label,
			"error": err,
		})
		return nil
	}
	return scene
}

func collectImages(n *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Img {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func isImageDataURL(src string) bool {
	return len(src) > len("data:image/") && strings.EqualFold(src[:len("data:image/")], "data:image/")
}

// decodeDataURL splits "data:<mime>[;params];base64,<payload>".
func decodeDataURL(src string) ([]byte, string, error) {
	comma := strings.IndexByte(src, ',')
	if comma < 0 {
		return nil, "", fmt.Errorf("data URL has no payload")
	}
	header := src[len("data:"):comma]
	params := strings.Split(header, ";")
	mimeType := strings.ToLower(params[0])

	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		return nil, mimeType, fmt.Errorf("data URL is not base64 encoded")
	}

	encoded := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, src[comma+1:])

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil, mimeType, fmt.Errorf("invalid base64 payload: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, mimeType, fmt.Errorf("data URL payload is empty")
	}
	return data, mimeType, nil
}

func visibleText(root *html.Node, skip map[*html.Node]bool) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.TextNode && !skip[n] {
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.Join(parts, " ")
}

func attr(n *html.Node, key string) string {
	v, _ := attrValue(n, key)
	return v
}

func attrValue(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}
