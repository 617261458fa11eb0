// internal/workers/tutoring/resolve-drawing-urls/models.go
package resolvedrawingurls

type Input struct {
	DrawingFileIDs []string `json:"drawingFileIds"`
}

type Output struct {
	DrawingURLs []string `json:"drawingUrls"`
}

const inputSchema = `{
	"type": "object",
	"required": ["drawingFileIds"],
	"properties": {
		"drawingFileIds": {
			"type": "array",
			"items": {"type": "string", "minLength": 1}
		}
	}
}`
