// cmd/tools/template-library/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"diagram-submissions/internal/drawing/scenecodec"
	"diagram-submissions/internal/drawing/surface"
	"diagram-submissions/internal/models"
	"diagram-submissions/pkg/registry"
)

var libraryPath string

func main() {
	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	previewCmd := flag.NewFlagSet("preview", flag.ExitOnError)

	for _, fs := range []*flag.FlagSet{addCmd, validateCmd, previewCmd} {
		fs.StringVar(&libraryPath, "path", "configs/templates.json", "Path to template library file")
	}

	// Add command flags
	idAdd := addCmd.String("id", "", "Template ID (e.g., cell-diagram)")
	displayName := addCmd.String("displayName", "", "Display Name (e.g., Animal Cell)")
	description := addCmd.String("description", "", "Description")
	category := addCmd.String("category", "", "Category (e.g., biology)")
	scenePath := addCmd.String("scene", "", "Exported scene JSON whose shapes become the template")

	// Preview command flags
	idPreview := previewCmd.String("id", "", "Template ID to render")
	out := previewCmd.String("out", "", "Output PNG path (default <id>.png)")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "add":
		addCmd.Parse(os.Args[2:])
		if *idAdd == "" || *displayName == "" || *category == "" || *scenePath == "" {
			fmt.Println("Error: id, displayName, category, and scene are required for add.")
			addCmd.Usage()
			os.Exit(1)
		}
		scene, err := readScene(*scenePath)
		if err != nil {
			fmt.Printf("Error reading scene: %v\n", err)
			os.Exit(1)
		}
		tmpl, err := templateFromScene(scene)
		if err != nil {
			fmt.Printf("Error building template: %v\n", err)
			os.Exit(1)
		}
		tmpl.ID = *idAdd
		tmpl.DisplayName = *displayName
		tmpl.Description = *description
		tmpl.Category = *category
		if err := addTemplate(tmpl); err != nil {
			fmt.Printf("Error adding template: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added template: %s (%d shapes)\n", tmpl.ID, len(tmpl.Elements))

	case "validate":
		validateCmd.Parse(os.Args[2:])
		reg, err := registry.LoadLibrary(libraryPath)
		if err != nil {
			fmt.Printf("Library validation failed: %v\n", err)
			os.Exit(1)
		}
		if err := validateLibrary(reg); err != nil {
			fmt.Printf("Library validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Library validation passed. Found %d templates.\n", len(reg.Templates))

	case "preview":
		previewCmd.Parse(os.Args[2:])
		if *idPreview == "" {
			fmt.Println("Error: id is required for preview.")
			previewCmd.Usage()
			os.Exit(1)
		}
		target := *out
		if target == "" {
			target = *idPreview + ".png"
		}
		if err := previewTemplate(*idPreview, target); err != nil {
			fmt.Printf("Error rendering template: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", target)

	case "help":
		fallthrough
	default:
		help()
	}
}

func readScene(path string) (*models.SceneData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var scene models.SceneData
	if err := json.Unmarshal(data, &scene); err != nil {
		return nil, fmt.Errorf("parse scene: %w", err)
	}
	if err := scenecodec.Validate(&scene); err != nil {
		return nil, err
	}
	return &scene, nil
}

// templateFromScene keeps the live shapes and moves them so the top-left of
// their bounding box sits at the origin.
func templateFromScene(scene *models.SceneData) (registry.Template, error) {
	live := scene.LiveElements()
	if len(live) == 0 {
		return registry.Template{}, fmt.Errorf("scene has no shapes")
	}

	minX, minY := math.Inf(1), math.Inf(1)
	for _, el := range live {
		if el.Type == models.ElementImage {
			return registry.Template{}, fmt.Errorf("element %s: templates cannot embed images", el.ID)
		}
		minX = math.Min(minX, el.X)
		minY = math.Min(minY, el.Y)
	}

	elements := make([]models.SceneElement, 0, len(live))
	for _, el := range live {
		el.X -= minX
		el.Y -= minY
		el.Version, el.VersionNonce, el.Seed, el.Updated = 0, 0, 0, 0
		elements = append(elements, el)
	}
	return registry.Template{Elements: elements}, nil
}

func addTemplate(tmpl registry.Template) error {
	reg, err := registry.LoadRegistry(libraryPath)
	if err != nil {
		// If file doesn't exist, start from the built-in library
		if os.IsNotExist(err) {
			reg = registry.Default()
		} else {
			return fmt.Errorf("failed to load library: %w", err)
		}
	}

	if _, exists := reg.Lookup(tmpl.ID); exists {
		return fmt.Errorf("template with ID %s already exists", tmpl.ID)
	}

	reg.Templates = append(reg.Templates, tmpl)
	reg.LastUpdated = time.Now().Format(time.RFC3339)
	return saveLibrary(reg, libraryPath)
}

// validateLibrary checks that every template inserts into an empty board as
// a valid scene.
func validateLibrary(reg *registry.TemplateRegistry) error {
	if len(reg.Templates) == 0 {
		return fmt.Errorf("library contains no templates")
	}

	for _, tmpl := range reg.Templates {
		if tmpl.DisplayName == "" {
			return fmt.Errorf("template %s missing required field: DisplayName", tmpl.ID)
		}
		if len(tmpl.Elements) == 0 {
			return fmt.Errorf("template %s has no shapes", tmpl.ID)
		}

		board := surface.NewBoard(nil, reg)
		if err := board.InsertTemplate(tmpl.ID); err != nil {
			return fmt.Errorf("template %s: %w", tmpl.ID, err)
		}
		scene, err := board.ExportScene()
		if err != nil {
			return fmt.Errorf("template %s: %w", tmpl.ID, err)
		}
		if err := scenecodec.Validate(&scene); err != nil {
			return fmt.Errorf("template %s: %w", tmpl.ID, err)
		}
	}
	return nil
}

func previewTemplate(id, target string) error {
	reg, err := registry.LoadLibrary(libraryPath)
	if err != nil {
		return fmt.Errorf("failed to load library: %w", err)
	}

	board := surface.NewBoard(surface.NewPNGEncoder(), reg)
	if err := board.InsertTemplate(id); err != nil {
		return err
	}
	png, err := board.ExportRaster()
	if err != nil {
		return err
	}
	return os.WriteFile(target, png, 0644)
}

// saveLibrary handles saving the library to file
func saveLibrary(reg *registry.TemplateRegistry, path string) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal library: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write library file: %w", err)
	}
	return nil
}

func help() {
	fmt.Print(`
Usage: template-library <command> [flags]

Commands:
  add      Add a template built from an exported scene
  validate Check that every template inserts as a valid scene
  preview  Render a template to PNG
  help     Show this help message

Examples:
  template-library add -id cell-diagram -displayName "Animal Cell" -category biology -scene cell.json
  template-library validate -path configs/templates.json
  template-library preview -id force-diagram -out force.png

Use 'template-library <command> -h' for more information about a command.
`)
}
