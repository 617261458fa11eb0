// pkg/registry/registry.go
package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed templates.json
var defaultTemplates []byte

func LoadRegistry(path string) (*TemplateRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

// Default returns the built-in template library.
func Default() *TemplateRegistry {
	reg, err := parse(defaultTemplates)
	if err != nil {
		panic(fmt.Sprintf("embedded templates: %v", err))
	}
	return reg
}

// LoadLibrary loads path when set and falls back to the built-in library.
func LoadLibrary(path string) (*TemplateRegistry, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadRegistry(path)
}

func parse(data []byte) (*TemplateRegistry, error) {
	var reg TemplateRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(reg.Templates))
	for _, t := range reg.Templates {
		if t.ID == "" {
			return nil, fmt.Errorf("template without id")
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate template id %s", t.ID)
		}
		seen[t.ID] = true
	}
	return &reg, nil
}

// Lookup finds a template by id.
func (r *TemplateRegistry) Lookup(id string) (Template, bool) {
	for _, t := range r.Templates {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}
