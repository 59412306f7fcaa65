// Package schema derives structural schemas from templates and caches them
// by template checksum.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/starford/docgate/internal/models"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Entry is the canonical structure for one template id.
type Entry struct {
	Sections []models.Section   `yaml:"sections"`
	Fields   []models.FieldSpec `yaml:"fields"`
}

// Catalog maps template ids to their canonical sections and field specs.
type Catalog struct {
	Templates map[string]Entry `yaml:"templates"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// ParseCatalog decodes a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("schema: parse catalog: %w", err)
	}
	if c.Templates == nil {
		c.Templates = map[string]Entry{}
	}
	for id, e := range c.Templates {
		for i := range e.Sections {
			if e.Sections[i].Name == "" {
				return nil, fmt.Errorf("schema: catalog template %q: section %d has no name", id, i)
			}
			e.Sections[i].OrderIndex = i
		}
		for i := range e.Fields {
			if e.Fields[i].Name == "" {
				return nil, fmt.Errorf("schema: catalog template %q: field %d has no name", id, i)
			}
			if e.Fields[i].Type == "" {
				e.Fields[i].Type = models.FieldString
			}
		}
		c.Templates[id] = e
	}
	return &c, nil
}

// LoadCatalog returns the built-in catalog with the file at path merged over
// it. Entries in the file replace built-in entries with the same id.
func LoadCatalog(path string) (*Catalog, error) {
	base, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read catalog %s: %w", path, err)
	}
	extra, err := ParseCatalog(data)
	if err != nil {
		return nil, err
	}
	for id, e := range extra.Templates {
		base.Templates[id] = e
	}
	return base, nil
}

// Lookup returns the entry for id.
func (c *Catalog) Lookup(id string) (Entry, bool) {
	e, ok := c.Templates[id]
	return e, ok
}

// IDs returns the catalog's template ids in sorted order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.Templates))
	for id := range c.Templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
