package templates

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestEntry pins one template version and its expected digest.
type ManifestEntry struct {
	ID      string `yaml:"id" json:"id"`
	Version string `yaml:"version" json:"version"`
	SHA256  string `yaml:"sha256" json:"sha256,omitempty"`
	URL     string `yaml:"url,omitempty" json:"url,omitempty"`
}

// Manifest lists the template versions known to the deployment.
type Manifest struct {
	Entries []ManifestEntry `json:"entries"`
}

// ParseManifest decodes a YAML list of entries. Entries without id or
// version are rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if strings.TrimSpace(string(data)) == "" {
		return m, nil
	}
	if err := yaml.Unmarshal(data, &m.Entries); err != nil {
		return nil, fmt.Errorf("templates: parse manifest: %w", err)
	}
	for i, e := range m.Entries {
		if e.ID == "" || e.Version == "" {
			return nil, fmt.Errorf("templates: manifest entry %d: id and version are required", i)
		}
	}
	return m, nil
}

// LoadManifest reads the manifest at path. A missing file yields an empty
// manifest.
func LoadManifest(path string) (*Manifest, error) {
	if path == "" {
		return &Manifest{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("templates: read manifest: %w", err)
	}
	return ParseManifest(data)
}

// Lookup returns the entry for id at version.
func (m *Manifest) Lookup(id, version string) (ManifestEntry, bool) {
	if m == nil {
		return ManifestEntry{}, false
	}
	for _, e := range m.Entries {
		if e.ID == id && e.Version == version {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// Versions returns every version listed for id, in manifest order.
func (m *Manifest) Versions(id string) []string {
	if m == nil {
		return nil
	}
	var out []string
	for _, e := range m.Entries {
		if e.ID == id {
			out = append(out, e.Version)
		}
	}
	return out
}
