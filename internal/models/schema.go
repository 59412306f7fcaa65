package models

// Front-matter field types understood by the validator.
const (
	FieldString = "string"
	FieldInt    = "int"
	FieldBool   = "bool"
	FieldDate   = "date"
	FieldList   = "list"
)

// Section is one canonical section of a template.
type Section struct {
	Name         string `json:"name" yaml:"name"`
	HeadingLevel int    `json:"heading_level" yaml:"level"`
	Required     bool   `json:"required" yaml:"required"`
	OrderIndex   int    `json:"order_index" yaml:"-"`
}

// FieldSpec describes one front-matter field expected by a template.
type FieldSpec struct {
	Name     string   `json:"name" yaml:"name"`
	Type     string   `json:"type" yaml:"type"`
	Required bool     `json:"required" yaml:"required"`
	Pattern  string   `json:"pattern,omitempty" yaml:"pattern"`
	Enum     []string `json:"enum,omitempty" yaml:"enum"`
	Default  string   `json:"default,omitempty" yaml:"default"`
}

// Schema is the structural contract derived from a template.
// It stays valid only while Checksum matches the template content.
type Schema struct {
	TemplateID    string         `json:"template_id"`
	Checksum      string         `json:"checksum"`
	Sections      []Section      `json:"sections"`
	HeadingLevels map[string]int `json:"heading_levels"`
	Fields        []FieldSpec    `json:"fields,omitempty"`
}

// RequiredSections returns the names of required sections in canonical order.
func (s *Schema) RequiredSections() []string {
	var out []string
	for _, sec := range s.Sections {
		if sec.Required {
			out = append(out, sec.Name)
		}
	}
	return out
}

// Section looks up a section by case-insensitive name.
func (s *Schema) Section(name string) (Section, bool) {
	key := NormalizeHeading(name)
	for _, sec := range s.Sections {
		if NormalizeHeading(sec.Name) == key {
			return sec, true
		}
	}
	return Section{}, false
}
