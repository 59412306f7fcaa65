package validation

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/docgate/internal/models"
	"github.com/starford/docgate/internal/parser"
)

// Fix types.
const (
	FixAddFrontMatter  = "add_front_matter"
	FixAddField        = "add_front_matter_field"
	FixAddSection      = "add_section_stub"
	FixReorderSections = "reorder_sections"
)

// Fix describes one repair, applied or skipped.
type Fix struct {
	Type        string `json:"type"`
	Path        string `json:"path"`
	Description string `json:"description"`
	Applied     bool   `json:"applied"`
}

// FixResult is the output of Engine.Fix.
type FixResult struct {
	Content string
	Applied []Fix
	Skipped []Fix
}

// Fix repairs the auto-fixable problems reported in out: it synthesizes or
// completes the front matter and appends stubs for missing required
// sections. Section reordering is not implemented and is reported as
// skipped; the content is left in its original order.
func (e *Engine) Fix(doc *models.Document, s *models.Schema, out *Outcome) FixResult {
	res := FixResult{Content: doc.Raw}

	if !doc.HasFrontMatter {
		res.Content = e.synthesizeFrontMatter(doc, s) + strings.TrimLeft(res.Content, "\r\n")
		res.Applied = append(res.Applied, Fix{
			Type:        FixAddFrontMatter,
			Path:        "front_matter",
			Description: "added front matter block with required fields",
			Applied:     true,
		})
	} else {
		content, added := e.addMissingFields(res.Content, doc, s)
		res.Content = content
		for _, name := range added {
			res.Applied = append(res.Applied, Fix{
				Type:        FixAddField,
				Path:        "front_matter." + name,
				Description: fmt.Sprintf("added placeholder value for %q", name),
				Applied:     true,
			})
		}
	}

	missing := missingSections(doc, s)
	if len(missing) > 0 {
		var sb strings.Builder
		sb.WriteString(res.Content)
		if !strings.HasSuffix(res.Content, "\n") {
			sb.WriteString("\n")
		}
		for _, sec := range missing {
			sb.WriteString(sectionStub(sec))
			res.Applied = append(res.Applied, Fix{
				Type:        FixAddSection,
				Path:        "sections." + sec.Name,
				Description: fmt.Sprintf("appended stub for section %q", sec.Name),
				Applied:     true,
			})
		}
		res.Content = sb.String()
	}

	if out != nil {
		for _, v := range out.Violations {
			if v.Type != models.ViolationWrongSectionOrder {
				continue
			}
			res.Content = reorderSections(res.Content)
			res.Skipped = append(res.Skipped, Fix{
				Type:        FixReorderSections,
				Path:        v.Path,
				Description: "section reordering is not automated; move sections manually: " + v.Expected,
			})
		}
	}
	return res
}

// reorderSections is a no-op. Reordering is left to the author.
func reorderSections(content string) string {
	return content
}

func sectionStub(sec models.Section) string {
	level := sec.HeadingLevel
	if level < 1 || level > 6 {
		level = 2
	}
	return fmt.Sprintf("\n%s %s\n\n_TODO: document %s._\n", strings.Repeat("#", level), sec.Name, strings.ToLower(sec.Name))
}

// placeholder returns the value injected for a missing field.
func (e *Engine) placeholder(f models.FieldSpec, doc *models.Document) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode}
	switch {
	case f.Default != "":
		n.Value = f.Default
		if f.Type == models.FieldString {
			n.Tag = "!!str"
		}
	case len(f.Enum) > 0:
		n.Value, n.Tag = f.Enum[0], "!!str"
	case f.Type == models.FieldInt:
		n.Value, n.Tag = "0", "!!int"
	case f.Type == models.FieldBool:
		n.Value, n.Tag = "false", "!!bool"
	case f.Type == models.FieldDate:
		n.Value = e.clock.Now().UTC().Format("2006-01-02")
	case f.Type == models.FieldList:
		n.Kind, n.Tag, n.Style = yaml.SequenceNode, "!!seq", yaml.FlowStyle
	case f.Name == "title" && doc.Title != "":
		n.Value, n.Tag = doc.Title, "!!str"
	default:
		n.Value, n.Tag = "TBD", "!!str"
	}
	return n
}

// fieldsToInject lists the fields auto-fix must add: every required field
// plus fields with a declared default.
func fieldsToInject(s *models.Schema) []models.FieldSpec {
	var out []models.FieldSpec
	for _, f := range s.Fields {
		if f.Required || f.Default != "" {
			out = append(out, f)
		}
	}
	return out
}

func (e *Engine) synthesizeFrontMatter(doc *models.Document, s *models.Schema) string {
	fields := fieldsToInject(s)
	if len(fields) == 0 {
		title := doc.Title
		if title == "" {
			title = "Untitled"
		}
		fields = []models.FieldSpec{{Name: "title", Type: models.FieldString, Default: title}}
	}
	m := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range fields {
		m.Content = append(m.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: f.Name},
			e.placeholder(f, doc))
	}
	return "---\n" + encode(m) + "---\n\n"
}

// addMissingFields fills required fields that are absent or empty in an
// existing front matter block. The block is re-encoded through yaml.Node so
// comments and key order survive.
func (e *Engine) addMissingFields(content string, doc *models.Document, s *models.Schema) (string, []string) {
	lines := parser.SplitLines(content)
	open, closing := frontMatterBounds(lines)
	if closing < 0 {
		return content, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal([]byte(strings.Join(lines[open+1:closing], "\n")), &root); err != nil {
		return content, nil
	}
	m := &root
	if m.Kind == yaml.DocumentNode && len(m.Content) > 0 {
		m = m.Content[0]
	}
	if m.Kind == 0 {
		m = &yaml.Node{Kind: yaml.MappingNode}
	}
	if m.Kind != yaml.MappingNode {
		return content, nil
	}

	var added []string
	for _, f := range s.Fields {
		if !f.Required {
			continue
		}
		if v, ok := doc.FrontMatter[f.Name]; ok && !isEmpty(v) {
			continue
		}
		if i := mappingIndex(m, f.Name); i >= 0 {
			m.Content[i+1] = e.placeholder(f, doc)
		} else {
			m.Content = append(m.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: f.Name},
				e.placeholder(f, doc))
		}
		added = append(added, f.Name)
	}
	if len(added) == 0 {
		return content, nil
	}

	block := strings.TrimSuffix(encode(m), "\n")
	out := make([]string, 0, len(lines))
	out = append(out, lines[:open+1]...)
	out = append(out, block)
	out = append(out, lines[closing:]...)
	return strings.Join(out, "\n"), added
}

func mappingIndex(m *yaml.Node, key string) int {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return i
		}
	}
	return -1
}

// frontMatterBounds returns the line indexes of the opening and closing
// front matter delimiters, or -1, -1.
func frontMatterBounds(lines []string) (int, int) {
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start >= len(lines) || strings.TrimSpace(lines[start]) != "---" {
		return -1, -1
	}
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return start, i
		}
	}
	return -1, -1
}

func encode(n *yaml.Node) string {
	var sb strings.Builder
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return ""
	}
	if err := enc.Close(); err != nil {
		return ""
	}
	return sb.String()
}
