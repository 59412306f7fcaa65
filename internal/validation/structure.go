package validation

import (
	"fmt"
	"strings"

	"github.com/starford/docgate/internal/models"
)

// sectionIndex maps normalized heading text to its first position in the
// document's section order.
func sectionIndex(doc *models.Document) map[string]int {
	idx := make(map[string]int, len(doc.SectionOrder))
	for i, name := range doc.SectionOrder {
		key := models.NormalizeHeading(name)
		if _, seen := idx[key]; !seen {
			idx[key] = i
		}
	}
	return idx
}

// missingSections returns the required sections absent from doc.
func missingSections(doc *models.Document, s *models.Schema) []models.Section {
	idx := sectionIndex(doc)
	var out []models.Section
	for _, sec := range s.Sections {
		if !sec.Required {
			continue
		}
		if _, ok := idx[models.NormalizeHeading(sec.Name)]; !ok {
			out = append(out, sec)
		}
	}
	return out
}

func checkRequiredSections(doc *models.Document, s *models.Schema, tier models.Tier) []models.Violation {
	var out []models.Violation
	for _, sec := range missingSections(doc, s) {
		v := models.Violation{
			Type:        models.ViolationMissingSection,
			Severity:    models.SeverityBlocker,
			Path:        "sections." + sec.Name,
			Message:     fmt.Sprintf("required section %q is missing", sec.Name),
			Suggestion:  fmt.Sprintf("add a '%s %s' section with content", strings.Repeat("#", sec.HeadingLevel), sec.Name),
			AutoFixable: true,
			Expected:    sec.Name,
		}
		if tier != models.Tier1 {
			v.Severity = models.SeverityFixable
		}
		out = append(out, v)
	}
	return out
}

func checkSectionOrder(doc *models.Document, s *models.Schema) []models.Violation {
	idx := sectionIndex(doc)

	type found struct {
		name string
		pos  int
	}
	var present []found
	for _, sec := range s.Sections {
		if !sec.Required {
			continue
		}
		if pos, ok := idx[models.NormalizeHeading(sec.Name)]; ok {
			present = append(present, found{name: sec.Name, pos: pos})
		}
	}

	ordered := true
	for i := 1; i < len(present); i++ {
		if present[i].pos < present[i-1].pos {
			ordered = false
			break
		}
	}
	if ordered {
		return nil
	}

	expected := make([]string, len(present))
	for i, p := range present {
		expected[i] = p.name
	}
	actual := make([]string, 0, len(present))
	firstLine := 0
	for _, h := range doc.Headings {
		for _, p := range present {
			if models.NormalizeHeading(h.Text) == models.NormalizeHeading(p.name) {
				if !contains(actual, p.name) {
					actual = append(actual, p.name)
				}
			}
		}
	}
	for i, name := range actual {
		if name != expected[i] {
			firstLine = headingLine(doc, name)
			break
		}
	}

	return []models.Violation{{
		Type:       models.ViolationWrongSectionOrder,
		Severity:   models.SeverityFixable,
		Path:       "sections",
		Message:    "required sections are out of order",
		Suggestion: fmt.Sprintf("reorder sections as: %s", strings.Join(expected, ", ")),
		Line:       firstLine,
		Expected:   strings.Join(expected, ", "),
		Actual:     strings.Join(actual, ", "),
	}}
}

func checkHierarchy(doc *models.Document, s *models.Schema) []models.Violation {
	var out []models.Violation
	for i, h := range doc.Headings {
		if i > 0 {
			prev := doc.Headings[i-1].Level
			if h.Level > prev+1 {
				out = append(out, models.Violation{
					Type:     models.ViolationHeadingLevelSkip,
					Severity: models.SeverityWarn,
					Path:     "headings." + h.Text,
					Message:  fmt.Sprintf("heading %q jumps from level %d to level %d", h.Text, prev, h.Level),
					Suggestion: fmt.Sprintf("use '%s %s' or add an intermediate heading",
						strings.Repeat("#", prev+1), h.Text),
					Line:     h.Line,
					Expected: fmt.Sprintf("level <= %d", prev+1),
					Actual:   fmt.Sprintf("level %d", h.Level),
				})
			}
		}

		if want, ok := s.HeadingLevels[models.NormalizeHeading(h.Text)]; ok && want != h.Level {
			out = append(out, models.Violation{
				Type:       models.ViolationHeadingLevelMismatch,
				Severity:   models.SeverityWarn,
				Path:       "headings." + h.Text,
				Message:    fmt.Sprintf("heading %q is level %d but the template uses level %d", h.Text, h.Level, want),
				Suggestion: fmt.Sprintf("change it to '%s %s'", strings.Repeat("#", want), h.Text),
				Line:       h.Line,
				Expected:   fmt.Sprintf("level %d", want),
				Actual:     fmt.Sprintf("level %d", h.Level),
			})
		}
	}
	return out
}

func headingLine(doc *models.Document, name string) int {
	key := models.NormalizeHeading(name)
	for _, h := range doc.Headings {
		if models.NormalizeHeading(h.Text) == key {
			return h.Line
		}
	}
	return 0
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
