// Package parser extracts front matter and heading structure from Markdown
// documents. Parsing never fails: malformed input yields a partial result.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/docgate/internal/models"
)

const delim = "---"

var (
	headingRe = regexp.MustCompile(`^(#{1,6})[ \t]+(.+?)[ \t]*#*[ \t]*$`)
	fenceRe   = regexp.MustCompile("^[ \t]{0,3}(```|~~~)")
)

// Parse extracts front matter, headings and section order from text.
func Parse(text string) (doc *models.Document) {
	doc = &models.Document{
		FrontMatter: map[string]any{},
		Raw:         text,
		Body:        text,
	}
	defer func() {
		// Partial structure is still useful to callers.
		if r := recover(); r != nil {
			doc.FrontMatter = map[string]any{}
			doc.HasFrontMatter = false
		}
	}()

	lines := SplitLines(text)
	fm, bodyStart, ok := splitFrontmatter(lines)
	if ok {
		doc.FrontMatter = fm
		doc.HasFrontMatter = true
		doc.Body = strings.Join(lines[bodyStart:], "\n")
		doc.BodyOffset = bodyStart
	}

	doc.Headings = extractHeadings(lines, bodyStart)
	doc.SectionOrder = make([]string, 0, len(doc.Headings))
	for _, h := range doc.Headings {
		doc.SectionOrder = append(doc.SectionOrder, h.Text)
	}
	doc.Title = deriveTitle(doc.FrontMatter, doc.Headings)
	return doc
}

// SplitLines splits text on newlines, dropping carriage returns.
func SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}

// splitFrontmatter finds a "---" delimited YAML block at the start of the
// document (after blank lines). It returns the flattened map and the index of
// the first body line. ok is false when the block is absent or malformed.
func splitFrontmatter(lines []string) (map[string]any, int, bool) {
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start >= len(lines) || strings.TrimSpace(lines[start]) != delim {
		return nil, 0, false
	}

	end := -1
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delim {
			end = i
			break
		}
	}
	if end < 0 {
		// No closing delimiter: treat everything as body.
		return nil, 0, false
	}

	block := strings.Join(lines[start+1:end], "\n")
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(block), &raw); err != nil {
		return nil, 0, false
	}
	if raw == nil {
		raw = map[string]any{}
	}

	flat := make(map[string]any, len(raw))
	flatten("", raw, flat)
	return flat, end + 1, true
}

// flatten copies nested mappings into out using dotted keys.
func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch tv := v.(type) {
		case map[string]any:
			flatten(key, tv, out)
		case map[any]any:
			nested := make(map[string]any, len(tv))
			for nk, nv := range tv {
				nested[fmt.Sprint(nk)] = nv
			}
			flatten(key, nested, out)
		default:
			out[key] = v
		}
	}
}

// extractHeadings returns ATX headings from lines[from:], skipping fenced
// code blocks. Line numbers refer to the original text.
func extractHeadings(lines []string, from int) []models.Heading {
	var out []models.Heading
	inFence := false
	var fence string
	for i := from; i < len(lines); i++ {
		line := lines[i]
		if m := fenceRe.FindStringSubmatch(line); m != nil {
			switch {
			case !inFence:
				inFence, fence = true, m[1]
			case m[1] == fence:
				inFence = false
			}
			continue
		}
		if inFence {
			continue
		}
		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		text := strings.TrimSpace(m[2])
		if text == "" {
			continue
		}
		out = append(out, models.Heading{Level: len(m[1]), Text: text, Line: i + 1})
	}
	return out
}

// deriveTitle returns the front-matter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]any, headings []models.Heading) string {
	if t, ok := fm["title"]; ok {
		if s, ok := t.(string); ok && s != "" {
			return s
		}
	}
	for _, h := range headings {
		if h.Level == 1 {
			return h.Text
		}
	}
	return ""
}
