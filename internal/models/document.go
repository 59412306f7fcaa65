package models

import "strings"

// Heading is a Markdown ATX heading found in a document.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
	Line  int    `json:"line"` // 1-based
}

// Document is the parsed structure of a candidate Markdown document.
type Document struct {
	FrontMatter    map[string]any `json:"front_matter"`
	HasFrontMatter bool           `json:"has_front_matter"`
	Headings       []Heading      `json:"headings"`
	SectionOrder   []string       `json:"section_order"`
	Title          string         `json:"title,omitempty"`
	Body           string         `json:"-"`
	BodyOffset     int            `json:"body_offset"` // index of the first body line
	Raw            string         `json:"-"`
}

// NormalizeHeading folds heading text for case-insensitive comparison.
func NormalizeHeading(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
