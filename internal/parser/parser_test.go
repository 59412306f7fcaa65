package parser

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/docgate/internal/models"
)

func TestParse_FrontmatterAndHeadings(t *testing.T) {
	input := "---\ntitle: Hello\ntags:\n  - go\n  - docs\n---\n# Hello\nBody text.\n## Usage\nmore\n"
	doc := Parse(input)

	require.True(t, doc.HasFrontMatter)
	assert.Equal(t, "Hello", doc.FrontMatter["title"])
	assert.Equal(t, []any{"go", "docs"}, doc.FrontMatter["tags"])
	assert.Equal(t, "Hello", doc.Title)
	assert.Equal(t, []string{"Hello", "Usage"}, doc.SectionOrder)

	want := []models.Heading{
		{Level: 1, Text: "Hello", Line: 7},
		{Level: 2, Text: "Usage", Line: 9},
	}
	if diff := cmp.Diff(want, doc.Headings); diff != "" {
		t.Errorf("headings mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "# Hello\nBody text.\n## Usage\nmore\n", doc.Body)
	assert.Equal(t, 6, doc.BodyOffset)
}

func TestParse_NoFrontmatter(t *testing.T) {
	doc := Parse("# Just a heading\nSome text.\n")
	assert.False(t, doc.HasFrontMatter)
	assert.Empty(t, doc.FrontMatter)
	assert.Equal(t, "Just a heading", doc.Title)
}

func TestParse_LeadingBlankLinesBeforeFrontmatter(t *testing.T) {
	doc := Parse("\n\n---\nname: x\n---\n## A\n")
	require.True(t, doc.HasFrontMatter)
	assert.Equal(t, "x", doc.FrontMatter["name"])
	require.Len(t, doc.Headings, 1)
	assert.Equal(t, 6, doc.Headings[0].Line)
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	doc := Parse("---\n: invalid: yaml: {{{\n---\nBody\n")
	assert.False(t, doc.HasFrontMatter)
	assert.NotNil(t, doc.FrontMatter)
	assert.Empty(t, doc.FrontMatter)
}

func TestParse_UnclosedFrontmatter(t *testing.T) {
	doc := Parse("---\ntitle: x\n# Heading\n")
	assert.False(t, doc.HasFrontMatter)
	assert.Equal(t, []string{"Heading"}, doc.SectionOrder)
}

func TestParse_ScalarFrontmatterIsIgnored(t *testing.T) {
	doc := Parse("---\njust a string\n---\n# H\n")
	assert.False(t, doc.HasFrontMatter)
	assert.Empty(t, doc.FrontMatter)
}

func TestParse_NestedFrontmatterIsFlattened(t *testing.T) {
	doc := Parse("---\nowner:\n  team: docs\n  email: d@example.com\n---\n")
	assert.Equal(t, "docs", doc.FrontMatter["owner.team"])
	assert.Equal(t, "d@example.com", doc.FrontMatter["owner.email"])
}

func TestParse_SkipsHeadingsInsideFences(t *testing.T) {
	input := "# Real\n```bash\n# not a heading\n```\n~~~\n## also not\n~~~\n## Second\n"
	doc := Parse(input)
	assert.Equal(t, []string{"Real", "Second"}, doc.SectionOrder)
}

func TestParse_HeadingVariants(t *testing.T) {
	input := "###### Six\n####### seven is text\n#NoSpace\n## Closed ##\n"
	doc := Parse(input)
	require.Len(t, doc.Headings, 2)
	assert.Equal(t, 6, doc.Headings[0].Level)
	assert.Equal(t, "Closed", doc.Headings[1].Text)
}

func TestParse_CRLF(t *testing.T) {
	doc := Parse("---\r\ntitle: Win\r\n---\r\n# Top\r\n")
	require.True(t, doc.HasFrontMatter)
	assert.Equal(t, "Win", doc.FrontMatter["title"])
	assert.Equal(t, []string{"Top"}, doc.SectionOrder)
}

func TestParse_EmptyInput(t *testing.T) {
	doc := Parse("")
	assert.False(t, doc.HasFrontMatter)
	assert.Empty(t, doc.Headings)
	assert.Empty(t, doc.Title)
}

func TestDeriveTitle_FrontmatterOverH1(t *testing.T) {
	doc := Parse("---\ntitle: FM Title\n---\n# H1 Title\ntext")
	assert.Equal(t, "FM Title", doc.Title)
}
