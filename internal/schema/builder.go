package schema

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/starford/docgate/internal/apperr"
	"github.com/starford/docgate/internal/checksum"
	"github.com/starford/docgate/internal/models"
)

var templateHeadingRe = regexp.MustCompile(`(?m)^(#{1,6})[ \t]+(.+?)[ \t]*#*[ \t]*$`)

const defaultHeadingLevel = 2

// Builder derives schemas and caches one per template id while the
// template checksum is unchanged.
type Builder struct {
	catalog *Catalog
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]*models.Schema
	hits  int
}

// NewBuilder creates a Builder over catalog.
func NewBuilder(catalog *Catalog, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = &Catalog{Templates: map[string]Entry{}}
	}
	return &Builder{
		catalog: catalog,
		logger:  logger,
		cache:   make(map[string]*models.Schema),
	}
}

// Build returns the schema for templateID derived from content. A cached
// schema is returned when the content checksum matches.
func (b *Builder) Build(templateID, content string) (*models.Schema, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperr.New(apperr.KindSchemaBuild,
			fmt.Sprintf("template %q is empty", templateID),
			"restore the template content or point the template source at a valid file")
	}
	sum := checksum.String(content)

	b.mu.Lock()
	defer b.mu.Unlock()

	if cached, ok := b.cache[templateID]; ok && cached.Checksum == sum {
		b.hits++
		return cached, nil
	}

	s := b.derive(templateID, content, sum)
	b.cache[templateID] = s
	b.logger.Debug("schema: built",
		slog.String("template", templateID),
		slog.String("checksum", sum[:12]),
		slog.Int("required_sections", len(s.RequiredSections())))
	return s, nil
}

func (b *Builder) derive(templateID, content, sum string) *models.Schema {
	levels := HeadingLevels(content)
	s := &models.Schema{
		TemplateID:    templateID,
		Checksum:      sum,
		HeadingLevels: levels,
	}

	entry, ok := b.catalog.Lookup(templateID)
	if !ok {
		b.logger.Warn("schema: template not in catalog, no required sections",
			slog.String("template", templateID))
		return s
	}

	s.Sections = make([]models.Section, len(entry.Sections))
	for i, sec := range entry.Sections {
		if lvl, ok := levels[models.NormalizeHeading(sec.Name)]; ok {
			sec.HeadingLevel = lvl
		} else if sec.HeadingLevel == 0 {
			sec.HeadingLevel = defaultHeadingLevel
		}
		sec.OrderIndex = i
		s.Sections[i] = sec
	}
	s.Fields = append([]models.FieldSpec(nil), entry.Fields...)
	return s
}

// HeadingLevels maps normalized heading text to its level. The first
// occurrence of a heading wins.
func HeadingLevels(content string) map[string]int {
	out := make(map[string]int)
	for _, m := range templateHeadingRe.FindAllStringSubmatch(content, -1) {
		key := models.NormalizeHeading(m[2])
		if _, seen := out[key]; !seen {
			out[key] = len(m[1])
		}
	}
	return out
}

// Catalog returns the catalog the builder reads from.
func (b *Builder) Catalog() *Catalog { return b.catalog }

// Len returns the number of cached schemas.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cache)
}

// Hits returns how many Build calls were served from cache.
func (b *Builder) Hits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits
}

// Reset drops every cached schema.
func (b *Builder) Reset() {
	b.mu.Lock()
	b.cache = make(map[string]*models.Schema)
	b.hits = 0
	b.mu.Unlock()
}
