// Package validation checks parsed documents against template schemas,
// scores them, and optionally repairs what can be repaired.
package validation

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/starford/docgate/internal/clock"
	"github.com/starford/docgate/internal/models"
	"github.com/starford/docgate/internal/parser"
)

// Confidence penalties, in hundredths, per violation severity.
const (
	blockerPenalty = 30
	fixablePenalty = 10
	warnPenalty    = 5
)

// Options controls a single Validate call.
type Options struct {
	Tier    models.Tier
	AutoFix bool // repair what can be repaired
	Preview bool // with AutoFix: produce a diff instead of applying fixes
}

// Provenance identifies what a document was validated against.
type Provenance struct {
	TemplateID      string            `json:"template_id"`
	TemplateVersion string            `json:"template_version,omitempty"`
	SchemaChecksum  string            `json:"schema_checksum"`
	Source          models.Provenance `json:"source,omitempty"`
}

// Outcome is the result of validating one document.
type Outcome struct {
	Valid        bool               `json:"valid"`
	Violations   []models.Violation `json:"violations"`
	Confidence   float64            `json:"confidence"`
	Completeness float64            `json:"completeness"`
	Tier         models.Tier        `json:"tier"`
	Sections     []SectionReport    `json:"sections,omitempty"`
	Patched      string             `json:"patched,omitempty"`
	Diff         string             `json:"diff,omitempty"`
	Fixes        []Fix              `json:"fixes,omitempty"`
	Provenance   Provenance         `json:"provenance"`
}

// Clone returns a copy of o that shares no slices with it.
func (o *Outcome) Clone() *Outcome {
	if o == nil {
		return nil
	}
	c := *o
	c.Violations = slices.Clone(o.Violations)
	c.Sections = slices.Clone(o.Sections)
	c.Fixes = slices.Clone(o.Fixes)
	return &c
}

// Count returns the number of violations with severity sev.
func (o *Outcome) Count(sev models.Severity) int {
	n := 0
	for _, v := range o.Violations {
		if v.Severity == sev {
			n++
		}
	}
	return n
}

// Blockers returns the BLOCKER violations.
func (o *Outcome) Blockers() []models.Violation {
	var out []models.Violation
	for _, v := range o.Violations {
		if v.Severity == models.SeverityBlocker {
			out = append(out, v)
		}
	}
	return out
}

// Add appends v and recomputes validity and confidence.
func (o *Outcome) Add(v models.Violation) {
	o.Violations = append(o.Violations, v)
	o.score()
}

// Summary renders a short human-readable report.
func (o *Outcome) Summary() string {
	var sb strings.Builder
	status := "valid"
	if !o.Valid {
		status = "invalid"
	}
	sb.WriteString(fmt.Sprintf("%s (%s): confidence %.2f, completeness %.2f, %d blocker(s), %d fixable, %d warning(s)\n",
		status, o.Tier, o.Confidence, o.Completeness,
		o.Count(models.SeverityBlocker), o.Count(models.SeverityFixable), o.Count(models.SeverityWarn)))
	for _, v := range o.Violations {
		sb.WriteString("  ")
		sb.WriteString(v.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

func (o *Outcome) score() {
	b := o.Count(models.SeverityBlocker)
	f := o.Count(models.SeverityFixable)
	w := o.Count(models.SeverityWarn)
	o.Valid = b == 0
	o.Confidence = Confidence(b, f, w)
}

// Confidence returns 1.0 reduced by 0.3 per blocker, 0.1 per fixable and
// 0.05 per warning, floored at 0.
func Confidence(blockers, fixable, warnings int) float64 {
	score := 100 - blockerPenalty*blockers - fixablePenalty*fixable - warnPenalty*warnings
	if score < 0 {
		score = 0
	}
	return float64(score) / 100
}

// Engine validates documents. It is stateless apart from its clock and
// logger and is safe for concurrent use.
type Engine struct {
	clock  clock.Clock
	logger *slog.Logger
}

// NewEngine creates an Engine. A nil clock means the wall clock.
func NewEngine(c clock.Clock, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{clock: clock.Or(c), logger: logger}
}

// Validate checks doc against s under opts.Tier. With opts.AutoFix the
// document is repaired: in preview mode the outcome describes the original
// and carries a diff, otherwise it describes the patched document.
func (e *Engine) Validate(doc *models.Document, s *models.Schema, opts Options) *Outcome {
	if opts.Tier == "" {
		opts.Tier = models.Tier1
	}
	out := e.check(doc, s, opts.Tier)
	if !opts.AutoFix {
		return out
	}

	fix := e.Fix(doc, s, out)
	if len(fix.Applied) == 0 {
		out.Fixes = fix.Skipped
		return out
	}

	if opts.Preview {
		out.Diff = UnifiedDiff(doc.Raw, fix.Content)
		out.Fixes = append(fix.Applied, fix.Skipped...)
		e.logger.Debug("validation: auto-fix preview", slog.Int("fixes", len(fix.Applied)))
		return out
	}

	patched := e.check(parser.Parse(fix.Content), s, opts.Tier)
	patched.Patched = fix.Content
	patched.Diff = UnifiedDiff(doc.Raw, fix.Content)
	patched.Fixes = append(fix.Applied, fix.Skipped...)
	e.logger.Debug("validation: auto-fix applied",
		slog.Int("fixes", len(fix.Applied)),
		slog.Int("violations_before", len(out.Violations)),
		slog.Int("violations_after", len(patched.Violations)))
	return patched
}

func (e *Engine) check(doc *models.Document, s *models.Schema, tier models.Tier) *Outcome {
	out := &Outcome{
		Tier: tier,
		Provenance: Provenance{
			TemplateID:     s.TemplateID,
			SchemaChecksum: s.Checksum,
		},
	}

	var vs []models.Violation
	vs = append(vs, checkFrontMatter(doc, s)...)
	vs = append(vs, checkRequiredSections(doc, s, tier)...)
	vs = append(vs, checkSectionOrder(doc, s)...)
	vs = append(vs, checkHierarchy(doc, s)...)

	out.Sections = sectionReports(doc)
	out.Completeness = completeness(out.Sections)
	if v, ok := checkCompleteness(out.Completeness, out.Sections, tier); ok {
		vs = append(vs, v)
	}

	if tier == models.Tier3 {
		for i := range vs {
			if vs[i].Severity == models.SeverityFixable && vs[i].AutoFixable {
				vs[i].Severity = models.SeverityWarn
			}
		}
	}

	out.Violations = vs
	out.score()
	return out
}
