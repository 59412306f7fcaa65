package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/starford/docgate/internal/models"
	"github.com/starford/docgate/internal/parser"
)

const minSectionWords = 50

var (
	fenceRe    = regexp.MustCompile("^[ \t]{0,3}(```|~~~)")
	tableSepRe = regexp.MustCompile(`^[ \t]*\|?[ \t]*:?-{3,}:?[ \t]*(\|[ \t]*:?-{3,}:?[ \t]*)*\|?[ \t]*$`)
	listItemRe = regexp.MustCompile(`^[ \t]*([-*+]|\d+[.)])[ \t]+\S`)
)

// SectionReport describes how much content one section carries.
type SectionReport struct {
	Heading  string `json:"heading"`
	Level    int    `json:"level"`
	Line     int    `json:"line"`
	Words    int    `json:"words"`
	HasTable bool   `json:"has_table,omitempty"`
	HasList  bool   `json:"has_list,omitempty"`
	Filled   bool   `json:"filled"`
}

// sectionReports measures every heading's content slice: the lines up to the
// next heading of the same or higher level, fenced code excluded.
func sectionReports(doc *models.Document) []SectionReport {
	lines := parser.SplitLines(doc.Raw)
	reports := make([]SectionReport, 0, len(doc.Headings))
	for i, h := range doc.Headings {
		end := len(lines)
		for _, next := range doc.Headings[i+1:] {
			if next.Level <= h.Level {
				end = next.Line - 1
				break
			}
		}
		start := h.Line
		if start > end {
			start = end
		}
		r := measure(lines[start:end])
		r.Heading, r.Level, r.Line = h.Text, h.Level, h.Line
		reports = append(reports, r)
	}
	return reports
}

func measure(lines []string) SectionReport {
	var r SectionReport
	inFence := false
	var fence string
	for _, line := range lines {
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
		if strings.Contains(line, "|") && tableSepRe.MatchString(line) {
			r.HasTable = true
		}
		if listItemRe.MatchString(line) {
			r.HasList = true
		}
		r.Words += len(strings.Fields(line))
	}
	r.Filled = r.Words > minSectionWords || r.HasTable || r.HasList
	return r
}

func completeness(reports []SectionReport) float64 {
	if len(reports) == 0 {
		return 0
	}
	filled := 0
	for _, r := range reports {
		if r.Filled {
			filled++
		}
	}
	return float64(filled) / float64(len(reports))
}

// PassesCompleteness reports whether c meets the tier's threshold.
func PassesCompleteness(c float64, tier models.Tier) bool {
	// Compare in thousandths so 4/5 sections meets a 0.80 threshold.
	return int(c*1000+0.5) >= int(tier.CompletenessThreshold()*1000+0.5)
}

func checkCompleteness(c float64, reports []SectionReport, tier models.Tier) (models.Violation, bool) {
	if PassesCompleteness(c, tier) {
		return models.Violation{}, false
	}
	var thin []string
	for _, r := range reports {
		if !r.Filled {
			thin = append(thin, r.Heading)
		}
	}
	suggestion := "add headed sections with substantive content"
	if len(thin) > 0 {
		suggestion = fmt.Sprintf("expand these sections with prose (>%d words), a list, or a table: %s",
			minSectionWords, strings.Join(thin, ", "))
	}
	return models.Violation{
		Type:       models.ViolationInsufficientCompleteness,
		Severity:   models.SeverityBlocker,
		Path:       "document",
		Message:    fmt.Sprintf("document is %.0f%% complete, %s requires %.0f%%", c*100, tier, tier.CompletenessThreshold()*100),
		Suggestion: suggestion,
		Expected:   fmt.Sprintf(">= %.2f", tier.CompletenessThreshold()),
		Actual:     fmt.Sprintf("%.2f", c),
	}, true
}
