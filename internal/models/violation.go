package models

import (
	"fmt"
	"strings"
)

// Severity classifies how strongly a violation prevents a write.
type Severity string

const (
	SeverityBlocker Severity = "BLOCKER"
	SeverityFixable Severity = "FIXABLE"
	SeverityWarn    Severity = "WARN"
)

// Violation types.
const (
	ViolationMissingFrontMatter       = "missing_front_matter"
	ViolationMissingFrontMatterField  = "missing_front_matter_field"
	ViolationInvalidFrontMatterField  = "invalid_front_matter_field"
	ViolationMissingSection           = "missing_required_section"
	ViolationWrongSectionOrder        = "wrong_section_order"
	ViolationHeadingLevelSkip         = "heading_level_skip"
	ViolationHeadingLevelMismatch     = "heading_level_mismatch"
	ViolationInsufficientCompleteness = "insufficient_completeness"
	ViolationWorkflowNotGenerated     = "workflow_not_generated"
)

// Violation is a single structural problem found in a document.
type Violation struct {
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Path        string   `json:"path"`
	Message     string   `json:"message"`
	Suggestion  string   `json:"suggestion"`
	AutoFixable bool     `json:"auto_fixable"`
	Line        int      `json:"line,omitempty"`
	Expected    string   `json:"expected,omitempty"`
	Actual      string   `json:"actual,omitempty"`
}

// String renders the violation on a single line.
func (v Violation) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", v.Severity, v.Type))
	if v.Line > 0 {
		sb.WriteString(fmt.Sprintf(" line %d", v.Line))
	}
	if v.Path != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", v.Path))
	}
	sb.WriteString(": ")
	sb.WriteString(v.Message)
	if v.Suggestion != "" {
		sb.WriteString(" Hint: ")
		sb.WriteString(v.Suggestion)
	}
	return sb.String()
}

// Tier is a named strictness level.
type Tier string

const (
	Tier1 Tier = "TIER_1"
	Tier2 Tier = "TIER_2"
	Tier3 Tier = "TIER_3"
)

// ParseTier accepts "TIER_2", "tier_2", "2" and similar spellings.
func ParseTier(s string) (Tier, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TIER_1", "TIER1", "1", "":
		return Tier1, nil
	case "TIER_2", "TIER2", "2":
		return Tier2, nil
	case "TIER_3", "TIER3", "3":
		return Tier3, nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// CompletenessThreshold returns the minimum completeness the tier accepts.
func (t Tier) CompletenessThreshold() float64 {
	switch t {
	case Tier2:
		return 0.60
	case Tier3:
		return 0.30
	default:
		return 0.80
	}
}
