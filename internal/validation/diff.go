package validation

import (
	"github.com/pmezard/go-difflib/difflib"
)

// UnifiedDiff returns a unified line diff from original to patched, or ""
// when they are equal.
func UnifiedDiff(original, patched string) string {
	if original == patched {
		return ""
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(patched),
		FromFile: "original",
		ToFile:   "patched",
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}
