package ingest

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	yearsRangeDash = regexp.MustCompile(`(\d+)\s*-\s*(\d+)\s*years?`)
	yearsRangeTo   = regexp.MustCompile(`(\d+)\s*to\s*(\d+)\s*years?`)
	yearsMin       = regexp.MustCompile(`(\d+)\s*\+?\s*years?`)
)

// ExtractYearsRequirement pulls a human-readable experience requirement out
// of a job description, e.g. "3-5 years" or "8+ years". Returns "" when
// nothing matches.
func ExtractYearsRequirement(text string) string {
	lower := strings.ToLower(text)
	if m := yearsRangeDash.FindStringSubmatch(lower); m != nil {
		return fmt.Sprintf("%s-%s years", m[1], m[2])
	}
	if m := yearsRangeTo.FindStringSubmatch(lower); m != nil {
		return fmt.Sprintf("%s-%s years", m[1], m[2])
	}
	if m := yearsMin.FindStringSubmatch(lower); m != nil {
		return m[1] + "+ years"
	}
	return ""
}
