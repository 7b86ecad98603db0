package calc

import (
	"regexp"
	"strconv"
)

// Extractor pulls named numeric values out of free text so they can be fed to
// Evaluate. Implementations must be safe for concurrent use.
type Extractor interface {
	// Extract returns the variables found in text. Later occurrences of the
	// same name overwrite earlier ones.
	Extract(text string) map[string]float64
}

// assignmentPattern matches "NAME = 1.5", "NAME: 2" and the full-width colon
// variant. Names are upper-case symbols.
var assignmentPattern = regexp.MustCompile(`\b([A-Z_][A-Z0-9_]*)\b\s*(?:=|:|：)\s*(-?\d+(?:\.\d+)?)`)

// AssignmentExtractor is the default Extractor. It recognises explicit
// assignments of upper-case symbols to numeric literals.
type AssignmentExtractor struct{}

// Extract implements Extractor.
func (AssignmentExtractor) Extract(text string) map[string]float64 {
	out := make(map[string]float64)
	if text == "" {
		return out
	}
	for _, m := range assignmentPattern.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		out[m[1]] = v
	}
	return out
}
