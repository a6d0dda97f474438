package shared

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FoldKey lower-cases and trims s for case-insensitive identity comparisons.
func FoldKey(s string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(s))
}
