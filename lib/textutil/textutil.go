package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeName lowercases a label and strips all whitespace so that
// "Request  invoice" and "requestinvoice" compare equal.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.Trim(name, " \n\t")
	name = whitespaceRegex.ReplaceAllString(name, "")
	return name
}

// MatchName reports whether the normalized name contains any of the matchers,
// matchers are expected to already be normalized.
func MatchName(name string, matchers []string) bool {
	name = NormalizeName(name)
	for _, m := range matchers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// NormalizeAll normalizes every matcher with NormalizeName.
func NormalizeAll(matchers []string) []string {
	out := make([]string, len(matchers))
	for i, m := range matchers {
		out[i] = NormalizeName(m)
	}
	return out
}
