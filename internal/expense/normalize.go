package expense

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize prepares text for feature extraction and exact matching:
// 1. Unicode NFKC (full-width and compatibility forms fold to their plain form)
// 2. Trim leading/trailing whitespace
// 3. Lowercase
// 4. Collapse internal whitespace to single spaces
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.TrimSpace(s)

	// Casers carry state and must not be shared between goroutines.
	s = cases.Lower(language.Und).String(s)

	return whitespaceRegex.ReplaceAllString(s, " ")
}

// NormalizeCategory normalizes a category label. Labels use the same rules as text.
func NormalizeCategory(s string) string {
	return Normalize(s)
}

// IsBlank reports whether s is empty or whitespace only.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// Words splits normalized text into runs of letters and digits.
func Words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
