package research

import "strings"

// NormalizeText folds case, whitespace and trailing punctuation so that
// aspects and questions written slightly differently compare equal.
func NormalizeText(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimRight(s, "?.!: ")
}
