package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	idTimeLayout = "20060102_150405"
	maxSlugLen   = 40
	maxVersions  = 1000
)

// NewID builds the human-readable base identity for a session created at
// the given time: "YYYYMMDD_HHMMSS_<slug>".
func NewID(at time.Time, query string) string {
	return at.Format(idTimeLayout) + "_" + Slug(query)
}

// Slug folds accents, lowercases and replaces runs of anything but
// letters and digits with a single underscore.
func Slug(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}

	slug := strings.Trim(b.String(), "_")
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
		if i := strings.LastIndexByte(slug, '_'); i > maxSlugLen/2 {
			slug = slug[:i]
		}
		slug = strings.Trim(slug, "_")
	}
	if slug == "" {
		return "research"
	}
	return slug
}

// reserveDir creates root/base, or root/base_v2, root/base_v3, ... for the
// first name that does not exist yet, and returns the chosen id.
func reserveDir(root, base string) (string, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("failed to create sessions directory: %w", err)
	}
	for v := 1; v <= maxVersions; v++ {
		id := base
		if v > 1 {
			id = fmt.Sprintf("%s_v%d", base, v)
		}
		err := os.Mkdir(filepath.Join(root, id), 0755)
		if err == nil {
			return id, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to create session directory: %w", err)
		}
	}
	return "", fmt.Errorf("too many sessions named %s", base)
}
