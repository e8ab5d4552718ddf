package stages

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/Iron-Ham/ralph/internal/session"
)

const tocHeading = "## Contents"

var blankRuns = regexp.MustCompile(`\n{3,}`)

// EditingArtifact is written to editing.json.
type EditingArtifact struct {
	Headings     []string  `json:"headings"`
	TOCAdded     bool      `json:"toc_added"`
	LinesTrimmed int       `json:"lines_trimmed"`
	CreatedAt    time.Time `json:"created_at"`
}

// Editing normalizes the markdown report and adds a table of contents
// linking every second-level heading. Running it twice leaves the report
// unchanged.
type Editing struct{}

// Phase implements Stage.
func (Editing) Phase() research.Phase { return research.PhaseEditing }

// Run implements Stage.
func (Editing) Run(_ context.Context, in *Input) error {
	ws := in.Workspace
	report, err := ws.ReadOutput(ReportFile)
	if err != nil {
		return err
	}
	edited, art := EditReport(string(report))
	art.CreatedAt = in.Now
	if err := ws.WriteOutput(ReportFile, []byte(edited)); err != nil {
		return err
	}
	return ws.WriteJSON(session.EditingFile, art)
}

// EditReport returns the normalized report and what was changed.
func EditReport(report string) (string, *EditingArtifact) {
	art := &EditingArtifact{Headings: []string{}}

	lines := strings.Split(strings.ReplaceAll(report, "\r\n", "\n"), "\n")
	for i, l := range lines {
		trimmed := strings.TrimRightFunc(l, unicode.IsSpace)
		if trimmed != l {
			art.LinesTrimmed++
			lines[i] = trimmed
		}
	}

	hasTOC := false
	for _, l := range lines {
		if l == tocHeading {
			hasTOC = true
			continue
		}
		if strings.HasPrefix(l, "## ") {
			art.Headings = append(art.Headings, strings.TrimPrefix(l, "## "))
		}
	}

	if !hasTOC && len(art.Headings) > 1 {
		toc := []string{"", tocHeading, ""}
		for _, h := range art.Headings {
			toc = append(toc, "- ["+h+"](#"+Anchor(h)+")")
		}
		toc = append(toc, "")

		at := 0
		for i, l := range lines {
			if strings.HasPrefix(l, "# ") {
				at = i + 1
				break
			}
		}
		// Keep the title's subtitle line with the title.
		for at < len(lines) && lines[at] == "" {
			at++
		}
		if at < len(lines) && strings.HasPrefix(lines[at], "_") {
			at++
		}
		rest := append([]string{""}, lines[at:]...)
		lines = append(append(lines[:at:at], toc...), rest...)
		art.TOCAdded = true
	}

	out := blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	out = strings.TrimRight(out, "\n") + "\n"
	return out, art
}

// Anchor returns the GitHub-style fragment for a heading.
func Anchor(heading string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(heading) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	return b.String()
}
