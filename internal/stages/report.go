package stages

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/Iron-Ham/ralph/internal/session"
)

// ReportFile is the rendered deliverable inside the output directory.
const ReportFile = "report.md"

//go:embed templates/report.md.tmpl
var templateFS embed.FS

var reportFuncs = template.FuncMap{
	"add": func(a, b int) int { return a + b },
	"pct": func(v float64) string { return fmt.Sprintf("%.0f%%", v) },
	"num": func(v float64) string { return fmt.Sprintf("%.4g", v) },
	"signed": func(v float64) string {
		return fmt.Sprintf("%+.1f%%", v)
	},
	"bar": func(v float64) string {
		filled := int(v/10 + 0.5)
		filled = max(0, min(10, filled))
		return "`" + strings.Repeat("█", filled) + strings.Repeat("░", 10-filled) + "`"
	},
	"cite": func(c research.Citation) string {
		title := c.Title
		if title == "" {
			title = c.Source
		}
		if c.URL == "" {
			return title
		}
		if title == "" {
			return "<" + c.URL + ">"
		}
		return "[" + title + "](" + c.URL + ")"
	},
}

var reportTemplate = template.Must(
	template.New("report.md.tmpl").Funcs(reportFuncs).ParseFS(templateFS, "templates/report.md.tmpl"),
)

// ReportData is the template input.
type ReportData struct {
	Story     *StoryArtifact
	Charts    map[string][]SeriesSummary
	Citations []research.Citation
}

// Reporting renders the story as markdown into output/report.md. Rendering
// to html, pdf or excel is left to external stage commands; the markdown
// report is always produced.
type Reporting struct{}

// Phase implements Stage.
func (Reporting) Phase() research.Phase { return research.PhaseReporting }

// Run implements Stage.
func (Reporting) Run(_ context.Context, in *Input) error {
	ws := in.Workspace
	var (
		story  StoryArtifact
		agg    AggregationArtifact
		charts ChartsArtifact
	)
	if err := ws.ReadJSON(session.StoryFile, &story); err != nil {
		return err
	}
	if err := ws.ReadJSON(session.AggregationFile, &agg); err != nil {
		return err
	}
	if err := ws.ReadJSON(session.ChartsFile, &charts); err != nil && !errors.Is(err, errors.ErrNotFound) {
		return err
	}

	data := ReportData{Story: &story, Charts: map[string][]SeriesSummary{}, Citations: agg.Citations}
	byName := map[string]SeriesSummary{}
	for _, c := range charts.Series {
		byName[c.Name] = c
	}
	for _, sec := range story.Sections {
		for _, name := range sec.Charts {
			if c, ok := byName[name]; ok {
				data.Charts[sec.ScopeItemID] = append(data.Charts[sec.ScopeItemID], c)
			}
		}
	}

	out, err := RenderReport(&data)
	if err != nil {
		return err
	}
	if format := in.Session.Preferences.OutputFormat; format != "" && format != research.FormatMarkdown {
		in.logger().Info("markdown report written; no built-in renderer for format",
			"session_id", in.Session.ID, "format", format)
	}
	return ws.WriteOutput(ReportFile, out)
}

// RenderReport executes the report template.
func RenderReport(data *ReportData) ([]byte, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return buf.Bytes(), nil
}
