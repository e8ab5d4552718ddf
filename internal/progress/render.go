package progress

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/Iron-Ham/ralph/internal/util"
)

var (
	primaryColor = lipgloss.Color("#A78BFA")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#F87171")
	mutedColor   = lipgloss.Color("#9CA3AF")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	labelStyle   = lipgloss.NewStyle().Foreground(mutedColor).Width(10)
	headingStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)

	stepStyles = map[StepState]lipgloss.Style{
		StepDone:    lipgloss.NewStyle().Foreground(successColor),
		StepCurrent: lipgloss.NewStyle().Foreground(primaryColor).Bold(true),
		StepPending: lipgloss.NewStyle().Foreground(mutedColor),
		StepSkipped: lipgloss.NewStyle().Foreground(mutedColor).Faint(true),
		StepFailed:  lipgloss.NewStyle().Foreground(errorColor).Bold(true),
	}
	stepIcons = map[StepState]string{
		StepDone:    "✓",
		StepCurrent: "▶",
		StepPending: "·",
		StepSkipped: "-",
		StepFailed:  "✗",
	}

	priorityColors = map[research.Priority]lipgloss.Color{
		research.PriorityHigh:   errorColor,
		research.PriorityMedium: warningColor,
		research.PriorityLow:    mutedColor,
	}
)

// Options controls rendering.
type Options struct {
	// Width is the total width available; bars shrink to fit.
	Width int
}

const (
	defaultWidth = 80
	topicWidth   = 28
	minBarWidth  = 10
)

// Bar renders pct (0-100) as a fixed-width bar without a percentage label.
func Bar(pct float64, width int, color lipgloss.Color) string {
	bar := progress.New(
		progress.WithWidth(max(width, minBarWidth)),
		progress.WithSolidFill(string(color)),
		progress.WithoutPercentage(),
	)
	return bar.ViewAs(clamp(pct) / 100)
}

// Render draws the full status view of r.
func Render(r *Report, opts Options) string {
	width := opts.Width
	if width <= 0 {
		width = defaultWidth
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(util.TruncateString(r.Query, width)))
	b.WriteString("\n")
	meta := []string{r.ID, "depth " + string(r.Depth)}
	if r.Format != "" {
		meta = append(meta, "format "+r.Format)
	}
	if r.ContinuedFrom != "" {
		meta = append(meta, "continues "+r.ContinuedFrom)
	}
	b.WriteString(mutedStyle.Render(strings.Join(meta, " · ")))
	b.WriteString("\n\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	phaseText := string(r.Phase)
	if r.Iteration > 0 {
		phaseText += fmt.Sprintf(" (iteration %d/%d)", r.Iteration, r.MaxIterations)
	}
	row("Phase", phaseText)
	row("Progress", Bar(r.Percent, width-labelStyle.GetWidth()-6, primaryColor)+fmt.Sprintf(" %3.0f%%", r.Percent))
	if r.Target > 0 {
		row("Coverage", fmt.Sprintf("%.1f%% of %.0f%% target", r.Coverage, r.Target))
	}
	row("Tasks", fmt.Sprintf("%d completed, %d pending", r.Completed, r.Pending))
	if len(r.Tags) > 0 {
		row("Tags", strings.Join(r.Tags, ", "))
	}
	row("Updated", r.UpdatedAt.Local().Format("2006-01-02 15:04:05"))

	if len(r.Scopes) > 0 {
		b.WriteString(headingStyle.Render("Scope coverage"))
		b.WriteString("\n")
		barWidth := width - topicWidth - 18
		for _, sc := range r.Scopes {
			topic := util.PadRight(util.TruncateString(sc.ID+" "+sc.Topic, topicWidth), topicWidth)
			prio := ""
			if c, ok := priorityColors[sc.Priority]; ok {
				prio = lipgloss.NewStyle().Foreground(c).Render(string(sc.Priority))
			}
			fmt.Fprintf(&b, "  %s %s %s %3.0f%%\n", topic, util.PadRight(prio, 6), Bar(sc.Percent, barWidth, successColor), sc.Percent)
		}
	}

	if len(r.Timeline) > 0 {
		b.WriteString(headingStyle.Render("Phases"))
		b.WriteString("\n")
		for _, st := range r.Timeline {
			style := stepStyles[st.State]
			fmt.Fprintf(&b, "  %s %s\n", style.Render(stepIcons[st.State]), style.Render(string(st.Phase)))
		}
	}

	if r.Failure != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Failed"))
		fmt.Fprintf(&b, " in %s (%s): %s\n", r.Failure.Phase, r.Failure.Kind, r.Failure.Message)
	}
	return b.String()
}

// Line is the one-line summary printed as a run advances.
func Line(r *Report) string {
	parts := []string{fmt.Sprintf("[%s] %3.0f%%", r.Phase, r.Percent)}
	if r.Target > 0 && r.Iteration > 0 {
		parts = append(parts,
			fmt.Sprintf("coverage %.1f/%.0f", r.Coverage, r.Target),
			fmt.Sprintf("iteration %d/%d", r.Iteration, r.MaxIterations),
		)
	}
	if r.Pending > 0 {
		parts = append(parts, fmt.Sprintf("%d pending", r.Pending))
	}
	return strings.Join(parts, "  ")
}
