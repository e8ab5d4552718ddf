package research

import (
	"fmt"
	"slices"
)

// Phase is a named stage of the research pipeline.
type Phase string

const (
	PhaseInitialResearch Phase = "initial_research"
	PhaseBriefBuilder    Phase = "brief_builder"
	PhasePlanning        Phase = "planning"
	PhaseExecution       Phase = "execution"
	PhaseQuestionsReview Phase = "questions_review"
	PhaseAggregation     Phase = "aggregation"
	PhaseChartAnalysis   Phase = "chart_analysis"
	PhaseStoryLining     Phase = "story_lining"
	PhaseVisualDesign    Phase = "visual_design"
	PhaseReporting       Phase = "reporting"
	PhaseEditing         Phase = "editing"
	PhaseComplete        Phase = "complete"
	PhaseFailed          Phase = "failed"
)

// AllPhases returns every phase in pipeline order, failed last.
func AllPhases() []Phase {
	return []Phase{
		PhaseInitialResearch,
		PhaseBriefBuilder,
		PhasePlanning,
		PhaseExecution,
		PhaseQuestionsReview,
		PhaseAggregation,
		PhaseChartAnalysis,
		PhaseStoryLining,
		PhaseVisualDesign,
		PhaseReporting,
		PhaseEditing,
		PhaseComplete,
		PhaseFailed,
	}
}

// IsTerminal reports whether no transition may leave p.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// IsLoop reports whether p belongs to the execution/questions_review cycle,
// the only phases that may be entered more than once.
func (p Phase) IsLoop() bool {
	return p == PhaseExecution || p == PhaseQuestionsReview
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return slices.Contains(AllPhases(), p)
}

// ParsePhase validates a phase name.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}
