// Package phase owns the research pipeline's phase graph.
//
// The graph is declared once as a list of edges. Each edge may be limited
// to certain depths (a static property, used to enumerate the phases a
// session can ever reach) and may carry a predicate over the session and
// the side inputs supplied by the caller (series availability and the
// coverage decision). Advance picks the first edge out of the current phase
// whose depth set and predicate both match.
package phase

import (
	"slices"
	"time"

	"github.com/Iron-Ham/ralph/internal/research"
)

// Inputs are the side inputs Advance depends on besides the session itself.
type Inputs struct {
	// SeriesAvailable reports whether the session's series directory is
	// non-empty.
	SeriesAvailable bool
	// Decision is the coverage evaluator's verdict. It is required when
	// leaving questions_review and rejected anywhere else.
	Decision research.Decision
	// Reason is recorded in the transition history.
	Reason string
	// At timestamps the transition.
	At time.Time
}

// Edge is one arc of the phase graph.
type Edge struct {
	From research.Phase
	To   research.Phase
	// Depths limits the edge to these depths. Empty means every depth.
	Depths []research.Depth
	// When must hold for the edge to be taken. Nil means always.
	When func(s *research.Session, in Inputs) bool
}

func (e Edge) allows(d research.Depth) bool {
	return len(e.Depths) == 0 || slices.Contains(e.Depths, d)
}

func onDecision(d research.Decision) func(*research.Session, Inputs) bool {
	return func(_ *research.Session, in Inputs) bool { return in.Decision == d }
}

var deepDiveOnly = []research.Depth{research.DepthDeepDive}

// edges is ordered: for a given From, earlier edges win.
var edges = []Edge{
	{From: research.PhaseInitialResearch, To: research.PhaseBriefBuilder},
	{From: research.PhaseBriefBuilder, To: research.PhasePlanning},
	{From: research.PhasePlanning, To: research.PhaseExecution},
	{From: research.PhaseExecution, To: research.PhaseQuestionsReview},
	{From: research.PhaseQuestionsReview, To: research.PhaseExecution, When: onDecision(research.DecisionContinue)},
	{From: research.PhaseQuestionsReview, To: research.PhaseAggregation, When: onDecision(research.DecisionAdvance)},
	{
		From:   research.PhaseAggregation,
		To:     research.PhaseChartAnalysis,
		Depths: deepDiveOnly,
		When:   func(_ *research.Session, in Inputs) bool { return in.SeriesAvailable },
	},
	{From: research.PhaseAggregation, To: research.PhaseStoryLining},
	{From: research.PhaseChartAnalysis, To: research.PhaseStoryLining},
	{
		From: research.PhaseStoryLining,
		To:   research.PhaseVisualDesign,
		When: func(s *research.Session, _ Inputs) bool { return s.Preferences.NeedsVisualDesign() },
	},
	{From: research.PhaseStoryLining, To: research.PhaseReporting},
	{From: research.PhaseVisualDesign, To: research.PhaseReporting},
	{From: research.PhaseReporting, To: research.PhaseEditing, Depths: deepDiveOnly},
	{From: research.PhaseReporting, To: research.PhaseComplete},
	{From: research.PhaseEditing, To: research.PhaseComplete},
}

// ReachablePhases enumerates every phase a session of the given depth can
// ever occupy, in pipeline order. Failed is always reachable.
func ReachablePhases(depth research.Depth) []research.Phase {
	seen := map[research.Phase]bool{research.PhaseInitialResearch: true, research.PhaseFailed: true}
	queue := []research.Phase{research.PhaseInitialResearch}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range edges {
			if e.From == cur && e.allows(depth) && !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}

	var out []research.Phase
	for _, p := range research.AllPhases() {
		if seen[p] {
			out = append(out, p)
		}
	}
	return out
}

// IsReachable reports whether depth can ever put a session in p.
func IsReachable(depth research.Depth, p research.Phase) bool {
	return slices.Contains(ReachablePhases(depth), p)
}
