// Package progress projects a session into the numbers the status command
// shows: a coarse percent complete, per-scope coverage and the phase
// timeline. Nothing here writes or mutates session state.
package progress

import (
	"cmp"
	"slices"
	"time"

	"github.com/Iron-Ham/ralph/internal/phase"
	"github.com/Iron-Ham/ralph/internal/research"
)

// phasePercent is the percent complete on entering each phase. Execution
// and questions_review also credit half of the current coverage.
var phasePercent = map[research.Phase]float64{
	research.PhaseInitialResearch: 5,
	research.PhaseBriefBuilder:    15,
	research.PhasePlanning:        25,
	research.PhaseExecution:       25,
	research.PhaseQuestionsReview: 25,
	research.PhaseAggregation:     85,
	research.PhaseChartAnalysis:   88,
	research.PhaseStoryLining:     90,
	research.PhaseVisualDesign:    93,
	research.PhaseReporting:       95,
	research.PhaseEditing:         98,
	research.PhaseComplete:        100,
}

// Percent returns how far s has come, from 0 to 100. A failed session
// reports the value of the phase it failed in.
func Percent(s *research.Session) float64 {
	p := s.Phase
	if p == research.PhaseFailed && s.Failure != nil {
		p = s.Failure.Phase
	}
	v := phasePercent[p]
	if p == research.PhaseExecution || p == research.PhaseQuestionsReview {
		v += s.Coverage.Current * 0.5
	}
	return clamp(v)
}

// StepState is the position of one phase relative to the session.
type StepState string

// Step states.
const (
	StepDone    StepState = "done"
	StepCurrent StepState = "current"
	StepPending StepState = "pending"
	StepSkipped StepState = "skipped"
	StepFailed  StepState = "failed"
)

// Step is one entry of the phase timeline.
type Step struct {
	Phase research.Phase
	State StepState
}

// ScopeBar is the coverage of one scope item.
type ScopeBar struct {
	ID       string
	Topic    string
	Priority research.Priority
	Percent  float64
}

// Report is everything status renders for one session.
type Report struct {
	ID            string
	Query         string
	Phase         research.Phase
	Depth         research.Depth
	Format        string
	Tags          []string
	Percent       float64
	Coverage      float64
	Target        float64
	Iteration     int
	MaxIterations int
	Pending       int
	Completed     int
	Scopes        []ScopeBar
	Timeline      []Step
	ContinuedFrom string
	Failure       *research.Failure
	UpdatedAt     time.Time
}

// Build projects s. brief supplies scope topics and order; it may be nil,
// in which case scope items are listed by id.
func Build(s *research.Session, brief *research.Brief) *Report {
	r := &Report{
		ID:            s.ID,
		Query:         s.Query,
		Phase:         s.Phase,
		Depth:         s.Depth,
		Format:        s.Preferences.OutputFormat,
		Tags:          s.Tags,
		Percent:       Percent(s),
		Coverage:      s.Coverage.Current,
		Target:        s.Coverage.Target,
		Iteration:     s.Execution.Iteration,
		MaxIterations: s.Execution.MaxIterations,
		Pending:       s.Execution.TasksPending.Len(),
		Completed:     s.Execution.TasksCompleted.Len(),
		ContinuedFrom: s.ContinuedFrom,
		Failure:       s.Failure,
		UpdatedAt:     s.UpdatedAt,
	}
	r.Scopes = scopeBars(s, brief)
	r.Timeline = Timeline(s)
	return r
}

func scopeBars(s *research.Session, brief *research.Brief) []ScopeBar {
	var bars []ScopeBar
	if brief != nil {
		for _, item := range brief.ScopeItems {
			bars = append(bars, ScopeBar{
				ID:       item.ID,
				Topic:    item.Topic,
				Priority: item.Priority,
				Percent:  clamp(s.Coverage.ByScope[item.ID]),
			})
		}
		return bars
	}
	for id, pct := range s.Coverage.ByScope {
		bars = append(bars, ScopeBar{ID: id, Topic: id, Percent: clamp(pct)})
	}
	slices.SortFunc(bars, func(a, b ScopeBar) int { return cmp.Compare(a.ID, b.ID) })
	return bars
}

// Timeline lists the phases s can pass through with their state. The
// visual_design step is left out for formats that never need it.
func Timeline(s *research.Session) []Step {
	depth := s.Depth
	if _, err := research.SettingsFor(depth); err != nil {
		depth = research.DepthDeepDive
	}

	current := s.Phase
	if current == research.PhaseFailed && s.Failure != nil {
		current = s.Failure.Phase
	}
	finished := s.Phase.IsTerminal()

	var steps []Step
	seenCurrent := false
	for _, p := range phase.ReachablePhases(depth) {
		if p == research.PhaseFailed {
			continue
		}
		if p == research.PhaseVisualDesign && !s.Preferences.NeedsVisualDesign() && !s.Visited(p) {
			continue
		}
		st := Step{Phase: p}
		switch {
		case p == current && s.Phase == research.PhaseFailed:
			st.State = StepFailed
			seenCurrent = true
		case p == current && p == research.PhaseComplete:
			st.State = StepDone
			seenCurrent = true
		case p == current:
			st.State = StepCurrent
			seenCurrent = true
		case s.Visited(p):
			st.State = StepDone
		case finished || !seenCurrent:
			st.State = StepSkipped
		default:
			st.State = StepPending
		}
		steps = append(steps, st)
	}
	return steps
}

func clamp(v float64) float64 {
	return max(0, min(100, v))
}
