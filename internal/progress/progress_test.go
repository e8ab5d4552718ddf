package progress

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/ralph/internal/research"
)

func session(p research.Phase, depth research.Depth, history ...research.Phase) *research.Session {
	s := &research.Session{
		ID:          "20240501_bitcoin",
		Query:       "bitcoin etf flows",
		Phase:       p,
		Depth:       depth,
		Preferences: research.Preferences{Depth: depth, OutputFormat: research.FormatMarkdown},
		UpdatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	from := research.PhaseInitialResearch
	for _, to := range history {
		s.History = append(s.History, research.Transition{From: from, To: to})
		from = to
	}
	return s
}

func TestPercent(t *testing.T) {
	tests := []struct {
		name     string
		phase    research.Phase
		coverage float64
		failure  *research.Failure
		want     float64
	}{
		{"initial", research.PhaseInitialResearch, 0, nil, 5},
		{"planning", research.PhasePlanning, 0, nil, 25},
		{"execution credits coverage", research.PhaseExecution, 60, nil, 55},
		{"review at full coverage", research.PhaseQuestionsReview, 100, nil, 75},
		{"aggregation", research.PhaseAggregation, 100, nil, 85},
		{"complete", research.PhaseComplete, 100, nil, 100},
		{"failed uses failure phase", research.PhaseFailed, 0, &research.Failure{Phase: research.PhaseReporting}, 95},
		{"failed without record", research.PhaseFailed, 0, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := session(tt.phase, research.DepthStandard)
			s.Coverage.Current = tt.coverage
			s.Failure = tt.failure
			assert.InDelta(t, tt.want, Percent(s), 0.001)
		})
	}
}

func TestPercent_NeverDecreasesAlongThePipeline(t *testing.T) {
	prev := -1.0
	for _, p := range research.AllPhases() {
		if p == research.PhaseFailed {
			continue
		}
		v := Percent(session(p, research.DepthDeepDive))
		assert.GreaterOrEqual(t, v, prev, p)
		prev = v
	}
}

func TestTimeline(t *testing.T) {
	s := session(research.PhaseQuestionsReview, research.DepthStandard,
		research.PhaseBriefBuilder, research.PhasePlanning, research.PhaseExecution, research.PhaseQuestionsReview)

	states := map[research.Phase]StepState{}
	var order []research.Phase
	for _, st := range Timeline(s) {
		states[st.Phase] = st.State
		order = append(order, st.Phase)
	}

	assert.NotContains(t, order, research.PhaseChartAnalysis)
	assert.NotContains(t, order, research.PhaseEditing)
	assert.NotContains(t, order, research.PhaseVisualDesign)
	assert.NotContains(t, order, research.PhaseFailed)
	assert.Equal(t, StepDone, states[research.PhaseInitialResearch])
	assert.Equal(t, StepDone, states[research.PhaseExecution])
	assert.Equal(t, StepCurrent, states[research.PhaseQuestionsReview])
	assert.Equal(t, StepPending, states[research.PhaseAggregation])
	assert.Equal(t, StepPending, states[research.PhaseComplete])
}

func TestTimeline_TerminalStates(t *testing.T) {
	done := session(research.PhaseComplete, research.DepthDeepDive,
		research.PhaseBriefBuilder, research.PhasePlanning, research.PhaseExecution, research.PhaseQuestionsReview,
		research.PhaseAggregation, research.PhaseStoryLining, research.PhaseReporting, research.PhaseEditing, research.PhaseComplete)
	for _, st := range Timeline(done) {
		switch st.Phase {
		case research.PhaseChartAnalysis:
			assert.Equal(t, StepSkipped, st.State)
		default:
			assert.Equal(t, StepDone, st.State, st.Phase)
		}
	}

	failed := session(research.PhaseFailed, research.DepthStandard,
		research.PhaseBriefBuilder, research.PhasePlanning, research.PhaseFailed)
	failed.Failure = &research.Failure{Kind: "planning_failure", Phase: research.PhasePlanning, Message: "zero tasks"}
	states := map[research.Phase]StepState{}
	for _, st := range Timeline(failed) {
		states[st.Phase] = st.State
	}
	assert.Equal(t, StepFailed, states[research.PhasePlanning])
	assert.Equal(t, StepSkipped, states[research.PhaseExecution])
}

func TestBuild_ScopeBars(t *testing.T) {
	s := session(research.PhaseExecution, research.DepthStandard)
	s.Coverage = research.Coverage{Current: 50, Target: 80, ByScope: map[string]float64{"s1": 100, "s2": 0, "s9": 130}}

	brief := &research.Brief{ScopeItems: []research.ScopeItem{
		{ID: "s2", Topic: "flows", Priority: research.PriorityMedium},
		{ID: "s1", Topic: "overview", Priority: research.PriorityHigh},
	}}
	r := Build(s, brief)
	require.Len(t, r.Scopes, 2)
	assert.Equal(t, "s2", r.Scopes[0].ID)
	assert.Equal(t, "flows", r.Scopes[0].Topic)
	assert.Equal(t, 100.0, r.Scopes[1].Percent)

	r = Build(s, nil)
	require.Len(t, r.Scopes, 3)
	assert.Equal(t, []string{"s1", "s2", "s9"}, []string{r.Scopes[0].ID, r.Scopes[1].ID, r.Scopes[2].ID})
	assert.Equal(t, 100.0, r.Scopes[2].Percent)
	assert.InDelta(t, 50, r.Percent, 0.001)
}

func TestRender(t *testing.T) {
	s := session(research.PhaseExecution, research.DepthStandard,
		research.PhaseBriefBuilder, research.PhasePlanning, research.PhaseExecution)
	s.Coverage = research.Coverage{Current: 40, Target: 80, ByScope: map[string]float64{"s1": 80}}
	s.Execution.Iteration, s.Execution.MaxIterations = 1, 2
	s.Execution.Enqueue("d1")
	s.Tags = []string{"bitcoin", "etf"}

	brief := &research.Brief{ScopeItems: []research.ScopeItem{{ID: "s1", Topic: "daily flows", Priority: research.PriorityHigh}}}
	out := ansi.Strip(Render(Build(s, brief), Options{Width: 70}))

	assert.Contains(t, out, "bitcoin etf flows")
	assert.Contains(t, out, "depth standard")
	assert.Contains(t, out, "execution (iteration 1/2)")
	assert.Contains(t, out, "40.0% of 80% target")
	assert.Contains(t, out, "0 completed, 1 pending")
	assert.Contains(t, out, "s1 daily flows")
	assert.Contains(t, out, "▶ execution")
	assert.Contains(t, out, "✓ planning")
	assert.NotContains(t, out, "Failed")
	for _, line := range strings.Split(out, "\n") {
		assert.LessOrEqual(t, ansi.StringWidth(line), 70, line)
	}
}

func TestRender_Failure(t *testing.T) {
	s := session(research.PhaseFailed, research.DepthStandard, research.PhaseFailed)
	s.Failure = &research.Failure{Kind: "invalid_transition", Phase: research.PhaseChartAnalysis, Message: "phase is not reachable at depth standard"}

	out := ansi.Strip(Render(Build(s, nil), Options{}))
	assert.Contains(t, out, "Failed in chart_analysis (invalid_transition): phase is not reachable at depth standard")
}

func TestLine(t *testing.T) {
	s := session(research.PhaseExecution, research.DepthStandard)
	s.Coverage = research.Coverage{Current: 40, Target: 80}
	s.Execution.Iteration, s.Execution.MaxIterations = 1, 2
	s.Execution.Enqueue("d1")
	s.Execution.Enqueue("d2")

	assert.Equal(t, "[execution]  45%  coverage 40.0/80  iteration 1/2  2 pending", Line(Build(s, nil)))
	assert.Equal(t, "[planning]  25%", Line(Build(session(research.PhasePlanning, research.DepthStandard), nil)))
}
