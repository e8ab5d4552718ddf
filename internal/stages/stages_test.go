package stages

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/ralph/internal/config"
	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/Iron-Ham/ralph/internal/session"
)

var testNow = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func newInput(t *testing.T, s *research.Session) *Input {
	t.Helper()
	return &Input{Session: s, Workspace: session.NewWorkspace(t.TempDir()), Now: testNow}
}

func TestExtractTags(t *testing.T) {
	got := ExtractTags("How do Bitcoin ETF flows affect the BTC price? Flows, flows!")
	assert.Equal(t, []string{"bitcoin", "etf", "flows", "affect", "btc", "price"}, got)
}

func TestExtractEntities(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"How do Bitcoin ETF flows affect price?", []string{"Bitcoin ETF"}},
		{"Compare Aave, Compound and MakerDAO lending rates", []string{"Aave", "Compound", "MakerDAO"}},
		{"SEC rules for stablecoins", []string{"SEC"}},
		{"what is restaking", nil},
		{"Solana vs Ethereum", []string{"Solana", "Ethereum"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractEntities(tt.query))
		})
	}
}

func TestInitialResearch(t *testing.T) {
	in := newInput(t, &research.Session{ID: "s", Query: "Bitcoin ETF flows", Tags: []string{"crypto"}})
	require.NoError(t, InitialResearch{}.Run(context.Background(), in))

	assert.Equal(t, []string{"crypto", "bitcoin", "etf", "flows"}, in.Session.Tags)
	assert.Equal(t, []string{"Bitcoin ETF"}, in.Session.Entities)

	var art InitialResearchArtifact
	require.NoError(t, in.Workspace.ReadJSON(session.InitialResearchFile, &art))
	assert.Equal(t, in.Session.Tags, art.Tags)
	assert.True(t, art.CreatedAt.Equal(testNow))
}

func TestBriefBuilder_Derived(t *testing.T) {
	prefs := research.Preferences{Depth: research.DepthStandard, OutputFormat: research.FormatMarkdown, Audience: "investors"}
	in := newInput(t, &research.Session{
		ID:          "s",
		Query:       "Bitcoin ETF flows",
		Depth:       research.DepthStandard,
		Preferences: prefs,
		Entities:    []string{"Bitcoin ETF"},
	})
	require.NoError(t, BriefBuilder{}.Run(context.Background(), in))

	brief, err := in.Workspace.LoadBrief()
	require.NoError(t, err)
	assert.Equal(t, "Bitcoin ETF flows", brief.Goal)
	assert.Equal(t, prefs, brief.Preferences)

	var types []research.ScopeType
	var ids []string
	for _, item := range brief.ScopeItems {
		types = append(types, item.Type)
		ids = append(ids, item.ID)
		assert.NotEmpty(t, item.Questions)
	}
	assert.Equal(t, []research.ScopeType{research.ScopeOverview, research.ScopeData, research.ScopeResearch}, types)
	assert.Equal(t, []string{"s1", "s2", "s3"}, ids)
}

func TestDeriveBrief_DeepAddsLiterature(t *testing.T) {
	b := DeriveBrief("restaking risks", nil, research.DepthDeepDive)
	require.Len(t, b.ScopeItems, 2)
	assert.Equal(t, research.ScopeLiteratureReview, b.ScopeItems[1].Type)
	assert.Equal(t, research.PriorityLow, b.ScopeItems[1].Priority)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadBriefFile(t *testing.T) {
	path := writeFile(t, "brief.yaml", `
goal: Understand ETF demand
scope_items:
  - topic: ETF flows
    type: data
    priority: high
    questions: [daily flows, cumulative flows]
  - topic: Price impact
preferences:
  depth: comprehensive
`)
	b, err := LoadBriefFile(path)
	require.NoError(t, err)
	require.Len(t, b.ScopeItems, 2)
	assert.Empty(t, b.ScopeItems[0].ID, "ids are assigned by brief_builder")
	assert.Equal(t, research.ScopeResearch, b.ScopeItems[1].Type)
	assert.Equal(t, research.PriorityMedium, b.ScopeItems[1].Priority)
	assert.Equal(t, research.DepthComprehensive, b.Preferences.Depth)

	jsonPath := writeFile(t, "brief.json", `{"goal":"g","scope_items":[{"topic":"t","type":"fact_check","priority":"low"}]}`)
	b, err = LoadBriefFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, research.ScopeFactCheck, b.ScopeItems[0].Type)
}

func TestLoadBriefFile_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown key":   "goal: g\nscope: []\n",
		"bad type":      "scope_items:\n  - topic: t\n    type: poetry\n",
		"missing topic": "scope_items:\n  - type: data\n",
		"bad depth":     "preferences:\n  depth: bottomless\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadBriefFile(writeFile(t, "brief.yaml", content))
			assert.ErrorIs(t, err, errors.ErrInvalidInput)
		})
	}
}

func TestBriefBuilder_Seeded(t *testing.T) {
	in := newInput(t, &research.Session{
		ID:          "s",
		Query:       "q",
		Depth:       research.DepthExecutive,
		Preferences: research.Preferences{Depth: research.DepthExecutive},
	})
	seed := &research.Brief{ScopeItems: []research.ScopeItem{
		{Topic: "a", Type: research.ScopeData, Priority: research.PriorityHigh},
		{ID: "s7", Topic: "b", Type: research.ScopeResearch, Priority: research.PriorityLow},
		{Topic: "c", Type: research.ScopeOverview, Priority: research.PriorityMedium},
	}}
	require.NoError(t, SaveSeed(in.Workspace, seed))
	require.NoError(t, BriefBuilder{}.Run(context.Background(), in))

	brief, err := in.Workspace.LoadBrief()
	require.NoError(t, err)
	var ids []string
	for _, item := range brief.ScopeItems {
		ids = append(ids, item.ID)
	}
	assert.Equal(t, []string{"s8", "s7", "s9"}, ids)
	assert.Equal(t, "q", brief.Goal)
	assert.Equal(t, research.DepthExecutive, brief.Preferences.Depth)
}

func TestMergeContinuation(t *testing.T) {
	base := &research.Brief{Goal: "DeFi lending", ScopeItems: []research.ScopeItem{
		{ID: "s1", Topic: "Rates", Type: research.ScopeData, Priority: research.PriorityHigh, AddedInContinuation: true},
		{ID: "s2", Topic: "Risks", Type: research.ScopeResearch, Priority: research.PriorityMedium},
	}}

	t.Run("context only", func(t *testing.T) {
		got := MergeContinuation(base, nil, "add competitor section")
		require.Len(t, got.ScopeItems, 3)
		assert.False(t, got.ScopeItems[0].Flagged(), "inherited flags are cleared")
		added := got.ScopeItems[2]
		assert.Equal(t, "s3", added.ID)
		assert.True(t, added.AddedInContinuation)
		assert.Equal(t, research.PriorityHigh, added.Priority)
		assert.Equal(t, []string{"add competitor section"}, added.Questions)
		assert.Contains(t, got.Goal, "add competitor section")
		assert.True(t, base.ScopeItems[0].AddedInContinuation, "base is untouched")
	})

	t.Run("seed updates and adds", func(t *testing.T) {
		seed := &research.Brief{ScopeItems: []research.ScopeItem{
			{ID: "s2", Topic: "Risks incl. oracles", Type: research.ScopeResearch, Priority: research.PriorityHigh},
			{Topic: "Competitors", Type: research.ScopeResearch, Priority: research.PriorityMedium},
		}}
		got := MergeContinuation(base, seed, "ignored as a scope item")
		require.Len(t, got.ScopeItems, 3)
		assert.True(t, got.ScopeItems[1].UpdatedInContinuation)
		assert.Equal(t, "Risks incl. oracles", got.ScopeItems[1].Topic)
		assert.Equal(t, "s3", got.ScopeItems[2].ID)
		assert.True(t, got.ScopeItems[2].AddedInContinuation)

		var flagged []string
		for _, item := range got.ScopeItems {
			if item.Flagged() {
				flagged = append(flagged, item.ID)
			}
		}
		assert.Equal(t, []string{"s2", "s3"}, flagged)
	})
}

func TestBriefBuilder_Continuation(t *testing.T) {
	in := newInput(t, &research.Session{
		ID:                "child",
		Query:             "DeFi lending",
		Depth:             research.DepthDeepDive,
		Preferences:       research.Preferences{Depth: research.DepthDeepDive},
		IsContinuation:    true,
		AdditionalContext: "add competitor section",
	})
	require.NoError(t, in.Workspace.SaveBrief(&research.Brief{Goal: "DeFi lending", ScopeItems: []research.ScopeItem{
		{ID: "s1", Topic: "Rates", Type: research.ScopeData, Priority: research.PriorityHigh, Questions: []string{}},
	}}))
	require.NoError(t, BriefBuilder{}.Run(context.Background(), in))

	brief, err := in.Workspace.LoadBrief()
	require.NoError(t, err)
	require.Len(t, brief.ScopeItems, 2)
	assert.False(t, brief.ScopeItems[0].Flagged())
	assert.True(t, brief.ScopeItems[1].AddedInContinuation)
}

// seedEvidence fills a workspace with the artifacts aggregation reads.
func seedEvidence(t *testing.T, ws *session.Workspace) *research.Session {
	t.Helper()
	require.NoError(t, ws.SaveBrief(&research.Brief{Goal: "ETF demand", ScopeItems: []research.ScopeItem{
		{ID: "s1", Topic: "Price impact", Type: research.ScopeResearch, Priority: research.PriorityMedium, Questions: []string{"volatility"}},
		{ID: "s2", Topic: "ETF flows", Type: research.ScopeData, Priority: research.PriorityHigh, Questions: []string{"daily flows", "aum"}},
	}}))
	require.NoError(t, ws.AddTasks(
		research.Task{ID: "d1", ScopeItemID: "s2", Kind: research.KindData, Topic: "ETF flows"},
		research.Task{ID: "d2", ScopeItemID: "s2", Kind: research.KindData, Topic: "ETF flows"},
		research.Task{ID: "r1", ScopeItemID: "s1", Kind: research.KindResearch, Topic: "Price impact"},
		research.Task{ID: "x1", ScopeItemID: "gone", Kind: research.KindResearch},
	))
	cite := research.Citation{Title: "Farside", URL: "https://farside.co.uk"}
	for _, r := range []*research.Result{
		{TaskID: "d1", Status: research.StatusDone, CoveredAspects: []string{"daily flows"}, Citations: []research.Citation{cite}},
		{TaskID: "d2", Status: research.StatusPartial, CoveredAspects: []string{"daily flows"}, Citations: []research.Citation{cite, {Source: "issuer filings"}}},
		{TaskID: "r1", Status: research.StatusFailed, Errors: []research.ResultError{{Error: "timeout"}}},
		{TaskID: "x1", Status: research.StatusDone},
		{TaskID: "p9", Status: research.StatusDone},
	} {
		_, err := ws.WriteResult(r)
		require.NoError(t, err)
	}
	require.NoError(t, ws.WriteSeries("d1", json.RawMessage(`[{"t":"2024-01-01","v":100},{"t":"2024-01-02","v":80},{"t":"2024-01-03","v":150}]`)))
	require.NoError(t, ws.WriteCoverageReport(&research.CoverageReport{Iteration: 1, ByScope: []research.ScopeCoverage{
		{ScopeItemID: "s1", Missing: []string{"volatility"}},
		{ScopeItemID: "s2", Missing: []string{"aum"}},
	}}))

	return &research.Session{
		ID:          "s",
		Query:       "Bitcoin ETF demand",
		Depth:       research.DepthDeepDive,
		Preferences: research.Preferences{Depth: research.DepthDeepDive, OutputFormat: research.FormatHTML, Audience: "analysts"},
		Coverage:    research.Coverage{Current: 57, Target: 95, ByScope: map[string]float64{"s1": 0, "s2": 50}},
		Execution: research.Execution{
			TasksCompleted: research.NewIDSet("d1", "d2", "r1", "x1"),
		},
	}
}

func TestAggregation(t *testing.T) {
	in := newInput(t, nil)
	in.Session = seedEvidence(t, in.Workspace)
	require.NoError(t, Aggregation{}.Run(context.Background(), in))

	var agg AggregationArtifact
	require.NoError(t, in.Workspace.ReadJSON(session.AggregationFile, &agg))

	assert.Equal(t, AggregationStats{Tasks: 4, Succeeded: 2, Failed: 1, Orphaned: 1}, agg.Stats)
	require.Len(t, agg.Scopes, 2)

	impact, flows := agg.Scopes[0], agg.Scopes[1]
	assert.Equal(t, []string{"r1"}, impact.FailedTasks)
	assert.Equal(t, []string{"volatility"}, impact.Gaps)
	assert.Empty(t, impact.Findings)

	assert.Len(t, flows.Findings, 2)
	assert.Len(t, flows.Citations, 2)
	assert.Equal(t, 50.0, flows.Coverage)
	assert.Len(t, agg.Citations, 2, "citations are de-duplicated across results")
}

func TestSummarizeSeries(t *testing.T) {
	s := SummarizeSeries([]byte(`[{"t":"a","v":100},{"t":"b","v":80},{"t":"c","v":150}]`))
	want := SeriesSummary{Points: 3, Start: "a", End: "c", First: 100, Last: 150, Min: 80, Max: 150, Mean: 110, ChangePct: 50, Trend: "up"}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	bare := SummarizeSeries([]byte(`[3, 2, 1]`))
	assert.Equal(t, "down", bare.Trend)
	assert.Equal(t, 3, bare.Points)

	assert.Equal(t, "empty", SummarizeSeries([]byte(`[]`)).Trend)
	assert.NotEmpty(t, SummarizeSeries([]byte(`{"oops":1}`)).Error)
}

func TestBuildStory_PriorityOrder(t *testing.T) {
	agg := &AggregationArtifact{
		Coverage: 60, Target: 80,
		Scopes: []ScopeFindings{
			{ScopeItemID: "s1", Topic: "low", Priority: research.PriorityLow},
			{ScopeItemID: "s2", Topic: "high a", Priority: research.PriorityHigh, Findings: []Finding{
				{CoveredAspects: []string{"x", "y"}}, {CoveredAspects: []string{"y"}},
			}},
			{ScopeItemID: "s3", Topic: "medium", Priority: research.PriorityMedium},
			{ScopeItemID: "s4", Topic: "high b", Priority: research.PriorityHigh},
		},
	}
	story := BuildStory(&research.Session{Query: "q"}, agg, nil, &ChartsArtifact{})

	var titles []string
	for _, sec := range story.Sections {
		titles = append(titles, sec.Title)
	}
	assert.Equal(t, []string{"high a", "high b", "medium", "low"}, titles)
	assert.Equal(t, []string{"x", "y"}, story.Sections[0].KeyPoints)
	assert.NotEmpty(t, story.Summary)
}

func TestLayout(t *testing.T) {
	story := &StoryArtifact{Title: "T", Sections: []Section{
		{ScopeItemID: "s1", Title: "A", KeyPoints: []string{"k"}, Charts: []string{"d1"}},
		{ScopeItemID: "s2", Title: "B", Gaps: []string{"g"}},
	}}

	full := Layout(research.Preferences{OutputFormat: research.FormatPDF}, story)
	var kinds []string
	for _, b := range full.Blocks {
		kinds = append(kinds, b.Kind)
	}
	assert.Equal(t, []string{
		BlockHeading, BlockSummary,
		BlockHeading, BlockText, BlockChart, BlockTable,
		BlockHeading, BlockText, BlockGaps,
		BlockCitations,
	}, kinds)

	bare := Layout(research.Preferences{OutputFormat: research.FormatHTML, Components: []string{BlockTable}}, story)
	for _, b := range bare.Blocks {
		assert.NotContains(t, []string{BlockChart, BlockSummary, BlockCitations}, b.Kind)
	}
}

func TestPostExecutionStages(t *testing.T) {
	in := newInput(t, nil)
	in.Session = seedEvidence(t, in.Workspace)
	set := Defaults()
	ctx := context.Background()

	for _, p := range []research.Phase{
		research.PhaseAggregation,
		research.PhaseChartAnalysis,
		research.PhaseStoryLining,
		research.PhaseVisualDesign,
		research.PhaseReporting,
		research.PhaseEditing,
	} {
		in.Session.Phase = p
		require.NoError(t, set.Run(ctx, in), p)
		assert.True(t, in.Workspace.Has(artifacts[p]), "%s wrote no artifact", p)
	}

	var charts ChartsArtifact
	require.NoError(t, in.Workspace.ReadJSON(session.ChartsFile, &charts))
	require.Len(t, charts.Series, 1)
	assert.Equal(t, "d1", charts.Series[0].Name)

	report, err := in.Workspace.ReadOutput(ReportFile)
	require.NoError(t, err)
	text := string(report)
	assert.True(t, strings.HasPrefix(text, "# Bitcoin ETF demand\n"))
	assert.Contains(t, text, tocHeading)
	assert.Contains(t, text, "- [ETF flows](#etf-flows)")
	assert.Contains(t, text, "## ETF flows")
	assert.Contains(t, text, "| d1 | 3 |")
	assert.Contains(t, text, "[Farside](https://farside.co.uk)")
	assert.Contains(t, text, "### Open questions")
	assert.Less(t, strings.Index(text, "## ETF flows"), strings.Index(text, "## Price impact"), "high priority first")
	assert.NotContains(t, text, "\n\n\n")

	again, _ := EditReport(text)
	assert.Equal(t, text, again, "editing is idempotent")
}

func TestEditReport(t *testing.T) {
	in := "# Title  \n_goal_\n\n\n\n## One\ntext \n## Two\n"
	out, art := EditReport(in)
	assert.Equal(t, "# Title\n_goal_\n\n## Contents\n\n- [One](#one)\n- [Two](#two)\n\n## One\ntext\n## Two\n", out)
	assert.True(t, art.TOCAdded)
	assert.Equal(t, 2, art.LinesTrimmed)
	assert.Equal(t, []string{"One", "Two"}, art.Headings)
}

func TestAnchor(t *testing.T) {
	assert.Equal(t, "etf-flows--aum", Anchor("ETF flows & AUM"))
	assert.Equal(t, "key-metrics-bitcoin", Anchor("Key metrics: Bitcoin"))
}

func TestCommandStage(t *testing.T) {
	script := func(body string) config.CommandConfig {
		return config.CommandConfig{Command: "/bin/sh", Args: []string{"-c", body}}
	}
	sess := func() *research.Session {
		return &research.Session{ID: "s", Phase: research.PhaseInitialResearch, Query: "q", Tags: []string{"cli"}}
	}

	t.Run("writes artifact and reply", func(t *testing.T) {
		in := newInput(t, sess())
		st := NewCommandStage(research.PhaseInitialResearch, script(
			`cat > /dev/null; echo '{}' > "$RALPH_SESSION_DIR/initial_research.json"; echo '{"tags":["ext"],"entities":["Acme"]}'`,
		))
		require.NoError(t, st.Run(context.Background(), in))
		assert.Equal(t, []string{"cli", "ext"}, in.Session.Tags)
		assert.Equal(t, []string{"Acme"}, in.Session.Entities)
	})

	t.Run("non-zero exit", func(t *testing.T) {
		in := newInput(t, sess())
		err := NewCommandStage(research.PhaseInitialResearch, script(`echo nope >&2; exit 3`)).Run(context.Background(), in)
		require.ErrorIs(t, err, errors.ErrStageFailure)
		assert.Contains(t, err.Error(), "nope")
	})

	t.Run("missing artifact", func(t *testing.T) {
		in := newInput(t, sess())
		in.Session.Phase = research.PhaseStoryLining
		err := NewCommandStage(research.PhaseStoryLining, script(`true`)).Run(context.Background(), in)
		require.ErrorIs(t, err, errors.ErrStageFailure)
		assert.Contains(t, err.Error(), session.StoryFile)
	})
}

func TestFromConfig(t *testing.T) {
	set := FromConfig(map[string]config.CommandConfig{
		"reporting": {Command: "render"},
		"editing":   {},
		"execution": {Command: "ignored"},
	})
	_, ok := set[research.PhaseReporting].(*CommandStage)
	assert.True(t, ok)
	assert.IsType(t, Editing{}, set[research.PhaseEditing])
	_, err := set.For(research.PhaseExecution)
	assert.ErrorIs(t, err, errors.ErrStageFailure)
}

type failingStage struct{ err error }

func (failingStage) Phase() research.Phase { return research.PhaseStoryLining }

func (f failingStage) Run(context.Context, *Input) error { return f.err }

func TestSetRun_WrapsErrors(t *testing.T) {
	set := Defaults().With(failingStage{err: errors.New("boom")})
	in := newInput(t, &research.Session{ID: "s", Phase: research.PhaseStoryLining})

	err := set.Run(context.Background(), in)
	require.ErrorIs(t, err, errors.ErrStageFailure)
	assert.Equal(t, "stage_failure", errors.Kind(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = set.Run(ctx, in)
	assert.ErrorIs(t, err, errors.ErrCancelled)
}
