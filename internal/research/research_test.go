package research

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDSet(t *testing.T) {
	var s IDSet
	assert.True(t, s.Add("o1"))
	assert.True(t, s.Add("d1"))
	assert.False(t, s.Add("o1"))
	assert.Equal(t, []string{"o1", "d1"}, s.Items())

	assert.True(t, s.Remove("o1"))
	assert.False(t, s.Remove("o1"))
	assert.Equal(t, 1, s.Len())
}

func TestIDSet_JSON(t *testing.T) {
	var empty IDSet
	b, err := json.Marshal(empty)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))

	var s IDSet
	require.NoError(t, json.Unmarshal([]byte(`["a","b","a"]`), &s))
	assert.Equal(t, []string{"a", "b"}, s.Items())
}

func TestExecution_CompleteIsIdempotent(t *testing.T) {
	e := Execution{TasksPending: NewIDSet("o1", "d1")}
	e.Complete("o1")
	e.Complete("o1")

	assert.Equal(t, []string{"d1"}, e.TasksPending.Items())
	assert.Equal(t, []string{"o1"}, e.TasksCompleted.Items())
	assert.False(t, e.Enqueue("o1"), "completed ids must not return to pending")
}

func TestSettingsFor(t *testing.T) {
	tests := []struct {
		depth Depth
		want  DepthSettings
	}{
		{DepthExecutive, DepthSettings{DepthExecutive, 1, 1, 70}},
		{DepthStandard, DepthSettings{DepthStandard, 2, 2, 80}},
		{DepthComprehensive, DepthSettings{DepthComprehensive, 3, 3, 90}},
		{DepthDeepDive, DepthSettings{DepthDeepDive, 4, 4, 95}},
	}
	for _, tt := range tests {
		t.Run(string(tt.depth), func(t *testing.T) {
			got, err := SettingsFor(tt.depth)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := SettingsFor("huge")
	assert.Error(t, err)
	_, err = ParseDepth("huge")
	assert.Error(t, err)
}

func TestIDAllocator(t *testing.T) {
	a := NewIDAllocator([]string{"o1", "o2", "d1", "c_r7", "garbage"}, false)
	assert.Equal(t, "o3", a.Next(KindOverview))
	assert.Equal(t, "d2", a.Next(KindData))
	assert.Equal(t, "r8", a.Next(KindResearch))
	assert.Equal(t, "l1", a.Next(KindLiterature))
	assert.Equal(t, "f1", a.Next(KindFactCheck))

	c := NewIDAllocator([]string{"o1", "d4"}, true)
	assert.Equal(t, "c_d5", c.Next(KindData))
	assert.Equal(t, "c_o2", c.Next(KindOverview))
}

func TestScopeType_TaskKind(t *testing.T) {
	k, err := ScopeLiteratureReview.TaskKind()
	require.NoError(t, err)
	assert.Equal(t, KindLiterature, k)

	_, err = ScopeType("poetry").TaskKind()
	assert.Error(t, err)
}

func TestBrief_Validate(t *testing.T) {
	valid := Brief{ScopeItems: []ScopeItem{
		{ID: "s1", Type: ScopeData, Priority: PriorityHigh},
		{ID: "s2", Type: ScopeResearch, Priority: PriorityMedium},
	}}
	assert.NoError(t, valid.Validate())

	dup := Brief{ScopeItems: []ScopeItem{
		{ID: "s1", Type: ScopeData, Priority: PriorityHigh},
		{ID: "s1", Type: ScopeData, Priority: PriorityHigh},
	}}
	assert.Error(t, dup.Validate())

	badPriority := Brief{ScopeItems: []ScopeItem{{ID: "s1", Type: ScopeData, Priority: "urgent"}}}
	assert.Error(t, badPriority.Validate())
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := &Session{
		ID:        "s",
		Tags:      []string{"btc"},
		Coverage:  Coverage{ByScope: map[string]float64{"s1": 50}},
		Execution: Execution{TasksPending: NewIDSet("o1")},
		History:   []Transition{{From: PhaseInitialResearch, To: PhaseBriefBuilder, At: time.Unix(0, 0)}},
		Failure:   &Failure{Kind: "x"},
	}
	c := s.Clone()
	require.Empty(t, cmp.Diff(s, c, cmp.AllowUnexported(IDSet{})))

	c.Tags[0] = "eth"
	c.Coverage.ByScope["s1"] = 90
	c.Execution.TasksPending.Add("d1")
	c.Failure.Kind = "y"

	assert.Equal(t, "btc", s.Tags[0])
	assert.Equal(t, 50.0, s.Coverage.ByScope["s1"])
	assert.Equal(t, 1, s.Execution.TasksPending.Len())
	assert.Equal(t, "x", s.Failure.Kind)
}

func TestSession_Visited(t *testing.T) {
	s := &Session{History: []Transition{
		{From: PhaseInitialResearch, To: PhaseBriefBuilder},
		{From: PhaseBriefBuilder, To: PhasePlanning},
	}}
	assert.True(t, s.Visited(PhaseInitialResearch))
	assert.True(t, s.Visited(PhasePlanning))
	assert.False(t, s.Visited(PhaseAggregation))
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "what is the tvl", NormalizeText("  What is   the TVL? "))
	assert.Equal(t, NormalizeText("Price trend."), NormalizeText("price trend"))
}
