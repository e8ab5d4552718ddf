package stages

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/Iron-Ham/ralph/internal/session"
)

// Finding is one result folded into the aggregation.
type Finding struct {
	TaskID         string                `json:"task_id"`
	Status         research.ResultStatus `json:"status"`
	Topic          string                `json:"topic"`
	CoveredAspects []string              `json:"covered_aspects,omitempty"`
	Output         json.RawMessage       `json:"output,omitempty"`
}

// ScopeFindings gathers everything known about one scope item.
type ScopeFindings struct {
	ScopeItemID string                 `json:"scope_item_id"`
	Topic       string                 `json:"topic"`
	Type        research.ScopeType     `json:"type"`
	Priority    research.Priority      `json:"priority"`
	Coverage    float64                `json:"coverage"`
	Findings    []Finding              `json:"findings"`
	Citations   []research.Citation    `json:"citations"`
	Gaps        []string               `json:"gaps"`
	FailedTasks []string               `json:"failed_tasks,omitempty"`
	Errors      []research.ResultError `json:"errors,omitempty"`
}

// AggregationArtifact is written to aggregation.json.
type AggregationArtifact struct {
	Goal      string              `json:"goal"`
	Coverage  float64             `json:"coverage"`
	Target    float64             `json:"target"`
	Scopes    []ScopeFindings     `json:"scopes"`
	Citations []research.Citation `json:"citations"`
	Stats     AggregationStats    `json:"stats"`
	CreatedAt time.Time           `json:"created_at"`
}

// AggregationStats counts results by outcome.
type AggregationStats struct {
	Tasks     int `json:"tasks"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Orphaned  int `json:"orphaned"`
}

// Aggregation merges every result into per-scope findings with
// de-duplicated citations. Gaps are the missing aspects of the last
// coverage report, so failures show up as coverage gaps rather than
// disappearing.
type Aggregation struct{}

// Phase implements Stage.
func (Aggregation) Phase() research.Phase { return research.PhaseAggregation }

type evidence struct {
	brief   *research.Brief
	tasks   map[string]research.Task
	results []*research.Result
	reports []*research.CoverageReport
}

func loadEvidence(ws *session.Workspace) (*evidence, error) {
	var ev evidence
	var g errgroup.Group
	g.Go(func() (err error) { ev.brief, err = ws.LoadBrief(); return })
	g.Go(func() (err error) { ev.tasks, err = ws.LoadTasks(); return })
	g.Go(func() (err error) { ev.results, err = ws.Results(); return })
	g.Go(func() (err error) { ev.reports, err = ws.CoverageReports(); return })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Run implements Stage.
func (Aggregation) Run(_ context.Context, in *Input) error {
	ev, err := loadEvidence(in.Workspace)
	if err != nil {
		return err
	}
	art := Aggregate(in.Session, ev.brief, ev.tasks, ev.results, ev.reports)
	art.CreatedAt = in.Now

	in.logger().Info("findings aggregated",
		"session_id", in.Session.ID,
		"scopes", len(art.Scopes),
		"citations", len(art.Citations),
		"failed", art.Stats.Failed,
	)
	return in.Workspace.WriteJSON(session.AggregationFile, art)
}

// Aggregate builds the aggregation from loaded artifacts. Only completed
// tasks count.
func Aggregate(s *research.Session, brief *research.Brief, tasks map[string]research.Task, results []*research.Result, reports []*research.CoverageReport) *AggregationArtifact {
	gaps := map[string][]string{}
	if n := len(reports); n > 0 {
		for _, sc := range reports[n-1].ByScope {
			gaps[sc.ScopeItemID] = sc.Missing
		}
	}

	art := &AggregationArtifact{
		Goal:      brief.Goal,
		Coverage:  s.Coverage.Current,
		Target:    s.Coverage.Target,
		Scopes:    make([]ScopeFindings, 0, len(brief.ScopeItems)),
		Citations: []research.Citation{},
	}
	index := map[string]int{}
	for i, item := range brief.ScopeItems {
		index[item.ID] = i
		art.Scopes = append(art.Scopes, ScopeFindings{
			ScopeItemID: item.ID,
			Topic:       item.Topic,
			Type:        item.Type,
			Priority:    item.Priority,
			Coverage:    s.Coverage.ByScope[item.ID],
			Findings:    []Finding{},
			Citations:   []research.Citation{},
			Gaps:        nonNil(gaps[item.ID]),
		})
	}

	seen := map[string]bool{}
	for _, r := range results {
		if !s.Execution.TasksCompleted.Contains(r.TaskID) {
			continue
		}
		art.Stats.Tasks++
		task, ok := tasks[r.TaskID]
		i, inScope := index[task.ScopeItemID]
		if !ok || !inScope {
			art.Stats.Orphaned++
			continue
		}
		sf := &art.Scopes[i]
		if !r.Succeeded() {
			art.Stats.Failed++
			sf.FailedTasks = append(sf.FailedTasks, r.TaskID)
			sf.Errors = append(sf.Errors, r.Errors...)
			continue
		}
		art.Stats.Succeeded++
		sf.Findings = append(sf.Findings, Finding{
			TaskID:         r.TaskID,
			Status:         r.Status,
			Topic:          task.Topic,
			CoveredAspects: r.CoveredAspects,
			Output:         r.Output,
		})
		for _, c := range r.Citations {
			if !slices.ContainsFunc(sf.Citations, func(x research.Citation) bool { return x.Key() == c.Key() }) {
				sf.Citations = append(sf.Citations, c)
			}
			if !seen[c.Key()] {
				seen[c.Key()] = true
				art.Citations = append(art.Citations, c)
			}
		}
	}
	return art
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
