package stages

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/Iron-Ham/ralph/internal/session"
)

// Section is one chapter of the story.
type Section struct {
	ScopeItemID string            `json:"scope_item_id"`
	Title       string            `json:"title"`
	Priority    research.Priority `json:"priority"`
	Coverage    float64           `json:"coverage"`
	KeyPoints   []string          `json:"key_points"`
	Gaps        []string          `json:"gaps"`
	Charts      []string          `json:"charts,omitempty"`
	Sources     int               `json:"sources"`
}

// StoryArtifact is written to story.json.
type StoryArtifact struct {
	Title     string    `json:"title"`
	Goal      string    `json:"goal"`
	Audience  string    `json:"audience,omitempty"`
	Tone      string    `json:"tone,omitempty"`
	Summary   []string  `json:"summary"`
	Sections  []Section `json:"sections"`
	CreatedAt time.Time `json:"created_at"`
}

// StoryLining orders the aggregated findings into sections, highest
// priority first and brief order within a priority. It runs for every
// depth, so even a shallow report has a layout.
type StoryLining struct{}

// Phase implements Stage.
func (StoryLining) Phase() research.Phase { return research.PhaseStoryLining }

// Run implements Stage.
func (StoryLining) Run(_ context.Context, in *Input) error {
	var agg AggregationArtifact
	if err := in.Workspace.ReadJSON(session.AggregationFile, &agg); err != nil {
		return err
	}
	tasks, err := in.Workspace.LoadTasks()
	if err != nil {
		return err
	}
	var charts ChartsArtifact
	if err := in.Workspace.ReadJSON(session.ChartsFile, &charts); err != nil && !errors.Is(err, errors.ErrNotFound) {
		return err
	}

	story := BuildStory(in.Session, &agg, tasks, &charts)
	story.CreatedAt = in.Now
	return in.Workspace.WriteJSON(session.StoryFile, story)
}

// BuildStory lays out the story from the aggregation. charts may be empty.
func BuildStory(s *research.Session, agg *AggregationArtifact, tasks map[string]research.Task, charts *ChartsArtifact) *StoryArtifact {
	chartsByScope := map[string][]string{}
	for _, c := range charts.Series {
		if c.Error != "" {
			continue
		}
		if t, ok := tasks[c.Name]; ok {
			chartsByScope[t.ScopeItemID] = append(chartsByScope[t.ScopeItemID], c.Name)
		}
	}

	scopes := slices.Clone(agg.Scopes)
	slices.SortStableFunc(scopes, func(a, b ScopeFindings) int {
		return cmp.Compare(a.Priority.Rank(), b.Priority.Rank())
	})

	story := &StoryArtifact{
		Title:    s.Query,
		Goal:     agg.Goal,
		Audience: s.Preferences.Audience,
		Tone:     s.Preferences.Tone,
		Summary:  []string{},
		Sections: make([]Section, 0, len(scopes)),
	}
	for _, sf := range scopes {
		sec := Section{
			ScopeItemID: sf.ScopeItemID,
			Title:       sf.Topic,
			Priority:    sf.Priority,
			Coverage:    sf.Coverage,
			KeyPoints:   []string{},
			Gaps:        sf.Gaps,
			Charts:      chartsByScope[sf.ScopeItemID],
			Sources:     len(sf.Citations),
		}
		for _, f := range sf.Findings {
			for _, a := range f.CoveredAspects {
				if !slices.Contains(sec.KeyPoints, a) {
					sec.KeyPoints = append(sec.KeyPoints, a)
				}
			}
		}
		story.Sections = append(story.Sections, sec)
	}

	story.Summary = append(story.Summary,
		fmt.Sprintf("Coverage reached %.0f%% against a target of %.0f%%.", agg.Coverage, agg.Target),
		fmt.Sprintf("%d of %d tasks succeeded across %d scope items.", agg.Stats.Succeeded, agg.Stats.Tasks, len(agg.Scopes)),
	)
	if agg.Stats.Failed > 0 {
		story.Summary = append(story.Summary, fmt.Sprintf("%d tasks failed; their gaps are listed per section.", agg.Stats.Failed))
	}
	return story
}
