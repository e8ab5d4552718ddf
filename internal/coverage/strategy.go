package coverage

import (
	"github.com/Iron-Ham/ralph/internal/research"
)

// Strategy scores how well the results answer each scope item.
type Strategy interface {
	Name() string
	// Score returns one entry per scope item, in brief order.
	Score(brief *research.Brief, tasks map[string]research.Task, results []*research.Result) []research.ScopeCoverage
}

// AspectRatio scores a scope item as the share of its questions named in
// the covered_aspects of at least one successful result for that item.
// Handler-declared aspects are taken at face value; matching ignores case,
// whitespace and trailing punctuation.
//
// A scope item without questions scores 100 once any successful result
// exists for it and 0 otherwise.
type AspectRatio struct{}

// Name implements Strategy.
func (AspectRatio) Name() string { return "aspect_ratio" }

// Score implements Strategy.
func (AspectRatio) Score(brief *research.Brief, tasks map[string]research.Task, results []*research.Result) []research.ScopeCoverage {
	covered := make(map[string]map[string]bool)
	answered := make(map[string]bool)
	for _, r := range results {
		if !r.Succeeded() {
			continue
		}
		task, ok := tasks[r.TaskID]
		if !ok {
			continue
		}
		answered[task.ScopeItemID] = true
		set := covered[task.ScopeItemID]
		if set == nil {
			set = make(map[string]bool)
			covered[task.ScopeItemID] = set
		}
		for _, a := range r.CoveredAspects {
			set[research.NormalizeText(a)] = true
		}
	}

	out := make([]research.ScopeCoverage, 0, len(brief.ScopeItems))
	for _, item := range brief.ScopeItems {
		sc := research.ScopeCoverage{
			ScopeItemID: item.ID,
			Topic:       item.Topic,
			Priority:    item.Priority,
			Covered:     []string{},
			Missing:     []string{},
		}
		for _, q := range item.Questions {
			if covered[item.ID][research.NormalizeText(q)] {
				sc.Covered = append(sc.Covered, q)
			} else {
				sc.Missing = append(sc.Missing, q)
			}
		}
		switch {
		case len(item.Questions) > 0:
			sc.Percent = 100 * float64(len(sc.Covered)) / float64(len(item.Questions))
		case answered[item.ID]:
			sc.Percent = 100
		}
		out = append(out, sc)
	}
	return out
}

// Overall is the priority-weighted mean of the per-scope percentages:
// high counts 2, medium 1 and low 0.5. No scope items score 0.
func Overall(byScope []research.ScopeCoverage) float64 {
	var sum, weights float64
	for _, sc := range byScope {
		w := sc.Priority.Weight()
		sum += w * sc.Percent
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}
