// Package planner expands a Brief into the tasks of the first execution
// iteration.
//
// Planning is deterministic: the same brief, depth and existing task ids
// always produce the same plan. The depth table fixes how many tasks each
// scope item gets, the iteration budget and the coverage target.
package planner

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/logging"
	"github.com/Iron-Ham/ralph/internal/research"
)

// Planner turns briefs into plans.
type Planner struct {
	now    func() time.Time
	logger *logging.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithClock overrides the time source used for Plan.CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// New returns a Planner.
func New(opts ...Option) *Planner {
	p := &Planner{now: time.Now, logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan builds the plan for sess from brief. existingIDs are the ids of every
// task already defined for the session, so counters continue after them.
//
// It returns a copy of sess with the new task ids pending, the iteration
// set to 1 and the iteration budget and coverage target taken from the
// depth table. In a continuation only scope items flagged as added or
// updated get tasks, and their ids carry the c_ prefix; continuation
// planning runs even when the parent had already reached its target.
//
// A plan with zero tasks fails with PlanningFailure.
func (p *Planner) Plan(sess *research.Session, brief *research.Brief, existingIDs []string) (*research.Session, *research.Plan, error) {
	settings, err := research.SettingsFor(sess.Depth)
	if err != nil {
		return nil, nil, errors.NewPlanningError(sess.ID, err.Error())
	}
	if err := brief.Validate(); err != nil {
		return nil, nil, errors.NewPlanningError(sess.ID, "invalid brief: "+err.Error())
	}
	if len(brief.ScopeItems) == 0 {
		return nil, nil, errors.NewPlanningError(sess.ID, "brief has no scope items")
	}

	alloc := research.NewIDAllocator(existingIDs, sess.IsContinuation)
	var tasks []research.Task
	for _, item := range brief.ScopeItems {
		if sess.IsContinuation && !item.Flagged() {
			continue
		}
		kind, err := item.Type.TaskKind()
		if err != nil {
			return nil, nil, errors.NewPlanningError(sess.ID, err.Error())
		}
		for angle := 1; angle <= settings.TasksPerScope; angle++ {
			tasks = append(tasks, research.Task{
				ID:          alloc.Next(kind),
				ScopeItemID: item.ID,
				Kind:        kind,
				Priority:    item.Priority,
				Topic:       item.Topic,
				Questions:   append([]string(nil), item.Questions...),
				Angle:       angle,
				Origin:      research.OriginPlan,
				Iteration:   1,
			})
		}
	}

	if len(tasks) == 0 {
		msg := "planner produced zero tasks"
		if sess.IsContinuation {
			msg = "no scope items are flagged for continuation"
		}
		return nil, nil, errors.NewPlanningError(sess.ID, msg)
	}

	next := sess.Clone()
	next.Execution.Iteration = 1
	next.Execution.MaxIterations = settings.MaxIterations
	next.Coverage.Target = settings.CoverageTarget
	for _, t := range tasks {
		if !next.Execution.Enqueue(t.ID) {
			return nil, nil, errors.NewPlanningError(sess.ID, fmt.Sprintf("task id %s already used", t.ID))
		}
	}

	plan := &research.Plan{
		Tasks:        tasks,
		TotalTasks:   len(tasks),
		Settings:     settings,
		Continuation: sess.IsContinuation,
		CreatedAt:    p.now().UTC(),
	}
	p.logger.Info("plan created",
		"session_id", sess.ID,
		"tasks", plan.TotalTasks,
		"depth", settings.Depth,
		"max_iterations", settings.MaxIterations,
		"coverage_target", settings.CoverageTarget,
		"continuation", sess.IsContinuation,
	)
	return next, plan, nil
}
