// Package coverage is the coverage evaluator of the questions_review phase.
//
// It is the only writer of Session.Coverage. Each pass scores the brief's
// scope items from the accumulated results, consumes every question not yet
// reviewed, turns the executable ones into tasks and decides whether the
// session loops back to execution or advances to aggregation. Every pass
// leaves a CoverageReport behind.
package coverage

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/logging"
	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/Iron-Ham/ralph/internal/session"
)

// RetryPrefix marks the ids of synthetic questions raised for failed tasks.
const RetryPrefix = "retry_"

// Evaluator runs questions_review passes.
type Evaluator struct {
	strategy Strategy
	now      func() time.Time
	logger   *logging.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithStrategy replaces the default AspectRatio scoring.
func WithStrategy(s Strategy) Option { return func(e *Evaluator) { e.strategy = s } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Evaluator) { e.now = now } }

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option { return func(e *Evaluator) { e.logger = l } }

// New returns an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{strategy: AspectRatio{}, now: time.Now, logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type artifacts struct {
	brief     *research.Brief
	tasks     map[string]research.Task
	results   []*research.Result
	questions []research.Question
}

func load(ws *session.Workspace) (*artifacts, error) {
	var a artifacts
	var g errgroup.Group
	g.Go(func() (err error) { a.brief, err = ws.LoadBrief(); return })
	g.Go(func() (err error) { a.tasks, err = ws.LoadTasks(); return })
	g.Go(func() (err error) { a.results, err = ws.Results(); return })
	g.Go(func() (err error) { a.questions, err = ws.Questions(); return })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Evaluate runs one pass over sess. It returns a copy of sess with fresh
// coverage, new tasks pending and the consumed questions marked reviewed,
// plus the report, which is also written to the workspace. New tasks are
// appended to tasks.json. The iteration counter is left to the phase
// controller.
//
// A session with no completed tasks fails with PlanningFailure; it must
// never reach aggregation.
func (e *Evaluator) Evaluate(sess *research.Session, ws *session.Workspace) (*research.Session, *research.CoverageReport, error) {
	if sess.Execution.TasksCompleted.Len() == 0 {
		return nil, nil, errors.NewPlanningError(sess.ID, "no completed tasks to evaluate")
	}
	a, err := load(ws)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load artifacts: %w", err)
	}

	byScope := e.strategy.Score(a.brief, a.tasks, a.results)
	overall := Overall(byScope)

	next := sess.Clone()
	next.Coverage.Current = overall
	next.Coverage.ByScope = make(map[string]float64, len(byScope))
	for _, sc := range byScope {
		next.Coverage.ByScope[sc.ScopeItemID] = sc.Percent
	}

	iteration, maxIter := sess.Execution.Iteration, sess.Execution.MaxIterations
	report := &research.CoverageReport{
		Iteration:     iteration,
		MaxIterations: maxIter,
		Overall:       overall,
		Target:        sess.Coverage.Target,
		ByScope:       byScope,
		Questions:     []research.QuestionVerdict{},
		CreatedAt:     e.now().UTC(),
	}

	pending := e.pendingQuestions(sess, a, byScope)

	switch {
	case overall >= sess.Coverage.Target:
		report.Decision = research.DecisionAdvance
		report.Reason = fmt.Sprintf("coverage %.1f%% meets target %.0f%%", overall, sess.Coverage.Target)
	case iteration >= maxIter:
		report.Decision = research.DecisionAdvance
		report.Reason = fmt.Sprintf("iteration budget exhausted (%d of %d) at coverage %.1f%%", iteration, maxIter, overall)
	}

	var created []research.Task
	if report.Decision == research.DecisionAdvance {
		for _, q := range pending {
			report.Questions = append(report.Questions, research.QuestionVerdict{
				QuestionID: q.ID, Question: q.Question, Action: research.ActionSkip, Reason: "session advancing",
			})
		}
	} else {
		created = e.createTasks(sess, a, byScope, pending, report)
		if len(created) == 0 {
			report.Decision = research.DecisionAdvance
			report.Reason = fmt.Sprintf("no executable follow-up questions at coverage %.1f%%", overall)
		} else {
			report.Decision = research.DecisionContinue
			report.Reason = fmt.Sprintf("coverage %.1f%% below target %.0f%%; %d follow-up tasks", overall, sess.Coverage.Target, len(created))
		}
	}

	if len(created) > 0 {
		if err := ws.AddTasks(created...); err != nil {
			return nil, nil, fmt.Errorf("failed to store follow-up tasks: %w", err)
		}
		for _, t := range created {
			next.Execution.Enqueue(t.ID)
			report.TasksCreated = append(report.TasksCreated, t.ID)
		}
	}
	for _, q := range pending {
		next.Execution.ReviewedQuestions.Add(q.ID)
	}

	if err := ws.WriteCoverageReport(report); err != nil {
		return nil, nil, fmt.Errorf("failed to write coverage report: %w", err)
	}

	e.logger.Info("coverage evaluated",
		"session_id", sess.ID,
		"strategy", e.strategy.Name(),
		"iteration", iteration,
		"coverage", overall,
		"target", sess.Coverage.Target,
		"decision", report.Decision,
		"questions", len(pending),
		"tasks_created", len(created),
	)
	return next, report, nil
}

// pendingQuestions returns the handler questions not yet reviewed followed
// by a retry question for every failed task whose scope item still has
// missing aspects.
func (e *Evaluator) pendingQuestions(sess *research.Session, a *artifacts, byScope []research.ScopeCoverage) []research.Question {
	reviewed := sess.Execution.ReviewedQuestions
	var out []research.Question
	for _, q := range a.questions {
		if !reviewed.Contains(q.ID) {
			out = append(out, q)
		}
	}

	gaps := make(map[string]research.ScopeCoverage, len(byScope))
	for _, sc := range byScope {
		gaps[sc.ScopeItemID] = sc
	}
	for _, r := range a.results {
		if r.Succeeded() {
			continue
		}
		id := RetryPrefix + r.TaskID
		if reviewed.Contains(id) {
			continue
		}
		task, ok := a.tasks[r.TaskID]
		if !ok {
			continue
		}
		gap, ok := gaps[task.ScopeItemID]
		if !ok || gap.Percent >= 100 {
			continue
		}
		text := "Retry: " + task.Topic
		if len(gap.Missing) > 0 {
			text += " (" + strings.Join(gap.Missing, "; ") + ")"
		}
		out = append(out, research.Question{
			ID:           id,
			SourceTaskID: task.ID,
			Question:     text,
			Type:         task.Kind,
			PriorityHint: gap.Priority,
		})
	}
	return out
}

// createTasks filters and de-duplicates questions, recording a verdict for
// each, and returns the tasks to create.
//
// A stored task whose source question is still pending was written by an
// earlier run of this pass that stopped before its transition was saved.
// It is reused as is, so replaying a pass yields the same tasks and the
// same decision.
func (e *Evaluator) createTasks(sess *research.Session, a *artifacts, byScope []research.ScopeCoverage, pending []research.Question, report *research.CoverageReport) []research.Task {
	missing := make(map[string][]string, len(byScope))
	for _, sc := range byScope {
		missing[sc.ScopeItemID] = sc.Missing
	}

	pendingIDs := make(map[string]bool, len(pending))
	for _, q := range pending {
		pendingIDs[q.ID] = true
	}
	replayed := make(map[string]research.Task)
	seen := make(map[string]bool)
	for _, t := range a.tasks {
		switch {
		case t.Origin == research.OriginPlan:
		case t.SourceQuestionID != "" && pendingIDs[t.SourceQuestionID]:
			replayed[t.SourceQuestionID] = t
		default:
			seen[research.NormalizeText(t.Topic)] = true
		}
	}

	ids := slices.Sorted(maps.Keys(a.tasks))
	alloc := research.NewIDAllocator(ids, sess.IsContinuation)
	iteration, maxIter := sess.Execution.Iteration, sess.Execution.MaxIterations

	var created []research.Task
	for _, q := range pending {
		verdict := research.QuestionVerdict{QuestionID: q.ID, Question: q.Question}
		verdict.Action, verdict.Reason = Filter(q.PriorityHint, iteration, maxIter)

		source, hasSource := a.tasks[q.SourceTaskID]
		key := research.NormalizeText(q.Question)
		switch {
		case verdict.Action == research.ActionSkip:
		case !hasSource:
			verdict.Action, verdict.Reason = research.ActionSkip, "unknown source task "+q.SourceTaskID
		case seen[key]:
			verdict.Action, verdict.Reason = research.ActionSkip, "duplicate question"
		case replayed[q.ID].ID != "":
			t := replayed[q.ID]
			seen[key] = true
			verdict.TaskID = t.ID
			created = append(created, t)
		default:
			kind := q.Type
			if !kind.Valid() {
				kind = source.Kind
			}
			origin := research.OriginQuestion
			if strings.HasPrefix(q.ID, RetryPrefix) {
				origin = research.OriginRetry
			}
			t := research.Task{
				ID:               alloc.Next(kind),
				ScopeItemID:      source.ScopeItemID,
				Kind:             kind,
				Priority:         q.PriorityHint,
				Topic:            q.Question,
				Questions:        append([]string(nil), missing[source.ScopeItemID]...),
				Origin:           origin,
				SourceQuestionID: q.ID,
				Iteration:        iteration + 1,
			}
			seen[key] = true
			verdict.TaskID = t.ID
			created = append(created, t)
		}
		report.Questions = append(report.Questions, verdict)
	}
	return created
}
