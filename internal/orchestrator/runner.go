// Package orchestrator drives a research session through its phases.
//
// A Runner owns one session at a time. It takes the session's run lock,
// runs the collaborator for the current phase, asks the phase controller
// for the next phase and persists every transition with a compare-and-swap
// save, until the session reaches complete or failed or the loop stops.
package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Iron-Ham/ralph/internal/coverage"
	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/event"
	"github.com/Iron-Ham/ralph/internal/executor"
	"github.com/Iron-Ham/ralph/internal/logging"
	"github.com/Iron-Ham/ralph/internal/phase"
	"github.com/Iron-Ham/ralph/internal/planner"
	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/Iron-Ham/ralph/internal/session"
	"github.com/Iron-Ham/ralph/internal/stages"
)

// DefaultMaxSteps bounds the transitions of one run when no budget is set.
const DefaultMaxSteps = 64

// Runner is the controller loop.
type Runner struct {
	store     *session.Store
	executor  *executor.Executor
	planner   *planner.Planner
	evaluator *coverage.Evaluator
	stages    stages.Set
	bus       *event.Bus
	logger    *logging.Logger
	now       func() time.Time
	maxSteps  int
}

// Option configures a Runner.
type Option func(*Runner)

// WithPlanner replaces the default planner.
func WithPlanner(p *planner.Planner) Option { return func(r *Runner) { r.planner = p } }

// WithEvaluator replaces the default coverage evaluator.
func WithEvaluator(e *coverage.Evaluator) Option { return func(r *Runner) { r.evaluator = e } }

// WithStages replaces the collaborators of the non-loop phases.
func WithStages(s stages.Set) Option { return func(r *Runner) { r.stages = s } }

// WithBus publishes phase, coverage and failure events to b.
func WithBus(b *event.Bus) Option { return func(r *Runner) { r.bus = b } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithClock sets the time source for transition timestamps.
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// WithMaxSteps bounds the number of transitions one Run may perform.
// Values below one select DefaultMaxSteps.
func WithMaxSteps(n int) Option { return func(r *Runner) { r.maxSteps = n } }

// New returns a Runner persisting to store and executing tasks with exec.
func New(store *session.Store, exec *executor.Executor, opts ...Option) *Runner {
	r := &Runner{
		store:    store,
		executor: exec,
		stages:   stages.Defaults(),
		logger:   logging.NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.planner == nil {
		r.planner = planner.New(planner.WithClock(r.now), planner.WithLogger(r.logger))
	}
	if r.evaluator == nil {
		r.evaluator = coverage.New(coverage.WithClock(r.now), coverage.WithLogger(r.logger))
	}
	if r.maxSteps < 1 {
		r.maxSteps = DefaultMaxSteps
	}
	return r
}

// Run advances session id until it is complete or failed and returns the
// last persisted state.
//
// The session is marked failed on InvalidTransition, PlanningFailure and
// StageFailure. Other errors leave it resumable:
//   - Conflict: another writer saved first; nothing is written.
//   - Cancelled: ctx ended; progress up to the last checkpoint is kept.
//   - BudgetExhausted: the step budget ran out.
func (r *Runner) Run(ctx context.Context, id string) (*research.Session, error) {
	lock, err := r.store.AcquireLock(id)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			r.logger.Warn("failed to release session lock", "session_id", id, "error", err)
		}
	}()

	sess, err := r.store.Load(id)
	if err != nil {
		return nil, err
	}
	logger := r.logger.WithSession(id)
	if sess.Phase.IsTerminal() {
		logger.Info("session already finished", "phase", sess.Phase)
		return sess, nil
	}
	if err := phase.Validate(sess); err != nil {
		return r.fail(sess, err)
	}

	ws := r.store.Workspace(id)
	logger.Info("run started", "phase", sess.Phase, "run_id", lock.RunID, "max_steps", r.maxSteps)

	for steps := 0; !sess.Phase.IsTerminal(); steps++ {
		if steps >= r.maxSteps {
			logger.Warn("phase-step budget exhausted", "phase", sess.Phase, "steps", steps)
			return sess, errors.NewSessionError(
				fmt.Sprintf("phase-step budget of %d exhausted in %s", r.maxSteps, sess.Phase),
				errors.ErrBudgetExhausted,
			).WithSessionID(id)
		}
		if err := ctx.Err(); err != nil {
			logger.Warn("run interrupted", "phase", sess.Phase)
			return sess, errors.Join(errors.ErrCancelled, err)
		}

		next, err := r.step(ctx, sess, ws)
		if err != nil {
			return r.handle(next, err)
		}
		sess = next
	}

	logger.Info("run finished", "phase", sess.Phase, "coverage", sess.Coverage.Current, "iteration", sess.Execution.Iteration)
	return sess, nil
}

// step runs the current phase and persists the transition out of it. On
// error it returns the latest state that matches the stored document.
func (r *Runner) step(ctx context.Context, sess *research.Session, ws *session.Workspace) (*research.Session, error) {
	from := sess.Phase
	logger := r.logger.WithSession(sess.ID).WithPhase(string(from))
	started := r.now()

	var (
		in   phase.Inputs
		work *research.Session
		err  error
	)
	switch from {
	case research.PhasePlanning:
		work, err = r.plan(sess, ws)
	case research.PhaseExecution:
		work, err = r.execute(ctx, sess, ws)
	case research.PhaseQuestionsReview:
		work, in, err = r.review(sess, ws)
	default:
		work, err = r.runStage(ctx, sess, ws)
	}
	if err != nil {
		if work == nil {
			work = sess
		}
		return work, err
	}

	in.SeriesAvailable = ws.HasSeries()
	in.At = r.now().UTC()
	next, err := phase.Advance(work, in)
	if err != nil {
		return work, err
	}
	if err := r.store.Save(next); err != nil {
		return work, err
	}

	logger.Info("phase advanced",
		"to", next.Phase,
		"reason", in.Reason,
		"iteration", next.Execution.Iteration,
		"duration_ms", r.now().Sub(started).Milliseconds(),
	)
	r.publish(event.NewPhaseChangedEvent(next.ID, from, next.Phase, in.Reason, next.Execution.Iteration))
	return next, nil
}

func (r *Runner) plan(sess *research.Session, ws *session.Workspace) (*research.Session, error) {
	brief, err := ws.LoadBrief()
	if err != nil {
		return nil, err
	}
	existing, err := r.existingTaskIDs(ws)
	if err != nil {
		return nil, err
	}
	next, plan, err := r.planner.Plan(sess, brief, existing)
	if err != nil {
		return nil, err
	}
	if err := ws.SavePlan(plan); err != nil {
		return nil, err
	}
	if err := ws.AddTasks(plan.Tasks...); err != nil {
		return nil, err
	}
	return next, nil
}

// existingTaskIDs lists the task ids the planner must not reuse. Tasks of a
// plan this session already wrote are left out: that plan belongs to a
// planning step that stopped before its transition was saved, and
// replaying it must produce the same ids.
func (r *Runner) existingTaskIDs(ws *session.Workspace) ([]string, error) {
	tasks, err := ws.LoadTasks()
	if err != nil {
		return nil, err
	}
	var prior research.Plan
	if err := ws.ReadJSON(session.PlanFile, &prior); err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	for _, t := range prior.Tasks {
		delete(tasks, t.ID)
	}
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *Runner) execute(ctx context.Context, sess *research.Session, ws *session.Workspace) (*research.Session, error) {
	brief, err := ws.LoadBrief()
	if err != nil {
		return nil, err
	}
	// The executor checkpoints sess in place after every task.
	summary, err := r.executor.Run(ctx, sess, ws, brief, r.store.Save)
	if summary != nil {
		r.logger.WithSession(sess.ID).Info("execution finished",
			"iteration", sess.Execution.Iteration,
			"dispatched", summary.Dispatched,
			"recovered", summary.Recovered,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"timed_out", summary.TimedOut,
			"questions", summary.Questions,
		)
	}
	return sess, err
}

func (r *Runner) review(sess *research.Session, ws *session.Workspace) (*research.Session, phase.Inputs, error) {
	next, report, err := r.evaluator.Evaluate(sess, ws)
	if err != nil {
		return nil, phase.Inputs{}, err
	}
	r.publish(event.NewCoverageEvaluatedEvent(next.ID, report))
	return next, phase.Inputs{Decision: report.Decision, Reason: report.Reason}, nil
}

func (r *Runner) runStage(ctx context.Context, sess *research.Session, ws *session.Workspace) (*research.Session, error) {
	work := sess.Clone()
	err := r.stages.Run(ctx, &stages.Input{
		Session:   work,
		Workspace: ws,
		Logger:    r.logger,
		Now:       r.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return work, nil
}

// handle decides what an error from a step does to the session.
func (r *Runner) handle(sess *research.Session, err error) (*research.Session, error) {
	logger := r.logger.WithSession(sess.ID).WithPhase(string(sess.Phase))
	switch {
	case errors.Is(err, errors.ErrCancelled):
		logger.Warn("run interrupted", "error", err)
		return sess, err
	case errors.Is(err, errors.ErrConflict):
		logger.Error("session changed by another writer", "error", err)
		return sess, err
	case errors.Is(err, errors.ErrInvalidTransition),
		errors.Is(err, errors.ErrPlanningFailure),
		errors.Is(err, errors.ErrStageFailure):
		return r.fail(sess, err)
	default:
		logger.Error("phase step failed", "error", err)
		return sess, err
	}
}

// fail persists sess as failed with cause and returns cause.
func (r *Runner) fail(sess *research.Session, cause error) (*research.Session, error) {
	failed := phase.Fail(sess, cause, r.now().UTC())
	if err := r.store.Save(failed); err != nil {
		return sess, errors.Join(cause, err)
	}
	r.logger.WithSession(sess.ID).Error("session failed",
		"phase", failed.Failure.Phase,
		"kind", failed.Failure.Kind,
		"error", cause,
	)
	r.publish(event.NewSessionFailedEvent(failed.ID, failed.Failure))
	return failed, cause
}

func (r *Runner) publish(e event.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}
