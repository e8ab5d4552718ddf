// Package executor drains the pending tasks of one execution iteration.
//
// Tasks are dispatched to their handlers through a bounded worker pool.
// Collection is serialized: for each finished task the result is written,
// its questions are appended, the task moves from pending to completed and
// the session is checkpointed, all under one mutex, before the next
// finished task is collected.
//
// Handler faults never escape Run. A handler error, panic or timeout is
// recorded as a failed result and the task still completes.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/event"
	"github.com/Iron-Ham/ralph/internal/handler"
	"github.com/Iron-Ham/ralph/internal/logging"
	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/Iron-Ham/ralph/internal/session"
)

// TimeoutError is the error text recorded for a handler that ran out of time.
const TimeoutError = "timeout"

// Config bounds dispatch.
type Config struct {
	// MaxParallel is the worker pool size. Values below 1 mean 1.
	MaxParallel int
	// TaskTimeout is the deadline of one handler invocation. Zero disables it.
	TaskTimeout time.Duration
}

// Checkpoint persists the session after each collected task.
type Checkpoint func(*research.Session) error

// Summary counts what one Run did.
type Summary struct {
	Dispatched int
	// Recovered counts pending tasks whose result already existed on disk.
	Recovered int
	Succeeded int
	Failed    int
	TimedOut  int
	Questions int
	// Cancelled is set when dispatch stopped early; the undispatched tasks
	// are still pending.
	Cancelled bool
}

// Executor runs execution iterations.
type Executor struct {
	registry *handler.Registry
	cfg      Config
	bus      *event.Bus
	logger   *logging.Logger
	now      func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithBus publishes a TaskCompletedEvent per collected task.
func WithBus(b *event.Bus) Option { return func(e *Executor) { e.bus = b } }

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

// New returns an Executor dispatching through registry.
func New(registry *handler.Registry, cfg Config, opts ...Option) *Executor {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	e := &Executor{registry: registry, cfg: cfg, logger: logging.NopLogger(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type outcome struct {
	task      research.Task
	result    *research.Result
	questions []research.Question
	timeout   bool
}

// Run dispatches every pending task of sess and collects the outcomes into
// sess and ws. sess is updated in place; save is called after each task.
//
// Cancelling ctx stops further dispatch, lets in-flight tasks finish under
// their own timeout, and returns an error matching ErrCancelled if any
// task is left pending. A save
// failure stops dispatch the same way and is returned as is.
func (e *Executor) Run(ctx context.Context, sess *research.Session, ws *session.Workspace, brief *research.Brief, save Checkpoint) (*Summary, error) {
	defs, err := ws.LoadTasks()
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}

	var (
		mu      sync.Mutex
		summary Summary
		saveErr error
	)

	collect := func(o outcome) {
		mu.Lock()
		defer mu.Unlock()
		if saveErr != nil {
			return
		}
		if err := e.collect(sess, ws, o, &summary); err != nil {
			saveErr = err
			return
		}
		if save != nil {
			saveErr = save(sess)
		}
	}

	var queue []research.Task
	for _, id := range sess.Execution.TasksPending.Items() {
		task, ok := defs[id]
		if !ok {
			task = research.Task{ID: id}
		}
		if ws.HasResult(id) {
			// Written by an earlier run that stopped before its checkpoint.
			if err := e.adopt(sess, ws, task, save, &summary); err != nil {
				return &summary, err
			}
			continue
		}
		if !ok {
			collect(e.failed(task, time.Now(), "task definition missing from "+session.TasksFile, false))
			continue
		}
		queue = append(queue, task)
	}
	if saveErr != nil {
		return &summary, saveErr
	}
	slices.SortStableFunc(queue, func(a, b research.Task) int { return a.Priority.Rank() - b.Priority.Rank() })

	contexts := make([]handler.Context, len(queue))
	for i, task := range queue {
		contexts[i] = e.handlerContext(sess, ws, brief, task)
	}

	// In-flight tasks drain even if ctx is cancelled.
	drainCtx := context.WithoutCancel(ctx)
	p := pool.New().WithMaxGoroutines(e.cfg.MaxParallel)
	for i, task := range queue {
		if ctx.Err() != nil || e.stopped(&mu, &saveErr) {
			break
		}
		hc := contexts[i]
		p.Go(func() {
			// A worker may pick the task up after cancellation or a failed
			// checkpoint; it then stays pending.
			if ctx.Err() != nil || e.stopped(&mu, &saveErr) {
				return
			}
			mu.Lock()
			summary.Dispatched++
			mu.Unlock()
			collect(e.invoke(drainCtx, task, hc))
		})
	}
	p.Wait()

	if saveErr != nil {
		return &summary, saveErr
	}
	if err := ctx.Err(); err != nil && sess.Execution.TasksPending.Len() > 0 {
		summary.Cancelled = true
		e.logger.Warn("execution interrupted", "session_id", sess.ID, "pending", sess.Execution.TasksPending.Len())
		return &summary, errors.Join(errors.ErrCancelled, err)
	}
	return &summary, nil
}

func (e *Executor) stopped(mu *sync.Mutex, saveErr *error) bool {
	mu.Lock()
	defer mu.Unlock()
	return *saveErr != nil
}

func (e *Executor) handlerContext(sess *research.Session, ws *session.Workspace, brief *research.Brief, task research.Task) handler.Context {
	hc := handler.Context{
		SessionID:         sess.ID,
		Query:             sess.Query,
		Preferences:       sess.Preferences,
		Iteration:         sess.Execution.Iteration,
		MaxIterations:     sess.Execution.MaxIterations,
		AdditionalContext: sess.AdditionalContext,
		WorkDir:           ws.Dir(),
	}
	if brief != nil {
		hc.Goal = brief.Goal
		if item, ok := brief.Scope(task.ScopeItemID); ok {
			hc.Scope = item
		}
	}
	return hc
}

// invoke runs one handler call and turns every failure mode into a result.
func (e *Executor) invoke(ctx context.Context, task research.Task, hc handler.Context) (o outcome) {
	started := time.Now()
	log := e.logger.WithSession(hc.SessionID).WithTask(task.ID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", "panic", r)
			o = e.failed(task, started, fmt.Sprintf("handler panicked: %v", r), false)
		}
	}()

	h, err := e.registry.For(task.Kind)
	if err != nil {
		log.Error("no handler", "error", err)
		return e.failed(task, started, err.Error(), false)
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.cfg.TaskTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.TaskTimeout)
	}
	defer cancel()

	log.Debug("dispatching task", "type", task.Kind)
	result, questions, err := h.Handle(callCtx, task, hc)
	if err == nil && callCtx.Err() == context.DeadlineExceeded {
		err = errors.NewHandlerTimeout(task.ID, e.cfg.TaskTimeout)
	}
	if err != nil {
		timeout := errors.Is(err, errors.ErrHandlerTimeout) || errors.Is(err, context.DeadlineExceeded)
		msg := err.Error()
		if timeout {
			msg = TimeoutError
		}
		log.Warn("task failed", "error", err, "timeout", timeout)
		return e.failed(task, started, msg, timeout)
	}

	result, questions, err = handler.Normalize(task, result, questions)
	if err != nil {
		log.Warn("handler returned malformed output", "error", err)
		return e.failed(task, started, err.Error(), false)
	}
	e.stamp(result, started)
	return outcome{task: task, result: result, questions: questions}
}

func (e *Executor) failed(task research.Task, started time.Time, msg string, timeout bool) outcome {
	r := &research.Result{
		TaskID: task.ID,
		Status: research.StatusFailed,
		Errors: []research.ResultError{{Error: msg}},
	}
	e.stamp(r, started)
	return outcome{task: task, result: r, timeout: timeout}
}

func (e *Executor) stamp(r *research.Result, started time.Time) {
	r.CompletedAt = e.now().UTC()
	r.DurationMS = time.Since(started).Milliseconds()
}

// collect records one outcome. The caller holds the collection lock.
func (e *Executor) collect(sess *research.Session, ws *session.Workspace, o outcome, summary *Summary) error {
	// The result file marks the task done for a resumed run, so everything
	// the result produced is stored first.
	if !ws.HasResult(o.task.ID) {
		if err := e.appendQuestions(ws, o.task, o.questions); err != nil {
			return err
		}
		if hasSeries(o.result.Series) {
			if err := ws.WriteSeries(o.task.ID, o.result.Series); err != nil {
				return fmt.Errorf("failed to write series for %s: %w", o.task.ID, err)
			}
		}
	}
	created, err := ws.WriteResult(o.result)
	if err != nil {
		return fmt.Errorf("failed to write result for %s: %w", o.task.ID, err)
	}
	if created {
		summary.Questions += len(o.questions)
	}
	sess.Execution.Complete(o.task.ID)

	switch {
	case o.timeout:
		summary.TimedOut++
		summary.Failed++
	case o.result.Succeeded():
		summary.Succeeded++
	default:
		summary.Failed++
	}

	e.logger.WithSession(sess.ID).WithTask(o.task.ID).Info("task completed",
		"status", o.result.Status,
		"questions", len(o.questions),
		"duration_ms", o.result.DurationMS,
	)
	if e.bus != nil {
		e.bus.Publish(event.NewTaskCompletedEvent(sess.ID, o.task, o.result, len(o.questions), o.timeout))
	}
	return nil
}

// appendQuestions groups questions by their declared type so each lands in
// its type-scoped file.
func (e *Executor) appendQuestions(ws *session.Workspace, task research.Task, qs []research.Question) error {
	byKind := make(map[research.TaskKind][]research.Question)
	for _, q := range qs {
		byKind[q.Type] = append(byKind[q.Type], q)
	}
	for _, kind := range research.AllKinds() {
		if err := ws.AppendQuestions(kind, byKind[kind]); err != nil {
			return fmt.Errorf("failed to append questions from %s: %w", task.ID, err)
		}
	}
	return nil
}

// adopt completes a task whose result is already on disk without
// dispatching it again.
func (e *Executor) adopt(sess *research.Session, ws *session.Workspace, task research.Task, save Checkpoint, summary *Summary) error {
	r, err := ws.LoadResult(task.ID)
	if err != nil {
		return err
	}
	sess.Execution.Complete(task.ID)
	summary.Recovered++
	if r.Succeeded() {
		summary.Succeeded++
	} else {
		summary.Failed++
	}
	e.logger.WithSession(sess.ID).WithTask(task.ID).Info("recovered stored result", "status", r.Status)
	if save != nil {
		return save(sess)
	}
	return nil
}

func hasSeries(raw json.RawMessage) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch s := v.(type) {
	case []any:
		return len(s) > 0
	case map[string]any:
		return len(s) > 0
	default:
		return false
	}
}
