// Package research holds the data model shared by every stage of the
// pipeline: the Session aggregate and the Brief, Task, Result, Question
// and CoverageReport documents persisted next to it.
package research

import (
	"maps"
	"slices"
	"time"
)

// Session is the aggregate root of one research run. The session document
// is the single source of truth for where a run is and what it has done.
type Session struct {
	ID          string      `json:"id"`
	Query       string      `json:"query"`
	Phase       Phase       `json:"phase"`
	Depth       Depth       `json:"depth,omitempty"`
	Preferences Preferences `json:"preferences"`
	Tags        []string    `json:"tags,omitempty"`
	Entities    []string    `json:"entities,omitempty"`
	Coverage    Coverage    `json:"coverage"`
	Execution   Execution   `json:"execution"`

	IsContinuation    bool   `json:"is_continuation"`
	ContinuedFrom     string `json:"continued_from,omitempty"`
	AdditionalContext string `json:"additional_context,omitempty"`

	History []Transition `json:"history,omitempty"`
	Failure *Failure     `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Coverage is owned by the coverage evaluator. Percentages are 0-100.
type Coverage struct {
	Current float64            `json:"current"`
	Target  float64            `json:"target"`
	ByScope map[string]float64 `json:"by_scope,omitempty"`
}

// Execution tracks the task partition and iteration budget.
type Execution struct {
	Iteration      int   `json:"iteration"`
	MaxIterations  int   `json:"max_iterations"`
	TasksPending   IDSet `json:"tasks_pending"`
	TasksCompleted IDSet `json:"tasks_completed"`
	// ReviewedQuestions holds question ids already consumed by the evaluator.
	ReviewedQuestions IDSet `json:"reviewed_questions"`
}

// Complete moves id from pending to completed. Completing an id twice is a
// no-op.
func (e *Execution) Complete(id string) {
	e.TasksPending.Remove(id)
	e.TasksCompleted.Add(id)
}

// Enqueue adds id to pending unless it is already known in either set.
func (e *Execution) Enqueue(id string) bool {
	if e.TasksCompleted.Contains(id) {
		return false
	}
	return e.TasksPending.Add(id)
}

// Transition is one entry in a session's phase history.
type Transition struct {
	From   Phase     `json:"from"`
	To     Phase     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Failure records why a session entered the failed phase.
type Failure struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	Phase   Phase     `json:"phase"`
	At      time.Time `json:"at"`
}

// Visited reports whether the history shows p was entered before.
func (s *Session) Visited(p Phase) bool {
	if len(s.History) == 0 {
		return false
	}
	if s.History[0].From == p {
		return true
	}
	for _, t := range s.History {
		if t.To == p {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	c := *s
	c.Preferences.Components = slices.Clone(s.Preferences.Components)
	c.Tags = slices.Clone(s.Tags)
	c.Entities = slices.Clone(s.Entities)
	c.Coverage.ByScope = maps.Clone(s.Coverage.ByScope)
	c.Execution.TasksPending = s.Execution.TasksPending.Clone()
	c.Execution.TasksCompleted = s.Execution.TasksCompleted.Clone()
	c.Execution.ReviewedQuestions = s.Execution.ReviewedQuestions.Clone()
	c.History = slices.Clone(s.History)
	if s.Failure != nil {
		f := *s.Failure
		c.Failure = &f
	}
	return &c
}
