// Package handler defines the contract between the execution loop and the
// collaborators that do the actual research work.
//
// A Handler receives one Task plus the session Context and returns a Result
// and any follow-up Questions. Returning an error is a hard failure; the
// execution loop records it as a failed result and moves on. Handlers must
// tolerate being invoked again for the same task after a crash.
package handler

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/ralph/internal/research"
)

// Context is the read-only session context handed to every invocation.
type Context struct {
	SessionID         string               `json:"session_id"`
	RunID             string               `json:"run_id,omitempty"`
	Query             string               `json:"query"`
	Goal              string               `json:"goal,omitempty"`
	Scope             research.ScopeItem   `json:"scope"`
	Preferences       research.Preferences `json:"preferences"`
	Iteration         int                  `json:"iteration"`
	MaxIterations     int                  `json:"max_iterations"`
	AdditionalContext string               `json:"additional_context,omitempty"`
	// WorkDir is the session directory; handlers may read artifacts there.
	WorkDir string `json:"work_dir,omitempty"`
}

// Handler executes tasks of one kind.
type Handler interface {
	Handle(ctx context.Context, task research.Task, hc Context) (*research.Result, []research.Question, error)
}

// Func adapts an ordinary function to Handler.
type Func func(ctx context.Context, task research.Task, hc Context) (*research.Result, []research.Question, error)

// Handle calls f.
func (f Func) Handle(ctx context.Context, task research.Task, hc Context) (*research.Result, []research.Question, error) {
	return f(ctx, task, hc)
}

// Registry maps every task kind to its handler. It has one field per kind,
// so adding a kind means adding a field and a case in For.
type Registry struct {
	Overview   Handler
	Data       Handler
	Research   Handler
	Literature Handler
	FactCheck  Handler
}

// Uniform returns a registry that sends every kind to h.
func Uniform(h Handler) *Registry {
	return &Registry{Overview: h, Data: h, Research: h, Literature: h, FactCheck: h}
}

// For returns the handler for kind.
func (r *Registry) For(kind research.TaskKind) (Handler, error) {
	var h Handler
	switch kind {
	case research.KindOverview:
		h = r.Overview
	case research.KindData:
		h = r.Data
	case research.KindResearch:
		h = r.Research
	case research.KindLiterature:
		h = r.Literature
	case research.KindFactCheck:
		h = r.FactCheck
	default:
		return nil, fmt.Errorf("unknown task kind %q", kind)
	}
	if h == nil {
		return nil, fmt.Errorf("no handler registered for %s tasks", kind)
	}
	return h, nil
}

// Normalize fills the fields a handler may leave empty and checks the rest.
// Question ids default to q_<task>_<n> and every question is attributed to
// the task.
func Normalize(task research.Task, r *research.Result, qs []research.Question) (*research.Result, []research.Question, error) {
	if r == nil {
		return nil, nil, fmt.Errorf("handler returned no result for %s", task.ID)
	}
	if r.TaskID == "" {
		r.TaskID = task.ID
	}
	if r.TaskID != task.ID {
		return nil, nil, fmt.Errorf("result for %s reports task id %s", task.ID, r.TaskID)
	}
	switch r.Status {
	case research.StatusDone, research.StatusFailed, research.StatusPartial:
	case "":
		r.Status = research.StatusDone
	default:
		return nil, nil, fmt.Errorf("result for %s has unknown status %q", task.ID, r.Status)
	}

	out := make([]research.Question, 0, len(qs))
	for i, q := range qs {
		if q.Question == "" {
			continue
		}
		if q.ID == "" {
			q.ID = fmt.Sprintf("q_%s_%d", task.ID, i+1)
		}
		q.SourceTaskID = task.ID
		if !q.Type.Valid() {
			q.Type = task.Kind
		}
		switch q.PriorityHint {
		case research.PriorityHigh, research.PriorityMedium, research.PriorityLow:
		default:
			q.PriorityHint = research.PriorityMedium
		}
		out = append(out, q)
	}
	return r, out, nil
}
