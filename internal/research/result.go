package research

import (
	"encoding/json"
	"time"
)

// ResultStatus is the outcome a handler reports for a task.
type ResultStatus string

const (
	StatusDone    ResultStatus = "done"
	StatusFailed  ResultStatus = "failed"
	StatusPartial ResultStatus = "partial"
)

// Citation is one source reference backing a result.
type Citation struct {
	Title  string `json:"title,omitempty"`
	URL    string `json:"url,omitempty"`
	Source string `json:"source,omitempty"`
}

// Key identifies a citation for de-duplication.
func (c Citation) Key() string {
	if c.URL != "" {
		return c.URL
	}
	return c.Source + "|" + c.Title
}

// ResultError is one recorded problem inside a result.
type ResultError struct {
	Field    string `json:"field,omitempty"`
	Error    string `json:"error"`
	Fallback string `json:"fallback,omitempty"`
}

// Result is a handler's output for one task. Results are written once and
// never modified.
type Result struct {
	TaskID    string          `json:"task_id"`
	Status    ResultStatus    `json:"status"`
	Output    json.RawMessage `json:"output,omitempty"`
	Citations []Citation      `json:"citations,omitempty"`
	Errors    []ResultError   `json:"errors,omitempty"`
	// CoveredAspects lists the scope questions this result answers.
	CoveredAspects []string `json:"covered_aspects,omitempty"`
	// Series carries time-series points for chart_analysis.
	Series      json.RawMessage `json:"series,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
	DurationMS  int64           `json:"duration_ms"`
}

// Succeeded reports whether the result counts toward coverage.
func (r *Result) Succeeded() bool {
	return r.Status == StatusDone || r.Status == StatusPartial
}

// Question is a follow-up probe emitted by a handler.
type Question struct {
	ID           string   `json:"id"`
	SourceTaskID string   `json:"source_task_id"`
	Question     string   `json:"question"`
	Type         TaskKind `json:"type,omitempty"`
	PriorityHint Priority `json:"priority_hint"`
}

// Action is the evaluator's verdict on a question.
type Action string

const (
	ActionExecute Action = "execute"
	ActionSkip    Action = "skip"
)

// Decision is the evaluator's routing choice for questions_review.
type Decision string

const (
	DecisionNone     Decision = ""
	DecisionContinue Decision = "continue"
	DecisionAdvance  Decision = "advance"
)

// ScopeCoverage is the per-scope part of a coverage report.
type ScopeCoverage struct {
	ScopeItemID string   `json:"scope_item_id"`
	Topic       string   `json:"topic"`
	Priority    Priority `json:"priority"`
	Percent     float64  `json:"percent"`
	Covered     []string `json:"covered"`
	Missing     []string `json:"missing"`
}

// QuestionVerdict records what happened to one question.
type QuestionVerdict struct {
	QuestionID string `json:"question_id"`
	Question   string `json:"question"`
	Action     Action `json:"action"`
	Reason     string `json:"reason,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
}

// CoverageReport is written once per questions_review pass.
type CoverageReport struct {
	Iteration     int               `json:"iteration"`
	MaxIterations int               `json:"max_iterations"`
	Overall       float64           `json:"overall"`
	Target        float64           `json:"target"`
	ByScope       []ScopeCoverage   `json:"by_scope"`
	Questions     []QuestionVerdict `json:"questions"`
	Decision      Decision          `json:"decision"`
	Reason        string            `json:"reason"`
	TasksCreated  []string          `json:"tasks_created,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}
