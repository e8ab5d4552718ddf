package research

import (
	"strconv"
	"strings"
	"time"
)

// TaskKind selects the handler that executes a task.
type TaskKind string

const (
	KindOverview   TaskKind = "overview"
	KindData       TaskKind = "data"
	KindResearch   TaskKind = "research"
	KindLiterature TaskKind = "literature"
	KindFactCheck  TaskKind = "fact_check"
)

// AllKinds lists every task kind.
func AllKinds() []TaskKind {
	return []TaskKind{KindOverview, KindData, KindResearch, KindLiterature, KindFactCheck}
}

// Prefix is the per-kind letter used in task ids.
func (k TaskKind) Prefix() string {
	switch k {
	case KindOverview:
		return "o"
	case KindData:
		return "d"
	case KindResearch:
		return "r"
	case KindLiterature:
		return "l"
	case KindFactCheck:
		return "f"
	default:
		return ""
	}
}

// Valid reports whether k is a known kind.
func (k TaskKind) Valid() bool { return k.Prefix() != "" }

// Task origins.
const (
	OriginPlan     = "plan"
	OriginQuestion = "question"
	OriginRetry    = "retry"
)

// Task is one unit of work dispatched to a handler.
type Task struct {
	ID          string   `json:"id"`
	ScopeItemID string   `json:"scope_item_id"`
	Kind        TaskKind `json:"type"`
	Priority    Priority `json:"priority"`
	Topic       string   `json:"topic"`
	Questions   []string `json:"questions,omitempty"`
	// Angle distinguishes the tasks the planner emits for the same scope item.
	Angle            int    `json:"angle"`
	Origin           string `json:"origin"`
	SourceQuestionID string `json:"source_question_id,omitempty"`
	Iteration        int    `json:"iteration"`
}

// Plan is the planner's output for one planning pass.
type Plan struct {
	Tasks        []Task        `json:"tasks"`
	TotalTasks   int           `json:"total_tasks"`
	Settings     DepthSettings `json:"settings"`
	Continuation bool          `json:"continuation"`
	CreatedAt    time.Time     `json:"created_at"`
}

// ContinuationPrefix marks ids allocated inside a continuation session.
const ContinuationPrefix = "c_"

// IDAllocator hands out task ids from a monotonic per-kind counter.
// Counters resume after the highest number already in use, so ids created
// by a parent session are never reissued.
type IDAllocator struct {
	counters     map[TaskKind]int
	continuation bool
}

// NewIDAllocator seeds counters from existing task ids.
func NewIDAllocator(existing []string, continuation bool) *IDAllocator {
	a := &IDAllocator{counters: make(map[TaskKind]int), continuation: continuation}
	for _, id := range existing {
		kind, n, ok := parseTaskID(id)
		if ok && n > a.counters[kind] {
			a.counters[kind] = n
		}
	}
	return a
}

// Next returns the next id for kind.
func (a *IDAllocator) Next(kind TaskKind) string {
	a.counters[kind]++
	id := kind.Prefix() + strconv.Itoa(a.counters[kind])
	if a.continuation {
		id = ContinuationPrefix + id
	}
	return id
}

func parseTaskID(id string) (TaskKind, int, bool) {
	id = strings.TrimPrefix(id, ContinuationPrefix)
	if len(id) < 2 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[1:])
	if err != nil || n < 0 {
		return "", 0, false
	}
	for _, k := range AllKinds() {
		if k.Prefix() == id[:1] {
			return k, n, true
		}
	}
	return "", 0, false
}
