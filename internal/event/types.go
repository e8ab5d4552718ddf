// Package event defines the in-process events a research run publishes and
// the bus that carries them. Metrics, logging and the live status view
// subscribe here instead of reaching into the orchestrator.
//
// Event types follow the pattern "category.action":
//   - phase.changed
//   - task.completed
//   - coverage.evaluated
//   - session.failed
package event

import (
	"time"

	"github.com/Iron-Ham/ralph/internal/research"
)

// Event is the interface that all events implement.
type Event interface {
	// EventType returns a "category.action" identifier.
	EventType() string
	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypePhaseChanged      = "phase.changed"
	TypeTaskCompleted     = "task.completed"
	TypeCoverageEvaluated = "coverage.evaluated"
	TypeSessionFailed     = "session.failed"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// PhaseChangedEvent is published after a transition has been persisted.
type PhaseChangedEvent struct {
	baseEvent
	SessionID string
	From      research.Phase
	To        research.Phase
	Reason    string
	Iteration int
}

// NewPhaseChangedEvent creates a PhaseChangedEvent.
func NewPhaseChangedEvent(sessionID string, from, to research.Phase, reason string, iteration int) PhaseChangedEvent {
	return PhaseChangedEvent{
		baseEvent: newBaseEvent(TypePhaseChanged),
		SessionID: sessionID,
		From:      from,
		To:        to,
		Reason:    reason,
		Iteration: iteration,
	}
}

// TaskCompletedEvent is published once per collected task result.
type TaskCompletedEvent struct {
	baseEvent
	SessionID string
	TaskID    string
	Kind      research.TaskKind
	Status    research.ResultStatus
	Duration  time.Duration
	Questions int
	// Timeout is set when the handler ran out of time.
	Timeout bool
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(sessionID string, task research.Task, result *research.Result, questions int, timeout bool) TaskCompletedEvent {
	return TaskCompletedEvent{
		baseEvent: newBaseEvent(TypeTaskCompleted),
		SessionID: sessionID,
		TaskID:    task.ID,
		Kind:      task.Kind,
		Status:    result.Status,
		Duration:  time.Duration(result.DurationMS) * time.Millisecond,
		Questions: questions,
		Timeout:   timeout,
	}
}

// CoverageEvaluatedEvent is published after every questions_review pass.
type CoverageEvaluatedEvent struct {
	baseEvent
	SessionID    string
	Iteration    int
	Overall      float64
	Target       float64
	Decision     research.Decision
	Reason       string
	TasksCreated int
}

// NewCoverageEvaluatedEvent creates a CoverageEvaluatedEvent from a report.
func NewCoverageEvaluatedEvent(sessionID string, r *research.CoverageReport) CoverageEvaluatedEvent {
	return CoverageEvaluatedEvent{
		baseEvent:    newBaseEvent(TypeCoverageEvaluated),
		SessionID:    sessionID,
		Iteration:    r.Iteration,
		Overall:      r.Overall,
		Target:       r.Target,
		Decision:     r.Decision,
		Reason:       r.Reason,
		TasksCreated: len(r.TasksCreated),
	}
}

// SessionFailedEvent is published when a session enters the failed phase.
type SessionFailedEvent struct {
	baseEvent
	SessionID string
	Phase     research.Phase
	Kind      string
	Message   string
}

// NewSessionFailedEvent creates a SessionFailedEvent.
func NewSessionFailedEvent(sessionID string, f *research.Failure) SessionFailedEvent {
	return SessionFailedEvent{
		baseEvent: newBaseEvent(TypeSessionFailed),
		SessionID: sessionID,
		Phase:     f.Phase,
		Kind:      f.Kind,
		Message:   f.Message,
	}
}
