package event

import "github.com/Iron-Ham/ralph/internal/logging"

// LogEvents writes every event published on bus to logger at debug level.
// It returns the subscription id.
func LogEvents(bus *Bus, logger *logging.Logger) string {
	return bus.SubscribeAll(func(e Event) {
		logger.Debug("event", Fields(e)...)
	})
}

// Fields flattens e into logger key/value pairs, starting with its type.
func Fields(e Event) []any {
	fields := []any{"event", e.EventType()}
	switch ev := e.(type) {
	case PhaseChangedEvent:
		fields = append(fields, "session_id", ev.SessionID, "from", ev.From, "to", ev.To, "iteration", ev.Iteration)
		if ev.Reason != "" {
			fields = append(fields, "reason", ev.Reason)
		}
	case TaskCompletedEvent:
		fields = append(fields, "session_id", ev.SessionID, "task_id", ev.TaskID, "kind", ev.Kind,
			"status", ev.Status, "duration_ms", ev.Duration.Milliseconds(), "questions", ev.Questions)
		if ev.Timeout {
			fields = append(fields, "timeout", true)
		}
	case CoverageEvaluatedEvent:
		fields = append(fields, "session_id", ev.SessionID, "iteration", ev.Iteration, "overall", ev.Overall,
			"target", ev.Target, "decision", ev.Decision, "tasks_created", ev.TasksCreated)
	case SessionFailedEvent:
		fields = append(fields, "session_id", ev.SessionID, "phase", ev.Phase, "kind", ev.Kind, "message", ev.Message)
	}
	return fields
}
