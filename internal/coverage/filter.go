package coverage

import (
	"fmt"

	"github.com/Iron-Ham/ralph/internal/research"
)

// Filter decides whether a follow-up question becomes a task. It depends
// only on its arguments: high always executes, low never does, and medium
// executes while at least two iterations remain (iteration < max-1).
func Filter(hint research.Priority, iteration, maxIterations int) (research.Action, string) {
	switch hint {
	case research.PriorityHigh:
		return research.ActionExecute, "high priority"
	case research.PriorityMedium:
		if iteration < maxIterations-1 {
			return research.ActionExecute, fmt.Sprintf("medium priority with iteration %d of %d", iteration, maxIterations)
		}
		return research.ActionSkip, fmt.Sprintf("medium priority too late in iteration %d of %d", iteration, maxIterations)
	default:
		return research.ActionSkip, "low priority"
	}
}
