package phase

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/research"
)

// Next selects the phase that follows s given the side inputs, without
// building the new session. It enforces every transition rule Advance does.
func Next(s *research.Session, in Inputs) (research.Phase, error) {
	if err := Validate(s); err != nil {
		return "", err
	}
	from := s.Phase
	if from.IsTerminal() {
		return "", errors.NewTransitionError(string(from), "", "session is in a terminal phase")
	}

	switch {
	case from == research.PhaseQuestionsReview && in.Decision == research.DecisionNone:
		return "", errors.NewTransitionError(string(from), "", "leaving questions_review requires a coverage decision")
	case from != research.PhaseQuestionsReview && in.Decision != research.DecisionNone:
		return "", errors.NewTransitionError(string(from), "",
			fmt.Sprintf("coverage decision %q is only meaningful in questions_review", in.Decision))
	}

	for _, e := range edges {
		if e.From != from || !e.allows(s.Depth) {
			continue
		}
		if e.When != nil && !e.When(s, in) {
			continue
		}
		if !e.To.IsLoop() && !e.To.IsTerminal() && s.Visited(e.To) {
			return "", errors.NewTransitionError(string(from), string(e.To), "phase was already visited")
		}
		return e.To, nil
	}
	return "", errors.NewTransitionError(string(from), "", "no edge matches the session state")
}

// Advance returns a copy of s moved to its next phase. It performs no I/O;
// the caller persists the result. Routing from questions_review back to
// execution increments the iteration.
func Advance(s *research.Session, in Inputs) (*research.Session, error) {
	to, err := Next(s, in)
	if err != nil {
		return nil, err
	}

	next := s.Clone()
	next.Phase = to
	next.History = append(next.History, research.Transition{
		From:   s.Phase,
		To:     to,
		At:     in.At,
		Reason: in.Reason,
	})
	if s.Phase == research.PhaseQuestionsReview && to == research.PhaseExecution {
		next.Execution.Iteration++
	}
	return next, nil
}

// Validate checks that s sits in a phase its depth can reach. Sessions
// whose phase was forced outside the graph fail here.
func Validate(s *research.Session) error {
	if !s.Phase.Valid() {
		return errors.NewTransitionError(string(s.Phase), "", "unknown phase")
	}
	if s.Phase == research.PhaseFailed {
		return nil
	}
	if _, err := research.SettingsFor(s.Depth); err != nil {
		return errors.NewTransitionError(string(s.Phase), "", err.Error())
	}
	if !IsReachable(s.Depth, s.Phase) {
		return errors.NewTransitionError("", string(s.Phase),
			fmt.Sprintf("phase is not reachable at depth %s", s.Depth))
	}
	return nil
}

// Fail returns a copy of s moved to the terminal failed phase with cause
// recorded. A session that is already failed is returned unchanged.
func Fail(s *research.Session, cause error, at time.Time) *research.Session {
	if s.Phase == research.PhaseFailed {
		return s.Clone()
	}
	next := s.Clone()
	next.Phase = research.PhaseFailed
	next.Failure = &research.Failure{
		Kind:    errors.Kind(cause),
		Message: cause.Error(),
		Phase:   s.Phase,
		At:      at,
	}
	next.History = append(next.History, research.Transition{
		From:   s.Phase,
		To:     research.PhaseFailed,
		At:     at,
		Reason: errors.Kind(cause),
	})
	return next
}
