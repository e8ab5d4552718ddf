package session

import (
	"os"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/research"
)

// CloneForContinuation opens a new session that continues parentID.
//
// The child keeps the parent's completed tasks, their results, questions
// and series, and the brief with every continuation flag cleared. Pending
// tasks are dropped, coverage is zeroed and the child starts at
// brief_builder so the additional context can be merged into the brief.
func (s *Store) CloneForContinuation(parentID, additionalContext string) (*research.Session, error) {
	parent, err := s.Load(parentID)
	if err != nil {
		return nil, err
	}

	now := s.timestamp()
	child := &research.Session{
		Query:       parent.Query,
		Phase:       research.PhaseBriefBuilder,
		Depth:       parent.Depth,
		Preferences: parent.Preferences,
		Tags:        parent.Tags,
		Entities:    parent.Entities,
		Execution: research.Execution{
			TasksCompleted:    parent.Execution.TasksCompleted.Clone(),
			ReviewedQuestions: parent.Execution.ReviewedQuestions.Clone(),
		},
		IsContinuation:    true,
		ContinuedFrom:     parent.ID,
		AdditionalContext: additionalContext,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	child = child.Clone()

	if err := s.insert(child, parent.Query); err != nil {
		return nil, err
	}
	if err := s.copyArtifacts(parent.ID, child.ID); err != nil {
		_ = os.RemoveAll(s.Dir(child.ID))
		return nil, errors.NewSessionError("failed to copy parent artifacts", err).WithSessionID(child.ID)
	}

	s.logger.Info("session continued",
		"session_id", child.ID,
		"continued_from", parent.ID,
		"completed_tasks", child.Execution.TasksCompleted.Len(),
	)
	return child, nil
}

func (s *Store) copyArtifacts(fromID, toID string) error {
	from, to := s.Workspace(fromID), s.Workspace(toID)

	if brief, err := from.LoadBrief(); err == nil {
		cleared := brief.ClearContinuationFlags()
		if err := to.SaveBrief(&cleared); err != nil {
			return err
		}
	} else if !errors.Is(err, errors.ErrNotFound) {
		return err
	}

	if from.Has(TasksFile) {
		if err := copyFile(from.Path(TasksFile), to.Path(TasksFile)); err != nil {
			return err
		}
	}
	for _, dir := range []string{ResultsDir, QuestionsDir, SeriesDir} {
		if err := copyDir(from.Path(dir), to.Path(dir)); err != nil {
			return err
		}
	}
	return nil
}
