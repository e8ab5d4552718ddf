// Package stages provides the collaborators of the non-loop phases:
// everything the controller runs outside planning, execution and
// questions_review.
//
// Each Stage reads the artifacts earlier phases left in the workspace and
// writes its own under a fixed name. Stages never move the session between
// phases; that is the controller's job. The only session fields a stage may
// touch are the ones it owns: tags and entities (initial_research) and
// depth and preferences (brief_builder).
//
// The built-in stages are deterministic and run offline. Any of them can be
// replaced by an external command (see CommandStage).
package stages

import (
	"context"
	"time"

	"github.com/Iron-Ham/ralph/internal/config"
	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/logging"
	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/Iron-Ham/ralph/internal/session"
)

// Input is what a stage runs against.
type Input struct {
	// Session is a private copy the stage may modify within its ownership.
	Session   *research.Session
	Workspace *session.Workspace
	Logger    *logging.Logger
	// Now timestamps the artifacts the stage writes.
	Now time.Time
}

func (in *Input) logger() *logging.Logger {
	if in.Logger == nil {
		return logging.NopLogger()
	}
	return in.Logger
}

// Stage runs one non-loop phase.
type Stage interface {
	// Phase returns the phase this stage implements.
	Phase() research.Phase
	// Run does the phase's work. It must respect ctx for anything that
	// may block.
	Run(ctx context.Context, in *Input) error
}

// Set maps phases to their stages.
type Set map[research.Phase]Stage

// Defaults returns the built-in stage for every non-loop phase.
func Defaults() Set {
	s := Set{}
	for _, st := range []Stage{
		InitialResearch{},
		BriefBuilder{},
		Aggregation{},
		ChartAnalysis{},
		StoryLining{},
		VisualDesign{},
		Reporting{},
		Editing{},
	} {
		s[st.Phase()] = st
	}
	return s
}

// FromConfig returns the defaults with every configured stage command
// swapped in.
func FromConfig(overrides map[string]config.CommandConfig) Set {
	s := Defaults()
	for name, cmd := range overrides {
		if !cmd.IsSet() {
			continue
		}
		p := research.Phase(name)
		if _, ok := s[p]; !ok {
			continue
		}
		s[p] = NewCommandStage(p, cmd)
	}
	return s
}

// With returns a copy of s with st registered for its phase.
func (s Set) With(st Stage) Set {
	out := make(Set, len(s)+1)
	for p, v := range s {
		out[p] = v
	}
	out[st.Phase()] = st
	return out
}

// For returns the stage registered for p.
func (s Set) For(p research.Phase) (Stage, error) {
	st, ok := s[p]
	if !ok {
		return nil, errors.NewStageError(string(p), "no stage registered", nil)
	}
	return st, nil
}

// Run looks up the stage for the input session's phase and runs it. Stage
// errors come back as StageErrors unless the run was cancelled.
func (s Set) Run(ctx context.Context, in *Input) error {
	p := in.Session.Phase
	st, err := s.For(p)
	if err != nil {
		return err
	}

	log := in.logger().WithPhase(string(p))
	started := time.Now()
	log.Debug("stage started", "session_id", in.Session.ID)

	if err := st.Run(ctx, in); err != nil {
		if ctx.Err() != nil {
			return errors.Join(errors.ErrCancelled, ctx.Err())
		}
		if errors.Is(err, errors.ErrStageFailure) {
			return err
		}
		return errors.NewStageError(string(p), "run failed", err)
	}

	log.Info("stage finished", "session_id", in.Session.ID, "duration_ms", time.Since(started).Milliseconds())
	return nil
}
