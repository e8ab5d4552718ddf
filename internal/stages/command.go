package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/ralph/internal/config"
	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/Iron-Ham/ralph/internal/session"
)

// artifacts names the file each phase must leave behind.
var artifacts = map[research.Phase]string{
	research.PhaseInitialResearch: session.InitialResearchFile,
	research.PhaseBriefBuilder:    session.BriefFile,
	research.PhaseAggregation:     session.AggregationFile,
	research.PhaseChartAnalysis:   session.ChartsFile,
	research.PhaseStoryLining:     session.StoryFile,
	research.PhaseVisualDesign:    session.VisualFile,
	research.PhaseReporting:       filepath.Join(session.OutputDir, ReportFile),
	research.PhaseEditing:         session.EditingFile,
}

// CommandRequest is written to a stage command's stdin.
type CommandRequest struct {
	Phase      research.Phase    `json:"phase"`
	SessionDir string            `json:"session_dir"`
	Session    *research.Session `json:"session"`
}

// CommandReply may be printed by a stage command. Only initial_research may
// set tags and entities; every other field is ignored.
type CommandReply struct {
	Tags     []string `json:"tags,omitempty"`
	Entities []string `json:"entities,omitempty"`
}

// CommandStage runs an external executable for a phase. The command works
// inside the session directory and must write the phase's artifact there.
type CommandStage struct {
	phase   research.Phase
	Command string
	Args    []string
}

// NewCommandStage returns a stage running cmd for phase p.
func NewCommandStage(p research.Phase, cmd config.CommandConfig) *CommandStage {
	return &CommandStage{phase: p, Command: cmd.Command, Args: cmd.Args}
}

// Phase implements Stage.
func (c *CommandStage) Phase() research.Phase { return c.phase }

// Run implements Stage.
func (c *CommandStage) Run(ctx context.Context, in *Input) error {
	ws := in.Workspace
	payload, err := json.Marshal(CommandRequest{Phase: c.phase, SessionDir: ws.Dir(), Session: in.Session})
	if err != nil {
		return err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = ws.Dir()
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second
	cmd.Env = append(os.Environ(),
		"RALPH_SESSION_ID="+in.Session.ID,
		"RALPH_SESSION_DIR="+ws.Dir(),
		"RALPH_PHASE="+string(c.phase),
	)

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return errors.NewStageError(string(c.phase), fmt.Sprintf("command %s failed: %s", c.Command, msg), err)
	}

	if out := bytes.TrimSpace(stdout.Bytes()); len(out) > 0 && c.phase == research.PhaseInitialResearch {
		var reply CommandReply
		if err := json.Unmarshal(out, &reply); err != nil {
			return errors.NewStageError(string(c.phase), "command printed invalid JSON", err)
		}
		in.Session.Tags = mergeUnique(in.Session.Tags, reply.Tags, 0)
		in.Session.Entities = mergeUnique(in.Session.Entities, reply.Entities, 0)
	}

	if name, ok := artifacts[c.phase]; ok && !ws.Has(name) {
		return errors.NewStageError(string(c.phase), "command did not write "+name, nil)
	}
	if c.phase == research.PhaseBriefBuilder {
		brief, err := ws.LoadBrief()
		if err != nil {
			return err
		}
		if err := brief.Validate(); err != nil {
			return errors.NewStageError(string(c.phase), "command wrote an invalid brief", err)
		}
		in.Session.Depth = in.Session.Preferences.Depth
	}
	return nil
}
