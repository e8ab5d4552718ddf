package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/Iron-Ham/ralph/internal/config"
	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/research"
)

// maxStderr bounds how much stderr is kept for error messages.
const maxStderr = 4 << 10

// Request is written to a command handler's stdin.
type Request struct {
	Task    research.Task `json:"task"`
	Context Context       `json:"context"`
}

// Response is read from a command handler's stdout.
type Response struct {
	Result    *research.Result    `json:"result"`
	Questions []research.Question `json:"questions"`
}

// CommandHandler runs an external executable once per task.
type CommandHandler struct {
	Command string
	Args    []string
	// Env is appended to the inherited environment.
	Env []string
}

// NewCommandHandler builds a handler from a configured command.
func NewCommandHandler(cfg config.CommandConfig) *CommandHandler {
	return &CommandHandler{Command: cfg.Command, Args: cfg.Args}
}

// Handle implements Handler. A non-zero exit or an unparsable reply is a
// HandlerFailure; running past the context deadline is a HandlerTimeout.
func (h *CommandHandler) Handle(ctx context.Context, task research.Task, hc Context) (*research.Result, []research.Question, error) {
	payload, err := json.Marshal(Request{Task: task, Context: hc})
	if err != nil {
		return nil, nil, errors.NewHandlerError("failed to encode request", err).WithTask(task.ID, string(task.Kind))
	}

	cmd := exec.CommandContext(ctx, h.Command, h.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Dir = hc.WorkDir
	cmd.WaitDelay = 2 * time.Second
	cmd.Env = append(os.Environ(),
		"RALPH_SESSION_ID="+hc.SessionID,
		"RALPH_TASK_ID="+task.ID,
		"RALPH_TASK_TYPE="+string(task.Kind),
	)
	cmd.Env = append(cmd.Env, h.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &limitedBuffer{buf: &stderr, max: maxStderr}

	started := time.Now()
	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, nil, errors.NewHandlerTimeout(task.ID, time.Since(started).Round(time.Millisecond))
	}
	if runErr != nil {
		msg := fmt.Sprintf("%s exited: %v", h.Command, runErr)
		if s := strings.TrimSpace(stderr.String()); s != "" {
			msg += ": " + s
		}
		return nil, nil, errors.NewHandlerError(msg, runErr).WithTask(task.ID, string(task.Kind))
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, nil, errors.NewHandlerError("handler wrote invalid JSON", err).WithTask(task.ID, string(task.Kind))
	}
	if resp.Result == nil {
		return nil, nil, errors.NewHandlerError("handler reply has no result", nil).WithTask(task.ID, string(task.Kind))
	}
	return resp.Result, resp.Questions, nil
}

type limitedBuffer struct {
	buf *bytes.Buffer
	max int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if room := l.max - l.buf.Len(); room > 0 {
		if len(p) > room {
			l.buf.Write(p[:room])
		} else {
			l.buf.Write(p)
		}
	}
	return len(p), nil
}

// NewFromConfig builds the registry from configuration. Kinds without a
// configured command, or every kind when dryRun is set, use DryRun.
func NewFromConfig(cfg config.HandlersConfig, dryRun bool) *Registry {
	pick := func(kind research.TaskKind) Handler {
		c := cfg.For(kind)
		if dryRun || !c.IsSet() {
			return DryRun{}
		}
		return NewCommandHandler(c)
	}
	return &Registry{
		Overview:   pick(research.KindOverview),
		Data:       pick(research.KindData),
		Research:   pick(research.KindResearch),
		Literature: pick(research.KindLiterature),
		FactCheck:  pick(research.KindFactCheck),
	}
}
