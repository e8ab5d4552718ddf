package handler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/ralph/internal/config"
	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/research"
)

func dataTask() research.Task {
	return research.Task{
		ID:          "d1",
		ScopeItemID: "s1",
		Kind:        research.KindData,
		Priority:    research.PriorityHigh,
		Topic:       "ETF inflows",
		Questions:   []string{"daily inflows", "issuer share"},
	}
}

func TestRegistry_For(t *testing.T) {
	called := ""
	reg := &Registry{
		Data: Func(func(context.Context, research.Task, Context) (*research.Result, []research.Question, error) {
			called = "data"
			return &research.Result{}, nil, nil
		}),
	}

	h, err := reg.For(research.KindData)
	require.NoError(t, err)
	_, _, err = h.Handle(context.Background(), dataTask(), Context{})
	require.NoError(t, err)
	assert.Equal(t, "data", called)

	_, err = reg.For(research.KindOverview)
	assert.ErrorContains(t, err, "no handler registered")

	_, err = reg.For("astrology")
	assert.ErrorContains(t, err, "unknown task kind")
}

func TestUniform(t *testing.T) {
	reg := Uniform(DryRun{})
	for _, kind := range research.AllKinds() {
		h, err := reg.For(kind)
		require.NoError(t, err, kind)
		assert.IsType(t, DryRun{}, h)
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.HandlersConfig{
		Command: "research-agent",
		Data:    config.CommandConfig{Command: "data-agent", Args: []string{"--fast"}},
	}

	reg := NewFromConfig(cfg, false)
	data, err := reg.For(research.KindData)
	require.NoError(t, err)
	require.IsType(t, &CommandHandler{}, data)
	assert.Equal(t, "data-agent", data.(*CommandHandler).Command)
	assert.Equal(t, []string{"--fast"}, data.(*CommandHandler).Args)

	overview, err := reg.For(research.KindOverview)
	require.NoError(t, err)
	assert.Equal(t, "research-agent", overview.(*CommandHandler).Command)

	dry := NewFromConfig(cfg, true)
	h, err := dry.For(research.KindData)
	require.NoError(t, err)
	assert.IsType(t, DryRun{}, h)

	unset := NewFromConfig(config.HandlersConfig{}, false)
	h, err = unset.For(research.KindFactCheck)
	require.NoError(t, err)
	assert.IsType(t, DryRun{}, h)
}

func TestDryRun(t *testing.T) {
	r, qs, err := DryRun{}.Handle(context.Background(), dataTask(), Context{})
	require.NoError(t, err)
	assert.Empty(t, qs)
	assert.Equal(t, "d1", r.TaskID)
	assert.Equal(t, research.StatusPartial, r.Status)
	assert.Equal(t, []string{"daily inflows", "issuer share"}, r.CoveredAspects)
	assert.Empty(t, r.Citations)
	assert.True(t, json.Valid(r.Output))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = DryRun{}.Handle(ctx, dataTask(), Context{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalize(t *testing.T) {
	task := dataTask()

	r, qs, err := Normalize(task, &research.Result{}, []research.Question{
		{Question: "who else issues?"},
		{Question: ""},
		{ID: "custom", Question: "fees?", Type: research.KindResearch, PriorityHint: research.PriorityHigh, SourceTaskID: "x9"},
	})
	require.NoError(t, err)
	assert.Equal(t, "d1", r.TaskID)
	assert.Equal(t, research.StatusDone, r.Status)

	require.Len(t, qs, 2)
	assert.Equal(t, "q_d1_1", qs[0].ID)
	assert.Equal(t, research.KindData, qs[0].Type)
	assert.Equal(t, research.PriorityMedium, qs[0].PriorityHint)
	assert.Equal(t, "custom", qs[1].ID)
	assert.Equal(t, "d1", qs[1].SourceTaskID)
	assert.Equal(t, research.KindResearch, qs[1].Type)

	_, _, err = Normalize(task, nil, nil)
	assert.Error(t, err)
	_, _, err = Normalize(task, &research.Result{TaskID: "d2"}, nil)
	assert.Error(t, err)
	_, _, err = Normalize(task, &research.Result{Status: "meh"}, nil)
	assert.Error(t, err)
}

func shell(script string) *CommandHandler {
	return &CommandHandler{Command: "/bin/sh", Args: []string{"-c", script}}
}

func TestCommandHandler_Success(t *testing.T) {
	h := shell(`read -r line; case "$line" in *'"id":"d1"'*) ;; *) exit 3;; esac
printf '%s' '{"result":{"task_id":"d1","status":"done","covered_aspects":["daily inflows"]},"questions":[{"question":"net flows?","priority_hint":"high"}]}'`)

	r, qs, err := h.Handle(context.Background(), dataTask(), Context{SessionID: "s1", WorkDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, research.StatusDone, r.Status)
	assert.Equal(t, []string{"daily inflows"}, r.CoveredAspects)
	require.Len(t, qs, 1)
	assert.Equal(t, research.PriorityHigh, qs[0].PriorityHint)
}

func TestCommandHandler_Env(t *testing.T) {
	h := shell(`cat >/dev/null; printf '{"result":{"status":"done","output":{"task":"%s","extra":"%s"}}}' "$RALPH_TASK_ID" "$EXTRA"`)
	h.Env = []string{"EXTRA=yes"}

	r, _, err := h.Handle(context.Background(), dataTask(), Context{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"task":"d1","extra":"yes"}`, string(r.Output))
}

func TestCommandHandler_Failures(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"non-zero exit", `cat >/dev/null; echo "rate limited" >&2; exit 2`, "rate limited"},
		{"invalid json", `cat >/dev/null; echo not-json`, "invalid JSON"},
		{"missing result", `cat >/dev/null; echo '{"questions":[]}'`, "no result"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := shell(tt.script).Handle(context.Background(), dataTask(), Context{})
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrHandlerFailure)
			assert.NotErrorIs(t, err, errors.ErrHandlerTimeout)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestCommandHandler_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, _, err := shell(`exec sleep 5`).Handle(ctx, dataTask(), Context{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrHandlerTimeout)
	assert.ErrorIs(t, err, errors.ErrHandlerFailure)
}
