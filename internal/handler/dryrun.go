package handler

import (
	"context"
	"encoding/json"

	"github.com/Iron-Ham/ralph/internal/research"
)

// DryRun answers every task offline. Each result is partial, has no
// citations and claims every question the task was given, which is enough
// for the pipeline to reach complete without any external tool.
type DryRun struct{}

// Handle implements Handler.
func (DryRun) Handle(ctx context.Context, task research.Task, hc Context) (*research.Result, []research.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	output, err := json.Marshal(map[string]any{
		"summary": "dry run: no handler configured for " + string(task.Kind) + " tasks",
		"topic":   task.Topic,
		"angle":   task.Angle,
	})
	if err != nil {
		return nil, nil, err
	}
	return &research.Result{
		TaskID:         task.ID,
		Status:         research.StatusPartial,
		Output:         output,
		CoveredAspects: append([]string(nil), task.Questions...),
	}, nil, nil
}
