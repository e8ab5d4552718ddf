package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/ralph/internal/event"
	"github.com/Iron-Ham/ralph/internal/logging"
	"github.com/Iron-Ham/ralph/internal/research"
)

func TestRecorder_Observe(t *testing.T) {
	bus := event.NewBus(logging.NopLogger())
	r := New()
	r.Attach(bus)

	bus.Publish(event.NewPhaseChangedEvent("s", research.PhasePlanning, research.PhaseExecution, "", 1))
	bus.Publish(event.NewPhaseChangedEvent("s", research.PhaseQuestionsReview, research.PhaseExecution, "retry", 2))
	bus.Publish(event.NewTaskCompletedEvent("s",
		research.Task{ID: "d1", Kind: research.KindData},
		&research.Result{TaskID: "d1", Status: research.StatusDone, DurationMS: 1500}, 0, false))
	bus.Publish(event.NewTaskCompletedEvent("s",
		research.Task{ID: "d2", Kind: research.KindData},
		&research.Result{TaskID: "d2", Status: research.StatusFailed, DurationMS: 200}, 0, true))
	bus.Publish(event.NewCoverageEvaluatedEvent("s", &research.CoverageReport{Iteration: 2, Overall: 72.5}))
	bus.Publish(event.NewSessionFailedEvent("s", &research.Failure{Kind: "stage_failure", Phase: research.PhaseReporting}))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.PhaseTransitions.WithLabelValues("planning", "execution")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PhaseTransitions.WithLabelValues("questions_review", "execution")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Tasks.WithLabelValues("data", "done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Tasks.WithLabelValues("data", "failed")))
	assert.Equal(t, 72.5, testutil.ToFloat64(r.Coverage))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Iterations))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Failures.WithLabelValues("stage_failure")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.HandlerDuration))

	r.Detach()
	bus.Publish(event.NewPhaseChangedEvent("s", research.PhasePlanning, research.PhaseExecution, "", 1))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PhaseTransitions.WithLabelValues("planning", "execution")))
	assert.Zero(t, bus.SubscriptionCount())
}

func TestRecorder_WriteFile(t *testing.T) {
	r := New()
	r.Observe(event.NewPhaseChangedEvent("s", research.PhaseAggregation, research.PhaseStoryLining, "", 1))
	r.Observe(event.NewCoverageEvaluatedEvent("s", &research.CoverageReport{Iteration: 1, Overall: 100}))

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, r.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `ralph_phase_transitions_total{from="aggregation",to="story_lining"} 1`)
	assert.Contains(t, text, "ralph_coverage_percent 100")
	assert.Contains(t, text, "# TYPE ralph_iterations gauge")

	// A second write replaces the file.
	r.Observe(event.NewCoverageEvaluatedEvent("s", &research.CoverageReport{Iteration: 2, Overall: 50}))
	require.NoError(t, r.WriteFile(path))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ralph_coverage_percent 50")
}
