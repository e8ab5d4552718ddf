package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/research"
)

// Artifact names inside a session directory. Every phase writes to a
// deterministic location so status and search never recompute anything.
const (
	BriefFile           = "brief.json"
	PlanFile            = "plan.json"
	TasksFile           = "tasks.json"
	InitialResearchFile = "initial_research.json"
	AggregationFile     = "aggregation.json"
	ChartsFile          = "charts.json"
	StoryFile           = "story.json"
	VisualFile          = "visual.json"
	EditingFile         = "editing.json"

	ResultsDir   = "results"
	QuestionsDir = "questions"
	CoverageDir  = "coverage"
	SeriesDir    = "series"
	OutputDir    = "output"
)

// Workspace reads and writes the artifacts of one session.
type Workspace struct {
	dir string
}

// Workspace returns the artifact view of session id.
func (s *Store) Workspace(id string) *Workspace {
	return &Workspace{dir: s.Dir(id)}
}

// NewWorkspace wraps an existing session directory.
func NewWorkspace(dir string) *Workspace {
	return &Workspace{dir: dir}
}

// Dir returns the session directory.
func (w *Workspace) Dir() string { return w.dir }

// Path joins parts onto the session directory.
func (w *Workspace) Path(parts ...string) string {
	return filepath.Join(append([]string{w.dir}, parts...)...)
}

// WriteJSON atomically replaces the named artifact.
func (w *Workspace) WriteJSON(name string, v any) error {
	return writeJSON(w.Path(name), v)
}

// ReadJSON decodes the named artifact. A missing artifact is NotFound.
func (w *Workspace) ReadJSON(name string, v any) error {
	if err := readJSON(w.Path(name), v); err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("artifact", name).WithCause(err)
		}
		return err
	}
	return nil
}

// Has reports whether the named artifact exists.
func (w *Workspace) Has(name string) bool {
	_, err := os.Stat(w.Path(name))
	return err == nil
}

// SaveBrief writes brief.json.
func (w *Workspace) SaveBrief(b *research.Brief) error {
	return w.WriteJSON(BriefFile, b)
}

// LoadBrief reads brief.json.
func (w *Workspace) LoadBrief() (*research.Brief, error) {
	var b research.Brief
	if err := w.ReadJSON(BriefFile, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// SavePlan writes plan.json.
func (w *Workspace) SavePlan(p *research.Plan) error {
	return w.WriteJSON(PlanFile, p)
}

// LoadTasks returns every task ever created for the session, keyed by id.
// A session without tasks.json has no tasks.
func (w *Workspace) LoadTasks() (map[string]research.Task, error) {
	tasks := make(map[string]research.Task)
	var list []research.Task
	if err := readJSON(w.Path(TasksFile), &list); err != nil {
		if os.IsNotExist(err) {
			return tasks, nil
		}
		return nil, err
	}
	for _, t := range list {
		tasks[t.ID] = t
	}
	return tasks, nil
}

// AddTasks appends tasks to tasks.json. An id already present with a
// different definition is rejected so a task is never redefined.
func (w *Workspace) AddTasks(tasks ...research.Task) error {
	return withFileLock(w.dir, func() error {
		var list []research.Task
		if err := readJSON(w.Path(TasksFile), &list); err != nil && !os.IsNotExist(err) {
			return err
		}
		for _, t := range tasks {
			i := slices.IndexFunc(list, func(x research.Task) bool { return x.ID == t.ID })
			if i < 0 {
				list = append(list, t)
				continue
			}
			// Re-adding an identical definition happens when a phase is
			// replayed after a crash.
			if !sameTask(list[i], t) {
				return fmt.Errorf("task %s already exists", t.ID)
			}
		}
		return writeJSON(w.Path(TasksFile), list)
	})
}

func (w *Workspace) resultPath(taskID string) string {
	return w.Path(ResultsDir, taskID+".json")
}

// WriteResult stores r once. It reports false if a result for the task was
// already written; the existing result is left untouched.
func (w *Workspace) WriteResult(r *research.Result) (bool, error) {
	data, err := marshal(r)
	if err != nil {
		return false, err
	}
	return createExclusive(w.resultPath(r.TaskID), data)
}

// HasResult reports whether the task already has a stored result.
func (w *Workspace) HasResult(taskID string) bool {
	_, err := os.Stat(w.resultPath(taskID))
	return err == nil
}

// LoadResult reads the result of one task.
func (w *Workspace) LoadResult(taskID string) (*research.Result, error) {
	var r research.Result
	if err := w.ReadJSON(filepath.Join(ResultsDir, taskID+".json"), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Results returns every stored result ordered by task id.
func (w *Workspace) Results() ([]*research.Result, error) {
	names, err := w.list(ResultsDir, ".json")
	if err != nil {
		return nil, err
	}
	results := make([]*research.Result, 0, len(names))
	for _, name := range names {
		r, err := w.LoadResult(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// AppendQuestions adds questions to questions/<kind>.json. The file only
// grows; earlier passes are never overwritten. A question already stored
// for the same source task is not added again.
func (w *Workspace) AppendQuestions(kind research.TaskKind, qs []research.Question) error {
	if len(qs) == 0 {
		return nil
	}
	path := w.Path(QuestionsDir, string(kind)+".json")
	return withFileLock(w.dir, func() error {
		var existing []research.Question
		if err := readJSON(path, &existing); err != nil && !os.IsNotExist(err) {
			return err
		}
		type key struct{ id, source string }
		stored := make(map[key]bool, len(existing))
		for _, q := range existing {
			stored[key{q.ID, q.SourceTaskID}] = true
		}
		for _, q := range qs {
			if !stored[key{q.ID, q.SourceTaskID}] {
				existing = append(existing, q)
				stored[key{q.ID, q.SourceTaskID}] = true
			}
		}
		return writeJSON(path, existing)
	})
}

// Questions returns all stored questions, grouped by kind in AllKinds
// order and in append order within a kind.
func (w *Workspace) Questions() ([]research.Question, error) {
	var all []research.Question
	for _, kind := range research.AllKinds() {
		var qs []research.Question
		if err := readJSON(w.Path(QuestionsDir, string(kind)+".json"), &qs); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		all = append(all, qs...)
	}
	return all, nil
}

// WriteSeries stores the time-series payload of a task.
func (w *Workspace) WriteSeries(taskID string, series json.RawMessage) error {
	return atomicWriteFile(w.Path(SeriesDir, taskID+".json"), series)
}

// SeriesFiles lists the stored series payloads.
func (w *Workspace) SeriesFiles() ([]string, error) {
	names, err := w.list(SeriesDir, ".json")
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = w.Path(SeriesDir, n)
	}
	return paths, nil
}

// HasSeries reports whether the series directory is non-empty.
func (w *Workspace) HasSeries() bool {
	files, err := w.SeriesFiles()
	return err == nil && len(files) > 0
}

// WriteCoverageReport stores the report for its iteration.
func (w *Workspace) WriteCoverageReport(r *research.CoverageReport) error {
	return w.WriteJSON(filepath.Join(CoverageDir, fmt.Sprintf("iteration_%d.json", r.Iteration)), r)
}

// CoverageReports returns every stored report ordered by iteration.
func (w *Workspace) CoverageReports() ([]*research.CoverageReport, error) {
	names, err := w.list(CoverageDir, ".json")
	if err != nil {
		return nil, err
	}
	reports := make([]*research.CoverageReport, 0, len(names))
	for _, name := range names {
		var r research.CoverageReport
		if err := w.ReadJSON(filepath.Join(CoverageDir, name), &r); err != nil {
			return nil, err
		}
		reports = append(reports, &r)
	}
	slices.SortFunc(reports, func(a, b *research.CoverageReport) int { return a.Iteration - b.Iteration })
	return reports, nil
}

// OutputPath returns a path inside the output directory, creating it.
func (w *Workspace) OutputPath(name string) (string, error) {
	dir := w.Path(OutputDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// WriteOutput atomically replaces a rendered deliverable.
func (w *Workspace) WriteOutput(name string, data []byte) error {
	path, err := w.OutputPath(name)
	if err != nil {
		return err
	}
	return atomicWriteFile(path, data)
}

// ReadOutput reads a rendered deliverable.
func (w *Workspace) ReadOutput(name string) ([]byte, error) {
	data, err := os.ReadFile(w.Path(OutputDir, name))
	if os.IsNotExist(err) {
		return nil, errors.NewNotFoundError("output", name).WithCause(err)
	}
	return data, err
}

func (w *Workspace) list(sub, ext string) ([]string, error) {
	entries, err := os.ReadDir(w.Path(sub))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ext) && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func sameTask(a, b research.Task) bool {
	x, errA := json.Marshal(a)
	y, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(x, y)
}
