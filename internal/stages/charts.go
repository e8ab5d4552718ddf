package stages

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/Iron-Ham/ralph/internal/session"
)

// Point is one sample of a series. Handlers write series either as a list
// of points or as a bare list of numbers.
type Point struct {
	T string  `json:"t"`
	V float64 `json:"v"`
}

// SeriesSummary describes one series file.
type SeriesSummary struct {
	Name      string  `json:"name"`
	Points    int     `json:"points"`
	Start     string  `json:"start,omitempty"`
	End       string  `json:"end,omitempty"`
	First     float64 `json:"first"`
	Last      float64 `json:"last"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Mean      float64 `json:"mean"`
	ChangePct float64 `json:"change_pct"`
	Trend     string  `json:"trend"`
	Error     string  `json:"error,omitempty"`
}

// ChartsArtifact is written to charts.json.
type ChartsArtifact struct {
	Series    []SeriesSummary `json:"series"`
	CreatedAt time.Time       `json:"created_at"`
}

// ChartAnalysis summarizes every series the handlers produced. A series
// that cannot be parsed is listed with its error instead of failing the
// stage.
type ChartAnalysis struct{}

// Phase implements Stage.
func (ChartAnalysis) Phase() research.Phase { return research.PhaseChartAnalysis }

// Run implements Stage.
func (ChartAnalysis) Run(ctx context.Context, in *Input) error {
	files, err := in.Workspace.SeriesFiles()
	if err != nil {
		return err
	}
	art := &ChartsArtifact{Series: []SeriesSummary{}, CreatedAt: in.Now}
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(in.Workspace.Path(session.SeriesDir, name))
		if err != nil {
			return err
		}
		sum := SummarizeSeries(data)
		sum.Name = strings.TrimSuffix(name, filepath.Ext(name))
		art.Series = append(art.Series, sum)
	}
	in.logger().Info("series analyzed", "session_id", in.Session.ID, "series", len(art.Series))
	return in.Workspace.WriteJSON(session.ChartsFile, art)
}

// SummarizeSeries computes the summary of one encoded series.
func SummarizeSeries(data []byte) SeriesSummary {
	points, err := decodeSeries(data)
	if err != nil {
		return SeriesSummary{Error: err.Error(), Trend: "unknown"}
	}
	if len(points) == 0 {
		return SeriesSummary{Trend: "empty"}
	}

	s := SeriesSummary{
		Points: len(points),
		Start:  points[0].T,
		End:    points[len(points)-1].T,
		First:  points[0].V,
		Last:   points[len(points)-1].V,
		Min:    math.Inf(1),
		Max:    math.Inf(-1),
	}
	var sum float64
	for _, p := range points {
		s.Min = math.Min(s.Min, p.V)
		s.Max = math.Max(s.Max, p.V)
		sum += p.V
	}
	s.Mean = sum / float64(len(points))
	if s.First != 0 {
		s.ChangePct = 100 * (s.Last - s.First) / math.Abs(s.First)
	}
	switch {
	case s.Last > s.First:
		s.Trend = "up"
	case s.Last < s.First:
		s.Trend = "down"
	default:
		s.Trend = "flat"
	}
	return s
}

func decodeSeries(data []byte) ([]Point, error) {
	var points []Point
	if err := json.Unmarshal(data, &points); err == nil {
		return points, nil
	}
	var values []float64
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, errors.New("series is neither a list of points nor of numbers")
	}
	points = make([]Point, len(values))
	for i, v := range values {
		points[i] = Point{V: v}
	}
	return points, nil
}
