package research

import "fmt"

// Depth selects how much work a session does.
type Depth string

const (
	DepthExecutive     Depth = "executive"
	DepthStandard      Depth = "standard"
	DepthComprehensive Depth = "comprehensive"
	DepthDeepDive      Depth = "deep_dive"
)

// DepthSettings is one row of the depth table.
type DepthSettings struct {
	Depth          Depth   `json:"depth"`
	TasksPerScope  int     `json:"tasks_per_scope"`
	MaxIterations  int     `json:"max_iterations"`
	CoverageTarget float64 `json:"coverage_target"`
}

var depthTable = map[Depth]DepthSettings{
	DepthExecutive:     {DepthExecutive, 1, 1, 70},
	DepthStandard:      {DepthStandard, 2, 2, 80},
	DepthComprehensive: {DepthComprehensive, 3, 3, 90},
	DepthDeepDive:      {DepthDeepDive, 4, 4, 95},
}

// ValidDepths lists depths from shallowest to deepest.
func ValidDepths() []Depth {
	return []Depth{DepthExecutive, DepthStandard, DepthComprehensive, DepthDeepDive}
}

// SettingsFor returns the fixed settings row for d.
func SettingsFor(d Depth) (DepthSettings, error) {
	s, ok := depthTable[d]
	if !ok {
		return DepthSettings{}, fmt.Errorf("unknown depth %q", d)
	}
	return s, nil
}

// ParseDepth validates a depth name.
func ParseDepth(s string) (Depth, error) {
	d := Depth(s)
	if _, ok := depthTable[d]; !ok {
		return "", fmt.Errorf("unknown depth %q (valid: executive, standard, comprehensive, deep_dive)", s)
	}
	return d, nil
}
