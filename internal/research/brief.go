package research

import (
	"fmt"
	"slices"
)

// Priority ranks scope items, tasks and questions.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Weight is the priority's weight in the overall coverage average.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0.5
	default:
		return 1
	}
}

// Rank orders priorities high first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// ScopeType is the declared kind of a scope item.
type ScopeType string

const (
	ScopeOverview         ScopeType = "overview"
	ScopeData             ScopeType = "data"
	ScopeResearch         ScopeType = "research"
	ScopeLiteratureReview ScopeType = "literature_review"
	ScopeFactCheck        ScopeType = "fact_check"
)

// TaskKind maps a scope type onto the task kind that serves it.
func (t ScopeType) TaskKind() (TaskKind, error) {
	switch t {
	case ScopeOverview:
		return KindOverview, nil
	case ScopeData:
		return KindData, nil
	case ScopeResearch:
		return KindResearch, nil
	case ScopeLiteratureReview:
		return KindLiterature, nil
	case ScopeFactCheck:
		return KindFactCheck, nil
	default:
		return "", fmt.Errorf("unknown scope type %q", t)
	}
}

// Output formats accepted in Preferences.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatPDF      = "pdf"
	FormatExcel    = "excel"
)

// ValidFormats lists the accepted output formats.
func ValidFormats() []string {
	return []string{FormatMarkdown, FormatHTML, FormatPDF, FormatExcel}
}

// Preferences configure one run and do not change once the brief is built.
type Preferences struct {
	Depth        Depth    `json:"depth" yaml:"depth"`
	Audience     string   `json:"audience,omitempty" yaml:"audience"`
	Tone         string   `json:"tone,omitempty" yaml:"tone"`
	OutputFormat string   `json:"output_format,omitempty" yaml:"output_format"`
	Components   []string `json:"components,omitempty" yaml:"components"`
}

// NeedsVisualDesign reports whether the output format is rendered visually.
func (p Preferences) NeedsVisualDesign() bool {
	return p.OutputFormat == FormatHTML || p.OutputFormat == FormatPDF
}

// ScopeItem is one sub-topic of the brief.
type ScopeItem struct {
	ID                    string    `json:"id" yaml:"id"`
	Topic                 string    `json:"topic" yaml:"topic"`
	Type                  ScopeType `json:"type" yaml:"type"`
	Priority              Priority  `json:"priority" yaml:"priority"`
	Questions             []string  `json:"questions" yaml:"questions"`
	AddedInContinuation   bool      `json:"added_in_continuation,omitempty" yaml:"added_in_continuation"`
	UpdatedInContinuation bool      `json:"updated_in_continuation,omitempty" yaml:"updated_in_continuation"`
}

// Flagged reports whether the item is eligible for continuation planning.
func (s ScopeItem) Flagged() bool {
	return s.AddedInContinuation || s.UpdatedInContinuation
}

// Brief is produced once by brief_builder and read-only afterwards.
type Brief struct {
	Goal        string      `json:"goal" yaml:"goal"`
	ScopeItems  []ScopeItem `json:"scope_items" yaml:"scope_items"`
	Preferences Preferences `json:"preferences" yaml:"preferences"`
}

// Scope returns the scope item with the given id.
func (b *Brief) Scope(id string) (ScopeItem, bool) {
	i := slices.IndexFunc(b.ScopeItems, func(s ScopeItem) bool { return s.ID == id })
	if i < 0 {
		return ScopeItem{}, false
	}
	return b.ScopeItems[i], true
}

// Validate checks ids are unique and types and priorities are known.
func (b *Brief) Validate() error {
	seen := make(map[string]bool, len(b.ScopeItems))
	for i, item := range b.ScopeItems {
		if item.ID == "" {
			return fmt.Errorf("scope item %d: missing id", i)
		}
		if seen[item.ID] {
			return fmt.Errorf("scope item %q: duplicate id", item.ID)
		}
		seen[item.ID] = true
		if _, err := item.Type.TaskKind(); err != nil {
			return fmt.Errorf("scope item %q: %w", item.ID, err)
		}
		switch item.Priority {
		case PriorityHigh, PriorityMedium, PriorityLow:
		default:
			return fmt.Errorf("scope item %q: unknown priority %q", item.ID, item.Priority)
		}
	}
	if b.Preferences.Depth != "" {
		if _, err := SettingsFor(b.Preferences.Depth); err != nil {
			return err
		}
	}
	return nil
}

// ClearContinuationFlags returns a copy of b with every continuation flag
// reset, as inherited by a new continuation.
func (b Brief) ClearContinuationFlags() Brief {
	items := slices.Clone(b.ScopeItems)
	for i := range items {
		items[i].AddedInContinuation = false
		items[i].UpdatedInContinuation = false
	}
	b.ScopeItems = items
	return b
}
