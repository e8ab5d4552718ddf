package stages

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/Iron-Ham/ralph/internal/session"
)

// SeedBriefFile holds a user-supplied brief until brief_builder consumes
// it. Keeping it in the session directory makes resume self-contained.
const SeedBriefFile = "brief_seed.json"

const maxEntityScopes = 3

// dataWords mark a query that asks for numbers.
var dataWords = []string{
	"price", "prices", "flow", "flows", "volume", "rate", "rates", "growth",
	"market", "yield", "yields", "tvl", "returns", "inflation", "revenue",
	"supply", "adoption", "fees",
}

// LoadBriefFile reads a brief from a YAML or JSON file. Unknown keys are
// rejected so typos do not silently drop scope.
func LoadBriefFile(path string) (*research.Brief, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var b research.Brief
	if err := dec.Decode(&b); err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("brief file %s: %v", path, err)).WithField("brief")
	}
	// Ids stay empty until brief_builder so a continuation can tell new
	// items from updates.
	if err := normalizeBrief(&b, false); err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("brief file %s: %v", path, err)).WithField("brief")
	}
	check := b
	check.ScopeItems = slices.Clone(b.ScopeItems)
	if err := normalizeBrief(&check, true); err == nil {
		err = check.Validate()
	}
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("brief file %s: %v", path, err)).WithField("brief")
	}
	return &b, nil
}

// SaveSeed stores b for the brief_builder stage of the session behind ws.
func SaveSeed(ws *session.Workspace, b *research.Brief) error {
	return ws.WriteJSON(SeedBriefFile, b)
}

func loadSeed(ws *session.Workspace) (*research.Brief, error) {
	var b research.Brief
	if err := ws.ReadJSON(SeedBriefFile, &b); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// BriefBuilder writes brief.json. A seeded brief is used as given; without
// one a brief is derived from the query and the extracted entities. In a
// continuation the inherited brief is extended: seeded items replace or
// join the existing scope, and additional context without a seed becomes a
// new high-priority research item. Only those items carry continuation
// flags, so only they are planned.
//
// The session's preferences always win over the seed's.
type BriefBuilder struct{}

// Phase implements Stage.
func (BriefBuilder) Phase() research.Phase { return research.PhaseBriefBuilder }

// Run implements Stage.
func (BriefBuilder) Run(_ context.Context, in *Input) error {
	s := in.Session
	seed, err := loadSeed(in.Workspace)
	if err != nil {
		return err
	}

	var brief *research.Brief
	switch {
	case s.IsContinuation:
		base, err := in.Workspace.LoadBrief()
		if errors.Is(err, errors.ErrNotFound) {
			base = DeriveBrief(s.Query, s.Entities, s.Depth)
		} else if err != nil {
			return err
		}
		brief = MergeContinuation(base, seed, s.AdditionalContext)
	case seed != nil:
		brief = seed
	default:
		brief = DeriveBrief(s.Query, s.Entities, s.Depth)
	}

	if brief.Goal == "" {
		brief.Goal = s.Query
	}
	brief.Preferences = s.Preferences
	if err := normalizeBrief(brief, true); err != nil {
		return err
	}
	if err := brief.Validate(); err != nil {
		return err
	}
	s.Depth = s.Preferences.Depth

	in.logger().Info("brief built",
		"session_id", s.ID,
		"scope_items", len(brief.ScopeItems),
		"continuation", s.IsContinuation,
		"seeded", seed != nil,
	)
	return in.Workspace.SaveBrief(brief)
}

// DeriveBrief builds a brief from the query alone: an overview item, a
// data item when the query asks for numbers, one research item per entity
// and, for the deeper depths, a literature review.
func DeriveBrief(query string, entities []string, depth research.Depth) *research.Brief {
	topic := strings.TrimSpace(query)
	b := &research.Brief{Goal: topic}
	add := func(t research.ScopeType, p research.Priority, topic string, questions ...string) {
		b.ScopeItems = append(b.ScopeItems, research.ScopeItem{
			ID:        "s" + strconv.Itoa(len(b.ScopeItems)+1),
			Topic:     topic,
			Type:      t,
			Priority:  p,
			Questions: questions,
		})
	}

	add(research.ScopeOverview, research.PriorityHigh, topic,
		"background and definitions",
		"current state",
	)
	if mentionsData(topic) {
		add(research.ScopeData, research.PriorityHigh, "Key metrics: "+topic,
			"historical data",
			"latest figures",
		)
	}
	for i, e := range entities {
		if i == maxEntityScopes {
			break
		}
		add(research.ScopeResearch, research.PriorityMedium, e,
			"role of "+e,
			"recent developments for "+e,
		)
	}
	if depth == research.DepthComprehensive || depth == research.DepthDeepDive {
		add(research.ScopeLiteratureReview, research.PriorityLow, "Prior work: "+topic,
			"key publications",
		)
	}
	return b
}

func mentionsData(query string) bool {
	for _, w := range ExtractTags(query) {
		if slices.Contains(dataWords, w) {
			return true
		}
	}
	return false
}

// MergeContinuation returns base extended by seed and additionalContext
// with the continuation flags set on the items that changed. base is not
// modified.
func MergeContinuation(base, seed *research.Brief, additionalContext string) *research.Brief {
	merged := base.ClearContinuationFlags()
	ctx := strings.TrimSpace(additionalContext)

	if seed != nil {
		if seed.Goal != "" {
			merged.Goal = seed.Goal
		}
		for _, item := range seed.ScopeItems {
			i := -1
			if item.ID != "" {
				i = slices.IndexFunc(merged.ScopeItems, func(x research.ScopeItem) bool { return x.ID == item.ID })
			}
			if i >= 0 {
				item.AddedInContinuation = false
				item.UpdatedInContinuation = true
				merged.ScopeItems[i] = item
				continue
			}
			if item.ID == "" {
				item.ID = nextScopeID(merged.ScopeItems)
			}
			item.AddedInContinuation = true
			item.UpdatedInContinuation = false
			merged.ScopeItems = append(merged.ScopeItems, item)
		}
	}

	if ctx != "" && (seed == nil || len(seed.ScopeItems) == 0) {
		merged.ScopeItems = append(merged.ScopeItems, research.ScopeItem{
			ID:                  nextScopeID(merged.ScopeItems),
			Topic:               ctx,
			Type:                research.ScopeResearch,
			Priority:            research.PriorityHigh,
			Questions:           []string{ctx},
			AddedInContinuation: true,
		})
	}
	if ctx != "" && !strings.Contains(merged.Goal, ctx) {
		merged.Goal = strings.TrimSpace(merged.Goal + " (continued: " + ctx + ")")
	}
	return &merged
}

// normalizeBrief fills the types and priorities a hand-written brief may
// leave out, and the ids too when fillIDs is set.
func normalizeBrief(b *research.Brief, fillIDs bool) error {
	for i := range b.ScopeItems {
		item := &b.ScopeItems[i]
		item.Topic = strings.TrimSpace(item.Topic)
		if item.Topic == "" {
			return fmt.Errorf("scope item %d: missing topic", i+1)
		}
		if fillIDs && item.ID == "" {
			item.ID = nextScopeID(b.ScopeItems)
		}
		if item.Type == "" {
			item.Type = research.ScopeResearch
		}
		if item.Priority == "" {
			item.Priority = research.PriorityMedium
		}
		if item.Questions == nil {
			item.Questions = []string{}
		}
	}
	return nil
}

// nextScopeID returns "s<n>" one past the highest numbered id in items.
func nextScopeID(items []research.ScopeItem) string {
	highest := 0
	for _, item := range items {
		if n, err := strconv.Atoi(strings.TrimPrefix(item.ID, "s")); err == nil && strings.HasPrefix(item.ID, "s") && n > highest {
			highest = n
		}
	}
	return "s" + strconv.Itoa(highest+1)
}
