package stages

import (
	"context"
	"slices"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/Iron-Ham/ralph/internal/session"
)

const maxTags = 8

// stopWords are dropped when deriving tags from a query.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "between": true, "by": true, "can": true, "compare": true,
	"did": true, "do": true, "does": true, "for": true, "from": true,
	"how": true, "in": true, "into": true, "is": true, "it": true, "its": true,
	"of": true, "on": true, "or": true, "over": true, "the": true, "their": true,
	"this": true, "to": true, "vs": true, "was": true, "what": true,
	"when": true, "which": true, "who": true, "why": true, "will": true,
	"with": true, "about": true, "analysis": true, "research": true,
}

// InitialResearchArtifact is written to initial_research.json.
type InitialResearchArtifact struct {
	Query     string    `json:"query"`
	Tags      []string  `json:"tags"`
	Entities  []string  `json:"entities"`
	CreatedAt time.Time `json:"created_at"`
}

// InitialResearch extracts tags and entities from the query. Tags the
// session already has (from the command line) come first.
type InitialResearch struct{}

// Phase implements Stage.
func (InitialResearch) Phase() research.Phase { return research.PhaseInitialResearch }

// Run implements Stage.
func (InitialResearch) Run(_ context.Context, in *Input) error {
	s := in.Session
	s.Tags = mergeUnique(s.Tags, ExtractTags(s.Query), maxTags)
	s.Entities = mergeUnique(s.Entities, ExtractEntities(s.Query), 0)

	return in.Workspace.WriteJSON(session.InitialResearchFile, &InitialResearchArtifact{
		Query:     s.Query,
		Tags:      s.Tags,
		Entities:  s.Entities,
		CreatedAt: in.Now,
	})
}

func words(query string) []string {
	return strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '$'
	})
}

// ExtractTags returns the case-folded significant words of query in order
// of first appearance.
func ExtractTags(query string) []string {
	fold := cases.Fold()
	var tags []string
	for _, w := range words(query) {
		w = strings.Trim(fold.String(w), "-$")
		if len([]rune(w)) < 3 || stopWords[w] || slices.Contains(tags, w) {
			continue
		}
		tags = append(tags, w)
	}
	return tags
}

// ExtractEntities returns the capitalized words and ticker-like tokens of
// query. Consecutive capitalized words form one entity.
func ExtractEntities(query string) []string {
	lower := cases.Lower(language.Und)
	var (
		out []string
		run []string
	)
	flush := func() {
		if len(run) > 0 {
			name := strings.Join(run, " ")
			if !slices.Contains(out, name) {
				out = append(out, name)
			}
			run = nil
		}
	}
	for i, w := range strings.Fields(query) {
		trimmed := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '$'
		})
		if trimmed == "" {
			flush()
			continue
		}
		first := []rune(trimmed)[0]
		isEntity := unicode.IsUpper(first) || first == '$'
		// A capitalized first word is usually just the sentence start.
		if i == 0 && isEntity && !isAcronym(trimmed) && stopWords[lower.String(trimmed)] {
			isEntity = false
		}
		if !isEntity {
			flush()
			continue
		}
		run = append(run, trimmed)
		if trimmed != w {
			// Punctuation ends a multi-word name.
			flush()
		}
	}
	flush()
	return out
}

func isAcronym(w string) bool {
	letters := 0
	for _, r := range w {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 2
}

// mergeUnique appends the items of add missing from base. A positive limit
// caps the result length.
func mergeUnique(base, add []string, limit int) []string {
	out := slices.Clone(base)
	for _, v := range add {
		if limit > 0 && len(out) >= limit {
			break
		}
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
