package stages

import (
	"context"
	"slices"
	"time"

	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/Iron-Ham/ralph/internal/session"
)

// Block kinds used in a visual layout.
const (
	BlockHeading   = "heading"
	BlockSummary   = "summary"
	BlockText      = "text"
	BlockChart     = "chart"
	BlockTable     = "table"
	BlockGaps      = "gaps"
	BlockCitations = "citations"
)

// DefaultComponents apply when the preferences name none.
var DefaultComponents = []string{BlockSummary, BlockChart, BlockTable, BlockCitations}

// Block is one element of the rendered page.
type Block struct {
	Kind    string `json:"kind"`
	Section string `json:"section,omitempty"`
	Ref     string `json:"ref,omitempty"`
}

// VisualArtifact is written to visual.json.
type VisualArtifact struct {
	Format     string    `json:"format"`
	Components []string  `json:"components"`
	Blocks     []Block   `json:"blocks"`
	CreatedAt  time.Time `json:"created_at"`
}

// VisualDesign lays the story out as blocks for the html and pdf
// renderers. Optional blocks appear only when their component is wanted.
// The phase controller only routes html and pdf sessions here.
type VisualDesign struct{}

// Phase implements Stage.
func (VisualDesign) Phase() research.Phase { return research.PhaseVisualDesign }

// Run implements Stage.
func (VisualDesign) Run(_ context.Context, in *Input) error {
	var story StoryArtifact
	if err := in.Workspace.ReadJSON(session.StoryFile, &story); err != nil {
		return err
	}
	art := Layout(in.Session.Preferences, &story)
	art.CreatedAt = in.Now
	return in.Workspace.WriteJSON(session.VisualFile, art)
}

// Layout builds the block list for story.
func Layout(prefs research.Preferences, story *StoryArtifact) *VisualArtifact {
	components := prefs.Components
	if len(components) == 0 {
		components = DefaultComponents
	}
	want := func(c string) bool { return slices.Contains(components, c) }

	art := &VisualArtifact{
		Format:     prefs.OutputFormat,
		Components: slices.Clone(components),
		Blocks:     []Block{{Kind: BlockHeading, Ref: story.Title}},
	}
	if want(BlockSummary) {
		art.Blocks = append(art.Blocks, Block{Kind: BlockSummary})
	}
	for _, sec := range story.Sections {
		art.Blocks = append(art.Blocks,
			Block{Kind: BlockHeading, Section: sec.ScopeItemID, Ref: sec.Title},
			Block{Kind: BlockText, Section: sec.ScopeItemID},
		)
		if want(BlockChart) {
			for _, c := range sec.Charts {
				art.Blocks = append(art.Blocks, Block{Kind: BlockChart, Section: sec.ScopeItemID, Ref: c})
			}
		}
		if want(BlockTable) && len(sec.KeyPoints) > 0 {
			art.Blocks = append(art.Blocks, Block{Kind: BlockTable, Section: sec.ScopeItemID})
		}
		if len(sec.Gaps) > 0 {
			art.Blocks = append(art.Blocks, Block{Kind: BlockGaps, Section: sec.ScopeItemID})
		}
	}
	if want(BlockCitations) {
		art.Blocks = append(art.Blocks, Block{Kind: BlockCitations})
	}
	return art
}
