package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/ralph/internal/catalog"
	"github.com/Iron-Ham/ralph/internal/config"
	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/Iron-Ham/ralph/internal/util"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List research sessions",
	Long: `List every session with its phase, depth, coverage, query and tags,
most recently updated first.

Examples:
  ralph list
  ralph list --phase complete
  ralph list --match "*bitcoin*"`,
	Args: cobra.NoArgs,
	RunE: alwaysSucceeds(runList),
}

var searchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Find sessions by query, tag or entity",
	Long: `Search matches the term against the query, tags and entity names of
every session, ignoring case.`,
	Args: cobra.MinimumNArgs(1),
	RunE: alwaysSucceeds(runSearch),
}

var (
	listMatch string
	listPhase string
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	phaseStyles = map[research.Phase]lipgloss.Style{
		research.PhaseComplete: lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")),
		research.PhaseFailed:   lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171")),
	}
)

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(searchCmd)

	listCmd.Flags().StringVar(&listMatch, "match", "", "glob matched against session id and query")
	listCmd.Flags().StringVar(&listPhase, "phase", "", "only sessions in this phase")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	f := catalog.Filter{Match: listMatch}
	if listPhase != "" {
		p, err := research.ParsePhase(listPhase)
		if err != nil {
			return err
		}
		f.Phase = p
	}

	entries, err := queryCatalog(cmd.Context(), cfg, func(ctx context.Context, c *catalog.Catalog) ([]catalog.Entry, error) {
		return c.List(ctx, f)
	}, func(all []catalog.Entry) ([]catalog.Entry, error) {
		match, err := f.Matcher()
		if err != nil {
			return nil, err
		}
		var out []catalog.Entry
		for _, e := range all {
			if match(e) {
				out = append(out, e)
			}
		}
		return out, nil
	})
	if err != nil {
		return err
	}
	printEntries(cmd.OutOrStdout(), entries)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	term := strings.Join(args, " ")

	entries, err := queryCatalog(cmd.Context(), cfg, func(ctx context.Context, c *catalog.Catalog) ([]catalog.Entry, error) {
		return c.Search(ctx, term)
	}, func(all []catalog.Entry) ([]catalog.Entry, error) {
		var out []catalog.Entry
		for _, e := range all {
			if e.Matches(term) {
				out = append(out, e)
			}
		}
		return out, nil
	})
	if err != nil {
		return err
	}
	printEntries(cmd.OutOrStdout(), entries)
	return nil
}

// queryCatalog resyncs the catalog from the session documents and runs
// query against it. With the catalog disabled, fallback filters the
// documents directly.
func queryCatalog(
	ctx context.Context,
	cfg *config.Config,
	query func(context.Context, *catalog.Catalog) ([]catalog.Entry, error),
	fallback func([]catalog.Entry) ([]catalog.Entry, error),
) ([]catalog.Entry, error) {
	sessions, err := openStore(cfg).List()
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}

	if !cfg.Catalog.Enabled {
		all := make([]catalog.Entry, 0, len(sessions))
		for _, s := range sessions {
			all = append(all, catalog.FromSession(s))
		}
		sortEntries(all)
		return fallback(all)
	}

	c, err := catalog.Open(cfg.Catalog.Path(cfg.Paths.DataDir))
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()
	if err := c.Sync(ctx, sessions); err != nil {
		return nil, err
	}
	return query(ctx, c)
}

func printEntries(out io.Writer, entries []catalog.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return
	}

	idWidth := len("ID")
	for _, e := range entries {
		idWidth = max(idWidth, len(e.ID))
	}
	width := terminalWidth(out)
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%-*s  %-16s  %-13s  %8s  %s", idWidth, "ID", "PHASE", "DEPTH", "COVERAGE", "QUERY")))
	for _, e := range entries {
		phase := util.PadRight(string(e.Phase), 16)
		if st, ok := phaseStyles[e.Phase]; ok {
			phase = util.PadRight(st.Render(string(e.Phase)), 16)
		}
		line := fmt.Sprintf("%-*s  %s  %-13s  %7.1f%%  %s", idWidth, e.ID, phase, e.Depth, e.Coverage, util.TruncateString(util.FirstLine(e.Query), 60))
		if len(e.Tags) > 0 {
			line += "  " + dimStyle.Render("["+strings.Join(e.Tags, ", ")+"]")
		}
		if e.ContinuedFrom != "" {
			line += "  " + dimStyle.Render("(continues "+e.ContinuedFrom+")")
		}
		if width > 0 {
			line = util.TruncateANSI(line, width)
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, dimStyle.Render(util.Plural(len(entries), "session")))
}

// sortEntries orders entries like catalog.List: newest update first.
func sortEntries(entries []catalog.Entry) {
	slices.SortStableFunc(entries, func(a, b catalog.Entry) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
}
