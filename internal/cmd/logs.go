package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/ralph/internal/logging"
	"github.com/Iron-Ham/ralph/internal/tui"
)

var logsCmd = &cobra.Command{
	Use:   "logs [session-id]",
	Short: "View session logs",
	Long: `View, filter and export the debug log of a session.

By default, shows the last 50 entries of the most recently updated session.

Examples:
  # Everything from one session
  ralph logs bitcoin -n 0

  # Warnings and errors of the execution phase
  ralph logs --level warn --phase execution

  # One task
  ralph logs --task d_001

  # Export the last hour as CSV
  ralph logs --since 1h --export run.csv --format csv

  # Follow a running session
  ralph logs -f`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogs,
}

var (
	logsTail   int
	logsFollow bool
	logsLevel  string
	logsPhase  string
	logsTask   string
	logsSince  string
	logsGrep   string
	logsExport string
	logsFormat string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsPhase, "phase", "", "Filter by phase")
	logsCmd.Flags().StringVar(&logsTask, "task", "", "Filter by task id")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter messages matching pattern (regex)")
	logsCmd.Flags().StringVar(&logsExport, "export", "", "Write the entries to this file instead of stdout")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "Output format (text/json/csv)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	filter, err := logsFilter()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)
	id, err := resolveSession(store, args)
	if err != nil {
		return err
	}
	dir := store.Dir(id)

	entries, err := logging.AggregateLogs(dir)
	if err != nil {
		return err
	}
	entries = logging.FilterLogs(entries, filter)

	if logsExport != "" {
		f, err := os.Create(logsExport)
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		if err := logging.WriteEntries(f, entries, logsFormat); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", len(entries), logsExport)
		return nil
	}

	out := cmd.OutOrStdout()
	if err := logging.WriteEntries(out, logging.Tail(entries, logsTail), logsFormat); err != nil {
		return err
	}
	if !logsFollow {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	return followLogs(ctx, out, dir, filter, len(entries))
}

func logsFilter() (logging.LogFilter, error) {
	f := logging.LogFilter{
		Level:  logsLevel,
		Phase:  logsPhase,
		TaskID: logsTask,
	}
	if logsLevel != "" && !slices.Contains(logging.ValidLevels(), strings.ToUpper(logsLevel)) {
		return f, fmt.Errorf("invalid level %q (valid: debug, info, warn, error)", logsLevel)
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return f, fmt.Errorf("invalid --since duration: %w", err)
		}
		f.Since = time.Now().Add(-d)
	}
	if logsGrep != "" {
		re, err := regexp.Compile(logsGrep)
		if err != nil {
			return f, fmt.Errorf("invalid --grep pattern: %w", err)
		}
		f.Pattern = re
	}
	return f, nil
}

// followLogs prints entries appended after the first seen, until ctx ends.
func followLogs(ctx context.Context, out io.Writer, dir string, filter logging.LogFilter, seen int) error {
	w, err := tui.NewWatcher(dir, nil, logging.LogFileName)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	fmt.Fprintln(out, "Following logs... (Ctrl+C to stop)")
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-w.Changes():
			if !ok {
				return nil
			}
			entries, err := logging.AggregateLogs(dir)
			if err != nil {
				continue
			}
			entries = logging.FilterLogs(entries, filter)
			// Rotation shrinks the file; start over from its beginning.
			if len(entries) < seen {
				seen = 0
			}
			if err := logging.WriteEntries(out, entries[seen:], "text"); err != nil {
				return err
			}
			seen = len(entries)
		}
	}
}
