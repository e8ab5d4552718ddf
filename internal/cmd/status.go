package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/ralph/internal/progress"
	"github.com/Iron-Ham/ralph/internal/session"
	"github.com/Iron-Ham/ralph/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show the progress of a session",
	Long: `Show the phase, progress, coverage and per-scope state of a session.

Status only reads the session documents, so it shows the last saved state
even while another process is running the session or after one crashed.
With --watch the view stays open and refreshes whenever the session is saved.`,
	Args: cobra.MaximumNArgs(1),
	RunE: alwaysSucceeds(runStatus),
}

var statusWatch bool

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "keep the view open and refresh on every save")
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)
	id, err := resolveSession(store, args)
	if err != nil {
		fmt.Fprintln(out, err)
		return nil
	}
	load := func() (*progress.Report, error) { return loadReport(store, id) }

	if statusWatch {
		if f, ok := out.(*os.File); ok && term.IsTerminal(f.Fd()) {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return tui.Watch(ctx, store.Dir(id), load, cmd.InOrStdin(), out)
		}
		fmt.Fprintln(out, "--watch needs a terminal; showing a single snapshot")
	}

	report, err := load()
	if err != nil {
		fmt.Fprintln(out, err)
		return nil
	}
	fmt.Fprint(out, progress.Render(report, progress.Options{Width: terminalWidth(out)}))
	return nil
}

func loadReport(store *session.Store, id string) (*progress.Report, error) {
	sess, err := store.Load(id)
	if err != nil {
		return nil, err
	}
	brief, err := loadBrief(store.Workspace(id))
	if err != nil {
		return nil, err
	}
	return progress.Build(sess, brief), nil
}

// terminalWidth returns the width of w when it is a terminal, else 0.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(f.Fd()) {
		return 0
	}
	width, _, err := term.GetSize(f.Fd())
	if err != nil {
		return 0
	}
	return width
}
