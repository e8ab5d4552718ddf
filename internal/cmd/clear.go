package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/research"
)

var clearCmd = &cobra.Command{
	Use:   "clear [session-id]",
	Short: "Delete session storage",
	Long: `Delete the directory of one session, or of every session with --all.
Sessions held by a running process are skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: alwaysSucceeds(runClear),
}

var setPhaseCmd = &cobra.Command{
	Use:   "set-phase <session-id> <phase>",
	Short: "Force a session into a phase (debugging only)",
	Long: `Overwrite the phase of a session without any transition checks.

This is meant for debugging the pipeline. A phase the session's depth can
never reach is rejected by the next resume, which marks the session failed.`,
	Args: cobra.ExactArgs(2),
	RunE: alwaysSucceeds(runSetPhase),
}

var clearAll bool

func init() {
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(setPhaseCmd)

	clearCmd.Flags().BoolVar(&clearAll, "all", false, "delete every session")
}

func runClear(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if clearAll == (len(args) > 0) {
		return fmt.Errorf("clear needs either a session id or --all")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)

	var ids []string
	if clearAll {
		if ids, err = store.IDs(); err != nil {
			return err
		}
	} else {
		id, err := store.Resolve(args[0])
		if err != nil {
			fmt.Fprintln(out, err)
			return nil
		}
		ids = []string{id}
	}

	removed := 0
	for _, id := range ids {
		if err := store.Delete(id); err != nil {
			if errors.Is(err, errors.ErrSessionLocked) {
				fmt.Fprintf(out, "Skipped %s: %v\n", id, err)
				continue
			}
			fmt.Fprintf(out, "Failed to delete %s: %v\n", id, err)
			continue
		}
		removed++
		fmt.Fprintf(out, "Deleted %s\n", id)
	}
	if clearAll {
		fmt.Fprintf(out, "Removed %d of %d sessions\n", removed, len(ids))
	}
	return nil
}

func runSetPhase(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := research.ParsePhase(args[1])
	if err != nil {
		return err
	}
	store := openStore(cfg)
	id, err := store.Resolve(args[0])
	if err != nil {
		return err
	}
	sess, err := store.Load(id)
	if err != nil {
		return err
	}

	from := sess.Phase
	sess.Phase = p
	if err := store.ForceSave(sess); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s: %s -> %s (forced)\n", id, from, p)
	return nil
}
