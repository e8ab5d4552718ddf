package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/ralph/internal/errors"
)

// ExitError carries a process exit status out of a command. Err, when
// set, has not been printed yet.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by Execute to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return 1
}

// alwaysSucceeds wraps the run function of a command whose exit status is
// always 0. Its errors are printed instead of returned. Usage errors found
// by cobra before the command runs still exit 1.
func alwaysSucceeds(run func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := run(cmd, args); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), FormatError(err))
		}
		return nil
	}
}

// FormatError renders an error for the terminal. Errors meant for users are
// labelled with their severity, so a missing session reads as a warning.
// Anything else is an internal failure and is labelled as an error.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	label := "Error"
	if errors.IsUserFacing(err) {
		sev := errors.GetSeverity(err).String()
		label = strings.ToUpper(sev[:1]) + sev[1:]
	}
	return label + ": " + err.Error()
}
