package main

import (
	"fmt"
	"os"

	"github.com/Iron-Ham/ralph/internal/cmd"
	"github.com/Iron-Ham/ralph/internal/errors"
)

func main() {
	err := cmd.Execute()
	if err == nil {
		return
	}
	var exit *cmd.ExitError
	if !errors.As(err, &exit) || exit.Err != nil {
		fmt.Fprintln(os.Stderr, cmd.FormatError(err))
	}
	os.Exit(cmd.ExitCode(err))
}
