package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/ralph/internal/config"
	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/event"
	"github.com/Iron-Ham/ralph/internal/executor"
	"github.com/Iron-Ham/ralph/internal/handler"
	"github.com/Iron-Ham/ralph/internal/metrics"
	"github.com/Iron-Ham/ralph/internal/orchestrator"
	"github.com/Iron-Ham/ralph/internal/progress"
	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/Iron-Ham/ralph/internal/session"
	"github.com/Iron-Ham/ralph/internal/stages"
)

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Start a new research session",
	Long: `Create a session for the query and drive it to completion.

Preferences come from the flags, then from the brief file given with
--brief, then from the research section of the config.

Examples:
  ralph run "bitcoin ETF flows since launch"
  ralph run --depth deep_dive --format html "ethereum staking yields"
  ralph run --brief brief.yaml --dry-run "solana fee markets"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var resumeCmd = &cobra.Command{
	Use:   "resume [session-id]",
	Short: "Continue an unfinished session from its last saved state",
	Long: `Resume loads the named session, or the most recently updated one, and
runs it from the phase it was saved in. A finished session is left as is.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResume,
}

var continueCmd = &cobra.Command{
	Use:   "continue <session-id> [context]",
	Short: "Extend a session with additional context",
	Long: `Continue opens a new session that keeps the completed work of the given
one and plans only the scope that the additional context or brief file
adds. The original session is not modified.

Examples:
  ralph continue 20240501_bitcoin "compare with gold ETF launches"
  ralph continue bitcoin --brief extra-scope.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runContinue,
}

// executionFlags are shared by every command that runs the controller loop.
type executionFlags struct {
	handlerCmd string
	dryRun     bool
	maxSteps   int
	parallel   int
}

var (
	execFlags executionFlags

	runDepth      string
	runAudience   string
	runTone       string
	runFormat     string
	runComponents []string
	runTags       []string
	runBrief      string

	continueBrief string
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(continueCmd)

	runCmd.Flags().StringVar(&runDepth, "depth", "", "research depth (executive/standard/comprehensive/deep_dive)")
	runCmd.Flags().StringVar(&runAudience, "audience", "", "intended audience of the report")
	runCmd.Flags().StringVar(&runTone, "tone", "", "tone of the report")
	runCmd.Flags().StringVar(&runFormat, "format", "", "output format ("+strings.Join(research.ValidFormats(), "|")+")")
	runCmd.Flags().StringArrayVar(&runComponents, "component", nil, "report component to include (repeatable)")
	runCmd.Flags().StringArrayVar(&runTags, "tag", nil, "tag to attach to the session (repeatable)")
	runCmd.Flags().StringVar(&runBrief, "brief", "", "YAML or JSON brief that seeds the brief builder")

	continueCmd.Flags().StringVar(&continueBrief, "brief", "", "YAML or JSON brief with scope items to add or update")

	for _, c := range []*cobra.Command{runCmd, resumeCmd, continueCmd} {
		c.Flags().StringVar(&execFlags.handlerCmd, "handler-cmd", "", "external handler command for every task kind")
		c.Flags().BoolVar(&execFlags.dryRun, "dry-run", false, "use the built-in dry-run handlers")
		c.Flags().IntVar(&execFlags.maxSteps, "max-steps", 0, "phase-step budget (default research.max_phase_steps)")
		c.Flags().IntVar(&execFlags.parallel, "parallel", 0, "concurrent handler invocations (default research.max_parallel)")
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := executionConfig(cmd)
	if err != nil {
		return err
	}

	var seed *research.Brief
	if runBrief != "" {
		seed, err = stages.LoadBriefFile(runBrief)
		if err != nil {
			return err
		}
	}
	prefs, err := runPreferences(cmd, cfg, seed)
	if err != nil {
		return err
	}

	store := openStore(cfg)
	sess, err := store.Create(strings.Join(args, " "), prefs)
	if err != nil {
		return err
	}
	if len(runTags) > 0 {
		sess.Tags = slices.Compact(slices.Clone(runTags))
		if err := store.Save(sess); err != nil {
			return err
		}
	}
	if seed != nil {
		if err := stages.SaveSeed(store.Workspace(sess.ID), seed); err != nil {
			return fmt.Errorf("failed to store brief: %w", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Session %s created (depth %s)\n", sess.ID, sess.Depth)
	return runSession(cmd, cfg, store, sess.ID)
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := executionConfig(cmd)
	if err != nil {
		return err
	}
	store := openStore(cfg)
	id, err := resolveSession(store, args)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Resuming session %s\n", id)
	return runSession(cmd, cfg, store, id)
}

func runContinue(cmd *cobra.Command, args []string) error {
	cfg, err := executionConfig(cmd)
	if err != nil {
		return err
	}

	var seed *research.Brief
	if continueBrief != "" {
		seed, err = stages.LoadBriefFile(continueBrief)
		if err != nil {
			return err
		}
	}

	store := openStore(cfg)
	parentID, err := store.Resolve(args[0])
	if err != nil {
		return err
	}
	child, err := store.CloneForContinuation(parentID, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	if seed != nil {
		if err := stages.SaveSeed(store.Workspace(child.ID), seed); err != nil {
			return fmt.Errorf("failed to store brief: %w", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Session %s continues %s (%d completed tasks kept)\n",
		child.ID, parentID, child.Execution.TasksCompleted.Len())
	return runSession(cmd, cfg, store, child.ID)
}

// executionConfig loads the config and applies the execution flags of cmd.
func executionConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("handler-cmd") {
		fields := strings.Fields(execFlags.handlerCmd)
		if len(fields) == 0 {
			return nil, errors.NewValidationError("--handler-cmd must not be empty").WithField("handler-cmd")
		}
		cfg.Handlers = config.HandlersConfig{Command: fields[0], Args: fields[1:]}
	}
	if flags.Changed("max-steps") {
		if execFlags.maxSteps < 1 {
			return nil, errors.NewValidationError("--max-steps must be positive").WithValue(execFlags.maxSteps)
		}
		cfg.Research.MaxPhaseSteps = execFlags.maxSteps
	}
	if flags.Changed("parallel") {
		if execFlags.parallel < 1 {
			return nil, errors.NewValidationError("--parallel must be positive").WithValue(execFlags.parallel)
		}
		cfg.Research.MaxParallel = execFlags.parallel
	}
	return cfg, nil
}

// runPreferences merges the run flags over the brief file preferences over
// the configured defaults.
func runPreferences(cmd *cobra.Command, cfg *config.Config, seed *research.Brief) (research.Preferences, error) {
	var prefs research.Preferences
	if seed != nil {
		prefs = seed.Preferences
		prefs.Components = slices.Clone(seed.Preferences.Components)
	}
	if prefs.Depth == "" {
		prefs.Depth = research.Depth(cfg.Research.DefaultDepth)
	}
	if prefs.OutputFormat == "" {
		prefs.OutputFormat = cfg.Research.DefaultFormat
	}

	flags := cmd.Flags()
	if flags.Changed("depth") {
		prefs.Depth = research.Depth(runDepth)
	}
	if flags.Changed("audience") {
		prefs.Audience = runAudience
	}
	if flags.Changed("tone") {
		prefs.Tone = runTone
	}
	if flags.Changed("format") {
		prefs.OutputFormat = strings.ToLower(runFormat)
	}
	if flags.Changed("component") {
		prefs.Components = slices.Clone(runComponents)
	}

	depth, err := research.ParseDepth(string(prefs.Depth))
	if err != nil {
		return prefs, errors.NewValidationError(fmt.Sprintf("%v (valid: %v)", err, research.ValidDepths())).
			WithField("depth").WithValue(prefs.Depth)
	}
	prefs.Depth = depth
	if !slices.Contains(research.ValidFormats(), prefs.OutputFormat) {
		return prefs, errors.NewValidationError(fmt.Sprintf("unknown output format %q", prefs.OutputFormat)).
			WithField("format").WithValue(prefs.OutputFormat)
	}
	return prefs, nil
}

// runSession drives session id with the collaborators described by cfg and
// reports the outcome as an exit status.
func runSession(cmd *cobra.Command, cfg *config.Config, store *session.Store, id string) error {
	out := cmd.OutOrStdout()
	ws := store.Workspace(id)

	logger, err := sessionLogger(cfg, ws.Dir())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	bus := event.NewBus(logger)
	event.LogEvents(bus, logger)
	if cfg.Metrics.Enabled {
		recorder := metrics.New()
		recorder.Attach(bus)
		defer func() {
			recorder.Detach()
			path := ws.Path(cfg.Metrics.File)
			if err := recorder.WriteFile(path); err != nil {
				logger.Warn("failed to write metrics", "session_id", id, "path", path, "error", err)
			}
		}()
	}
	bus.Subscribe(event.TypePhaseChanged, func(event.Event) {
		printProgress(out, store, id)
	})

	registry := handler.NewFromConfig(cfg.Handlers, execFlags.dryRun)
	exec := executor.New(registry, executor.Config{
		MaxParallel: cfg.Research.MaxParallel,
		TaskTimeout: cfg.Research.TaskTimeout,
	}, executor.WithBus(bus), executor.WithLogger(logger))
	runner := orchestrator.New(store, exec,
		orchestrator.WithStages(stages.FromConfig(cfg.Stages)),
		orchestrator.WithBus(bus),
		orchestrator.WithLogger(logger),
		orchestrator.WithMaxSteps(cfg.Research.MaxPhaseSteps),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := runner.Run(ctx, id)
	return reportOutcome(out, ws, sess, err)
}

func printProgress(out io.Writer, store *session.Store, id string) {
	sess, err := store.Load(id)
	if err != nil {
		return
	}
	brief, _ := loadBrief(store.Workspace(id))
	fmt.Fprintln(out, progress.Line(progress.Build(sess, brief)))
}

// reportOutcome prints how a run ended. Anything but complete exits 1.
func reportOutcome(out io.Writer, ws *session.Workspace, sess *research.Session, runErr error) error {
	switch {
	case errors.Is(runErr, errors.ErrCancelled):
		fmt.Fprintf(out, "Interrupted. Resume with: ralph resume %s\n", sess.ID)
		return &ExitError{Code: 1}
	case errors.Is(runErr, errors.ErrBudgetExhausted):
		fmt.Fprintf(out, "Stopped in %s: %v. Resume with: ralph resume %s\n", sess.Phase, runErr, sess.ID)
		return &ExitError{Code: 1}
	case runErr != nil && sess != nil && sess.Phase == research.PhaseFailed:
		fmt.Fprintf(out, "Session %s failed in %s (%s)\n", sess.ID, sess.Failure.Phase, sess.Failure.Kind)
		return &ExitError{Code: 1, Err: runErr}
	case runErr != nil:
		return &ExitError{Code: 1, Err: runErr}
	}

	if sess.Phase != research.PhaseComplete {
		return &ExitError{Code: 1, Err: fmt.Errorf("session %s ended in %s", sess.ID, sess.Phase)}
	}
	fmt.Fprintf(out, "Session %s complete: coverage %.1f%% after %d iteration(s)\n",
		sess.ID, sess.Coverage.Current, sess.Execution.Iteration)
	fmt.Fprintf(out, "Report: %s\n", ws.Path(session.OutputDir, stages.ReportFile))
	return nil
}
