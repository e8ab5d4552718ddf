// Package config provides CLI commands for managing ralph configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	appconfig "github.com/Iron-Ham/ralph/internal/config"
	"github.com/Iron-Ham/ralph/internal/research"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify ralph configuration",
	Long: `View or modify ralph configuration.

Use 'config show' to display the effective configuration and the
subcommands to create a config file or change single values.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  ralph config set research.default_depth comprehensive
  ralph config set research.task_timeout 90s
  ralph config set handlers.data.command ./fetch-series

Valid keys:
  research.default_depth      - executive, standard, comprehensive, deep_dive
  research.default_format     - markdown, html, pdf, excel
  research.max_parallel       - Concurrent handler invocations
  research.task_timeout       - Handler deadline (e.g. 5m)
  research.max_phase_steps    - Transitions one run may make
  handlers.command            - Handler command for every task kind
  handlers.<kind>.command     - Handler command for one kind
                                (overview, data, research, literature, fact_check)
  stages.<phase>.command      - External command replacing a built-in stage
  paths.data_dir              - Directory holding sessions and the catalog
  logging.enabled             - Write debug.log per session (true/false)
  logging.level               - debug, info, warn, error
  logging.max_size_mb         - Rotate debug.log at this size (0 disables)
  logging.max_backups         - Rotated files to keep
  logging.compress            - Gzip rotated files (true/false)
  metrics.enabled             - Write a Prometheus textfile per run (true/false)
  metrics.file                - Name of that file inside the session dir
  catalog.enabled             - Serve list and search from SQLite (true/false)
  catalog.file                - Catalog file name inside the data dir`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/ralph/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// Register adds all config-related commands to the given parent command.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

var handlerKinds = []string{"overview", "data", "research", "literature", "fact_check"}

// keyType returns how the value of key is parsed, or "" for unknown keys.
func keyType(key string) string {
	switch key {
	case "research.default_depth":
		return "depth"
	case "research.default_format":
		return "format"
	case "research.max_parallel", "research.max_phase_steps",
		"logging.max_size_mb", "logging.max_backups":
		return "int"
	case "research.task_timeout":
		return "duration"
	case "logging.level":
		return "level"
	case "logging.enabled", "logging.compress", "metrics.enabled", "catalog.enabled":
		return "bool"
	case "handlers.command", "paths.data_dir", "metrics.file", "catalog.file":
		return "string"
	}
	parts := strings.Split(key, ".")
	if len(parts) == 3 && parts[2] == "command" {
		switch {
		case parts[0] == "handlers" && slices.Contains(handlerKinds, parts[1]):
			return "string"
		case parts[0] == "stages" && slices.Contains(appconfig.ValidStageNames(), parts[1]):
			return "string"
		}
	}
	return ""
}

func parseValue(key, kind, value string) (any, error) {
	switch kind {
	case "depth":
		if _, err := research.ParseDepth(value); err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		return value, nil
	case "format":
		if !slices.Contains(research.ValidFormats(), value) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(research.ValidFormats(), ", "))
		}
		return value, nil
	case "level":
		if !slices.Contains(appconfig.ValidLogLevels(), strings.ToLower(value)) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(appconfig.ValidLogLevels(), ", "))
		}
		return strings.ToLower(value), nil
	case "bool":
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	case "duration":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid value for %s: expected a positive duration such as 90s", key)
		}
		return value, nil
	default:
		return value, nil
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := appconfig.Load()
	if err != nil {
		fmt.Fprintf(out, "Config is invalid, showing defaults: %v\n\n", err)
		cfg = appconfig.Default()
	}

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "research:")
	fmt.Fprintf(out, "  default_depth: %s\n", cfg.Research.DefaultDepth)
	fmt.Fprintf(out, "  default_format: %s\n", cfg.Research.DefaultFormat)
	fmt.Fprintf(out, "  max_parallel: %d\n", cfg.Research.MaxParallel)
	fmt.Fprintf(out, "  task_timeout: %s\n", cfg.Research.TaskTimeout)
	fmt.Fprintf(out, "  max_phase_steps: %d\n", cfg.Research.MaxPhaseSteps)

	fmt.Fprintln(out, "handlers:")
	fmt.Fprintf(out, "  command: %s\n", commandLine(appconfig.CommandConfig{Command: cfg.Handlers.Command, Args: cfg.Handlers.Args}))
	for _, kind := range research.AllKinds() {
		fmt.Fprintf(out, "  %s: %s\n", kind, commandLine(cfg.Handlers.For(kind)))
	}

	fmt.Fprintln(out, "stages:")
	for _, name := range appconfig.ValidStageNames() {
		fmt.Fprintf(out, "  %s: %s\n", name, commandLine(cfg.Stages[name]))
	}

	fmt.Fprintln(out, "paths:")
	fmt.Fprintf(out, "  data_dir: %s\n", cfg.Paths.DataDir)

	fmt.Fprintln(out, "logging:")
	fmt.Fprintf(out, "  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Fprintf(out, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  max_size_mb: %d\n", cfg.Logging.MaxSizeMB)
	fmt.Fprintf(out, "  max_backups: %d\n", cfg.Logging.MaxBackups)
	fmt.Fprintf(out, "  compress: %v\n", cfg.Logging.Compress)

	fmt.Fprintln(out, "metrics:")
	fmt.Fprintf(out, "  enabled: %v\n", cfg.Metrics.Enabled)
	fmt.Fprintf(out, "  file: %s\n", cfg.Metrics.File)

	fmt.Fprintln(out, "catalog:")
	fmt.Fprintf(out, "  enabled: %v\n", cfg.Catalog.Enabled)
	fmt.Fprintf(out, "  file: %s\n", cfg.Catalog.File)
	return nil
}

func commandLine(c appconfig.CommandConfig) string {
	if !c.IsSet() {
		return "(built-in)"
	}
	return strings.Join(append([]string{c.Command}, c.Args...), " ")
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	kind := keyType(key)
	if kind == "" {
		return fmt.Errorf("unknown configuration key: %s\nRun 'ralph config set --help' to see valid keys", key)
	}
	typed, err := parseValue(key, kind, value)
	if err != nil {
		return err
	}

	previous := viper.Get(key)
	viper.Set(key, typed)
	if _, err := appconfig.Load(); err != nil {
		viper.Set(key, previous)
		return err
	}

	configFile := targetFile()
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typed)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

// targetFile is the file set and init write: the file in use, else the
// default location.
func targetFile() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return appconfig.ConfigFile()
}

const defaultConfig = `# ralph configuration

research:
  # executive, standard, comprehensive or deep_dive
  default_depth: standard
  # markdown, html, pdf or excel
  default_format: markdown
  # Concurrent handler invocations per execution iteration
  max_parallel: 4
  # Deadline of one handler invocation
  task_timeout: 5m
  # Transitions one run may make before it stops
  max_phase_steps: 64

# Task handlers. Each one reads {"task":...,"context":...} on stdin and
# writes {"result":...,"questions":[...]} on stdout. Without a command the
# built-in dry-run handler is used.
handlers:
  command: ""
  args: []
  # data:
  #   command: ./fetch-series

# External commands replacing built-in stages, keyed by phase.
stages: {}
  # reporting:
  #   command: ./render-report

paths:
  # Sessions live in <data_dir>/sessions
  data_dir: .ralph

logging:
  enabled: true
  # debug, info, warn or error
  level: info
  # Rotate debug.log at this size; 0 disables rotation
  max_size_mb: 10
  max_backups: 3
  compress: false

metrics:
  # Prometheus textfile written into the session dir after every run
  enabled: true
  file: metrics.prom

catalog:
  # SQLite index serving list and search
  enabled: true
  file: catalog.db
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := appconfig.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'ralph config set' to modify values", configFile)
	}
	if err := os.MkdirAll(appconfig.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", appconfig.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. --config flag\n")
	fmt.Fprintf(out, "  2. %s\n", appconfig.ConfigFile())
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: RALPH_* (e.g., RALPH_RESEARCH_MAX_PARALLEL)")
	return nil
}
