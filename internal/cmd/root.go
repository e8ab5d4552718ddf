package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdconfig "github.com/Iron-Ham/ralph/internal/cmd/config"
	"github.com/Iron-Ham/ralph/internal/config"
	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/logging"
	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/Iron-Ham/ralph/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Phase-driven deep research sessions",
	Long: `Ralph drives a research question through a fixed pipeline of phases:
initial research, brief building, planning, an execution and review loop
that runs until the brief is covered, then aggregation, story lining and
reporting.

Every session is a directory of documents under the data dir, so a run
that stops for any reason can be resumed where it left off.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/ralph/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "directory holding sessions and the catalog (default ./.ralph)")
	rootCmd.PersistentFlags().String("log-level", "", "session log level (debug/info/warn/error)")
	bindFlags()

	cmdconfig.Register(rootCmd)
}

func bindFlags() {
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("paths.data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("RALPH")
	// RALPH_RESEARCH_MAX_PARALLEL sets research.max_parallel
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing config file is fine; defaults apply.
	_ = viper.ReadInConfig()
}

// loadConfig returns the validated configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) *session.Store {
	return session.NewStore(cfg.Paths.SessionsDir())
}

// sessionLogger opens the debug log in dir according to cfg.
func sessionLogger(cfg *config.Config, dir string) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	return logging.NewLoggerWithOptions(dir, cfg.Logging.Level, logging.Options{
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		},
	})
}

// resolveSession maps an optional partial id to a session id. With no
// reference the most recently updated session is used.
func resolveSession(store *session.Store, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return store.Resolve(args[0])
	}
	latest, err := store.Latest()
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return "", fmt.Errorf("no sessions found in %s", store.Root())
		}
		return "", err
	}
	return latest.ID, nil
}

// loadBrief returns the brief of a session, or nil when it has not been
// built yet.
func loadBrief(ws *session.Workspace) (*research.Brief, error) {
	b, err := ws.LoadBrief()
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}
