// Package config loads ralph's configuration through viper.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/spf13/viper"
)

// Config holds all ralph configuration.
type Config struct {
	Research ResearchConfig           `mapstructure:"research"`
	Handlers HandlersConfig           `mapstructure:"handlers"`
	Stages   map[string]CommandConfig `mapstructure:"stages"`
	Paths    PathsConfig              `mapstructure:"paths"`
	Logging  LoggingConfig            `mapstructure:"logging"`
	Metrics  MetricsConfig            `mapstructure:"metrics"`
	Catalog  CatalogConfig            `mapstructure:"catalog"`
}

// ResearchConfig controls the controller loop and the execution phase.
type ResearchConfig struct {
	// DefaultDepth applies when neither the CLI nor a brief file sets one.
	DefaultDepth string `mapstructure:"default_depth"`
	// DefaultFormat is the output format used when none is requested.
	DefaultFormat string `mapstructure:"default_format"`
	// MaxParallel bounds concurrent handler invocations per iteration.
	MaxParallel int `mapstructure:"max_parallel"`
	// TaskTimeout is the per-invocation handler deadline.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// MaxPhaseSteps is the number of transitions one invocation may make.
	MaxPhaseSteps int `mapstructure:"max_phase_steps"`
}

// CommandConfig names an external executable.
type CommandConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// IsSet reports whether a command is configured.
func (c CommandConfig) IsSet() bool { return c.Command != "" }

// HandlersConfig configures the task handlers. Per-kind entries override
// the shared command.
type HandlersConfig struct {
	Command    string        `mapstructure:"command"`
	Args       []string      `mapstructure:"args"`
	Overview   CommandConfig `mapstructure:"overview"`
	Data       CommandConfig `mapstructure:"data"`
	Research   CommandConfig `mapstructure:"research"`
	Literature CommandConfig `mapstructure:"literature"`
	FactCheck  CommandConfig `mapstructure:"fact_check"`
}

// For resolves the command for a task kind. The zero CommandConfig means
// the built-in dry-run handler is used.
func (h HandlersConfig) For(kind research.TaskKind) CommandConfig {
	var override CommandConfig
	switch kind {
	case research.KindOverview:
		override = h.Overview
	case research.KindData:
		override = h.Data
	case research.KindResearch:
		override = h.Research
	case research.KindLiterature:
		override = h.Literature
	case research.KindFactCheck:
		override = h.FactCheck
	}
	if override.IsSet() {
		return override
	}
	return CommandConfig{Command: h.Command, Args: h.Args}
}

// PathsConfig controls where session data lives.
type PathsConfig struct {
	// DataDir holds sessions/ and the catalog. Relative paths resolve
	// against the working directory.
	DataDir string `mapstructure:"data_dir"`
}

// SessionsDir returns the directory holding one sub-directory per session.
func (p PathsConfig) SessionsDir() string {
	return filepath.Join(p.DataDir, "sessions")
}

// LoggingConfig controls the per-session debug log.
type LoggingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig controls the per-session Prometheus textfile.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	File    string `mapstructure:"file"`
}

// CatalogConfig controls the SQLite session index used by list and search.
type CatalogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	File    string `mapstructure:"file"`
}

// Path returns the catalog database path under dataDir.
func (c CatalogConfig) Path(dataDir string) string {
	return filepath.Join(dataDir, c.File)
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Research: ResearchConfig{
			DefaultDepth:  string(research.DepthStandard),
			DefaultFormat: research.FormatMarkdown,
			MaxParallel:   4,
			TaskTimeout:   5 * time.Minute,
			MaxPhaseSteps: 64,
		},
		Stages: map[string]CommandConfig{},
		Paths: PathsConfig{
			DataDir: ".ralph",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			File:    "metrics.prom",
		},
		Catalog: CatalogConfig{
			Enabled: true,
			File:    "catalog.db",
		},
	}
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	d := Default()

	viper.SetDefault("research.default_depth", d.Research.DefaultDepth)
	viper.SetDefault("research.default_format", d.Research.DefaultFormat)
	viper.SetDefault("research.max_parallel", d.Research.MaxParallel)
	viper.SetDefault("research.task_timeout", d.Research.TaskTimeout)
	viper.SetDefault("research.max_phase_steps", d.Research.MaxPhaseSteps)

	viper.SetDefault("handlers.command", "")
	viper.SetDefault("handlers.args", []string{})

	viper.SetDefault("paths.data_dir", d.Paths.DataDir)

	viper.SetDefault("logging.enabled", d.Logging.Enabled)
	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	viper.SetDefault("logging.compress", d.Logging.Compress)

	viper.SetDefault("metrics.enabled", d.Metrics.Enabled)
	viper.SetDefault("metrics.file", d.Metrics.File)

	viper.SetDefault("catalog.enabled", d.Catalog.Enabled)
	viper.SetDefault("catalog.file", d.Catalog.File)
}

// Load unmarshals the viper state into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// Get returns the loaded config, falling back to defaults if it is invalid.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns $XDG_CONFIG_HOME/ralph, or ~/.config/ralph.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ralph")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ralph"
	}
	return filepath.Join(home, ".config", "ralph")
}

// ConfigFile returns the default config file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
