package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Iron-Ham/ralph/internal/research"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "standard", cfg.Research.DefaultDepth)
	assert.Equal(t, "markdown", cfg.Research.DefaultFormat)
	assert.Equal(t, 4, cfg.Research.MaxParallel)
	assert.Equal(t, 5*time.Minute, cfg.Research.TaskTimeout)
	assert.Equal(t, ".ralph", cfg.Paths.DataDir)
	assert.Equal(t, filepath.Join(".ralph", "sessions"), cfg.Paths.SessionsDir())
	assert.True(t, cfg.Metrics.Enabled)
	assert.Empty(t, cfg.Validate())
}

func TestLoad_FromYAML(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
research:
  default_depth: deep_dive
  max_parallel: 8
  task_timeout: 90s
handlers:
  command: research-agent
  args: ["--json"]
  data:
    command: data-agent
stages:
  reporting:
    command: render-report
`), 0644))

	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "deep_dive", cfg.Research.DefaultDepth)
	assert.Equal(t, 8, cfg.Research.MaxParallel)
	assert.Equal(t, 90*time.Second, cfg.Research.TaskTimeout)
	assert.Equal(t, 64, cfg.Research.MaxPhaseSteps, "unset keys keep defaults")
	assert.Equal(t, "render-report", cfg.Stages["reporting"].Command)

	assert.Equal(t, CommandConfig{Command: "data-agent"}, cfg.Handlers.For(research.KindData))
	assert.Equal(t, CommandConfig{Command: "research-agent", Args: []string{"--json"}}, cfg.Handlers.For(research.KindOverview))
}

func TestLoad_Invalid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("research.max_parallel", 0)
	viper.Set("research.default_depth", "bottomless")

	_, err := Load()
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 2)

	assert.Equal(t, Default().Research.MaxParallel, Get().Research.MaxParallel)
}

func TestConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "ralph"), ConfigDir())
	assert.Equal(t, filepath.Join("/tmp/xdg", "ralph", "config.yaml"), ConfigFile())
}
