package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{"defaults", func(*Config) {}, nil},
		{"unknown format", func(c *Config) { c.Research.DefaultFormat = "docx" }, []string{"research.default_format"}},
		{"zero timeout", func(c *Config) { c.Research.TaskTimeout = 0 }, []string{"research.task_timeout"}},
		{"zero steps", func(c *Config) { c.Research.MaxPhaseSteps = 0 }, []string{"research.max_phase_steps"}},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, []string{"logging.level"}},
		{"negative rotation", func(c *Config) {
			c.Logging.MaxSizeMB = -1
			c.Logging.MaxBackups = -1
		}, []string{"logging.max_size_mb", "logging.max_backups"}},
		{"unknown stage", func(c *Config) { c.Stages["planning"] = CommandConfig{Command: "x"} }, []string{"stages.planning"}},
		{"empty data dir", func(c *Config) { c.Paths.DataDir = " " }, []string{"paths.data_dir"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			var got []string
			for _, e := range cfg.Validate() {
				got = append(got, e.Field)
			}
			assert.Equal(t, tt.fields, got)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	one := ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}
	assert.Equal(t, "a: bad (got: 1)", one.Error())

	two := append(one, ValidationError{Field: "b", Value: 2, Message: "worse"})
	assert.True(t, strings.HasPrefix(two.Error(), "2 validation errors:"))
	assert.Equal(t, "", ValidationErrors{}.Error())
}
