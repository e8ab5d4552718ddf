package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/ralph/internal/research"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "research.max_parallel")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidStageNames lists the phases whose collaborator may be replaced by
// an external command.
func ValidStageNames() []string {
	return []string{
		string(research.PhaseInitialResearch),
		string(research.PhaseBriefBuilder),
		string(research.PhaseAggregation),
		string(research.PhaseChartAnalysis),
		string(research.PhaseStoryLining),
		string(research.PhaseVisualDesign),
		string(research.PhaseReporting),
		string(research.PhaseEditing),
	}
}

// Validate checks the Config for invalid values and returns all errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateResearch()...)
	errs = append(errs, c.validateStages()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validatePaths()...)
	return errs
}

func (c *Config) validateResearch() []ValidationError {
	var errs []ValidationError
	r := c.Research

	if _, err := research.ParseDepth(r.DefaultDepth); err != nil {
		errs = append(errs, ValidationError{
			Field:   "research.default_depth",
			Value:   r.DefaultDepth,
			Message: "must be one of: executive, standard, comprehensive, deep_dive",
		})
	}
	if !slices.Contains(research.ValidFormats(), r.DefaultFormat) {
		errs = append(errs, ValidationError{
			Field:   "research.default_format",
			Value:   r.DefaultFormat,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(research.ValidFormats(), ", ")),
		})
	}
	if r.MaxParallel < 1 {
		errs = append(errs, ValidationError{
			Field:   "research.max_parallel",
			Value:   r.MaxParallel,
			Message: "must be at least 1",
		})
	}
	if r.TaskTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "research.task_timeout",
			Value:   r.TaskTimeout,
			Message: "must be positive",
		})
	}
	if r.MaxPhaseSteps < 1 {
		errs = append(errs, ValidationError{
			Field:   "research.max_phase_steps",
			Value:   r.MaxPhaseSteps,
			Message: "must be at least 1",
		})
	}
	return errs
}

func (c *Config) validateStages() []ValidationError {
	var errs []ValidationError
	for name := range c.Stages {
		if !slices.Contains(ValidStageNames(), name) {
			errs = append(errs, ValidationError{
				Field:   "stages." + name,
				Value:   name,
				Message: fmt.Sprintf("unknown stage; must be one of: %s", strings.Join(ValidStageNames(), ", ")),
			})
		}
	}
	slices.SortFunc(errs, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}
	return errs
}

func (c *Config) validatePaths() []ValidationError {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return []ValidationError{{
			Field:   "paths.data_dir",
			Value:   c.Paths.DataDir,
			Message: "must not be empty",
		}}
	}
	return nil
}
