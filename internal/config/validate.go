package config

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// ValidationSeverity indicates whether a validation issue is an error or warning.
type ValidationSeverity string

const (
	// SeverityError indicates a fatal validation issue; the configuration is unusable.
	SeverityError ValidationSeverity = "error"
	// SeverityWarning indicates an informational validation issue; the
	// configuration works but may have problems.
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue represents a single validation finding.
type ValidationIssue struct {
	Severity ValidationSeverity
	Field    string // dotted path, e.g., "loop.max_turns"
	Message  string
}

// ValidationResult holds all validation findings.
type ValidationResult struct {
	Issues []ValidationIssue
}

// HasErrors returns true if any issue has error severity.
func (vr *ValidationResult) HasErrors() bool {
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only error-severity issues.
func (vr *ValidationResult) Errors() []ValidationIssue {
	var errs []ValidationIssue
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityError {
			errs = append(errs, issue)
		}
	}
	return errs
}

// addError appends an error-severity issue.
func (vr *ValidationResult) addError(field, format string, args ...interface{}) {
	vr.Issues = append(vr.Issues, ValidationIssue{
		Severity: SeverityError,
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
	})
}

// addWarning appends a warning-severity issue.
func (vr *ValidationResult) addWarning(field, format string, args ...interface{}) {
	vr.Issues = append(vr.Issues, ValidationIssue{
		Severity: SeverityWarning,
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Validate checks the configuration for structural problems. It returns all
// findings rather than stopping at the first, so the CLI can report every
// issue in one pass.
func Validate(cfg *Config) *ValidationResult {
	vr := &ValidationResult{}

	if cfg.Server.Addr == "" {
		vr.addError("server.addr", "listen address must not be empty")
	}

	if cfg.Loop.MaxTurns < 1 {
		vr.addError("loop.max_turns", "must be at least 1, got %d", cfg.Loop.MaxTurns)
	}
	if cfg.Loop.DataDir == "" {
		vr.addError("loop.data_dir", "history directory must not be empty")
	}

	for i, pattern := range cfg.Loop.AllowedPaths {
		if !doublestar.ValidatePattern(pattern) {
			vr.addError(fmt.Sprintf("loop.allowed_paths[%d]", i), "invalid glob pattern %q", pattern)
		}
	}

	checkAgentRef(vr, cfg, "loop.worker_agent", cfg.Loop.WorkerAgent)
	checkAgentRef(vr, cfg, "loop.reviewer_agent", cfg.Loop.ReviewerAgent)

	for name, agent := range cfg.Agents {
		if agent.Command == "" {
			vr.addError(fmt.Sprintf("agents.%s.command", name), "command must not be empty")
		}
		if agent.Model == "" {
			vr.addWarning(fmt.Sprintf("agents.%s.model", name), "no model set; the CLI default will be used")
		}
	}

	return vr
}

// checkAgentRef verifies that a [loop] agent reference names a configured agent.
func checkAgentRef(vr *ValidationResult, cfg *Config, field, name string) {
	if name == "" {
		vr.addError(field, "agent name must not be empty")
		return
	}
	if _, ok := cfg.Agents[name]; !ok {
		vr.addError(field, "agent %q is not defined in [agents]", name)
	}
}
