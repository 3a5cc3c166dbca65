// Package validation holds the ValidationRegistry, ValidationStrategy, and
// concrete ValidationStep implementations that the Sandbox runs against a
// candidate Patch (spec.md §4.5/§4.6).
package validation

import (
	"context"
	"time"

	"github.com/hephaestus-ai/hephaestus/core"
	"github.com/hephaestus-ai/hephaestus/patch"
)

// Report is the outcome of running one Step.
type Report struct {
	Pass    bool
	Reason  core.FailureReason
	Message string
}

// StepContext carries everything a Step needs to run against a workspace.
type StepContext struct {
	Root         string
	Patch        patch.Patch
	StrategyName string
	Logger       core.Logger

	// SyntaxCommands maps a file extension (including the leading dot, e.g.
	// ".py") to the shell command template used by syntax_check. "{file}"
	// in the template is replaced with the workspace-relative path.
	// Extensions with no entry are skipped (reported as pass) rather than
	// failing the strategy, since not every language in a patch needs a
	// configured checker.
	SyntaxCommands map[string]string

	// TestCommand is the project's test runner, e.g. "go test ./...".
	// Required by test_runner, and by new_file_test_runner when the patch
	// creates files; either fails with SANDBOX_ERROR without it. benchmark
	// uses BenchmarkCommand instead and fails with BENCHMARK_FAILED without
	// it.
	TestCommand      string
	BenchmarkCommand string
	BenchmarkBaseline float64
	BenchmarkMargin   float64

	// RequiredFiles is the configured set file_existence asserts exist.
	RequiredFiles []string

	// Timeout bounds how long a single subprocess-backed step may run
	// before it fails with TIMEOUT (spec.md §5).
	Timeout time.Duration
}

// Step is one validation check a Strategy can compose.
type Step interface {
	Name() string
	Run(ctx context.Context, sc StepContext) (Report, error)
}
