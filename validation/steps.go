package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hephaestus-ai/hephaestus/core"
	"github.com/hephaestus-ai/hephaestus/patch"
)

const outputCap = 16 * 1024 // bounded stdout/stderr capture, per spec.md §4.5

func truncate(b []byte) string {
	if len(b) > outputCap {
		return string(b[:outputCap]) + "...(truncated)"
	}
	return string(b)
}

// runCommand runs a shell command in dir under ctx's deadline, returning
// combined output. A command.Context deadline exceeded is reported as
// ReasonTimeout so callers can map it per spec.md §7.
func runCommand(ctx context.Context, dir, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := truncate(out.Bytes())
	if ctx.Err() != nil {
		return output, core.NewEvolutionError("validation.run_command", core.ReasonTimeout, ctx.Err())
	}
	return output, err
}

// SyntaxCheck parses every file touched by the patch in its own language,
// grounded on spec.md §4.5's syntax_check description. Shells out to a
// per-extension command (os/exec), following the subprocess-validation
// pattern in other_examples' ralph executor, since the evolution core is
// itself language-agnostic about what it edits.
type SyntaxCheck struct{}

func (SyntaxCheck) Name() string { return "syntax_check" }

func (SyntaxCheck) Run(ctx context.Context, sc StepContext) (Report, error) {
	for _, file := range sc.Patch.Files() {
		ext := filepath.Ext(file)
		command, configured := sc.SyntaxCommands[ext]
		if !configured {
			continue
		}
		command = strings.ReplaceAll(command, "{file}", file)
		output, err := runCommand(ctx, sc.Root, command)
		if err != nil {
			if core.ReasonOf(err) == core.ReasonTimeout {
				return Report{Pass: false, Reason: core.ReasonTimeout, Message: output}, nil
			}
			return Report{Pass: false, Reason: core.ReasonSyntaxFailed, Message: fmt.Sprintf("%s: %s", file, output)}, nil
		}
	}
	return Report{Pass: true}, nil
}

// JSONCheck validates every .json file touched by the patch.
type JSONCheck struct{}

func (JSONCheck) Name() string { return "json_check" }

func (JSONCheck) Run(_ context.Context, sc StepContext) (Report, error) {
	for _, file := range sc.Patch.Files() {
		if filepath.Ext(file) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(sc.Root, file))
		if err != nil {
			return Report{Pass: false, Reason: core.ReasonFileMissing, Message: err.Error()}, nil
		}
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return Report{Pass: false, Reason: core.ReasonJSONFailed, Message: fmt.Sprintf("%s: %v", file, err)}, nil
		}
	}
	return Report{Pass: true}, nil
}

// PatchApplicatorStep applies the patch to the workspace, the sandbox-side
// half of spec.md §4.6's apply(patch) operation.
type PatchApplicatorStep struct{}

func (PatchApplicatorStep) Name() string { return "patch_applicator" }

func (PatchApplicatorStep) Run(_ context.Context, sc StepContext) (Report, error) {
	applicator := patch.NewApplicator(sc.Logger)
	if err := applicator.Apply(sc.Root, sc.Patch); err != nil {
		reason := core.ReasonOf(err)
		if reason == core.ReasonNone {
			reason = core.ReasonPatchApplyFailed
		}
		return Report{Pass: false, Reason: reason, Message: err.Error()}, nil
	}
	return Report{Pass: true}, nil
}

// TestRunner invokes the project's configured test command in the workspace.
type TestRunner struct{}

func (TestRunner) Name() string { return "test_runner" }

func (TestRunner) Run(ctx context.Context, sc StepContext) (Report, error) {
	return runTests(ctx, sc, sc.TestCommand)
}

// NewFileTestRunner runs TestCommand against the files the patch creates,
// taken from its CREATE_FILE operations; TestCommand is expected to accept
// a file-list suffix (the project's runner convention, left to config
// rather than hardcoded here). Every created file is passed: the list is
// not narrowed to test files.
type NewFileTestRunner struct{}

func (NewFileTestRunner) Name() string { return "new_file_test_runner" }

func (NewFileTestRunner) Run(ctx context.Context, sc StepContext) (Report, error) {
	var newFiles []string
	for _, op := range sc.Patch.Operations {
		if op.Kind == patch.OpCreateFile {
			if norm, err := patch.NormalizePath(op.File); err == nil {
				newFiles = append(newFiles, norm)
			}
		}
	}
	if len(newFiles) == 0 {
		return Report{Pass: true, Message: "no new files in patch"}, nil
	}
	command := sc.TestCommand
	if command != "" {
		command = command + " " + strings.Join(newFiles, " ")
	}
	return runTests(ctx, sc, command)
}

func runTests(ctx context.Context, sc StepContext, command string) (Report, error) {
	if command == "" {
		return Report{Pass: false, Reason: core.ReasonSandboxError, Message: "no test command configured"}, nil
	}
	output, err := runCommand(ctx, sc.Root, command)
	if err != nil {
		if core.ReasonOf(err) == core.ReasonTimeout {
			return Report{Pass: false, Reason: core.ReasonTimeout, Message: output}, nil
		}
		return Report{Pass: false, Reason: core.ReasonTestFailed, Message: output}, nil
	}
	return Report{Pass: true, Message: output}, nil
}

// FileExistence asserts that every configured required file exists.
type FileExistence struct{}

func (FileExistence) Name() string { return "file_existence" }

func (FileExistence) Run(_ context.Context, sc StepContext) (Report, error) {
	for _, file := range sc.RequiredFiles {
		if _, err := os.Stat(filepath.Join(sc.Root, file)); err != nil {
			return Report{Pass: false, Reason: core.ReasonFileMissing, Message: file}, nil
		}
	}
	return Report{Pass: true}, nil
}

// Benchmark runs a configured benchmark script and fails if the reported
// score regresses beyond BenchmarkMargin against BenchmarkBaseline. The
// script is expected to print a single float64 score to stdout.
type Benchmark struct{}

func (Benchmark) Name() string { return "benchmark" }

func (Benchmark) Run(ctx context.Context, sc StepContext) (Report, error) {
	if sc.BenchmarkCommand == "" {
		return Report{Pass: false, Reason: core.ReasonBenchmarkFailed, Message: "no benchmark command configured"}, nil
	}
	output, err := runCommand(ctx, sc.Root, sc.BenchmarkCommand)
	if err != nil {
		if core.ReasonOf(err) == core.ReasonTimeout {
			return Report{Pass: false, Reason: core.ReasonTimeout, Message: output}, nil
		}
		return Report{Pass: false, Reason: core.ReasonBenchmarkFailed, Message: output}, nil
	}

	var score float64
	if _, scanErr := fmt.Sscanf(strings.TrimSpace(output), "%f", &score); scanErr != nil {
		return Report{Pass: false, Reason: core.ReasonBenchmarkFailed, Message: "unparseable benchmark output: " + output}, nil
	}

	regression := sc.BenchmarkBaseline - score
	if regression > sc.BenchmarkMargin {
		return Report{Pass: false, Reason: core.ReasonBenchmarkFailed,
			Message: fmt.Sprintf("score %.4f regressed beyond margin %.4f from baseline %.4f", score, sc.BenchmarkMargin, sc.BenchmarkBaseline)}, nil
	}
	return Report{Pass: true, Message: fmt.Sprintf("score %.4f", score)}, nil
}

// SkipSanityCheck is the configured no-op sanity check for strategies that
// don't need a post-apply verification pass.
type SkipSanityCheck struct{}

func (SkipSanityCheck) Name() string { return "skip_sanity_check" }

func (SkipSanityCheck) Run(context.Context, StepContext) (Report, error) {
	return Report{Pass: true}, nil
}
