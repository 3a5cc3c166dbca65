// Package sandbox provides the ephemeral workspace the CycleRunner
// validates a candidate Patch in before ever touching the working tree
// (spec.md §4.6).
package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hephaestus-ai/hephaestus/core"
	"github.com/hephaestus-ai/hephaestus/patch"
	"github.com/hephaestus-ai/hephaestus/validation"
)

// excludedDirs are never copied into a sandbox workspace (spec.md §4.6).
var excludedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"vendor":       true,
}

// Sandbox is a single-use, exclusively-owned ephemeral workspace cloned
// from a working tree. Open exactly one per CycleRunner invocation; Close
// is guaranteed to run on every exit path (spec.md §8: "No Sandbox
// workspace outlives its CycleRunner call, even on exception or
// shutdown").
type Sandbox struct {
	sourceRoot string
	workspace  string
	applicator *patch.Applicator
	logger     core.Logger
}

// Open materializes a fresh workspace as a full recursive copy of
// sourceRoot, per SPEC_FULL.md's resolution of the copy-vs-copy-on-write
// Open Question. The caller must defer Close.
func Open(sourceRoot string, logger core.Logger) (*Sandbox, error) {
	if logger == nil {
		logger = core.NoOpLogger{}
	}

	workspace, err := os.MkdirTemp("", "hephaestus-sandbox-*")
	if err != nil {
		return nil, core.NewEvolutionError("sandbox.open", core.ReasonSandboxError, err)
	}

	if err := copyTree(sourceRoot, workspace); err != nil {
		_ = os.RemoveAll(workspace)
		return nil, core.NewEvolutionError("sandbox.open", core.ReasonSandboxError, err)
	}

	logger.Debug("sandbox opened", map[string]interface{}{"source": sourceRoot, "workspace": workspace})
	return &Sandbox{
		sourceRoot: sourceRoot,
		workspace:  workspace,
		applicator: patch.NewApplicator(logger),
		logger:     logger,
	}, nil
}

// Root returns the workspace's filesystem path.
func (s *Sandbox) Root() string {
	return s.workspace
}

// Apply runs the patch_applicator step against the workspace, per spec.md
// §4.6's apply(patch) operation.
func (s *Sandbox) Apply(ctx context.Context, p patch.Patch) (validation.Report, error) {
	sc := validation.StepContext{Root: s.workspace, Patch: p, Logger: s.logger}
	return validation.PatchApplicatorStep{}.Run(ctx, sc)
}

// Run executes steps in order against the workspace, stopping at the first
// failure (spec.md §4.5: "failure of any step terminates the strategy with
// a named reason").
func (s *Sandbox) Run(ctx context.Context, steps []validation.Step, sc validation.StepContext) (validation.Report, error) {
	sc.Root = s.workspace
	if sc.Logger == nil {
		sc.Logger = s.logger
	}
	for _, step := range steps {
		report, err := step.Run(ctx, sc)
		if err != nil {
			return validation.Report{}, err
		}
		if !report.Pass {
			return report, nil
		}
	}
	return validation.Report{Pass: true}, nil
}

// Close unconditionally removes the workspace. Safe to call more than
// once; safe to call on a nil-workspace Sandbox.
func (s *Sandbox) Close() error {
	if s == nil || s.workspace == "" {
		return nil
	}
	err := os.RemoveAll(s.workspace)
	s.logger.Debug("sandbox closed", map[string]interface{}{"workspace": s.workspace})
	s.workspace = ""
	return err
}

// copyTree recursively copies src into dst, skipping excludedDirs.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, 0o755)
		}

		if info.IsDir() && excludedDirs[info.Name()] {
			return filepath.SkipDir
		}

		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		}

		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return nil
}
