// Package vcs implements core.VersionControl against a local git
// checkout, the only version-control backend spec.md's CLI surface
// targets.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/hephaestus-ai/hephaestus/core"
)

// Git drives a git working tree via the git binary on PATH, following the
// subprocess-under-context-deadline idiom already established in
// validation.runCommand: every call shells out with exec.CommandContext
// rather than linking a git library, since the evolution core only needs
// a handful of plumbing commands.
type Git struct {
	Root   string
	Logger core.Logger
}

func (g *Git) logger() core.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return core.NoOpLogger{}
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Root
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := strings.TrimSpace(out.String())
	if ctx.Err() != nil {
		return output, core.NewEvolutionError("vcs.git.run", core.ReasonTimeout, ctx.Err())
	}
	if err != nil {
		return output, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, output)
	}
	return output, nil
}

// InitIfNeeded creates a git repository at Root if one does not already
// exist, so a fresh Hephaestus home works without manual setup (spec.md
// §6: "init_if_needed()").
func (g *Git) InitIfNeeded(ctx context.Context) error {
	if _, err := g.run(ctx, "rev-parse", "--git-dir"); err == nil {
		return nil
	}

	if _, err := g.run(ctx, "init"); err != nil {
		return core.NewEvolutionError("vcs.git.init_if_needed", core.ReasonSandboxError, err)
	}
	if _, err := g.run(ctx, "config", "user.email", "hephaestus@localhost"); err != nil {
		return core.NewEvolutionError("vcs.git.init_if_needed", core.ReasonSandboxError, err)
	}
	if _, err := g.run(ctx, "config", "user.name", "hephaestus"); err != nil {
		return core.NewEvolutionError("vcs.git.init_if_needed", core.ReasonSandboxError, err)
	}

	g.logger().Info("vcs: initialized git repository", map[string]interface{}{"root": g.Root})
	return nil
}

// Commit stages exactly the given files and commits them atomically
// (spec.md §6: "commit(message, files) → commit_id... commits atomic").
// An empty files list is rejected with APPLY_FAILED before git runs;
// callers (CycleRunner) only ever pass a non-empty list, since an empty
// Architect patch short-circuits before reaching Commit.
func (g *Git) Commit(ctx context.Context, message string, files []string) (string, error) {
	if len(files) == 0 {
		return "", core.NewEvolutionError("vcs.git.commit", core.ReasonApplyFailed, fmt.Errorf("vcs: commit requires at least one file"))
	}

	addArgs := append([]string{"add", "--"}, files...)
	if _, err := g.run(ctx, addArgs...); err != nil {
		return "", core.NewEvolutionError("vcs.git.commit", core.ReasonApplyFailed, err)
	}

	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return "", core.NewEvolutionError("vcs.git.commit", core.ReasonApplyFailed, err)
	}

	head, err := g.CurrentHead(ctx)
	if err != nil {
		return "", err
	}
	return head, nil
}

// ResetTo hard-resets the working tree to commitID, restoring it exactly
// (spec.md §6: "reset_to(commit_id)... restores exactly").
func (g *Git) ResetTo(ctx context.Context, commitID string) error {
	if _, err := g.run(ctx, "reset", "--hard", commitID); err != nil {
		return core.NewEvolutionError("vcs.git.reset_to", core.ReasonSanityFailed, err)
	}
	return nil
}

// CurrentHead returns the current commit id (spec.md §6: "current_head()").
func (g *Git) CurrentHead(ctx context.Context) (string, error) {
	head, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", core.NewEvolutionError("vcs.git.current_head", core.ReasonSandboxError, err)
	}
	return head, nil
}
