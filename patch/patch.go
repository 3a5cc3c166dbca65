// Package patch holds the Patch data model: an ordered list of tagged file
// edit operations produced by the Architect agent, optionally transformed by
// the CodeReviewer, and applied atomically by the PatchApplicator.
package patch

import (
	"fmt"
	"path"
	"strings"

	"github.com/hephaestus-ai/hephaestus/core"
)

// OperationKind tags the variant of a patch Operation.
type OperationKind string

const (
	OpInsert      OperationKind = "INSERT"
	OpReplace     OperationKind = "REPLACE"
	OpDeleteBlock OperationKind = "DELETE_BLOCK"
	OpCreateFile  OperationKind = "CREATE_FILE"
)

// Operation is one tagged edit within a Patch. Only the fields relevant to
// Kind are meaningful; the zero value of the others is ignored.
type Operation struct {
	Kind OperationKind `json:"kind"`
	File string        `json:"file"`

	// INSERT
	Line    int    `json:"line,omitempty"`
	Content string `json:"content,omitempty"`

	// REPLACE
	BlockToReplace string `json:"block_to_replace,omitempty"`
	NewContent     string `json:"new_content,omitempty"`

	// DELETE_BLOCK
	BlockToDelete string `json:"block_to_delete,omitempty"`
}

// Patch is an ordered, atomically-applied set of file edits.
type Patch struct {
	Operations []Operation `json:"operations"`
}

// IsEmpty reports whether the patch has no operations. Per spec, an empty
// patch from the Architect is a valid no-op, not an error.
func (p Patch) IsEmpty() bool {
	return len(p.Operations) == 0
}

// Files returns the distinct, normalized set of files touched by p, in
// first-touched order.
func (p Patch) Files() []string {
	seen := make(map[string]bool)
	var files []string
	for _, op := range p.Operations {
		norm, err := NormalizePath(op.File)
		if err != nil {
			continue
		}
		if !seen[norm] {
			seen[norm] = true
			files = append(files, norm)
		}
	}
	return files
}

// NormalizePath enforces the Patch invariant that every file path is
// relative, cleaned, and contains no ".." component.
func NormalizePath(file string) (string, error) {
	if file == "" {
		return "", fmt.Errorf("patch: empty file path")
	}
	if strings.HasPrefix(file, "/") {
		return "", fmt.Errorf("patch: %q: %w", file, core.ErrPathEscapesRoot)
	}
	cleaned := path.Clean(file)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("patch: %q: %w", file, core.ErrPathEscapesRoot)
	}
	for _, seg := range strings.Split(cleaned, "/") {
		if seg == ".." {
			return "", fmt.Errorf("patch: %q: %w", file, core.ErrPathEscapesRoot)
		}
	}
	return cleaned, nil
}

// Validate checks every operation's invariants that don't require touching
// the filesystem (path normalization, required fields). Block-uniqueness
// and on-disk existence are checked by the Applicator, which has workspace
// context.
func (p Patch) Validate() error {
	for i, op := range p.Operations {
		if _, err := NormalizePath(op.File); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
		switch op.Kind {
		case OpInsert:
			if op.Content == "" {
				return fmt.Errorf("operation %d: INSERT requires content", i)
			}
		case OpReplace:
			if op.BlockToReplace == "" {
				return fmt.Errorf("operation %d: REPLACE requires block_to_replace", i)
			}
		case OpDeleteBlock:
			if op.BlockToDelete == "" {
				return fmt.Errorf("operation %d: DELETE_BLOCK requires block_to_delete", i)
			}
		case OpCreateFile:
			// empty content is legal (creates an empty file)
		default:
			return fmt.Errorf("operation %d: unknown kind %q", i, op.Kind)
		}
	}
	return nil
}
