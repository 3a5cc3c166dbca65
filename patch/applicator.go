package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hephaestus-ai/hephaestus/core"
)

// Applicator applies a Patch to a directory tree, grounded on the
// all-or-nothing-per-Patch invariant in spec.md §4.7/§8: if any operation
// fails, no file under root is written.
type Applicator struct {
	logger core.Logger
}

// NewApplicator constructs an Applicator, defaulting to a NoOpLogger.
func NewApplicator(logger core.Logger) *Applicator {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Applicator{logger: logger}
}

// fileBuffer accumulates a file's content across operations in one Apply
// call, so nothing reaches disk until every operation in the patch has
// succeeded.
type fileBuffer struct {
	lines  []string // current content, not yet normalized for matching
	exists bool      // true if the file existed on disk (or was created) before this op
}

// Apply runs every operation in patch against the tree rooted at root, in
// order. On success every touched file is written exactly once. On failure
// no file is modified.
func (a *Applicator) Apply(root string, p Patch) error {
	if err := p.Validate(); err != nil {
		return core.NewEvolutionError("patch.apply", core.ReasonPatchApplyFailed, err)
	}

	buffers := make(map[string]*fileBuffer)

	getBuffer := func(file string) (*fileBuffer, error) {
		if buf, ok := buffers[file]; ok {
			return buf, nil
		}
		abs := filepath.Join(root, file)
		data, err := os.ReadFile(abs)
		if err != nil {
			if os.IsNotExist(err) {
				buf := &fileBuffer{exists: false}
				buffers[file] = buf
				return buf, nil
			}
			return nil, fmt.Errorf("patch: reading %s: %w", file, err)
		}
		buf := &fileBuffer{lines: splitLines(string(data)), exists: true}
		buffers[file] = buf
		return buf, nil
	}

	for i, op := range p.Operations {
		file, err := NormalizePath(op.File)
		if err != nil {
			return core.NewEvolutionError("patch.apply", core.ReasonPatchApplyFailed, fmt.Errorf("operation %d: %w", i, err))
		}

		buf, err := getBuffer(file)
		if err != nil {
			return core.NewEvolutionError("patch.apply", core.ReasonPatchApplyFailed, err)
		}

		switch op.Kind {
		case OpCreateFile:
			if buf.exists {
				return core.NewEvolutionError("patch.apply", core.ReasonPatchApplyFailed,
					fmt.Errorf("operation %d: %w: %s", i, core.ErrFileExists, file))
			}
			buf.lines = splitLines(op.Content)
			buf.exists = true

		case OpInsert:
			lines, err := insertAt(buf.lines, op.Line, op.Content)
			if err != nil {
				return core.NewEvolutionError("patch.apply", core.ReasonPatchApplyFailed,
					fmt.Errorf("operation %d: %w", i, err))
			}
			buf.lines = lines
			buf.exists = true

		case OpReplace:
			lines, err := replaceBlock(buf.lines, op.BlockToReplace, op.NewContent)
			if err != nil {
				return core.NewEvolutionError("patch.apply", core.ReasonAmbiguousBlock,
					fmt.Errorf("operation %d: %w", i, err))
			}
			buf.lines = lines

		case OpDeleteBlock:
			lines, err := replaceBlock(buf.lines, op.BlockToDelete, "")
			if err != nil {
				return core.NewEvolutionError("patch.apply", core.ReasonAmbiguousBlock,
					fmt.Errorf("operation %d: %w", i, err))
			}
			buf.lines = lines

		default:
			return core.NewEvolutionError("patch.apply", core.ReasonPatchApplyFailed,
				fmt.Errorf("operation %d: unknown kind %q", i, op.Kind))
		}
	}

	for file, buf := range buffers {
		abs := filepath.Join(root, file)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return core.NewEvolutionError("patch.apply", core.ReasonPatchApplyFailed, fmt.Errorf("creating parent dirs for %s: %w", file, err))
		}
		content := strings.Join(buf.lines, "\n")
		if len(buf.lines) > 0 {
			content += "\n"
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			return core.NewEvolutionError("patch.apply", core.ReasonPatchApplyFailed, fmt.Errorf("writing %s: %w", file, err))
		}
	}

	a.logger.Info("patch applied", map[string]interface{}{"files": len(buffers), "operations": len(p.Operations)})
	return nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	normalized := strings.ReplaceAll(s, "\r\n", "\n")
	normalized = strings.TrimSuffix(normalized, "\n")
	return strings.Split(normalized, "\n")
}

// insertAt implements the INSERT line semantics from spec.md §8: line 0
// prepends; 1..len(lines)+1 inserts before that 1-based line (len+1 being
// append); anything past len+1 fails.
func insertAt(lines []string, line int, content string) ([]string, error) {
	newLines := splitLines(content)
	if line < 0 || line > len(lines)+1 {
		return nil, fmt.Errorf("%w: line %d (file has %d lines)", core.ErrInvalidLine, line, len(lines))
	}

	var idx int
	if line == 0 {
		idx = 0
	} else {
		idx = line - 1
	}

	result := make([]string, 0, len(lines)+len(newLines))
	result = append(result, lines[:idx]...)
	result = append(result, newLines...)
	result = append(result, lines[idx:]...)
	return result, nil
}

// normalizeForMatch applies the whitespace rule from SPEC_FULL.md's resolved
// Open Question: line endings normalized to \n, trailing whitespace per line
// trimmed; leading whitespace and blank-line count are significant.
func normalizeForMatch(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimRight(l, " \t")
	}
	return out
}

// replaceBlock finds exactly one occurrence of block within lines (under
// the normalized-whitespace matching rule) and substitutes replacement. A
// zero-length or multi-line replacement content of "" deletes the block.
func replaceBlock(lines []string, block, replacement string) ([]string, error) {
	blockLines := normalizeForMatch(splitLines(block))
	if len(blockLines) == 0 {
		return nil, fmt.Errorf("%w: empty block", core.ErrAmbiguousBlock)
	}
	normLines := normalizeForMatch(lines)

	var matchStart = -1
	matchCount := 0
	for start := 0; start+len(blockLines) <= len(normLines); start++ {
		if matchesAt(normLines, blockLines, start) {
			matchCount++
			if matchStart == -1 {
				matchStart = start
			}
		}
	}

	if matchCount != 1 {
		return nil, fmt.Errorf("%w: found %d occurrences", core.ErrAmbiguousBlock, matchCount)
	}

	replacementLines := splitLines(replacement)
	result := make([]string, 0, len(lines)-len(blockLines)+len(replacementLines))
	result = append(result, lines[:matchStart]...)
	result = append(result, replacementLines...)
	result = append(result, lines[matchStart+len(blockLines):]...)
	return result, nil
}

func matchesAt(haystack, needle []string, start int) bool {
	for i, n := range needle {
		if haystack[start+i] != n {
			return false
		}
	}
	return true
}
