package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyCreateFile(t *testing.T) {
	root := t.TempDir()
	a := NewApplicator(nil)

	err := a.Apply(root, Patch{Operations: []Operation{
		{Kind: OpCreateFile, File: "helpers.py", Content: "def foo(): return 1"},
	}})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "helpers.py"))
	require.NoError(t, err)
	assert.Equal(t, "def foo(): return 1\n", string(data))
}

func TestApplyCreateFileFailsIfExists(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("x"), 0o644))

	a := NewApplicator(nil)
	err := a.Apply(root, Patch{Operations: []Operation{{Kind: OpCreateFile, File: "a.py", Content: "y"}}})
	assert.Error(t, err)

	data, _ := os.ReadFile(filepath.Join(root, "a.py"))
	assert.Equal(t, "x", string(data))
}

func TestApplyCreateFileCreatesParentDirs(t *testing.T) {
	root := t.TempDir()
	a := NewApplicator(nil)

	err := a.Apply(root, Patch{Operations: []Operation{
		{Kind: OpCreateFile, File: "nested/dir/file.py", Content: "x"},
	}})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "nested/dir/file.py"))
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(data))
}

func TestApplyInsertAtZeroPrepends(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("line1\nline2\n"), 0o644))

	a := NewApplicator(nil)
	err := a.Apply(root, Patch{Operations: []Operation{{Kind: OpInsert, File: "a.py", Line: 0, Content: "line0"}}})
	require.NoError(t, err)

	data, _ := os.ReadFile(filepath.Join(root, "a.py"))
	assert.Equal(t, "line0\nline1\nline2\n", string(data))
}

func TestApplyInsertAtEndAppends(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("line1\nline2\n"), 0o644))

	a := NewApplicator(nil)
	err := a.Apply(root, Patch{Operations: []Operation{{Kind: OpInsert, File: "a.py", Line: 3, Content: "line3"}}})
	require.NoError(t, err)

	data, _ := os.ReadFile(filepath.Join(root, "a.py"))
	assert.Equal(t, "line1\nline2\nline3\n", string(data))
}

func TestApplyInsertBeyondEndFails(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("line1\nline2\n"), 0o644))

	a := NewApplicator(nil)
	err := a.Apply(root, Patch{Operations: []Operation{{Kind: OpInsert, File: "a.py", Line: 4, Content: "x"}}})
	assert.Error(t, err)

	data, _ := os.ReadFile(filepath.Join(root, "a.py"))
	assert.Equal(t, "line1\nline2\n", string(data), "file must be untouched on failure")
}

func TestApplyReplaceUniqueBlock(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("def foo():\n    return 0\n"), 0o644))

	a := NewApplicator(nil)
	err := a.Apply(root, Patch{Operations: []Operation{
		{Kind: OpReplace, File: "a.py", BlockToReplace: "    return 0", NewContent: "    return 1"},
	}})
	require.NoError(t, err)

	data, _ := os.ReadFile(filepath.Join(root, "a.py"))
	assert.Equal(t, "def foo():\n    return 1\n", string(data))
}

func TestApplyReplaceAmbiguousBlockFails(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("return 0\nx\nreturn 0\n"), 0o644))

	a := NewApplicator(nil)
	err := a.Apply(root, Patch{Operations: []Operation{
		{Kind: OpReplace, File: "a.py", BlockToReplace: "return 0", NewContent: "return 1"},
	}})
	assert.Error(t, err)

	data, _ := os.ReadFile(filepath.Join(root, "a.py"))
	assert.Equal(t, "return 0\nx\nreturn 0\n", string(data))
}

func TestApplyReplaceZeroMatchesFails(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("hello\n"), 0o644))

	a := NewApplicator(nil)
	err := a.Apply(root, Patch{Operations: []Operation{
		{Kind: OpReplace, File: "a.py", BlockToReplace: "nonexistent", NewContent: "x"},
	}})
	assert.Error(t, err)
}

func TestApplyReplaceIgnoresTrailingWhitespaceOnly(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("return 0   \n"), 0o644))

	a := NewApplicator(nil)
	err := a.Apply(root, Patch{Operations: []Operation{
		{Kind: OpReplace, File: "a.py", BlockToReplace: "return 0", NewContent: "return 1"},
	}})
	require.NoError(t, err)

	data, _ := os.ReadFile(filepath.Join(root, "a.py"))
	assert.Equal(t, "return 1\n", string(data))
}

func TestApplyDeleteBlock(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("keep\ndelete_me\nkeep2\n"), 0o644))

	a := NewApplicator(nil)
	err := a.Apply(root, Patch{Operations: []Operation{
		{Kind: OpDeleteBlock, File: "a.py", BlockToDelete: "delete_me"},
	}})
	require.NoError(t, err)

	data, _ := os.ReadFile(filepath.Join(root, "a.py"))
	assert.Equal(t, "keep\nkeep2\n", string(data))
}

func TestApplyIsAllOrNothingAcrossFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("x\n"), 0o644))

	a := NewApplicator(nil)
	err := a.Apply(root, Patch{Operations: []Operation{
		{Kind: OpReplace, File: "a.py", BlockToReplace: "x", NewContent: "y"},
		{Kind: OpReplace, File: "b.py", BlockToReplace: "nonexistent", NewContent: "z"},
	}})
	assert.Error(t, err)

	data, _ := os.ReadFile(filepath.Join(root, "a.py"))
	assert.Equal(t, "x\n", string(data), "earlier successful op in the batch must not be written")
}

func TestApplyEmptyPatchIsNoOp(t *testing.T) {
	root := t.TempDir()
	a := NewApplicator(nil)
	assert.NoError(t, a.Apply(root, Patch{}))
}

func TestApplyRejectsEscapingPath(t *testing.T) {
	root := t.TempDir()
	a := NewApplicator(nil)
	err := a.Apply(root, Patch{Operations: []Operation{
		{Kind: OpCreateFile, File: "../escape.py", Content: "x"},
	}})
	assert.Error(t, err)
}
