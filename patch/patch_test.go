package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePathRejectsEscapes(t *testing.T) {
	cases := []string{"../etc/passwd", "a/../../b", "/abs/path", "a/../../../x"}
	for _, c := range cases {
		_, err := NormalizePath(c)
		assert.Error(t, err, c)
	}
}

func TestNormalizePathAcceptsRelativeCleanPaths(t *testing.T) {
	cases := map[string]string{
		"foo.py":        "foo.py",
		"./foo.py":      "foo.py",
		"a/b/../c.py":   "a/c.py",
		"nested/dir/x":  "nested/dir/x",
	}
	for in, want := range cases {
		got, err := NormalizePath(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestPatchIsEmpty(t *testing.T) {
	assert.True(t, Patch{}.IsEmpty())
	assert.False(t, Patch{Operations: []Operation{{Kind: OpCreateFile, File: "a"}}}.IsEmpty())
}

func TestPatchFilesDeduplicatesInOrder(t *testing.T) {
	p := Patch{Operations: []Operation{
		{Kind: OpCreateFile, File: "a.py"},
		{Kind: OpInsert, File: "b.py", Line: 1, Content: "x"},
		{Kind: OpReplace, File: "a.py", BlockToReplace: "x", NewContent: "y"},
	}}
	assert.Equal(t, []string{"a.py", "b.py"}, p.Files())
}

func TestPatchValidateRejectsMissingFields(t *testing.T) {
	cases := []Operation{
		{Kind: OpInsert, File: "a.py"},
		{Kind: OpReplace, File: "a.py"},
		{Kind: OpDeleteBlock, File: "a.py"},
		{Kind: "BOGUS", File: "a.py"},
	}
	for _, op := range cases {
		err := Patch{Operations: []Operation{op}}.Validate()
		assert.Error(t, err, "%+v", op)
	}
}

func TestPatchValidateAcceptsCreateFileWithEmptyContent(t *testing.T) {
	p := Patch{Operations: []Operation{{Kind: OpCreateFile, File: "empty.py"}}}
	assert.NoError(t, p.Validate())
}
