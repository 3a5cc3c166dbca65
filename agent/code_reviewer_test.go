package agent

import (
	"context"
	"testing"

	"github.com/hephaestus-ai/hephaestus/core"
	"github.com/hephaestus-ai/hephaestus/patch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeReviewerApprove(t *testing.T) {
	completion := &scriptedCompletion{responses: []string{`{"verdict":"approve","reason":"looks fine"}`}}
	r := &CodeReviewer{Completion: completion}
	original := patch.Patch{Operations: []patch.Operation{{Kind: patch.OpCreateFile, File: "a.py"}}}

	result, err := r.Review(context.Background(), NewRegistry().Snapshot(), CodeReviewerRequest{Patch: original})
	require.NoError(t, err)
	assert.Equal(t, VerdictApprove, result.Verdict)
	assert.Equal(t, original, result.Patch)
}

func TestCodeReviewerApproveWithEditsSubstitutesPatch(t *testing.T) {
	completion := &scriptedCompletion{responses: []string{
		`{"verdict":"approve_with_edits","operations":[{"kind":"CREATE_FILE","file":"b.py","content":"x"}],"reason":"renamed file"}`,
	}}
	r := &CodeReviewer{Completion: completion}
	original := patch.Patch{Operations: []patch.Operation{{Kind: patch.OpCreateFile, File: "a.py"}}}

	result, err := r.Review(context.Background(), NewRegistry().Snapshot(), CodeReviewerRequest{Patch: original})
	require.NoError(t, err)
	assert.Equal(t, VerdictApproveWithEdits, result.Verdict)
	require.Len(t, result.Patch.Operations, 1)
	assert.Equal(t, "b.py", result.Patch.Operations[0].File)
}

func TestCodeReviewerRejectReturnsReviewRejectedError(t *testing.T) {
	completion := &scriptedCompletion{responses: []string{`{"verdict":"reject","reason":"breaks invariant X"}`}}
	r := &CodeReviewer{Completion: completion}

	result, err := r.Review(context.Background(), NewRegistry().Snapshot(), CodeReviewerRequest{})
	require.Error(t, err)
	assert.Equal(t, core.ReasonReviewRejected, core.ReasonOf(err))
	assert.Equal(t, VerdictReject, result.Verdict)
}

func TestCodeReviewerUnparseableResponseIsReviewRejected(t *testing.T) {
	completion := &scriptedCompletion{responses: []string{"not json at all"}}
	r := &CodeReviewer{Completion: completion}

	_, err := r.Review(context.Background(), NewRegistry().Snapshot(), CodeReviewerRequest{})
	require.Error(t, err)
	assert.Equal(t, core.ReasonReviewRejected, core.ReasonOf(err))
}
