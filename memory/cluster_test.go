package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClusterIDIsStableAcrossWordOrder(t *testing.T) {
	a := ClusterID("refactor the async scheduler")
	b := ClusterID("scheduler async refactor")
	assert.Equal(t, a, b)
}

func TestClusterIDDiffersForUnrelatedObjectives(t *testing.T) {
	a := ClusterID("refactor the async scheduler")
	b := ClusterID("add a helper function for parsing dates")
	assert.NotEqual(t, a, b)
}

func TestJaccardSimilarityIdenticalSetsIsOne(t *testing.T) {
	phrases := keyPhrases("fix the failing scheduler test")
	assert.Equal(t, 1.0, jaccardSimilarity(phrases, phrases))
}

func TestJaccardSimilarityDisjointSetsIsZero(t *testing.T) {
	a := keyPhrases("refactor async scheduler")
	b := keyPhrases("add helper for parsing dates")
	assert.Equal(t, 0.0, jaccardSimilarity(a, b))
}

func TestStemCollapsesCommonSuffixes(t *testing.T) {
	assert.Equal(t, stem("failing"), stem("failed"))
	assert.Equal(t, stem("tests"), stem("test"))
}

func TestKeyPhrasesDropsStopWordsAndDuplicates(t *testing.T) {
	phrases := keyPhrases("fix the the bug in the scheduler")
	assert.NotContains(t, phrases, "the")
	seen := map[string]bool{}
	for _, p := range phrases {
		assert.False(t, seen[p], "duplicate phrase %q", p)
		seen[p] = true
	}
}
