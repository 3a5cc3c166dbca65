package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hephaestus-ai/hephaestus/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileStoreOnEmptyHomeStartsEmpty(t *testing.T) {
	home := t.TempDir()
	fs, err := NewFileStore(home)
	require.NoError(t, err)

	summary, err := fs.Summary(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalRecords)
}

func TestRecordPersistsAcrossReload(t *testing.T) {
	home := t.TempDir()
	fs, err := NewFileStore(home)
	require.NoError(t, err)

	require.NoError(t, fs.Record(context.Background(), Record{
		Objective: "add helper foo",
		Outcome:   OutcomeSuccess,
		Timestamp: time.Now(),
	}))

	reloaded, err := NewFileStore(home)
	require.NoError(t, err)
	summary, err := reloaded.Summary(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalRecords)
	assert.Equal(t, 1.0, summary.SuccessRate)
}

func TestRecordWritesEvolutionLogRow(t *testing.T) {
	home := t.TempDir()
	fs, err := NewFileStore(home)
	require.NoError(t, err)

	require.NoError(t, fs.Record(context.Background(), Record{
		Objective:     "fix flaky test",
		Outcome:       OutcomeFailure,
		FailureReason: core.ReasonTestFailed,
		Timestamp:     time.Now(),
	}))

	data, err := os.ReadFile(filepath.Join(home, "evolution_log.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "TEST_FAILED")
}

func TestSummaryComputesPerStrategySuccessRate(t *testing.T) {
	home := t.TempDir()
	fs, err := NewFileStore(home)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, fs.Record(ctx, Record{Objective: "a", Outcome: OutcomeSuccess, StrategyUsed: "SYNTAX_ONLY", Timestamp: time.Now()}))
	require.NoError(t, fs.Record(ctx, Record{Objective: "b", Outcome: OutcomeFailure, StrategyUsed: "SYNTAX_ONLY", FailureReason: core.ReasonTestFailed, Timestamp: time.Now()}))

	summary, err := fs.Summary(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, summary.PerStrategySuccessRate["SYNTAX_ONLY"])
}

func TestSummaryFiltersBySince(t *testing.T) {
	home := t.TempDir()
	fs, err := NewFileStore(home)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, fs.Record(ctx, Record{Objective: "old", Outcome: OutcomeSuccess, Timestamp: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, fs.Record(ctx, Record{Objective: "new", Outcome: OutcomeSuccess, Timestamp: time.Now()}))

	summary, err := fs.Summary(ctx, Filter{Since: time.Now().Add(-1 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalRecords)
}

func TestSimilarFailuresReturnsOnlyFailuresAboveThreshold(t *testing.T) {
	home := t.TempDir()
	fs, err := NewFileStore(home)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, fs.Record(ctx, Record{Objective: "refactor the async scheduler", Outcome: OutcomeFailure, FailureReason: core.ReasonTestFailed, Timestamp: time.Now()}))
	require.NoError(t, fs.Record(ctx, Record{Objective: "add helper for parsing dates", Outcome: OutcomeFailure, FailureReason: core.ReasonTestFailed, Timestamp: time.Now()}))
	require.NoError(t, fs.Record(ctx, Record{Objective: "refactor async scheduler internals", Outcome: OutcomeSuccess, Timestamp: time.Now()}))

	similar, err := fs.SimilarFailures(ctx, "refactor the scheduler", 5)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, "refactor the async scheduler", similar[0].Objective)
}

func TestRecentReturnsNewestFirstBoundedByN(t *testing.T) {
	home := t.TempDir()
	fs, err := NewFileStore(home)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, fs.Record(ctx, Record{Objective: "first", Outcome: OutcomeSuccess, Timestamp: time.Now().Add(-2 * time.Hour)}))
	require.NoError(t, fs.Record(ctx, Record{Objective: "second", Outcome: OutcomeSuccess, Timestamp: time.Now().Add(-1 * time.Hour)}))
	require.NoError(t, fs.Record(ctx, Record{Objective: "third", Outcome: OutcomeSuccess, Timestamp: time.Now()}))

	recent, err := fs.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].Objective)
	assert.Equal(t, "second", recent[1].Objective)
}
