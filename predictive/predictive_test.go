package predictive

import (
	"context"
	"testing"
	"time"

	"github.com/hephaestus-ai/hephaestus/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictLowRiskObjectiveStaysBelowThreshold(t *testing.T) {
	e := NewEngine(nil, nil, nil, 0.75)
	prediction := e.Predict(context.Background(), "add a small helper function")
	assert.Less(t, prediction.RiskScore, 0.75)
	assert.Empty(t, prediction.RecommendedModifications)
}

func TestPredictHighKeywordDensityRaisesRisk(t *testing.T) {
	e := NewEngine(nil, nil, nil, 0.2)
	prediction := e.Predict(context.Background(), "refactor the complex async concurrent scheduler migrate rewrite")
	assert.GreaterOrEqual(t, prediction.RiskScore, 0.2)
	assert.NotEmpty(t, prediction.RecommendedModifications)
	assert.Contains(t, prediction.Factors, "keyword:async")
}

func TestPredictNeverErrorsWithoutMemory(t *testing.T) {
	e := NewEngine(nil, nil, nil, 0.5)
	assert.NotPanics(t, func() {
		e.Predict(context.Background(), "anything at all")
	})
}

func TestPredictIncorporatesHistoricalClusterRisk(t *testing.T) {
	home := t.TempDir()
	store, err := memory.NewFileStore(home)
	require.NoError(t, err)
	ctx := context.Background()

	objective := "rework the legacy billing pipeline"
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Record(ctx, memory.Record{
			Objective: objective,
			Outcome:   memory.OutcomeFailure,
			Timestamp: time.Now(),
		}))
	}

	e := NewEngine(store, nil, nil, 0.9)
	prediction := e.Predict(ctx, objective)
	assert.Contains(t, prediction.Factors, "historical_cluster")
}

func TestUpdateOutcomeTracksPatternAccuracy(t *testing.T) {
	e := NewEngine(nil, nil, nil, 0.0)
	e.Predict(context.Background(), "refactor the async scheduler")
	e.UpdateOutcome([]string{"keyword:async"}, false)

	assert.Equal(t, 1.0, e.PatternAccuracy("keyword:async"))
}

func TestPatternAccuracyIsZeroForUncitedPattern(t *testing.T) {
	e := NewEngine(nil, nil, nil, 0.5)
	assert.Equal(t, 0.0, e.PatternAccuracy("keyword:never_cited"))
}

func TestParameterStorePublishIsVisibleToNewSnapshotsOnly(t *testing.T) {
	ps := NewParameterStore(DefaultWeights())
	oldSnap := ps.Snapshot()

	ps.Publish(Weights{Keyword: 1, Length: 0, Cluster: 0})

	assert.Equal(t, DefaultWeights(), oldSnap, "captured snapshot must not observe the later publish")
	assert.Equal(t, Weights{Keyword: 1, Length: 0, Cluster: 0}, ps.Snapshot())
}
