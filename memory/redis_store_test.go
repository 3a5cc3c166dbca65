package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/hephaestus-ai/hephaestus/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedisStore wires a RedisStore against an in-process miniredis
// instance, grounded on the teacher's setupCheckpointTestRedis helper in
// orchestration/hitl_checkpoint_store_test.go.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return &RedisStore{client: client, namespace: "test:memory"}
}

func TestRedisStoreRecordAndSummary(t *testing.T) {
	rs := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, rs.Record(ctx, Record{Objective: "a", Outcome: OutcomeSuccess, StrategyUsed: "SYNTAX_ONLY", Timestamp: time.Now()}))
	require.NoError(t, rs.Record(ctx, Record{Objective: "b", Outcome: OutcomeFailure, StrategyUsed: "SYNTAX_ONLY", FailureReason: core.ReasonTestFailed, Timestamp: time.Now()}))

	summary, err := rs.Summary(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalRecords)
	assert.Equal(t, 0.5, summary.SuccessRate)
}

func TestRedisStoreSimilarFailures(t *testing.T) {
	rs := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, rs.Record(ctx, Record{Objective: "refactor the async scheduler", Outcome: OutcomeFailure, Timestamp: time.Now()}))
	require.NoError(t, rs.Record(ctx, Record{Objective: "add helper for parsing dates", Outcome: OutcomeFailure, Timestamp: time.Now()}))

	similar, err := rs.SimilarFailures(ctx, "refactor the scheduler", 5)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, "refactor the async scheduler", similar[0].Objective)
}

func TestRedisStoreRecentOrdersNewestFirst(t *testing.T) {
	rs := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, rs.Record(ctx, Record{Objective: "first", Outcome: OutcomeSuccess, Timestamp: time.Now().Add(-time.Hour)}))
	require.NoError(t, rs.Record(ctx, Record{Objective: "second", Outcome: OutcomeSuccess, Timestamp: time.Now()}))

	recent, err := rs.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "second", recent[0].Objective)
}
