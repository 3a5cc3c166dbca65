// Package memory implements Hephaestus's append-only record of every
// cycle outcome (spec.md §4.8): record/summary/similar_failures, backed
// either by a local JSON document or Redis.
package memory

import (
	"context"
	"time"

	"github.com/hephaestus-ai/hephaestus/core"
)

// Outcome is a MemoryRecord's terminal result.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Record is one terminal cycle's durable trace (spec.md §3 MemoryRecord).
type Record struct {
	Objective     string              `json:"objective"`
	Outcome       Outcome             `json:"outcome"`
	FailureReason core.FailureReason  `json:"failure_reason,omitempty"`
	StrategyUsed  string              `json:"strategy_used,omitempty"`
	Duration      time.Duration       `json:"duration"`
	PatchSummary  string              `json:"patch_summary,omitempty"`
	ClusterID     string              `json:"cluster_id"`
	Timestamp     time.Time           `json:"timestamp"`
}

// Filter narrows Summary and SimilarFailures queries. A zero Filter matches
// every record.
type Filter struct {
	Since     time.Time
	Strategy  string
	ClusterID string
}

func (f Filter) matches(r Record) bool {
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if f.Strategy != "" && r.StrategyUsed != f.Strategy {
		return false
	}
	if f.ClusterID != "" && r.ClusterID != f.ClusterID {
		return false
	}
	return true
}

// Summary aggregates success rate, per-strategy success, and per-cluster
// failure counts over the records a Filter selects (spec.md §4.8).
type Summary struct {
	TotalRecords           int
	SuccessRate            float64
	PerStrategySuccessRate map[string]float64
	PerClusterFailureCount map[string]int
}

// Memory is the capability Hephaestus's cycle machinery depends on;
// FileStore and RedisStore are the two concrete implementations.
type Memory interface {
	Record(ctx context.Context, r Record) error
	Summary(ctx context.Context, filter Filter) (Summary, error)
	SimilarFailures(ctx context.Context, objectiveText string, k int) ([]Record, error)
	Recent(ctx context.Context, n int) ([]Record, error)
}

// summarize computes a Summary over records, shared by both backends so
// the aggregation logic lives in exactly one place.
func summarize(records []Record, filter Filter) Summary {
	sum := Summary{
		PerStrategySuccessRate: make(map[string]float64),
		PerClusterFailureCount: make(map[string]int),
	}

	type strategyTally struct{ successes, total int }
	tallies := make(map[string]*strategyTally)

	var successes int
	for _, r := range records {
		if !filter.matches(r) {
			continue
		}
		sum.TotalRecords++
		if r.Outcome == OutcomeSuccess {
			successes++
		} else {
			sum.PerClusterFailureCount[r.ClusterID]++
		}

		if r.StrategyUsed != "" {
			t, ok := tallies[r.StrategyUsed]
			if !ok {
				t = &strategyTally{}
				tallies[r.StrategyUsed] = t
			}
			t.total++
			if r.Outcome == OutcomeSuccess {
				t.successes++
			}
		}
	}

	if sum.TotalRecords > 0 {
		sum.SuccessRate = float64(successes) / float64(sum.TotalRecords)
	}
	for strategy, t := range tallies {
		if t.total > 0 {
			sum.PerStrategySuccessRate[strategy] = float64(t.successes) / float64(t.total)
		}
	}
	return sum
}

// similarityThreshold is the minimum Jaccard overlap of stemmed key
// phrases for a past failure to count as "similar" (spec.md §4.8).
const similarityThreshold = 0.3

// similarFailures ranks failed records in records by lexical similarity to
// objectiveText and returns up to k, shared by both backends.
func similarFailures(records []Record, objectiveText string, k int) []Record {
	target := keyPhrases(objectiveText)
	type scored struct {
		record Record
		score  float64
	}
	var candidates []scored
	for _, r := range records {
		if r.Outcome != OutcomeFailure {
			continue
		}
		score := jaccardSimilarity(target, keyPhrases(r.Objective))
		if score >= similarityThreshold {
			candidates = append(candidates, scored{record: r, score: score})
		}
	}

	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].score > candidates[j-1].score; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]Record, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.record)
	}
	return out
}
