// Package predictive implements the PredictiveFailureEngine: a fail-soft
// risk scorer that may annotate (never block) an objective before it
// reaches the Architect (spec.md §4.3).
package predictive

import (
	"context"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/hephaestus-ai/hephaestus/core"
	"github.com/hephaestus-ai/hephaestus/memory"
)

// riskKeywords correlate with historical failure in the teacher-less
// domain this spec describes (spec.md §4.3's "keyword risk" factor); this
// list is itself a tunable parameter a future iteration could move into
// Weights, but spec.md only asks for the three weighted factors to be
// mutable, not the keyword set itself.
var riskKeywords = []string{"complexity", "complex", "async", "concurrent", "refactor", "migrate", "rewrite", "race", "deadlock"}

var wordPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)
var clausePattern = regexp.MustCompile(`(?i)\b(and|but|if|when|while|unless|although)\b|,`)

// Weights are the tunable coefficients combining the three risk factors
// into risk_score (spec.md §4.3: "tunable parameters in the parameter
// store; EvolutionEngine may mutate them").
type Weights struct {
	Keyword float64
	Length  float64
	Cluster float64
}

// DefaultWeights gives each factor equal influence.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.34, Length: 0.33, Cluster: 0.33}
}

// ParameterStore is a snapshot-swap holder for Weights, the same shape as
// validation.Registry and agent.Registry, so EvolutionEngine can publish a
// mutated weighting without disturbing a cycle already scoring an
// objective under the prior snapshot.
type ParameterStore struct {
	mu sync.RWMutex
	w  Weights
}

// NewParameterStore seeds a store with w.
func NewParameterStore(w Weights) *ParameterStore {
	return &ParameterStore{w: w}
}

// Snapshot returns the weights in effect right now.
func (ps *ParameterStore) Snapshot() Weights {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.w
}

// Publish installs new weights, visible to Snapshot calls made after this
// one returns.
func (ps *ParameterStore) Publish(w Weights) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.w = w
}

// FailurePrediction is the engine's output (spec.md §3).
type FailurePrediction struct {
	RiskScore                float64
	Factors                  []string
	RecommendedModifications string
}

// PredictiveFailureEngine scores an objective's failure risk before
// dispatch, per spec.md §4.3.
type PredictiveFailureEngine struct {
	Memory            memory.Memory
	Params            *ParameterStore
	Logger            core.Logger
	HighRiskThreshold float64

	mu       sync.Mutex
	accuracy map[string]*patternAccuracy
}

type patternAccuracy struct {
	predictedHighRisk int
	actualFailures    int
}

// NewEngine returns an engine with an empty accuracy table.
func NewEngine(mem memory.Memory, params *ParameterStore, logger core.Logger, highRiskThreshold float64) *PredictiveFailureEngine {
	if params == nil {
		params = NewParameterStore(DefaultWeights())
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &PredictiveFailureEngine{
		Memory:            mem,
		Params:            params,
		Logger:            logger,
		HighRiskThreshold: highRiskThreshold,
		accuracy:          make(map[string]*patternAccuracy),
	}
}

// Predict scores objectiveText. It never returns an error: any internal
// failure (e.g. Memory unavailable) degrades to risk_score=0 per spec.md
// §4.3's "fails soft" rule, so the cycle always proceeds.
func (e *PredictiveFailureEngine) Predict(ctx context.Context, objectiveText string) FailurePrediction {
	weights := e.Params.Snapshot()

	keywordRisk, keywordFactors := keywordRisk(objectiveText)
	lengthRisk := lengthComplexityRisk(objectiveText)
	clusterRisk, clusterFactor := e.clusterRisk(ctx, objectiveText)

	score := weights.Keyword*keywordRisk + weights.Length*lengthRisk + weights.Cluster*clusterRisk
	score = clamp01(score)

	var factors []string
	factors = append(factors, keywordFactors...)
	if lengthRisk > 0 {
		factors = append(factors, "length_complexity")
	}
	if clusterFactor != "" {
		factors = append(factors, clusterFactor)
	}

	prediction := FailurePrediction{RiskScore: score, Factors: factors}
	if score >= e.HighRiskThreshold {
		prediction.RecommendedModifications = recommend(factors)
		e.recordPrediction(factors)
	}
	return prediction
}

// recordPrediction increments the high-risk counter for every factor this
// prediction cited, feeding UpdateOutcome's accuracy bookkeeping.
func (e *PredictiveFailureEngine) recordPrediction(factors []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range factors {
		a, ok := e.accuracy[f]
		if !ok {
			a = &patternAccuracy{}
			e.accuracy[f] = a
		}
		a.predictedHighRisk++
	}
}

// UpdateOutcome feeds a terminated cycle's outcome back into the
// per-pattern accuracy counters for the factors its prediction cited
// (spec.md §4.3 step 4).
func (e *PredictiveFailureEngine) UpdateOutcome(factors []string, success bool) {
	if success {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range factors {
		a, ok := e.accuracy[f]
		if !ok {
			a = &patternAccuracy{}
			e.accuracy[f] = a
		}
		a.actualFailures++
	}
}

// PatternAccuracy returns the fraction of this pattern's high-risk
// predictions that were followed by an actual failure, or 0 if the
// pattern has never been cited.
func (e *PredictiveFailureEngine) PatternAccuracy(factor string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.accuracy[factor]
	if !ok || a.predictedHighRisk == 0 {
		return 0
	}
	return float64(a.actualFailures) / float64(a.predictedHighRisk)
}

func keywordRisk(text string) (float64, []string) {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 {
		return 0, nil
	}

	hits := make(map[string]bool)
	matches := 0
	for _, w := range words {
		for _, k := range riskKeywords {
			if w == k {
				matches++
				hits[k] = true
			}
		}
	}

	var factors []string
	for k := range hits {
		factors = append(factors, "keyword:"+k)
	}
	return clamp01(float64(matches) / float64(len(words)) * 4), factors
}

// lengthComplexityRisk grows linearly with objective length and clause
// count, averaged and clamped to 1 so a very long objective doesn't
// dominate risk_score outright.
func lengthComplexityRisk(text string) float64 {
	words := wordPattern.FindAllString(text, -1)
	clauses := len(clausePattern.FindAllString(text, -1))

	lengthComponent := float64(len(words)) / 40.0
	clauseComponent := float64(clauses) / 5.0

	return clamp01((lengthComponent + clauseComponent) / 2)
}

func (e *PredictiveFailureEngine) clusterRisk(ctx context.Context, objectiveText string) (float64, string) {
	if e.Memory == nil {
		return 0, ""
	}

	clusterID := memory.ClusterID(objectiveText)
	summary, err := e.Memory.Summary(ctx, memory.Filter{ClusterID: clusterID})
	if err != nil {
		e.Logger.Warn("predictive: cluster risk lookup failed", map[string]interface{}{"error": err.Error()})
		return 0, ""
	}
	if summary.TotalRecords == 0 {
		return 0, ""
	}

	failureCount := summary.PerClusterFailureCount[clusterID]
	risk := clamp01(float64(failureCount) / float64(summary.TotalRecords))
	if risk == 0 {
		return 0, ""
	}
	return risk, "historical_cluster"
}

func recommend(factors []string) string {
	var b strings.Builder
	b.WriteString("This objective historically correlates with failure (")
	b.WriteString(strings.Join(factors, ", "))
	b.WriteString("). Consider splitting it into smaller steps and stating explicit acceptance criteria before the Architect proposes a patch.")
	return b.String()
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
