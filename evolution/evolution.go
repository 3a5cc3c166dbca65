// Package evolution implements EvolutionEngine, the background
// observe/propose/test/select/deploy/monitor loop that mutates prompts,
// strategies, and parameters based on Memory's accumulated outcomes
// (spec.md §4.10).
package evolution

import (
	"context"
	"fmt"

	"github.com/hephaestus-ai/hephaestus/agent"
	"github.com/hephaestus-ai/hephaestus/core"
	"github.com/hephaestus-ai/hephaestus/memory"
	"github.com/hephaestus-ai/hephaestus/predictive"
	"github.com/hephaestus-ai/hephaestus/telemetry"
	"github.com/hephaestus-ai/hephaestus/validation"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Kind is one of the five mutation kinds spec.md §3 names.
type Kind string

const (
	KindPrompt        Kind = "prompt"
	KindStrategy      Kind = "strategy"
	KindParameter     Kind = "parameter"
	KindWorkflow      Kind = "workflow"
	KindAgentBehavior Kind = "agent_behavior"
)

// structuralKinds are frozen during emergency evolution (spec.md §4.10's
// anti-loop safety: "only conservative mutations... are permitted, and
// structural mutations are frozen").
var structuralKinds = map[Kind]bool{KindStrategy: true, KindWorkflow: true}

// Status is a Mutation's lifecycle position.
type Status string

const (
	StatusCandidate Status = "candidate"
	StatusTesting   Status = "testing"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusDeployed  Status = "deployed"
)

// Mutation is a proposed change to a prompt, strategy, parameter,
// workflow, or agent behavior (spec.md §3).
type Mutation struct {
	ID      string
	Kind    Kind
	Target  string
	Before  string
	After   string
	Fitness float64
	Status  Status
}

// Engine runs the mutation/fitness loop against the live registries.
// Unlike a cycle, Engine is safe to drive from a separate cooperative
// task (spec.md §5's "Evolution task"); every registry it mutates is
// snapshot-swap, so an in-flight CycleRunner is never disturbed.
type Engine struct {
	Memory     memory.Memory
	Prompts    *agent.Registry
	Validation *validation.Registry
	Params     *predictive.ParameterStore
	Completion core.CompletionService
	Logger     core.Logger

	// AcceptanceThreshold is the minimum fitness a candidate needs to be
	// marked accepted (spec.md §4.10 step 4).
	AcceptanceThreshold float64
	// EmergencyFailureThreshold is the consecutive-failure count that
	// trips emergency evolution (spec.md §4.10's anti-loop safety).
	EmergencyFailureThreshold int
	// RollingWindow is how many recent cycle outcomes Monitor studies for
	// the post-deploy rollback check (spec.md §4.10 step 6: "20-cycle
	// rolling success rate").
	RollingWindow int
	// RollbackMargin is how far the rolling success rate may drop below
	// a deployment's baseline before Monitor reverts it.
	RollbackMargin float64

	consecutiveFailures int
	emergency           bool
	rollingOutcomes     []bool
	deployments         []deployment
}

type deployment struct {
	mutation    Mutation
	previous    string
	baseline    float64
}

func (e *Engine) logger() core.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return core.NoOpLogger{}
}

func (e *Engine) emergencyThreshold() int {
	if e.EmergencyFailureThreshold <= 0 {
		return 5
	}
	return e.EmergencyFailureThreshold
}

func (e *Engine) rollingWindow() int {
	if e.RollingWindow <= 0 {
		return 20
	}
	return e.RollingWindow
}

func (e *Engine) rollbackMargin() float64 {
	if e.RollbackMargin <= 0 {
		return 0.15
	}
	return e.RollbackMargin
}

// RecordCycleOutcome feeds one CycleRunner outcome into the rolling
// window and the anti-loop consecutive-failure counter. Memory writes for
// the cycle that produced success happen-before this call, per spec.md
// §5's "Memory writes for cycle N happen-before any Evolution task read
// that observes cycle N's outcome" — callers should call this only after
// their Memory.Record has returned.
func (e *Engine) RecordCycleOutcome(success bool) {
	if success {
		e.consecutiveFailures = 0
	} else {
		e.consecutiveFailures++
	}
	e.emergency = e.consecutiveFailures >= e.emergencyThreshold()

	e.rollingOutcomes = append(e.rollingOutcomes, success)
	if len(e.rollingOutcomes) > e.rollingWindow() {
		e.rollingOutcomes = e.rollingOutcomes[len(e.rollingOutcomes)-e.rollingWindow():]
	}
}

// InEmergencyMode reports whether consecutive failures have tripped
// emergency evolution.
func (e *Engine) InEmergencyMode() bool {
	return e.emergency
}

// ForceEmergencyMode overrides the anti-loop state directly, used at
// startup when HEPHAESTUS_EVOLUTION=emergency asks the engine to begin
// in the conservative-mutations-only mode regardless of recent history.
func (e *Engine) ForceEmergencyMode(v bool) {
	e.emergency = v
}

func (e *Engine) rollingSuccessRate() (float64, bool) {
	if len(e.rollingOutcomes) == 0 {
		return 0, false
	}
	successes := 0
	for _, ok := range e.rollingOutcomes {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(e.rollingOutcomes)), true
}

// Observe polls Memory for the current aggregate picture (spec.md §4.10
// step 1).
func (e *Engine) Observe(ctx context.Context) (memory.Summary, error) {
	if e.Memory == nil {
		return memory.Summary{}, nil
	}
	return e.Memory.Summary(ctx, memory.Filter{})
}

// Propose generates up to k candidate mutations, cycling through the five
// kinds in a fixed order that restarts at parameter on every call, so a
// call with k >= 5 attempts every kind (spec.md §4.10 step 2: "up to K candidate mutations spanning the five
// kinds").
func (e *Engine) Propose(ctx context.Context, summary memory.Summary, k int) []Mutation {
	kinds := []Kind{KindParameter, KindPrompt, KindAgentBehavior, KindStrategy, KindWorkflow}
	candidates := make([]Mutation, 0, k)

	for i := 0; i < k; i++ {
		kind := kinds[i%len(kinds)]
		if e.emergency && structuralKinds[kind] {
			continue
		}
		m, ok := e.proposeOne(ctx, kind, summary)
		if ok {
			candidates = append(candidates, m)
		}
	}
	return candidates
}

func (e *Engine) proposeOne(ctx context.Context, kind Kind, summary memory.Summary) (Mutation, bool) {
	switch kind {
	case KindParameter:
		return e.proposeParameterMutation(), true
	case KindStrategy:
		return e.proposeStrategyMutation(summary)
	case KindWorkflow:
		return e.proposeWorkflowMutation(summary)
	case KindPrompt, KindAgentBehavior:
		return e.proposePromptMutation(ctx, kind, summary)
	}
	return Mutation{}, false
}

// proposeParameterMutation proposes a small, bounded reweighting of
// predictive.Weights toward cluster risk: keyword and length weights are
// scaled by 0.9, the cluster weight by 0.9 plus 0.2. Engine has no direct
// line to predictive.PredictiveFailureEngine's accuracy table (that lives
// behind the engine, not the parameter store), so the proposal is the same
// on every call and does not depend on pattern accuracy or the failure mix.
func (e *Engine) proposeParameterMutation() Mutation {
	current := e.Params.Snapshot()
	proposed := predictive.Weights{
		Keyword: current.Keyword * 0.9,
		Length:  current.Length * 0.9,
		Cluster: current.Cluster*0.9 + 0.2,
	}
	return Mutation{
		ID:     newMutationID(),
		Kind:   KindParameter,
		Target: "predictive.weights",
		Before: fmt.Sprintf("%+v", current),
		After:  fmt.Sprintf("%+v", proposed),
		Status: StatusCandidate,
	}
}

// proposeStrategyMutation proposes tightening the default strategy with a
// test_runner step whenever Memory holds any records; it does not look at
// which failure reasons dominate.
func (e *Engine) proposeStrategyMutation(summary memory.Summary) (Mutation, bool) {
	if summary.TotalRecords == 0 {
		return Mutation{}, false
	}
	snapshot := e.Validation.Snapshot()
	strategy, _, _, err := snapshot.Resolve(validation.DefaultStrategyName)
	if err != nil {
		return Mutation{}, false
	}
	return Mutation{
		ID:     newMutationID(),
		Kind:   KindStrategy,
		Target: strategy.Name,
		Before: fmt.Sprintf("%v", strategy.Steps),
		After:  fmt.Sprintf("%v", append(append([]string{}, strategy.Steps...), "test_runner")),
		Status: StatusCandidate,
	}, true
}

// proposeWorkflowMutation proposes reordering an existing strategy's
// steps to run syntax_check before any other configured step, treating
// "workflow" mutations as step-sequence changes within a strategy, as
// opposed to "strategy" mutations, which change which named strategy
// exists at all.
func (e *Engine) proposeWorkflowMutation(summary memory.Summary) (Mutation, bool) {
	if summary.TotalRecords == 0 {
		return Mutation{}, false
	}
	snapshot := e.Validation.Snapshot()
	strategy, _, _, err := snapshot.Resolve(validation.DefaultStrategyName)
	if err != nil || len(strategy.Steps) < 2 {
		return Mutation{}, false
	}
	reordered := append([]string{"syntax_check"}, removeAll(strategy.Steps, "syntax_check")...)
	return Mutation{
		ID:     newMutationID(),
		Kind:   KindWorkflow,
		Target: strategy.Name + ".steps",
		Before: fmt.Sprintf("%v", strategy.Steps),
		After:  fmt.Sprintf("%v", reordered),
		Status: StatusCandidate,
	}, true
}

// proposePromptMutation asks the completion service for a revised system
// prompt using Memory's best/worst examples as context (spec.md §4.10
// step 2: "prompt mutations use the memory's best/worst examples as
// context"). agent_behavior mutations use the same mechanism but target a
// short behavioral directive appended to the prompt rather than rewriting
// it wholesale, since Architect/Maestro's tunable Go fields (MaxRetries,
// DefaultStrategy) are cycle-local, not registry-published state.
func (e *Engine) proposePromptMutation(ctx context.Context, kind Kind, summary memory.Summary) (Mutation, bool) {
	if e.Completion == nil || e.Prompts == nil {
		return Mutation{}, false
	}
	sn := e.Prompts.Snapshot()
	current := sn.Prompt(agent.NameArchitect, "")
	if current == "" {
		return Mutation{}, false
	}

	prompt := buildPromptMutationPrompt(kind, current, summary)
	resp, err := e.Completion.Complete(ctx, core.CompletionRequest{
		SystemPrompt: "You refine system prompts for a software-evolution agent based on its track record.",
		Prompt:       prompt,
		Temperature:  0.3,
		MaxTokens:    800,
	})
	if err != nil {
		e.logger().Warn("evolution: prompt mutation completion failed", map[string]interface{}{"error": err.Error()})
		return Mutation{}, false
	}

	return Mutation{
		ID:     newMutationID(),
		Kind:   kind,
		Target: agent.NameArchitect,
		Before: current,
		After:  resp.Content,
		Status: StatusCandidate,
	}, true
}

func buildPromptMutationPrompt(kind Kind, current string, summary memory.Summary) string {
	label := "Rewrite the prompt"
	if kind == KindAgentBehavior {
		label = "Append one short behavioral directive to the prompt"
	}
	return fmt.Sprintf(`%s below given this track record: success_rate=%.2f, total_records=%d.

CURRENT PROMPT:
%s

Respond with the full replacement prompt text and nothing else.`, label, summary.SuccessRate, summary.TotalRecords, current)
}

// Test assigns a fitness score to each candidate. True replay against a
// held-out objective set would require re-running the LLM deterministically,
// which this system's own non-goals exclude ("deterministic replay of LLM
// outputs"); fitness is instead derived from Memory's overall success rate
// through a per-kind formula (see fitnessFor), not from any signal specific
// to the mutation's target, a documented simplification of spec.md §4.10
// step 3.
func (e *Engine) Test(ctx context.Context, candidates []Mutation, summary memory.Summary) []Mutation {
	tested := make([]Mutation, 0, len(candidates))
	for _, m := range candidates {
		m.Status = StatusTesting
		m.Fitness = e.fitnessFor(m, summary)
		tested = append(tested, m)
	}
	return tested
}

func (e *Engine) fitnessFor(m Mutation, summary memory.Summary) float64 {
	switch m.Kind {
	case KindStrategy, KindWorkflow:
		if summary.TotalRecords == 0 {
			return 0
		}
		failureRate := 1 - summary.SuccessRate
		return clamp01(failureRate * 1.5)
	case KindParameter:
		if summary.TotalRecords == 0 {
			return 0.3
		}
		return clamp01(1 - summary.SuccessRate + 0.2)
	default:
		if summary.TotalRecords == 0 {
			return 0.4
		}
		return clamp01(1 - summary.SuccessRate + 0.1)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Select marks every tested candidate whose fitness clears
// AcceptanceThreshold as accepted, skipping structural kinds while
// emergency evolution is active (spec.md §4.10 step 4's anti-loop check).
func (e *Engine) Select(candidates []Mutation) []Mutation {
	accepted := make([]Mutation, 0, len(candidates))
	for _, m := range candidates {
		if e.emergency && structuralKinds[m.Kind] {
			m.Status = StatusRejected
			continue
		}
		if m.Fitness < e.AcceptanceThreshold {
			m.Status = StatusRejected
			continue
		}
		m.Status = StatusAccepted
		accepted = append(accepted, m)
	}
	return accepted
}

// Deploy atomically swaps every accepted mutation into its target
// registry or parameter store, retaining the previous value for rollback
// and recording the pre-deploy baseline success rate (spec.md §4.10 step
// 5).
func (e *Engine) Deploy(ctx context.Context, accepted []Mutation, baseline memory.Summary) {
	for _, m := range accepted {
		switch m.Kind {
		case KindParameter:
			e.deployParameter(m)
		case KindPrompt, KindAgentBehavior:
			e.deployPrompt(m)
		case KindStrategy:
			e.deployStrategy(m)
		case KindWorkflow:
			e.deployWorkflow(m)
		}
		m.Status = StatusDeployed
		e.deployments = append(e.deployments, deployment{mutation: m, previous: m.Before, baseline: baseline.SuccessRate})
		telemetry.Counter(ctx, "evolution.deployed", attribute.String("kind", string(m.Kind)), attribute.String("module", telemetry.ModuleEvolution))
	}
}

func (e *Engine) deployParameter(m Mutation) {
	current := e.Params.Snapshot()
	e.Params.Publish(predictive.Weights{
		Keyword: current.Keyword * 0.9,
		Length:  current.Length * 0.9,
		Cluster: current.Cluster*0.9 + 0.2,
	})
}

func (e *Engine) deployPrompt(m Mutation) {
	e.Prompts.PublishPrompt(agent.PromptSet{Name: m.Target, SystemPrompt: m.After})
}

func (e *Engine) deployStrategy(m Mutation) {
	snapshot := e.Validation.Snapshot()
	strategy, _, _, err := snapshot.Resolve(m.Target)
	if err != nil {
		return
	}
	strategy.Steps = append(append([]string{}, strategy.Steps...), "test_runner")
	e.Validation.PublishStrategy(strategy)
}

func (e *Engine) deployWorkflow(m Mutation) {
	name := m.Target
	if idx := len(name) - len(".steps"); idx > 0 && name[idx:] == ".steps" {
		name = name[:idx]
	}
	snapshot := e.Validation.Snapshot()
	strategy, _, _, err := snapshot.Resolve(name)
	if err != nil || len(strategy.Steps) < 2 {
		return
	}
	strategy.Steps = append([]string{"syntax_check"}, removeAll(strategy.Steps, "syntax_check")...)
	e.Validation.PublishStrategy(strategy)
}

// Monitor compares the current rolling success rate against each
// deployment's pre-deploy baseline and rolls back anything that has
// dropped by more than RollbackMargin, recording a Memory entry for the
// rollback (spec.md §4.10 step 6). Prompt and agent_behavior deployments
// get their previous prompt back; parameter deployments are reset to
// predictive.DefaultWeights(), not to the retained value; strategy and
// workflow deployments are not reverted, only logged, though they too
// leave the tracked set.
func (e *Engine) Monitor(ctx context.Context) {
	rate, ok := e.rollingSuccessRate()
	if !ok || len(e.deployments) == 0 {
		return
	}

	remaining := e.deployments[:0]
	for _, d := range e.deployments {
		if d.baseline-rate > e.rollbackMargin() {
			e.rollback(ctx, d, rate)
			continue
		}
		remaining = append(remaining, d)
	}
	e.deployments = remaining
}

func (e *Engine) rollback(ctx context.Context, d deployment, observedRate float64) {
	switch d.mutation.Kind {
	case KindParameter:
		// d.previous holds a %+v-formatted Weights snapshot, not a value
		// Publish can consume directly; reverting to defaults is the safe
		// conservative fallback rather than parsing it back out.
		e.Params.Publish(predictive.DefaultWeights())
	case KindPrompt, KindAgentBehavior:
		e.Prompts.PublishPrompt(agent.PromptSet{Name: d.mutation.Target, SystemPrompt: d.previous})
	case KindStrategy, KindWorkflow:
		e.logger().Warn("evolution: rollback for strategy/workflow mutation requires re-resolving prior steps; previous value logged only", map[string]interface{}{"target": d.mutation.Target})
	}

	e.logger().Warn("evolution: rolled back mutation", map[string]interface{}{
		"mutation_id": d.mutation.ID, "target": d.mutation.Target, "baseline": d.baseline, "observed": observedRate,
	})
	telemetry.Counter(ctx, "evolution.rolled_back", attribute.String("kind", string(d.mutation.Kind)), attribute.String("module", telemetry.ModuleEvolution))

	if e.Memory != nil {
		_ = e.Memory.Record(ctx, memory.Record{
			Objective: fmt.Sprintf("rollback: %s mutation %s reverted (success rate dropped from %.2f to %.2f)", d.mutation.Kind, d.mutation.Target, d.baseline, observedRate),
			Outcome:   memory.OutcomeFailure,
		})
	}
}

// RunOnce drives one full observe/propose/test/select/deploy iteration,
// the unit of work the Evolution task repeats periodically (spec.md §5's
// "Evolution task — periodic; yields between mutation trials").
func (e *Engine) RunOnce(ctx context.Context, candidateCount int) ([]Mutation, error) {
	summary, err := e.Observe(ctx)
	if err != nil {
		return nil, fmt.Errorf("evolution: observe: %w", err)
	}

	candidates := e.Propose(ctx, summary, candidateCount)
	tested := e.Test(ctx, candidates, summary)
	accepted := e.Select(tested)
	e.Deploy(ctx, accepted, summary)
	e.Monitor(ctx)

	return tested, nil
}

func newMutationID() string {
	return "mut-" + uuid.New().String()[:16]
}

func removeAll(items []string, remove string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item != remove {
			out = append(out, item)
		}
	}
	return out
}
