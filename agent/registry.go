// Package agent implements the AgentRegistry and the four agent
// contracts the evolution core drives every cycle: Architect, CodeReviewer,
// Maestro, and ErrorAnalyzer (spec.md §4.4).
package agent

import (
	"sync/atomic"
)

// Names of the built-in agent roles, used as Registry keys.
const (
	NameArchitect     = "architect"
	NameCodeReviewer  = "code_reviewer"
	NameMaestro       = "maestro"
	NameErrorAnalyzer = "error_analyzer"
)

// PromptSet holds the mutable parts of an agent's behavior: the system
// prompt EvolutionEngine may mutate and redeploy (spec.md §4.10), kept
// separate from the Go code that builds the rest of the prompt and parses
// the response.
type PromptSet struct {
	Name         string
	SystemPrompt string
}

type snapshot struct {
	prompts map[string]PromptSet
}

// Registry is a snapshot-swap store of per-agent PromptSets, the agent-side
// counterpart to validation.Registry. Grounded on the same
// atomic.Value-backed singleton pattern in telemetry/registry.go in the
// teacher: a cycle that captures a Snapshot at cycle start never observes a
// prompt EvolutionEngine publishes mid-cycle (spec.md §4.12).
type Registry struct {
	current atomic.Value // snapshot
}

// NewRegistry returns a Registry seeded with the default prompt for every
// built-in agent role.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(snapshot{prompts: map[string]PromptSet{
		NameArchitect:     {Name: NameArchitect, SystemPrompt: defaultArchitectPrompt},
		NameCodeReviewer:  {Name: NameCodeReviewer, SystemPrompt: defaultCodeReviewerPrompt},
		NameMaestro:       {Name: NameMaestro, SystemPrompt: defaultMaestroPrompt},
		NameErrorAnalyzer: {Name: NameErrorAnalyzer, SystemPrompt: defaultErrorAnalyzerPrompt},
	}})
	return r
}

// Snapshot captures the current prompt set for the caller's exclusive use
// for the remainder of its cycle.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{snap: r.current.Load().(snapshot)}
}

// Snapshot is an immutable view over a Registry taken at one point in time.
type Snapshot struct {
	snap snapshot
}

// Prompt returns the named agent's system prompt in this snapshot, or
// fallback if name is unknown to it or its prompt is empty.
func (sn Snapshot) Prompt(name, fallback string) string {
	if ps, ok := sn.snap.prompts[name]; ok && ps.SystemPrompt != "" {
		return ps.SystemPrompt
	}
	return fallback
}

// PublishPrompt installs a new system prompt for name, visible to snapshots
// taken after this call returns. Used by EvolutionEngine to deploy a
// mutated prompt, and to roll one back.
func (r *Registry) PublishPrompt(ps PromptSet) {
	old := r.current.Load().(snapshot)
	next := make(map[string]PromptSet, len(old.prompts)+1)
	for k, v := range old.prompts {
		next[k] = v
	}
	next[ps.Name] = ps
	r.current.Store(snapshot{prompts: next})
}

const defaultArchitectPrompt = `You are the Architect. Given an objective and the relevant code, produce a single JSON patch object: {"operations":[{"kind":"INSERT|REPLACE|DELETE_BLOCK|CREATE_FILE", ...}]}. Respond with JSON only.`

const defaultCodeReviewerPrompt = `You are the CodeReviewer. Given a proposed patch and its affected file contexts, respond with JSON: {"verdict":"approve|approve_with_edits|reject","operations":[...],"reason":"..."}.`

const defaultMaestroPrompt = `You are Maestro. Given an objective, its patch, and failure history for similar objectives, choose a validation strategy name from the registry. Respond with JSON: {"strategy":"..."}.`

const defaultErrorAnalyzerPrompt = `You are the ErrorAnalyzer. Given a failure reason, its context, and recent steps, decide the next action. Respond with JSON: {"action":"regenerate_patch|new_objective|meta_analysis|abandon","objective_text":"...","summary":"..."}.`
