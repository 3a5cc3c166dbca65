package validation

import (
	"fmt"
	"sync/atomic"

	"github.com/hephaestus-ai/hephaestus/core"
)

// DefaultStrategyName is the fallback used when a Maestro-chosen strategy
// name is unknown to the registry (spec.md §3 ValidationStrategy invariant).
const DefaultStrategyName = "SYNTAX_ONLY"

// Strategy is a named ordered sequence of step names plus a post-apply
// sanity check step name.
type Strategy struct {
	Name        string
	Steps       []string
	SanityCheck string
}

// snapshot is the immutable value published by Registry.swap; readers hold
// a reference for the lifetime of one cycle (spec.md §4.12/§5: a cycle
// never observes a registry update published after it started).
type snapshot struct {
	strategies map[string]Strategy
	steps      map[string]Step
}

// Registry holds ValidationStrategy and Step definitions behind a
// snapshot-swap container: readers get a lock-free, internally consistent
// view; writers (EvolutionEngine deploying an accepted mutation) publish a
// whole new snapshot atomically. Grounded on the atomic.Value-backed
// singleton in telemetry/registry.go in the teacher repo, generalized from
// a single global instance to an injectable, instance-scoped registry.
type Registry struct {
	current atomic.Value // snapshot
	logger  core.Logger
}

// NewRegistry builds a Registry pre-populated with the eight built-in steps
// from spec.md §4.5 and a default SYNTAX_ONLY strategy.
func NewRegistry(logger core.Logger) *Registry {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	r := &Registry{logger: logger}

	steps := map[string]Step{}
	for _, s := range []Step{
		SyntaxCheck{},
		JSONCheck{},
		PatchApplicatorStep{},
		TestRunner{},
		NewFileTestRunner{},
		FileExistence{},
		Benchmark{},
		SkipSanityCheck{},
	} {
		steps[s.Name()] = s
	}

	strategies := map[string]Strategy{
		DefaultStrategyName: {
			Name:        DefaultStrategyName,
			Steps:       []string{"syntax_check"},
			SanityCheck: "skip_sanity_check",
		},
	}

	r.current.Store(snapshot{strategies: strategies, steps: steps})
	return r
}

// Snapshot returns the registry's current view. Call once at the start of a
// cycle and use it for every resolution within that cycle, per the
// read-your-snapshot ordering guarantee in spec.md §5.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{s: r.current.Load().(snapshot)}
}

// Snapshot is the consistent, cycle-scoped view returned by Registry.Snapshot.
type Snapshot struct {
	s snapshot
}

// Resolve looks up a strategy by name and its constituent steps in
// registration order. An unknown name falls back to DefaultStrategyName
// with ok=false so the caller can log the STRATEGY_UNKNOWN warning spec.md
// §4.5/§7 requires.
func (sn Snapshot) Resolve(name string) (strategy Strategy, steps []Step, ok bool, err error) {
	strategy, found := sn.s.strategies[name]
	if !found {
		strategy, found = sn.s.strategies[DefaultStrategyName]
		if !found {
			return Strategy{}, nil, false, fmt.Errorf("validation: default strategy %q missing: %w", DefaultStrategyName, core.ErrStrategyNotFound)
		}
		ok = false
	} else {
		ok = true
	}

	steps = make([]Step, 0, len(strategy.Steps))
	for _, stepName := range strategy.Steps {
		step, found := sn.s.steps[stepName]
		if !found {
			return Strategy{}, nil, ok, fmt.Errorf("validation: step %q: %w", stepName, core.ErrStepNotFound)
		}
		steps = append(steps, step)
	}
	return strategy, steps, ok, nil
}

// SanityStep resolves a strategy's sanity_check step.
func (sn Snapshot) SanityStep(strategy Strategy) (Step, error) {
	step, found := sn.s.steps[strategy.SanityCheck]
	if !found {
		return nil, fmt.Errorf("validation: sanity step %q: %w", strategy.SanityCheck, core.ErrStepNotFound)
	}
	return step, nil
}

// PublishStrategy atomically swaps in a new or updated strategy, leaving
// every other strategy and all steps untouched. Used by EvolutionEngine to
// deploy an accepted strategy mutation.
func (r *Registry) PublishStrategy(strategy Strategy) {
	old := r.current.Load().(snapshot)

	strategies := make(map[string]Strategy, len(old.strategies)+1)
	for k, v := range old.strategies {
		strategies[k] = v
	}
	strategies[strategy.Name] = strategy

	r.current.Store(snapshot{strategies: strategies, steps: old.steps})
	r.logger.Info("validation strategy published", map[string]interface{}{"name": strategy.Name, "steps": strategy.Steps})
}

// PublishStep atomically registers or replaces a step, leaving strategies
// untouched.
func (r *Registry) PublishStep(step Step) {
	old := r.current.Load().(snapshot)

	steps := make(map[string]Step, len(old.steps)+1)
	for k, v := range old.steps {
		steps[k] = v
	}
	steps[step.Name()] = step

	r.current.Store(snapshot{strategies: old.strategies, steps: steps})
	r.logger.Info("validation step published", map[string]interface{}{"name": step.Name()})
}
