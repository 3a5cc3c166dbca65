// Package coordinator implements Coordinator, the top-level lifecycle
// owner that starts the Worker and Evolution tasks, exposes the Enqueue
// API (spec.md §6), and drives cooperative shutdown (spec.md §5).
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hephaestus-ai/hephaestus/agent"
	"github.com/hephaestus-ai/hephaestus/core"
	"github.com/hephaestus-ai/hephaestus/cycle"
	"github.com/hephaestus-ai/hephaestus/evolution"
	"github.com/hephaestus-ai/hephaestus/memory"
	"github.com/hephaestus-ai/hephaestus/objective"
	"github.com/hephaestus-ai/hephaestus/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// ObjectiveStatus is what the Enqueue API's status() call returns
// (spec.md §6: "{phase, started_at, outcome?, reason?}").
type ObjectiveStatus struct {
	Phase      cycle.Phase
	StartedAt  time.Time
	FinishedAt time.Time
	CommitID   string
	Reason     core.FailureReason
	Summary    string
}

// Dependencies wires every long-lived component Coordinator owns
// (spec.md §4's Ownership: "Coordinator owns ObjectiveQueue, Memory,
// AgentRegistry, ValidationRegistry, EvolutionEngine, and the worker").
type Dependencies struct {
	Queue      *objective.ObjectiveQueue
	Generator  *objective.ObjectiveGenerator
	Memory     memory.Memory
	Prompts    *agent.Registry
	Runner     *cycle.Runner
	Evolution  *evolution.Engine

	// EvolutionPolicy controls whether the Evolution task runs at all,
	// and whether it starts in emergency mode (spec.md §6's
	// HEPHAESTUS_EVOLUTION env var).
	EvolutionPolicy core.EvolutionPolicy
	// EvolutionInterval is how often the Evolution task attempts one
	// observe/propose/test/select/deploy/monitor pass (spec.md §5's
	// "Evolution task — periodic").
	EvolutionInterval time.Duration
	// EvolutionCandidates bounds how many mutations Propose considers per
	// pass.
	EvolutionCandidates int

	// DequeueTimeout bounds how long the Worker task waits for an
	// objective before falling back to the ObjectiveGenerator (spec.md
	// §4.9 step 1's "Acquire... fallback to ObjectiveGenerator").
	DequeueTimeout time.Duration

	Logger core.Logger
}

// Coordinator is the process's single top-level owner of long-lived
// state. Components receive it, or narrowed capabilities of it, by
// injection rather than reaching for package-level singletons (spec.md
// §8's redesign guidance).
type Coordinator struct {
	deps Dependencies

	statusMu sync.Mutex
	statuses map[string]ObjectiveStatus

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed chan struct{}
}

// New assembles a Coordinator from deps, applying the same kind of
// default-filling NewRunner already does for cycle.Dependencies.
func New(deps Dependencies) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = core.NoOpLogger{}
	}
	if deps.DequeueTimeout <= 0 {
		deps.DequeueTimeout = 5 * time.Second
	}
	if deps.EvolutionInterval <= 0 {
		deps.EvolutionInterval = time.Minute
	}
	if deps.EvolutionCandidates <= 0 {
		deps.EvolutionCandidates = 5
	}
	if deps.EvolutionPolicy == "" {
		deps.EvolutionPolicy = core.EvolutionOff
	}

	return &Coordinator{
		deps:     deps,
		statuses: make(map[string]ObjectiveStatus),
		closed:   make(chan struct{}),
	}
}

// Submit is the Enqueue API's submit() (spec.md §6): it pushes an
// objective onto the queue and returns immediately, satisfying spec.md
// §5's "Input task... completes immediately after pushing to
// ObjectiveQueue."
func (c *Coordinator) Submit(text string, priority int, metadata map[string]interface{}) (string, error) {
	id, err := c.deps.Queue.Enqueue(objective.Objective{
		Text:     text,
		Priority: priority,
		Origin:   objective.OriginUser,
		Metadata: metadata,
	})
	if err != nil {
		return "", err
	}
	c.setStatus(id, ObjectiveStatus{Phase: cycle.PhaseIdle})
	return id, nil
}

// Status is the Enqueue API's status() (spec.md §6).
func (c *Coordinator) Status(objectiveID string) (ObjectiveStatus, bool) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	st, ok := c.statuses[objectiveID]
	return st, ok
}

// QueueSnapshot is the Enqueue API's queue_snapshot() (spec.md §6).
func (c *Coordinator) QueueSnapshot() []objective.Objective {
	return c.deps.Queue.PeekAll()
}

func (c *Coordinator) setStatus(id string, st ObjectiveStatus) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.statuses[id] = st
}

// Start launches the Worker task and, if enabled, the Evolution task, and
// blocks until ctx is cancelled or Stop is called (spec.md §5's two
// background logical tasks; the Input task is Submit, which needs no
// loop of its own).
func (c *Coordinator) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if c.deps.EvolutionPolicy == core.EvolutionEmergency && c.deps.Evolution != nil {
		c.deps.Evolution.ForceEmergencyMode(true)
	}

	c.wg.Add(1)
	go c.runWorker(runCtx)

	if c.deps.EvolutionPolicy != core.EvolutionOff && c.deps.Evolution != nil {
		c.wg.Add(1)
		go c.runEvolution(runCtx)
	}

	c.wg.Wait()
	return nil
}

// Stop signals cooperative shutdown (spec.md §5): the Worker finishes its
// current cycle, Evolution halts at its next loop boundary, and this call
// blocks until both have returned or shutdownTimeout elapses.
func (c *Coordinator) Stop(shutdownTimeout time.Duration) error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	c.deps.Queue.Close()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("coordinator: shutdown timeout after %s", shutdownTimeout)
	}
}

// runWorker is the Worker task: it drives CycleRunner sequentially, one
// cycle at a time, never running two cycles concurrently in this process
// (spec.md §4's Ownership rule on CycleRunner/CycleState).
func (c *Coordinator) runWorker(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		o, ok := c.deps.Queue.Dequeue(ctx, c.deps.DequeueTimeout)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			o = c.nextGeneratedObjective(ctx)
		}

		c.runCycle(ctx, o)
	}
}

func (c *Coordinator) nextGeneratedObjective(ctx context.Context) objective.Objective {
	if c.deps.Generator == nil {
		return objective.Objective{Text: "idle: no generator configured", Origin: objective.OriginGenerator, Priority: -1}
	}

	input := objective.GeneratorInput{}
	if c.deps.Memory != nil {
		if summary, err := c.deps.Memory.Summary(ctx, memory.Filter{}); err == nil {
			input.PerformanceSummary = summary
		}
		if recent, err := c.deps.Memory.Recent(ctx, 10); err == nil {
			input.RecentRecords = recent
		}
	}
	generated := c.deps.Generator.Generate(ctx, input)
	generated.ID = "obj-" + uuid.New().String()[:16]
	return generated
}

// runCycle runs one objective through CycleRunner, updates status
// tracking, and feeds the Evolution task's anti-loop bookkeeping. A
// non-nil error from RunOnce is a programmer-error invariant violation,
// not a taxonomy failure (spec.md §7); it is logged and the Worker
// restarts rather than crashing the process.
func (c *Coordinator) runCycle(ctx context.Context, o objective.Objective) {
	startedAt := time.Now()
	c.setStatus(o.ID, ObjectiveStatus{Phase: cycle.PhaseGenerated, StartedAt: startedAt})

	enqueueCorrective := func(corrective objective.Objective) error {
		_, err := c.deps.Queue.Enqueue(corrective)
		return err
	}

	out, err := c.deps.Runner.RunOnce(ctx, o, enqueueCorrective)
	if err != nil {
		c.deps.Logger.Error("coordinator: cycle invariant violation, restarting worker", map[string]interface{}{
			"objective_id": o.ID, "error": err.Error(),
		})
		telemetry.Counter(ctx, "coordinator.cycle_invariant_violation", attribute.String("module", telemetry.ModuleCycle))
		c.setStatus(o.ID, ObjectiveStatus{Phase: cycle.PhaseFailed, StartedAt: startedAt, FinishedAt: time.Now()})
		return
	}

	c.setStatus(o.ID, ObjectiveStatus{
		Phase:      out.Phase,
		StartedAt:  out.StartedAt,
		FinishedAt: out.FinishedAt,
		CommitID:   out.CommitID,
		Reason:     out.Reason,
	})

	if c.deps.Evolution != nil {
		c.deps.Evolution.RecordCycleOutcome(out.Phase == cycle.PhaseCommitted)
	}
}

// runEvolution is the Evolution task: periodic, yielding between mutation
// trials by sleeping on a ticker rather than busy-looping (spec.md §5).
func (c *Coordinator) runEvolution(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.deps.EvolutionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.deps.Evolution.RunOnce(ctx, c.deps.EvolutionCandidates); err != nil {
				c.deps.Logger.Warn("coordinator: evolution pass failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
