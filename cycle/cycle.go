// Package cycle implements CycleRunner, the single-threaded state machine
// that advances one objective through predict/plan/review/validate/apply/
// commit (spec.md §4.9, §4.11).
package cycle

import (
	"context"
	"fmt"
	"time"

	"github.com/hephaestus-ai/hephaestus/agent"
	"github.com/hephaestus-ai/hephaestus/core"
	"github.com/hephaestus-ai/hephaestus/memory"
	"github.com/hephaestus-ai/hephaestus/objective"
	"github.com/hephaestus-ai/hephaestus/patch"
	"github.com/hephaestus-ai/hephaestus/predictive"
	"github.com/hephaestus-ai/hephaestus/sandbox"
	"github.com/hephaestus-ai/hephaestus/telemetry"
	"github.com/hephaestus-ai/hephaestus/validation"
	"go.opentelemetry.io/otel/attribute"
)

// Phase is one state in the cycle's state machine (spec.md §4.11).
type Phase string

const (
	PhaseIdle           Phase = "IDLE"
	PhaseGenerated      Phase = "GENERATED"
	PhasePredicted      Phase = "PREDICTED"
	PhasePlanned        Phase = "PLANNED"
	PhaseReviewed       Phase = "REVIEWED"
	PhaseStrategyChosen Phase = "STRATEGY_CHOSEN"
	PhaseSandboxOK      Phase = "SANDBOX_OK"
	PhaseApplied        Phase = "APPLIED"
	PhaseCommitted      Phase = "COMMITTED"
	PhaseFailed         Phase = "FAILED"
)

// metadataCorrectiveDepth is the Objective.Metadata key holding how many
// corrective hops precede this objective, used to enforce
// max_corrective_depth (spec.md §4.9's "maximum 3 corrective chains per
// root objective").
const metadataCorrectiveDepth = "corrective_depth"

// Outcome is a cycle's terminal result, the shape status() reports
// (spec.md §6).
type Outcome struct {
	ObjectiveID string
	Phase       Phase
	Reason      core.FailureReason
	CommitID    string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Dependencies are everything one CycleRunner needs. Prompts, the four
// agents and Validation are required; Memory, Predictive, VCS and
// ContextForObjective may be nil, and NewRunner fills in Logger,
// Applicator, MaxCorrectiveDepth and AgentTimeout when they are unset.
type Dependencies struct {
	Prompts            *agent.Registry
	Architect          *agent.Architect
	CodeReviewer       *agent.CodeReviewer
	Maestro            *agent.Maestro
	ErrorAnalyzer      *agent.ErrorAnalyzer
	Validation         *validation.Registry
	Memory             memory.Memory
	Predictive         *predictive.PredictiveFailureEngine
	VCS                core.VersionControl
	Applicator         *patch.Applicator
	Logger             core.Logger
	SourceRoot         string
	MaxCorrectiveDepth int
	AgentTimeout       time.Duration
	StepContext        validation.StepContext

	// ContextForObjective gathers the file excerpts and code skeleton the
	// Architect sees for a given objective. Optional; returns an empty
	// ArchitectRequest body when nil.
	ContextForObjective func(ctx context.Context, o objective.Objective) (map[string]string, string)
}

// Runner drives one objective at a time through the cycle. A single
// process runs at most one Runner actively executing RunOnce, per spec.md
// §3's "CycleRunner owns a single CycleState at a time."
type Runner struct {
	deps Dependencies

	// prompts is the agent snapshot RunOnce captured at cycle start;
	// terminate reuses it for the ErrorAnalyzer call.
	prompts agent.Snapshot
}

// NewRunner validates and wraps deps.
func NewRunner(deps Dependencies) *Runner {
	if deps.Logger == nil {
		deps.Logger = core.NoOpLogger{}
	}
	if deps.MaxCorrectiveDepth <= 0 {
		deps.MaxCorrectiveDepth = 3
	}
	if deps.AgentTimeout <= 0 {
		deps.AgentTimeout = 60 * time.Second
	}
	if deps.Applicator == nil {
		deps.Applicator = patch.NewApplicator(deps.Logger)
	}
	return &Runner{deps: deps}
}

// RunOnce drives o through the full pipeline to a terminal phase. It
// never returns an error for ordinary (taxonomy) failures — those are
// captured as Outcome.Reason; a non-nil error signals a programmer-error
// invariant violation, per spec.md §7's propagation policy, and the
// caller (the Worker task) should log it and restart.
func (r *Runner) RunOnce(ctx context.Context, o objective.Objective, enqueueCorrective func(objective.Objective) error) (Outcome, error) {
	startedAt := time.Now()
	out := Outcome{ObjectiveID: o.ID, StartedAt: startedAt}

	ctx, span := telemetry.StartSpan(ctx, "cycle.run", attribute.String("objective_id", o.ID))
	defer span.End()

	promptsSnapshot := r.deps.Prompts.Snapshot()
	r.prompts = promptsSnapshot
	validationSnapshot := r.deps.Validation.Snapshot()

	// 2. Predict
	prediction := predictive.FailurePrediction{}
	if r.deps.Predictive != nil {
		prediction = r.deps.Predictive.Predict(ctx, o.Text)
		out.Phase = PhasePredicted
	}

	// 3. Plan
	fileExcerpts := map[string]string{}
	codeSkeleton := ""
	if r.deps.ContextForObjective != nil {
		fileExcerpts, codeSkeleton = r.deps.ContextForObjective(ctx, o)
	}

	architectResult, err := r.deps.Architect.Propose(r.withAgentTimeout(ctx), promptsSnapshot, agent.ArchitectRequest{
		ObjectiveText: o.Text,
		FileExcerpts:  fileExcerpts,
		CodeSkeleton:  codeSkeleton,
	})
	if err != nil {
		return r.terminate(ctx, out, o, PhaseFailed, core.ReasonOf(err), enqueueCorrective, prediction)
	}
	out.Phase = PhasePlanned

	if architectResult.Patch.IsEmpty() {
		out.Phase = PhaseCommitted
		return r.recordSuccess(ctx, out, o, "", prediction)
	}

	// 4. Review
	reviewResult, err := r.deps.CodeReviewer.Review(r.withAgentTimeout(ctx), promptsSnapshot, agent.CodeReviewerRequest{
		ObjectiveText: o.Text,
		Patch:         architectResult.Patch,
		FileContext:   fileExcerpts,
	})
	if err != nil {
		return r.terminate(ctx, out, o, PhaseFailed, core.ReasonOf(err), enqueueCorrective, prediction)
	}
	finalPatch := architectResult.Patch
	if reviewResult.Verdict == agent.VerdictApproveWithEdits {
		finalPatch = reviewResult.Patch
	}
	out.Phase = PhaseReviewed

	// 5. Choose strategy
	strategyName, err := r.deps.Maestro.ChooseStrategy(r.withAgentTimeout(ctx), promptsSnapshot, agent.MaestroRequest{
		ObjectiveText: o.Text,
		Patch:         finalPatch,
		KnownStrategy: func(name string) bool {
			_, _, ok, resolveErr := validationSnapshot.Resolve(name)
			return ok && resolveErr == nil
		},
	})
	if err != nil {
		return r.terminate(ctx, out, o, PhaseFailed, core.ReasonOf(err), enqueueCorrective, prediction)
	}
	strategy, steps, ok, err := validationSnapshot.Resolve(strategyName)
	if err != nil {
		return Outcome{}, fmt.Errorf("cycle: resolving strategy %q: %w", strategyName, err)
	}
	if !ok {
		r.deps.Logger.Warn("cycle: strategy unknown, used default", map[string]interface{}{"requested": strategyName, "used": strategy.Name})
	}
	out.Phase = PhaseStrategyChosen

	// 6. Sandbox validate
	box, err := sandbox.Open(r.deps.SourceRoot, r.deps.Logger)
	if err != nil {
		return r.terminate(ctx, out, o, PhaseFailed, core.ReasonSandboxError, enqueueCorrective, prediction)
	}
	defer box.Close()

	sc := r.deps.StepContext
	if _, err := box.Apply(ctx, finalPatch); err != nil {
		return r.terminate(ctx, out, o, PhaseFailed, core.ReasonOf(err), enqueueCorrective, prediction)
	}
	if report, err := box.Run(ctx, steps, sc); err != nil || !report.Pass {
		reason := core.ReasonOf(err)
		if reason == core.ReasonNone && !report.Pass {
			reason = report.Reason
		}
		return r.terminate(ctx, out, o, PhaseFailed, reason, enqueueCorrective, prediction)
	}
	out.Phase = PhaseSandboxOK

	// 7. Apply to working tree. Sandbox already proved this patch applies
	// cleanly, so a failure here is a working-tree-specific surprise
	// (spec.md §4.9 step 7: "guaranteed to succeed... if it nonetheless
	// fails, record APPLY_FAILED and abort cycle without partial write").
	// Applicator buffers every file in memory before writing any of them,
	// so a mid-patch failure never leaves a partial write on disk.
	if err := r.deps.Applicator.Apply(r.deps.SourceRoot, finalPatch); err != nil {
		return r.terminate(ctx, out, o, PhaseFailed, core.ReasonApplyFailed, enqueueCorrective, prediction)
	}
	out.Phase = PhaseApplied

	// 8. Sanity check
	sanityStep, err := validationSnapshot.SanityStep(strategy)
	if err != nil {
		return Outcome{}, fmt.Errorf("cycle: resolving sanity step: %w", err)
	}
	sanitySC := sc
	sanitySC.Root = r.deps.SourceRoot
	if report, err := sanityStep.Run(ctx, sanitySC); err != nil || !report.Pass {
		if r.deps.VCS != nil {
			if head, headErr := r.deps.VCS.CurrentHead(ctx); headErr == nil {
				_ = r.deps.VCS.ResetTo(ctx, head)
			}
		}
		return r.terminate(ctx, out, o, PhaseFailed, core.ReasonSanityFailed, enqueueCorrective, prediction)
	}

	// 9. Commit
	commitID := ""
	if r.deps.VCS != nil {
		commitID, err = r.deps.VCS.Commit(ctx, commitMessage(o, strategy.Name), finalPatch.Files())
		if err != nil {
			return r.terminate(ctx, out, o, PhaseFailed, core.ReasonOf(err), enqueueCorrective, prediction)
		}
	}
	out.Phase = PhaseCommitted
	out.CommitID = commitID
	return r.recordSuccess(ctx, out, o, strategy.Name, prediction)
}

func (r *Runner) withAgentTimeout(ctx context.Context) context.Context {
	ctx, _ = context.WithTimeout(ctx, r.deps.AgentTimeout)
	return ctx
}

func commitMessage(o objective.Objective, strategyName string) string {
	return fmt.Sprintf("hephaestus: %s (%s)", o.Text, strategyName)
}

func (r *Runner) recordSuccess(ctx context.Context, out Outcome, o objective.Objective, strategyName string, prediction predictive.FailurePrediction) (Outcome, error) {
	out.FinishedAt = time.Now()
	if r.deps.Memory != nil {
		_ = r.deps.Memory.Record(ctx, memory.Record{
			Objective:    o.Text,
			Outcome:      memory.OutcomeSuccess,
			StrategyUsed: strategyName,
			Duration:     out.FinishedAt.Sub(out.StartedAt),
		})
	}
	if r.deps.Predictive != nil {
		r.deps.Predictive.UpdateOutcome(prediction.Factors, true)
	}
	telemetry.Counter(ctx, "cycle.committed", attribute.String("module", telemetry.ModuleCycle))
	return out, nil
}

// terminate records a failed cycle, invokes ErrorAnalyzer, and — if the
// analyzer asks for a new objective and the corrective chain has not hit
// max_corrective_depth — enqueues the follow-up via enqueueCorrective
// (spec.md §4.9).
func (r *Runner) terminate(ctx context.Context, out Outcome, o objective.Objective, phase Phase, reason core.FailureReason, enqueueCorrective func(objective.Objective) error, prediction predictive.FailurePrediction) (Outcome, error) {
	out.Phase = phase
	out.Reason = reason
	out.FinishedAt = time.Now()

	analysis := r.deps.ErrorAnalyzer.Analyze(ctx, r.prompts, agent.ErrorAnalyzerRequest{
		Reason:  reason,
		Context: o.Text,
	})

	if r.deps.Memory != nil {
		_ = r.deps.Memory.Record(ctx, memory.Record{
			Objective:     o.Text,
			Outcome:       memory.OutcomeFailure,
			FailureReason: reason,
			Duration:      out.FinishedAt.Sub(out.StartedAt),
		})
	}
	if r.deps.Predictive != nil {
		r.deps.Predictive.UpdateOutcome(prediction.Factors, false)
	}
	telemetry.Counter(ctx, "cycle.failed", attribute.String("reason", string(reason)), attribute.String("module", telemetry.ModuleCycle))

	if analysis.Action == agent.ActionNewObjective && enqueueCorrective != nil {
		depth := correctiveDepth(o)
		if depth < r.deps.MaxCorrectiveDepth {
			corrective := objective.Objective{
				Text:     analysis.ObjectiveText,
				Priority: o.Priority,
				Origin:   objective.OriginCorrective,
				ParentID: o.ID,
				Metadata: map[string]interface{}{metadataCorrectiveDepth: depth + 1},
			}
			if err := enqueueCorrective(corrective); err != nil {
				r.deps.Logger.Warn("cycle: failed to enqueue corrective objective", map[string]interface{}{"error": err.Error()})
			}
		} else {
			r.deps.Logger.Warn("cycle: max corrective depth reached, chain abandoned", map[string]interface{}{"objective_id": o.ID, "depth": depth})
		}
	}

	return out, nil
}

func correctiveDepth(o objective.Objective) int {
	if o.Metadata == nil {
		return 0
	}
	v, ok := o.Metadata[metadataCorrectiveDepth]
	if !ok {
		return 0
	}
	depth, ok := v.(int)
	if !ok {
		return 0
	}
	return depth
}
