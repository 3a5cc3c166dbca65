package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hephaestus-ai/hephaestus/core"
	"github.com/hephaestus-ai/hephaestus/patch"
	"github.com/hephaestus-ai/hephaestus/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Architect turns an objective plus code context into a candidate Patch
// (spec.md §4.4). It retries its completion call up to MaxRetries times
// before failing with PLANNING_FAILED, since a single malformed LLM
// response is expected and recoverable, not terminal.
type Architect struct {
	Completion core.CompletionService
	Logger     core.Logger
	MaxRetries int
}

// ArchitectRequest is the Architect's input: the objective under work plus
// the code context the caller has already gathered.
type ArchitectRequest struct {
	ObjectiveText string
	FileExcerpts  map[string]string
	CodeSkeleton  string
}

// ArchitectResult is the Architect's output: a structured Patch plus the
// rationale text the model gave for it.
type ArchitectResult struct {
	Patch     patch.Patch
	Rationale string
}

type architectResponse struct {
	Operations []patch.Operation `json:"operations"`
	Rationale  string            `json:"rationale"`
}

func (a *Architect) logger() core.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return core.NoOpLogger{}
}

func (a *Architect) maxRetries() int {
	if a.MaxRetries <= 0 {
		return 3
	}
	return a.MaxRetries
}

// Propose invokes the Architect. sn supplies the current system prompt, so
// callers pass a Snapshot captured once at cycle start (spec.md §4.12).
func (a *Architect) Propose(ctx context.Context, sn Snapshot, req ArchitectRequest) (ArchitectResult, error) {
	systemPrompt := sn.Prompt(NameArchitect, defaultArchitectPrompt)
	prompt := buildArchitectPrompt(req)

	var lastErr error
	for attempt := 0; attempt < a.maxRetries(); attempt++ {
		telemetry.AddSpanEvent(ctx, "agent.architect.attempt", attribute.Int("attempt", attempt))

		resp, err := a.Completion.Complete(ctx, core.CompletionRequest{
			SystemPrompt: systemPrompt,
			Prompt:       prompt,
			Temperature:  0.2,
			MaxTokens:    2000,
		})
		if err != nil {
			lastErr = err
			a.logger().Warn("architect completion failed", map[string]interface{}{"attempt": attempt, "error": err.Error()})
			continue
		}

		result, err := parseArchitectResponse(resp.Content)
		if err != nil {
			lastErr = err
			a.logger().Warn("architect response unparseable", map[string]interface{}{"attempt": attempt, "error": err.Error()})
			continue
		}

		if err := result.Patch.Validate(); err != nil && !result.Patch.IsEmpty() {
			lastErr = err
			a.logger().Warn("architect patch invalid", map[string]interface{}{"attempt": attempt, "error": err.Error()})
			continue
		}

		telemetry.Counter(ctx, "agent.architect.proposed", attribute.String("module", telemetry.ModuleAgent))
		return result, nil
	}

	return ArchitectResult{}, core.NewEvolutionError("agent.architect.propose", core.ReasonPlanningFailed, lastErr)
}

func parseArchitectResponse(content string) (ArchitectResult, error) {
	jsonStr, err := extractJSON(content)
	if err != nil {
		return ArchitectResult{}, err
	}
	var parsed architectResponse
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return ArchitectResult{}, fmt.Errorf("agent: architect response: %w", err)
	}
	return ArchitectResult{
		Patch:     patch.Patch{Operations: parsed.Operations},
		Rationale: parsed.Rationale,
	}, nil
}

func buildArchitectPrompt(req ArchitectRequest) string {
	excerpts := ""
	for file, content := range req.FileExcerpts {
		excerpts += fmt.Sprintf("\n--- %s ---\n%s\n", file, content)
	}
	return fmt.Sprintf(`OBJECTIVE:
%s

CODE SKELETON:
%s

RELEVANT FILE EXCERPTS:
%s

Respond with a single JSON object: {"operations":[...], "rationale":"..."}. If no change is warranted, respond with {"operations":[],"rationale":"..."}.`,
		req.ObjectiveText, req.CodeSkeleton, excerpts)
}
