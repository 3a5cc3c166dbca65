package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hephaestus-ai/hephaestus/core"
	"github.com/hephaestus-ai/hephaestus/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Action is the ErrorAnalyzer's decision about how a cycle failure should
// be handled next (spec.md §4.4).
type Action string

const (
	ActionRegeneratePatch Action = "regenerate_patch"
	ActionNewObjective    Action = "new_objective"
	ActionMetaAnalysis    Action = "meta_analysis"
	ActionAbandon         Action = "abandon"
)

// ErrorAnalyzer decides how the CycleRunner should respond to a failure:
// retry the same objective, enqueue a corrective objective, escalate to a
// meta-analysis objective, or abandon the chain.
type ErrorAnalyzer struct {
	Completion core.CompletionService
	Logger     core.Logger
}

// ErrorAnalyzerRequest is the ErrorAnalyzer's input.
type ErrorAnalyzerRequest struct {
	Reason      core.FailureReason
	Context     string
	RecentSteps []string
}

// ErrorAnalyzerResult is the ErrorAnalyzer's output, archived in Memory
// regardless of the action chosen.
type ErrorAnalyzerResult struct {
	Action        Action
	ObjectiveText string
	Summary       string
}

type errorAnalyzerResponse struct {
	Action        string `json:"action"`
	ObjectiveText string `json:"objective_text"`
	Summary       string `json:"summary"`
}

func (e *ErrorAnalyzer) logger() core.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return core.NoOpLogger{}
}

// Analyze invokes the ErrorAnalyzer. A completion or parse failure here
// degrades to ActionAbandon rather than propagating an error, since the
// analyzer's own job is to decide how to recover from a failure — it
// cannot itself fail the cycle a second time.
func (e *ErrorAnalyzer) Analyze(ctx context.Context, sn Snapshot, req ErrorAnalyzerRequest) ErrorAnalyzerResult {
	systemPrompt := sn.Prompt(NameErrorAnalyzer, defaultErrorAnalyzerPrompt)
	prompt := buildErrorAnalyzerPrompt(req)

	resp, err := e.Completion.Complete(ctx, core.CompletionRequest{
		SystemPrompt: systemPrompt,
		Prompt:       prompt,
		Temperature:  0.2,
		MaxTokens:    800,
	})
	if err != nil {
		e.logger().Warn("error analyzer completion failed", map[string]interface{}{"error": err.Error()})
		return ErrorAnalyzerResult{Action: ActionAbandon, Summary: "error analyzer unavailable: " + err.Error()}
	}

	result, err := parseErrorAnalyzerResponse(resp.Content)
	if err != nil {
		e.logger().Warn("error analyzer response unparseable", map[string]interface{}{"error": err.Error()})
		return ErrorAnalyzerResult{Action: ActionAbandon, Summary: "unparseable error analyzer response: " + err.Error()}
	}

	telemetry.Counter(ctx, "agent.error_analyzer.action",
		attribute.String("action", string(result.Action)), attribute.String("failure_reason", string(req.Reason)),
		attribute.String("module", telemetry.ModuleAgent))

	return result
}

func parseErrorAnalyzerResponse(content string) (ErrorAnalyzerResult, error) {
	jsonStr, err := extractJSON(content)
	if err != nil {
		return ErrorAnalyzerResult{}, err
	}
	var parsed errorAnalyzerResponse
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return ErrorAnalyzerResult{}, fmt.Errorf("agent: error analyzer response: %w", err)
	}

	action := Action(parsed.Action)
	switch action {
	case ActionRegeneratePatch, ActionNewObjective, ActionMetaAnalysis, ActionAbandon:
	default:
		return ErrorAnalyzerResult{}, fmt.Errorf("agent: unknown error analyzer action %q", parsed.Action)
	}

	return ErrorAnalyzerResult{Action: action, ObjectiveText: parsed.ObjectiveText, Summary: parsed.Summary}, nil
}

func buildErrorAnalyzerPrompt(req ErrorAnalyzerRequest) string {
	return fmt.Sprintf(`FAILURE REASON: %s

CONTEXT:
%s

RECENT STEPS:
%s

Respond with JSON only: {"action":"regenerate_patch|new_objective|meta_analysis|abandon","objective_text":"...","summary":"..."}. Omit "objective_text" unless action is new_objective or meta_analysis.`,
		req.Reason, req.Context, strings.Join(req.RecentSteps, "\n"))
}
