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

// ReviewVerdict is the CodeReviewer's decision on a proposed Patch
// (spec.md §4.4).
type ReviewVerdict string

const (
	VerdictApprove          ReviewVerdict = "approve"
	VerdictApproveWithEdits ReviewVerdict = "approve_with_edits"
	VerdictReject           ReviewVerdict = "reject"
)

// CodeReviewer vets a Patch the Architect produced before it reaches
// validation. A reject short-circuits the cycle as REVIEW_REJECTED.
type CodeReviewer struct {
	Completion core.CompletionService
	Logger     core.Logger
}

// CodeReviewerRequest is the CodeReviewer's input.
type CodeReviewerRequest struct {
	ObjectiveText string
	Patch         patch.Patch
	FileContext   map[string]string
}

// CodeReviewerResult is the CodeReviewer's output: a verdict, optionally a
// substitute patch (when ApproveWithEdits), and the stated reason.
type CodeReviewerResult struct {
	Verdict ReviewVerdict
	Patch   patch.Patch
	Reason  string
}

type codeReviewerResponse struct {
	Verdict    string            `json:"verdict"`
	Operations []patch.Operation `json:"operations"`
	Reason     string            `json:"reason"`
}

func (r *CodeReviewer) logger() core.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return core.NoOpLogger{}
}

// Review invokes the CodeReviewer once; spec.md assigns no retry budget to
// this step, so a malformed response is reported as REVIEW_REJECTED rather
// than retried silently.
func (r *CodeReviewer) Review(ctx context.Context, sn Snapshot, req CodeReviewerRequest) (CodeReviewerResult, error) {
	systemPrompt := sn.Prompt(NameCodeReviewer, defaultCodeReviewerPrompt)
	prompt := buildCodeReviewerPrompt(req)

	resp, err := r.Completion.Complete(ctx, core.CompletionRequest{
		SystemPrompt: systemPrompt,
		Prompt:       prompt,
		Temperature:  0.1,
		MaxTokens:    2000,
	})
	if err != nil {
		return CodeReviewerResult{}, core.NewEvolutionError("agent.code_reviewer.review", core.ReasonReviewRejected, err)
	}

	result, err := parseCodeReviewerResponse(resp.Content, req.Patch)
	if err != nil {
		r.logger().Warn("code reviewer response unparseable", map[string]interface{}{"error": err.Error()})
		return CodeReviewerResult{}, core.NewEvolutionError("agent.code_reviewer.review", core.ReasonReviewRejected, err)
	}

	telemetry.Counter(ctx, "agent.code_reviewer.verdict",
		attribute.String("verdict", string(result.Verdict)), attribute.String("module", telemetry.ModuleAgent))

	if result.Verdict == VerdictReject {
		return result, core.NewEvolutionError("agent.code_reviewer.review", core.ReasonReviewRejected, fmt.Errorf("%s", result.Reason))
	}
	return result, nil
}

func parseCodeReviewerResponse(content string, original patch.Patch) (CodeReviewerResult, error) {
	jsonStr, err := extractJSON(content)
	if err != nil {
		return CodeReviewerResult{}, err
	}
	var parsed codeReviewerResponse
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return CodeReviewerResult{}, fmt.Errorf("agent: code reviewer response: %w", err)
	}

	verdict := ReviewVerdict(parsed.Verdict)
	switch verdict {
	case VerdictApprove:
		return CodeReviewerResult{Verdict: verdict, Patch: original, Reason: parsed.Reason}, nil
	case VerdictApproveWithEdits:
		return CodeReviewerResult{Verdict: verdict, Patch: patch.Patch{Operations: parsed.Operations}, Reason: parsed.Reason}, nil
	case VerdictReject:
		return CodeReviewerResult{Verdict: verdict, Reason: parsed.Reason}, nil
	default:
		return CodeReviewerResult{}, fmt.Errorf("agent: unknown review verdict %q", parsed.Verdict)
	}
}

func buildCodeReviewerPrompt(req CodeReviewerRequest) string {
	patchJSON, _ := json.MarshalIndent(req.Patch, "", "  ")
	excerpts := ""
	for file, content := range req.FileContext {
		excerpts += fmt.Sprintf("\n--- %s ---\n%s\n", file, content)
	}
	return fmt.Sprintf(`OBJECTIVE:
%s

PROPOSED PATCH:
%s

AFFECTED FILE CONTEXT:
%s

Respond with JSON only: {"verdict":"approve|approve_with_edits|reject","operations":[...],"reason":"..."}. Omit "operations" unless verdict is approve_with_edits.`,
		req.ObjectiveText, string(patchJSON), excerpts)
}
