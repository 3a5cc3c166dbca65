package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hephaestus-ai/hephaestus/core"
	"github.com/hephaestus-ai/hephaestus/patch"
	"github.com/hephaestus-ai/hephaestus/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Maestro picks the validation strategy a cycle runs against its candidate
// Patch (spec.md §4.4). An unknown strategy name is coerced to
// DefaultStrategy and logged rather than failing the cycle.
type Maestro struct {
	Completion      core.CompletionService
	Logger          core.Logger
	DefaultStrategy string
}

// MaestroRequest is the Maestro's input.
type MaestroRequest struct {
	ObjectiveText  string
	Patch          patch.Patch
	FailureHistory []string
	KnownStrategy  func(name string) bool
}

type maestroResponse struct {
	Strategy string `json:"strategy"`
}

func (m *Maestro) logger() core.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return core.NoOpLogger{}
}

func (m *Maestro) defaultStrategy() string {
	if m.DefaultStrategy == "" {
		return "SYNTAX_ONLY"
	}
	return m.DefaultStrategy
}

// ChooseStrategy invokes Maestro and returns a strategy name guaranteed to
// satisfy req.KnownStrategy (falling back to DefaultStrategy otherwise).
func (m *Maestro) ChooseStrategy(ctx context.Context, sn Snapshot, req MaestroRequest) (string, error) {
	systemPrompt := sn.Prompt(NameMaestro, defaultMaestroPrompt)
	prompt := buildMaestroPrompt(req)

	resp, err := m.Completion.Complete(ctx, core.CompletionRequest{
		SystemPrompt: systemPrompt,
		Prompt:       prompt,
		Temperature:  0.0,
		MaxTokens:    200,
	})
	if err != nil {
		m.logger().Warn("maestro completion failed", map[string]interface{}{"error": err.Error()})
		return m.defaultStrategy(), nil
	}

	jsonStr, err := extractJSON(resp.Content)
	if err != nil {
		m.logger().Warn("maestro response unparseable", map[string]interface{}{"error": err.Error()})
		return m.defaultStrategy(), nil
	}

	var parsed maestroResponse
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		m.logger().Warn("maestro response invalid JSON", map[string]interface{}{"error": err.Error()})
		return m.defaultStrategy(), nil
	}

	strategy := strings.TrimSpace(parsed.Strategy)
	known := req.KnownStrategy == nil || req.KnownStrategy(strategy)
	if strategy == "" || !known {
		m.logger().Warn("maestro chose unknown strategy, falling back", map[string]interface{}{
			"chosen": strategy, "fallback": m.defaultStrategy(),
		})
		telemetry.Counter(ctx, "agent.maestro.unknown_strategy",
			attribute.String("chosen", strategy), attribute.String("module", telemetry.ModuleAgent))
		return m.defaultStrategy(), nil
	}

	return strategy, nil
}

func buildMaestroPrompt(req MaestroRequest) string {
	patchJSON, _ := json.MarshalIndent(req.Patch, "", "  ")
	return fmt.Sprintf(`OBJECTIVE:
%s

PATCH:
%s

FAILURE HISTORY FOR SIMILAR OBJECTIVES:
%s

Respond with JSON only: {"strategy":"STRATEGY_NAME"}.`,
		req.ObjectiveText, string(patchJSON), strings.Join(req.FailureHistory, "\n"))
}
