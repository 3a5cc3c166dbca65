package objective

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hephaestus-ai/hephaestus/core"
	"github.com/hephaestus-ai/hephaestus/memory"
	"github.com/hephaestus-ai/hephaestus/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// fallbackObjectiveText is what ObjectiveGenerator produces when its
// completion call fails outright, per spec.md §4.2's "on LLM failure,
// fabricates a low-priority objective instead of raising".
const fallbackObjectiveText = "Analyze recent failures in memory and propose a corrective objective."

// metaAnalysisMarker is the text prefix the generator prompt asks the model
// to put on an objective that surfaces accumulated failure patterns rather
// than a single actionable directive (spec.md §4.2). Generate does not
// inspect the response for it.
const metaAnalysisMarker = "[META-ANALYSIS]"

// GeneratorInput bundles everything ObjectiveGenerator needs to compose a
// directive when the queue is empty at cycle start (spec.md §4.2).
type GeneratorInput struct {
	ProjectScanSummary string
	RoadmapSummary     string
	PerformanceSummary memory.Summary
	RecentRecords      []memory.Record
}

// ObjectiveGenerator fabricates a new Objective when ObjectiveQueue is
// empty, so the Worker task never idles (spec.md §4.2).
type ObjectiveGenerator struct {
	Completion core.CompletionService
	Memory     memory.Memory
	Logger     core.Logger
}

type generatorResponse struct {
	ObjectiveText string `json:"objective_text"`
	Priority      int    `json:"priority"`
}

func (g *ObjectiveGenerator) logger() core.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return core.NoOpLogger{}
}

// Generate produces one Objective with Origin=OriginGenerator. It never
// returns an error: a completion failure or unparseable response degrades
// to a low-priority "analyze recent failures" objective instead, since an
// empty queue must always yield forward progress.
func (g *ObjectiveGenerator) Generate(ctx context.Context, input GeneratorInput) Objective {
	resp, err := g.Completion.Complete(ctx, core.CompletionRequest{
		SystemPrompt: generatorSystemPrompt,
		Prompt:       buildGeneratorPrompt(input),
		Temperature:  0.4,
		MaxTokens:    500,
	})
	if err != nil {
		g.logger().Warn("objective generator completion failed", map[string]interface{}{"error": err.Error()})
		telemetry.Counter(ctx, "objective.generator.fallback", attribute.String("module", telemetry.ModuleObjective))
		return g.fallback()
	}

	parsed, err := parseGeneratorResponse(resp.Content)
	if err != nil {
		g.logger().Warn("objective generator response unparseable", map[string]interface{}{"error": err.Error()})
		telemetry.Counter(ctx, "objective.generator.fallback", attribute.String("module", telemetry.ModuleObjective))
		return g.fallback()
	}

	telemetry.Counter(ctx, "objective.generator.generated", attribute.String("module", telemetry.ModuleObjective))
	return Objective{
		Text:     parsed.ObjectiveText,
		Priority: parsed.Priority,
		Origin:   OriginGenerator,
	}
}

func (g *ObjectiveGenerator) fallback() Objective {
	return Objective{
		Text:     fallbackObjectiveText,
		Priority: -1,
		Origin:   OriginGenerator,
	}
}

func parseGeneratorResponse(content string) (generatorResponse, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	if start == -1 {
		return generatorResponse{}, fmt.Errorf("objective: generator response has no JSON object")
	}
	var parsed generatorResponse
	if err := json.Unmarshal([]byte(trimmed[start:]), &parsed); err != nil {
		return generatorResponse{}, fmt.Errorf("objective: generator response: %w", err)
	}
	if strings.TrimSpace(parsed.ObjectiveText) == "" {
		return generatorResponse{}, fmt.Errorf("objective: generator response missing objective_text")
	}
	return parsed, nil
}

func buildGeneratorPrompt(input GeneratorInput) string {
	var clusters strings.Builder
	for clusterID, count := range input.PerformanceSummary.PerClusterFailureCount {
		fmt.Fprintf(&clusters, "- cluster %s: %d failures\n", clusterID, count)
	}

	var recent strings.Builder
	for _, r := range input.RecentRecords {
		fmt.Fprintf(&recent, "- [%s] %s (%s)\n", r.Outcome, r.Objective, r.FailureReason)
	}

	return fmt.Sprintf(`PROJECT SCAN:
%s

ROADMAP:
%s

PERSISTENT FAILURE CLUSTERS:
%s

RECENT MEMORY (most recent first):
%s

If the failure history above reveals a systemic pattern rather than a single fixable bug, prefix objective_text with %q and describe the pattern instead of one directive.

Respond with a single JSON object: {"objective_text":"...", "priority": <integer, higher is more urgent>}.`,
		input.ProjectScanSummary, input.RoadmapSummary, clusters.String(), recent.String(), metaAnalysisMarker)
}

const generatorSystemPrompt = `You are the objective generator for an autonomous software evolution system. When its work queue runs dry, you choose the next directive by weighing the project's roadmap against its recent failure history. Favor objectives that either advance a stated roadmap priority or address a recurring failure cluster. Always respond with the requested JSON object and nothing else.`
