package objective

import (
	"context"
	"errors"
	"testing"

	"github.com/hephaestus-ai/hephaestus/core"
	"github.com/hephaestus-ai/hephaestus/memory"
	"github.com/stretchr/testify/assert"
)

type scriptedCompletion struct {
	content string
	err     error
}

func (s *scriptedCompletion) Complete(ctx context.Context, req core.CompletionRequest) (*core.CompletionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &core.CompletionResponse{Content: s.content}, nil
}

func TestGenerateReturnsGeneratorOriginObjective(t *testing.T) {
	g := &ObjectiveGenerator{Completion: &scriptedCompletion{content: `{"objective_text":"add retry to the fetcher","priority":3}`}}
	o := g.Generate(context.Background(), GeneratorInput{})

	assert.Equal(t, "add retry to the fetcher", o.Text)
	assert.Equal(t, 3, o.Priority)
	assert.Equal(t, OriginGenerator, o.Origin)
}

func TestGenerateFallsBackOnCompletionError(t *testing.T) {
	g := &ObjectiveGenerator{Completion: &scriptedCompletion{err: errors.New("provider down")}}
	o := g.Generate(context.Background(), GeneratorInput{})

	assert.Equal(t, fallbackObjectiveText, o.Text)
	assert.Equal(t, OriginGenerator, o.Origin)
	assert.Less(t, o.Priority, 0)
}

func TestGenerateFallsBackOnUnparseableResponse(t *testing.T) {
	g := &ObjectiveGenerator{Completion: &scriptedCompletion{content: "not json at all"}}
	o := g.Generate(context.Background(), GeneratorInput{})

	assert.Equal(t, fallbackObjectiveText, o.Text)
}

func TestGenerateFallsBackWhenObjectiveTextMissing(t *testing.T) {
	g := &ObjectiveGenerator{Completion: &scriptedCompletion{content: `{"priority":2}`}}
	o := g.Generate(context.Background(), GeneratorInput{})

	assert.Equal(t, fallbackObjectiveText, o.Text)
}

func TestBuildGeneratorPromptIncludesMetaAnalysisMarkerAndClusters(t *testing.T) {
	input := GeneratorInput{
		ProjectScanSummary: "a Go service",
		RoadmapSummary:     "ship v2",
		PerformanceSummary: memory.Summary{
			PerClusterFailureCount: map[string]int{"abc123": 4},
		},
		RecentRecords: []memory.Record{
			{Objective: "fix parser", Outcome: memory.OutcomeFailure, FailureReason: core.ReasonTestFailed},
		},
	}
	prompt := buildGeneratorPrompt(input)

	assert.Contains(t, prompt, metaAnalysisMarker)
	assert.Contains(t, prompt, "abc123")
	assert.Contains(t, prompt, "fix parser")
}
