package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hephaestus-ai/hephaestus/agent"
	"github.com/hephaestus-ai/hephaestus/core"
	"github.com/hephaestus-ai/hephaestus/cycle"
	"github.com/hephaestus-ai/hephaestus/evolution"
	"github.com/hephaestus-ai/hephaestus/memory"
	"github.com/hephaestus-ai/hephaestus/objective"
	"github.com/hephaestus-ai/hephaestus/predictive"
	"github.com/hephaestus-ai/hephaestus/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedCompletion struct {
	content string
}

func (s *scriptedCompletion) Complete(ctx context.Context, req core.CompletionRequest) (*core.CompletionResponse, error) {
	return &core.CompletionResponse{Content: s.content}, nil
}

type fakeVCS struct {
	head    string
	commits int
}

func (f *fakeVCS) InitIfNeeded(ctx context.Context) error { return nil }
func (f *fakeVCS) Commit(ctx context.Context, message string, files []string) (string, error) {
	f.commits++
	f.head = "commit-" + message
	return f.head, nil
}
func (f *fakeVCS) ResetTo(ctx context.Context, commitID string) error { return nil }
func (f *fakeVCS) CurrentHead(ctx context.Context) (string, error)   { return f.head, nil }

func newTestCoordinator(t *testing.T) (*Coordinator, *objective.ObjectiveQueue) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))

	mem, err := memory.NewFileStore(t.TempDir())
	require.NoError(t, err)

	queue := objective.NewObjectiveQueue(10)
	prompts := agent.NewRegistry()
	vcs := &fakeVCS{head: "initial"}

	patchJSON := `{"operations":[{"kind":"CREATE_FILE","file":"helpers.go","content":"package main\n\nfunc foo() int { return 1 }\n"}],"rationale":"add helper"}`

	runner := cycle.NewRunner(cycle.Dependencies{
		Prompts:       prompts,
		Architect:     &agent.Architect{Completion: &scriptedCompletion{content: patchJSON}},
		CodeReviewer:  &agent.CodeReviewer{Completion: &scriptedCompletion{content: `{"verdict":"approve"}`}},
		Maestro:       &agent.Maestro{Completion: &scriptedCompletion{content: `{"strategy":"SYNTAX_ONLY"}`}},
		ErrorAnalyzer: &agent.ErrorAnalyzer{Completion: &scriptedCompletion{content: `{"action":"abandon","summary":"n/a"}`}},
		Validation:    validation.NewRegistry(nil),
		Memory:        mem,
		Predictive:    predictive.NewEngine(mem, nil, nil, 0.9),
		VCS:           vcs,
		SourceRoot:    root,
	})

	engine := &evolution.Engine{
		Memory:              mem,
		Prompts:             prompts,
		Validation:          validation.NewRegistry(nil),
		Params:              predictive.NewParameterStore(predictive.DefaultWeights()),
		Completion:          &scriptedCompletion{content: "revised prompt"},
		AcceptanceThreshold: 0.99,
	}

	c := New(Dependencies{
		Queue:             queue,
		Generator:         &objective.ObjectiveGenerator{Completion: &scriptedCompletion{content: `{"objective_text":"analyze failures","priority":0}`}, Memory: mem},
		Memory:            mem,
		Prompts:           prompts,
		Runner:            runner,
		Evolution:         engine,
		EvolutionPolicy:   core.EvolutionOff,
		DequeueTimeout:    50 * time.Millisecond,
		EvolutionInterval: 10 * time.Millisecond,
	})
	return c, queue
}

func TestSubmitEnqueuesAndReturnsID(t *testing.T) {
	c, _ := newTestCoordinator(t)
	id, err := c.Submit("add a helper", 1, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	st, ok := c.Status(id)
	require.True(t, ok)
	assert.Equal(t, cycle.PhaseIdle, st.Phase)
}

func TestQueueSnapshotReturnsPendingObjectives(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, err := c.Submit("add a helper", 1, nil)
	require.NoError(t, err)

	snapshot := c.QueueSnapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "add a helper", snapshot[0].Text)
}

func TestStartRunsWorkerAndCommitsSubmittedObjective(t *testing.T) {
	c, _ := newTestCoordinator(t)
	id, err := c.Submit("add a helper", 1, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		st, ok := c.Status(id)
		return ok && (st.Phase == cycle.PhaseCommitted || st.Phase == cycle.PhaseFailed)
	}, 2*time.Second, 10*time.Millisecond)

	st, _ := c.Status(id)
	assert.Equal(t, cycle.PhaseCommitted, st.Phase)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop after context cancellation")
	}
}

func TestStopWaitsForWorkerAndEvolutionToHalt(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.deps.EvolutionPolicy = core.EvolutionOn

	ctx := context.Background()
	go c.Start(ctx)

	time.Sleep(30 * time.Millisecond)
	err := c.Stop(2 * time.Second)
	assert.NoError(t, err)
}

func TestNextGeneratedObjectiveUsedWhenQueueEmpty(t *testing.T) {
	c, _ := newTestCoordinator(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		c.statusMu.Lock()
		n := len(c.statuses)
		c.statusMu.Unlock()
		return n > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
