package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRegistrySeedsDefaultPrompts(t *testing.T) {
	r := NewRegistry()
	snap := r.Snapshot()

	assert.Equal(t, defaultArchitectPrompt, snap.Prompt(NameArchitect, "fallback"))
	assert.Equal(t, defaultMaestroPrompt, snap.Prompt(NameMaestro, "fallback"))
}

func TestPromptFallsBackForUnknownName(t *testing.T) {
	r := NewRegistry()
	snap := r.Snapshot()

	assert.Equal(t, "fallback", snap.Prompt("does_not_exist", "fallback"))
}

func TestPublishPromptIsInvisibleToExistingSnapshot(t *testing.T) {
	r := NewRegistry()
	oldSnap := r.Snapshot()

	r.PublishPrompt(PromptSet{Name: NameArchitect, SystemPrompt: "mutated prompt"})

	assert.Equal(t, defaultArchitectPrompt, oldSnap.Prompt(NameArchitect, "fallback"),
		"a snapshot taken before PublishPrompt must not observe the new prompt")

	newSnap := r.Snapshot()
	assert.Equal(t, "mutated prompt", newSnap.Prompt(NameArchitect, "fallback"))
}
