package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoOpLoggerSatisfiesComponentAwareLogger(t *testing.T) {
	var l ComponentAwareLogger = NoOpLogger{}
	assert.NotPanics(t, func() {
		l.Info("x", nil)
		l.Warn("x", nil)
		l.Error("x", nil)
		l.Debug("x", nil)
	})
}

func TestCompletionRequestZeroValueUsable(t *testing.T) {
	req := CompletionRequest{Model: "gpt-4", Prompt: "hello"}
	assert.Equal(t, "gpt-4", req.Model)
	assert.Equal(t, float32(0), req.Temperature)
}
