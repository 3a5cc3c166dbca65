package agent

import (
	"context"
	"fmt"

	"github.com/hephaestus-ai/hephaestus/core"
)

// scriptedCompletion returns a fixed sequence of responses (or errors), one
// per Complete call, repeating the last entry once exhausted. Grounded on
// the teacher's mocks_test.go fake-client style (a hand-rolled stub is
// sufficient here: the completion contract is a single method).
type scriptedCompletion struct {
	responses []string
	err       error
	calls     int
}

func (s *scriptedCompletion) Complete(_ context.Context, _ core.CompletionRequest) (*core.CompletionResponse, error) {
	defer func() { s.calls++ }()
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("scriptedCompletion: no responses configured")
	}
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return &core.CompletionResponse{Content: s.responses[idx]}, nil
}
