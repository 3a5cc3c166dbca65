// Package core holds the interfaces and small value types shared across the
// evolution core: logging, AI completion, and version control. Concrete
// subsystems reach the external collaborators named in spec.md §1 (LLM
// clients, git) only through these interfaces, so those can be substituted
// without touching the evolution core. The subsystems themselves (objective,
// patch, validation, sandbox, agent, memory, cycle, evolution, coordinator)
// do import one another's concrete types where they compose.
package core

import (
	"context"
	"time"
)

// Logger is the minimal structured logging interface used throughout the
// evolution core.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a subsystem tag its log lines with a component
// name (e.g. "evolution/cycle", "evolution/sandbox") without threading the
// name through every call site.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. Used as the zero-value default so
// components never need a nil check before logging.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}

// WithComponent returns the same no-op logger.
func (n NoOpLogger) WithComponent(string) Logger { return n }

// CompletionService is the contracted capability for LLM providers (spec.md
// §6). Provider HTTP clients are out of scope for the evolution core; only
// this interface is consumed.
type CompletionService interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest carries the parameters for one completion call.
type CompletionRequest struct {
	Model        string
	Prompt       string
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
	Deadline     time.Duration
}

// CompletionResponse is the provider-agnostic result of a completion call.
type CompletionResponse struct {
	Content string
	Model   string
	Usage   TokenUsage
}

// TokenUsage mirrors the accounting every provider response carries.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// VersionControl is the contracted capability for git operations (spec.md
// §6). The evolution core never shells out to git directly outside this
// interface's implementation.
type VersionControl interface {
	InitIfNeeded(ctx context.Context) error
	Commit(ctx context.Context, message string, files []string) (commitID string, err error)
	ResetTo(ctx context.Context, commitID string) error
	CurrentHead(ctx context.Context) (string, error)
}
