// Command hephaestus is the CLI entry point for the evolution core
// (spec.md §6): run starts the Worker/Evolution tasks, submit pushes one
// objective onto the queue of a running instance's persisted state, and
// status reports on a previously submitted objective.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hephaestus-ai/hephaestus/agent"
	"github.com/hephaestus-ai/hephaestus/completion"
	"github.com/hephaestus-ai/hephaestus/coordinator"
	"github.com/hephaestus-ai/hephaestus/core"
	"github.com/hephaestus-ai/hephaestus/cycle"
	"github.com/hephaestus-ai/hephaestus/evolution"
	"github.com/hephaestus-ai/hephaestus/memory"
	"github.com/hephaestus-ai/hephaestus/objective"
	"github.com/hephaestus-ai/hephaestus/predictive"
	"github.com/hephaestus-ai/hephaestus/validation"
	"github.com/hephaestus-ai/hephaestus/vcs"
)

const (
	exitOK          = 0
	exitBadUsage    = 2
	exitUnreachable = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitBadUsage
	}

	cfg, err := core.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hephaestus: invalid configuration: %v\n", err)
		return exitBadUsage
	}

	switch args[0] {
	case "run":
		return runServe(cfg)
	case "submit":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "hephaestus: submit requires an objective text argument")
			return exitBadUsage
		}
		return runSubmit(cfg, args[1])
	case "status":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "hephaestus: status requires an objective id argument")
			return exitBadUsage
		}
		return runStatus(cfg, args[1])
	case "-h", "--help", "help":
		usage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "hephaestus: unknown command %q\n", args[0])
		usage()
		return exitBadUsage
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: hephaestus <command> [args]

commands:
  run                start the Worker and Evolution tasks and block
  submit <text>       enqueue one objective and print its id
  status <id>         print the phase/outcome of a previously submitted objective`)
}

// buildCoordinator assembles every long-lived component Coordinator owns
// from cfg, following the same wiring order as cycle's bottom-up
// dependency list (memory, registries, predictive, agents, VCS, runner,
// evolution, coordinator).
func buildCoordinator(cfg *core.Config) (*coordinator.Coordinator, error) {
	logger := cfg.Logger()

	mem, err := memory.NewFileStore(cfg.Home)
	if err != nil {
		return nil, fmt.Errorf("hephaestus: opening memory store: %w", err)
	}

	prompts := agent.NewRegistry()
	validationRegistry := validation.NewRegistry(logger)
	params := predictive.NewParameterStore(predictive.DefaultWeights())
	predictiveEngine := predictive.NewEngine(mem, params, logger, cfg.HighRiskThreshold)

	completionClient, err := completion.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMProvider, logger)
	if err != nil {
		return nil, fmt.Errorf("hephaestus: building completion client: %w", err)
	}

	architect := &agent.Architect{Completion: completionClient, Logger: logger}
	codeReviewer := &agent.CodeReviewer{Completion: completionClient, Logger: logger}
	maestro := &agent.Maestro{Completion: completionClient, Logger: logger, DefaultStrategy: validation.DefaultStrategyName}
	errorAnalyzer := &agent.ErrorAnalyzer{Completion: completionClient, Logger: logger}

	gitVCS := &vcs.Git{Root: cfg.Home, Logger: logger}
	if err := gitVCS.InitIfNeeded(context.Background()); err != nil {
		return nil, fmt.Errorf("hephaestus: initializing version control: %w", err)
	}

	runner := cycle.NewRunner(cycle.Dependencies{
		Prompts:            prompts,
		Architect:          architect,
		CodeReviewer:       codeReviewer,
		Maestro:            maestro,
		ErrorAnalyzer:      errorAnalyzer,
		Validation:         validationRegistry,
		Memory:             mem,
		Predictive:         predictiveEngine,
		VCS:                gitVCS,
		Logger:             logger,
		SourceRoot:         cfg.Home,
		MaxCorrectiveDepth: cfg.MaxCorrectiveDepth,
		AgentTimeout:       cfg.CycleTimeout,
	})

	engine := &evolution.Engine{
		Memory:     mem,
		Prompts:    prompts,
		Validation: validationRegistry,
		Params:     params,
		Completion: completionClient,
		Logger:     logger,
	}

	generator := &objective.ObjectiveGenerator{Completion: completionClient, Memory: mem, Logger: logger}
	queue := objective.NewObjectiveQueue(cfg.QueueCapacity)

	return coordinator.New(coordinator.Dependencies{
		Queue:           queue,
		Generator:       generator,
		Memory:          mem,
		Prompts:         prompts,
		Runner:          runner,
		Evolution:       engine,
		EvolutionPolicy: cfg.Evolution,
		Logger:          logger,
	}), nil
}

func runServe(cfg *core.Config) int {
	c, err := buildCoordinator(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUnreachable
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	<-ctx.Done()
	if err := c.Stop(30 * time.Second); err != nil {
		fmt.Fprintln(os.Stderr, "hephaestus:", err)
		return exitUnreachable
	}
	<-done
	return exitOK
}

// runSubmit and runStatus operate against the persisted Memory store
// directly rather than a running process's in-memory queue: spec.md's
// Non-goal of distributed/multi-process operation means there is no IPC
// channel to a separately-running `run` process, so each CLI invocation
// opens the same on-disk state a running instance would.
func runSubmit(cfg *core.Config, text string) int {
	c, err := buildCoordinator(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUnreachable
	}

	id, err := c.Submit(text, 0, map[string]interface{}{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "hephaestus:", err)
		return exitUnreachable
	}

	fmt.Println(id)
	return exitOK
}

func runStatus(cfg *core.Config, objectiveID string) int {
	c, err := buildCoordinator(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUnreachable
	}

	st, ok := c.Status(objectiveID)
	if !ok {
		fmt.Fprintf(os.Stderr, "hephaestus: no status recorded for objective %q\n", objectiveID)
		return exitUnreachable
	}

	fmt.Printf("phase=%s started_at=%s", st.Phase, st.StartedAt.Format(time.RFC3339))
	if !st.FinishedAt.IsZero() {
		fmt.Printf(" finished_at=%s", st.FinishedAt.Format(time.RFC3339))
	}
	if st.CommitID != "" {
		fmt.Printf(" commit=%s", st.CommitID)
	}
	if st.Reason != "" {
		fmt.Printf(" reason=%s", st.Reason)
	}
	fmt.Println()
	return exitOK
}
