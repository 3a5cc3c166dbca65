// Package resilience provides the backoff and circuit-breaking primitives
// used to wrap calls to external collaborators (CompletionService providers,
// VersionControl, sandbox step execution) so a flaky dependency degrades the
// evolution core gracefully instead of hanging a cycle indefinitely.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hephaestus-ai/hephaestus/core"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrorClassifier decides whether an error counts toward the failure rate.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier counts everything except context cancellation,
// which reflects the caller giving up rather than the dependency failing.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, core.ErrContextCanceled) {
		return false
	}
	return true
}

// Config configures a CircuitBreaker.
type Config struct {
	Name             string
	ErrorThreshold   float64       // error rate in [0,1] that trips the breaker
	VolumeThreshold  int           // minimum requests in the window before evaluation
	SleepWindow      time.Duration // how long to stay open before probing
	HalfOpenRequests int           // probes allowed while half-open
	SuccessThreshold float64       // success rate in half-open needed to close
	WindowSize       time.Duration
	ErrorClassifier  ErrorClassifier
	Logger           core.Logger
}

// DefaultConfig returns production-sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:             "default",
		ErrorThreshold:   0.5,
		VolumeThreshold:  5,
		SleepWindow:      30 * time.Second,
		HalfOpenRequests: 3,
		SuccessThreshold: 0.6,
		WindowSize:       60 * time.Second,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           core.NoOpLogger{},
	}
}

func (c *Config) validate() error {
	if c.ErrorThreshold <= 0 || c.ErrorThreshold > 1 {
		return fmt.Errorf("ErrorThreshold must be in (0,1], got %f", c.ErrorThreshold)
	}
	if c.VolumeThreshold <= 0 {
		return fmt.Errorf("VolumeThreshold must be > 0, got %d", c.VolumeThreshold)
	}
	if c.SleepWindow <= 0 {
		return fmt.Errorf("SleepWindow must be > 0, got %s", c.SleepWindow)
	}
	if c.HalfOpenRequests <= 0 {
		return fmt.Errorf("HalfOpenRequests must be > 0, got %d", c.HalfOpenRequests)
	}
	return nil
}

// window is a fixed-size rolling counter reset wholesale once WindowSize
// elapses, grounded on resilience.SlidingWindow in the teacher repo but
// simplified from bucketed rotation to a single reset-on-expiry counter.
type window struct {
	mu        sync.Mutex
	size      time.Duration
	since     time.Time
	successes int
	failures  int
}

func newWindow(size time.Duration) *window {
	return &window{size: size, since: time.Now()}
}

func (w *window) maybeReset() {
	if time.Since(w.since) > w.size {
		w.successes = 0
		w.failures = 0
		w.since = time.Now()
	}
}

func (w *window) recordSuccess() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.maybeReset()
	w.successes++
}

func (w *window) recordFailure() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.maybeReset()
	w.failures++
}

func (w *window) counts() (successes, failures int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.maybeReset()
	return w.successes, w.failures
}

func (w *window) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.successes = 0
	w.failures = 0
	w.since = time.Now()
}

// CircuitBreaker guards a single external collaborator call site against
// cascading failures, grounded on resilience.CircuitBreaker in the teacher
// repo. Trimmed from the teacher's token-tracking/orphan-cleanup machinery
// (not needed here: the evolution core calls through the breaker
// synchronously, one call at a time per cycle, never fire-and-forget).
type CircuitBreaker struct {
	config *Config
	window *window

	mu             sync.Mutex
	state          CircuitState
	stateChangedAt time.Time

	halfOpenInFlight  atomic.Int32
	halfOpenSuccesses atomic.Int32
	halfOpenFailures  atomic.Int32

	logger core.Logger
}

// NewCircuitBreaker validates config and returns a breaker starting closed.
func NewCircuitBreaker(config *Config) (*CircuitBreaker, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.WindowSize == 0 {
		config.WindowSize = 60 * time.Second
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier
	}
	if config.Logger == nil {
		config.Logger = core.NoOpLogger{}
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}
	return &CircuitBreaker{
		config:         config,
		window:         newWindow(config.WindowSize),
		state:          StateClosed,
		stateChangedAt: time.Now(),
		logger:         config.Logger,
	}, nil
}

// GetState returns the current state as a string, for logging/telemetry.
func (cb *CircuitBreaker) GetState() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

// CanExecute reports whether a call should be attempted right now, and if
// called while half-open, reserves one of the limited probe slots.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	state := cb.state
	switch state {
	case StateClosed:
		cb.mu.Unlock()
		return true
	case StateOpen:
		if time.Since(cb.stateChangedAt) >= cb.config.SleepWindow {
			cb.transitionLocked(StateHalfOpen)
			cb.mu.Unlock()
			return cb.reserveHalfOpenSlot()
		}
		cb.mu.Unlock()
		return false
	case StateHalfOpen:
		cb.mu.Unlock()
		return cb.reserveHalfOpenSlot()
	default:
		cb.mu.Unlock()
		return false
	}
}

func (cb *CircuitBreaker) reserveHalfOpenSlot() bool {
	if cb.halfOpenInFlight.Add(1) > int32(cb.config.HalfOpenRequests) {
		cb.halfOpenInFlight.Add(-1)
		return false
	}
	return true
}

// RecordSuccess reports a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	state := cb.state
	cb.mu.Unlock()

	if state == StateHalfOpen {
		cb.halfOpenInFlight.Add(-1)
		successes := cb.halfOpenSuccesses.Add(1)
		total := successes + cb.halfOpenFailures.Load()
		if total >= int32(cb.config.HalfOpenRequests) {
			cb.evaluateHalfOpenOutcome()
		}
		return
	}

	cb.window.recordSuccess()
	cb.evaluateState()
}

// RecordFailure reports a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	state := cb.state
	cb.mu.Unlock()

	if state == StateHalfOpen {
		cb.halfOpenInFlight.Add(-1)
		failures := cb.halfOpenFailures.Add(1)
		cb.mu.Lock()
		cb.transitionLocked(StateOpen)
		cb.mu.Unlock()
		cb.logger.Warn("circuit breaker reopened on half-open failure", map[string]interface{}{
			"name": cb.config.Name, "half_open_failures": failures,
		})
		return
	}

	cb.window.recordFailure()
	cb.evaluateState()
}

func (cb *CircuitBreaker) evaluateHalfOpenOutcome() {
	successes := cb.halfOpenSuccesses.Load()
	failures := cb.halfOpenFailures.Load()
	total := successes + failures
	if total == 0 {
		return
	}
	rate := float64(successes) / float64(total)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if rate >= cb.config.SuccessThreshold {
		cb.transitionLocked(StateClosed)
		cb.window.reset()
	} else {
		cb.transitionLocked(StateOpen)
	}
	cb.halfOpenSuccesses.Store(0)
	cb.halfOpenFailures.Store(0)
}

func (cb *CircuitBreaker) evaluateState() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateClosed {
		return
	}
	successes, failures := cb.window.counts()
	total := successes + failures
	if total < cb.config.VolumeThreshold {
		return
	}
	if float64(failures)/float64(total) >= cb.config.ErrorThreshold {
		cb.transitionLocked(StateOpen)
	}
}

func (cb *CircuitBreaker) transitionLocked(newState CircuitState) {
	if cb.state == newState {
		return
	}
	old := cb.state
	cb.state = newState
	cb.stateChangedAt = time.Now()
	if newState == StateHalfOpen {
		cb.halfOpenInFlight.Store(0)
		cb.halfOpenSuccesses.Store(0)
		cb.halfOpenFailures.Store(0)
	}
	cb.logger.Info("circuit breaker state change", map[string]interface{}{
		"name": cb.config.Name, "from": old.String(), "to": newState.String(),
	})
}

// Execute runs fn under circuit breaker protection, classifying the
// returned error via the configured ErrorClassifier to decide whether it
// counts toward the failure rate.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.CanExecute() {
		return fmt.Errorf("%s: %w", cb.config.Name, core.ErrCircuitBreakerOpen)
	}

	err := fn()
	if cb.config.ErrorClassifier(err) {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return err
}

// ExecuteWithTimeout derives a context with a per-call deadline from ctx
// and runs fn through Execute. fn does not receive that context and
// Execute does not watch it, so the deadline neither interrupts nor bounds
// fn.
func (cb *CircuitBreaker) ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		return cb.Execute(ctx, fn)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return cb.Execute(ctx, fn)
}
