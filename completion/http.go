// Package completion implements core.CompletionService against an
// OpenAI-compatible chat/completions HTTP endpoint, configured entirely
// through LLM_PROVIDER_* environment variables (spec.md §6).
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hephaestus-ai/hephaestus/core"
	"github.com/hephaestus-ai/hephaestus/resilience"
	"github.com/hephaestus-ai/hephaestus/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

const outputCap = 4 * 1024

func truncate(b []byte) string {
	if len(b) > outputCap {
		return string(b[:outputCap]) + "...(truncated)"
	}
	return string(b)
}

// statusError records an HTTP response outside 2xx, letting Complete
// classify 4xx-not-429 as permanent without retrying and everything else
// as transient, the same distinction the teacher's
// providers.BaseClient.ExecuteWithRetry draws between status ranges.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("completion: provider returned status %d: %s", e.status, e.body)
}

func isPermanent(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 400 && se.status < 500 && se.status != http.StatusTooManyRequests
	}
	return false
}

// Client implements core.CompletionService. Every call runs behind a
// CircuitBreaker plus exponential-backoff Retry — grounded on the same
// per-dependency-circuit-breaker pattern as the teacher's
// examples/agent-with-resilience/research_agent.go, wiring the
// resilience package into the one place in this system that makes an
// outbound call with no local fallback otherwise.
type Client struct {
	HTTPClient   *http.Client
	BaseURL      string
	APIKey       string
	DefaultModel string
	ProviderName string
	Logger       core.Logger

	breaker     *resilience.CircuitBreaker
	retryConfig *resilience.RetryConfig
}

// NewClient constructs a Client with a fresh circuit breaker and default
// retry policy. baseURL/apiKey/providerName come from LLM_PROVIDER_BASE_URL,
// LLM_PROVIDER_API_KEY, and LLM_PROVIDER_NAME respectively (spec.md §6).
func NewClient(baseURL, apiKey, providerName string, logger core.Logger) (*Client, error) {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	cbConfig := resilience.DefaultConfig()
	cbConfig.Name = "completion." + providerName
	cbConfig.Logger = logger
	breaker, err := resilience.NewCircuitBreaker(cbConfig)
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout:   120 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		BaseURL:      baseURL,
		APIKey:       apiKey,
		ProviderName: providerName,
		Logger:       logger,
		breaker:      breaker,
		retryConfig:  resilience.DefaultRetryConfig(),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// Complete implements core.CompletionService (spec.md §6: "retry
// transient errors up to deadline, permanent errors → PROVIDER_ERROR").
func (c *Client) Complete(ctx context.Context, req core.CompletionRequest) (*core.CompletionResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "completion.complete",
		attribute.String("provider", c.ProviderName), attribute.String("model", req.Model))
	defer span.End()

	if req.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Deadline)
		defer cancel()
	}

	if c.APIKey == "" {
		return nil, core.NewEvolutionError("completion.complete", core.ReasonProviderError, fmt.Errorf("completion: API key not configured"))
	}

	var result *core.CompletionResponse
	var permanentErr error

	retryErr := resilience.RetryWithCircuitBreaker(ctx, c.retryConfig, c.breaker, func() error {
		resp, err := c.doRequest(ctx, req)
		if err != nil {
			if isPermanent(err) {
				permanentErr = err
				return nil
			}
			return err
		}
		result = resp
		return nil
	})

	if permanentErr != nil {
		telemetry.Counter(ctx, "completion.provider_error", attribute.String("provider", c.ProviderName))
		return nil, core.NewEvolutionError("completion.complete", core.ReasonProviderError, permanentErr)
	}
	if retryErr != nil {
		telemetry.Counter(ctx, "completion.provider_error", attribute.String("provider", c.ProviderName))
		return nil, core.NewEvolutionError("completion.complete", core.ReasonProviderError, retryErr)
	}

	telemetry.Counter(ctx, "completion.success", attribute.String("provider", c.ProviderName))
	return result, nil
}

func (c *Client) doRequest(ctx context.Context, req core.CompletionRequest) (*core.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = c.DefaultModel
	}

	var messages []chatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("completion: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("completion: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion: send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("completion: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{status: resp.StatusCode, body: truncate(raw)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("completion: parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("completion: no choices in response")
	}

	return &core.CompletionResponse{
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
		Usage: core.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}
