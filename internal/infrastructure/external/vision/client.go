// Package vision implements the vision-language model client.
package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"
	"github.com/classlens/classlens-monitor/pkg/circuitbreaker"
	"github.com/classlens/classlens-monitor/pkg/retry"

	openai "github.com/sashabaranov/go-openai"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrBadRequest is returned for requests rejected before any network call.
	ErrBadRequest = errors.New("vision: bad request")

	// ErrRateLimited is returned when the local limiter or the API refuses.
	ErrRateLimited = shared.ErrVisionRateLimited
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the vision client.
type ClientConfig struct {
	// BaseURL of an OpenAI-compatible API (empty means the vendor default)
	BaseURL string

	// APIKey for authentication
	APIKey string

	// Model used for frame analysis
	Model string

	// Timeout is the per-request HTTP timeout
	Timeout time.Duration

	// RateLimiterConfig for API quota protection
	RateLimiterConfig RateLimiterConfig

	// MaxRetries for transient failures
	MaxRetries int

	// RetryBaseDelay is the initial backoff
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the backoff
	RetryMaxDelay time.Duration

	// Logger for structured logging
	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(apiKey string) ClientConfig {
	return ClientConfig{
		APIKey:            apiKey,
		Model:             "gpt-4o-mini",
		Timeout:           45 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
		MaxRetries:        3,
		RetryBaseDelay:    500 * time.Millisecond,
		RetryMaxDelay:     10 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Analyzer scores captured frames. Implemented by Client; jobs and the
// application layer depend on this interface so tests can stub it.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (*Analysis, error)
}

// Client is the vision-language model client.
type Client struct {
	config         ClientConfig
	api            *openai.Client
	logger         *slog.Logger
	rateLimiter    *RateLimiter
	circuitBreaker *circuitbreaker.CircuitBreaker
	retrier        *retry.Retrier
}

// NewClient creates a new vision client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("vision: API key is required")
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	apiConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		apiConfig.BaseURL = config.BaseURL
	}
	if config.Timeout > 0 {
		apiConfig.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	c := &Client{
		config:      config,
		api:         openai.NewClientWithConfig(apiConfig),
		logger:      config.Logger,
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
	}

	c.circuitBreaker = circuitbreaker.VisionAPIBreaker(func(name string, from, to circuitbreaker.State) {
		c.logger.Warn("vision circuit state changed",
			"breaker", name, "from", from.String(), "to", to.String())
	})

	retryOpts := []retry.Option{
		retry.WithInitialDelay(config.RetryBaseDelay),
		retry.WithMaxDelay(config.RetryMaxDelay),
	}
	if config.MaxRetries > 0 {
		retryOpts = append(retryOpts, retry.WithMaxAttempts(config.MaxRetries))
	}
	c.retrier = retry.New(retryOpts...)

	return c, nil
}

// Analyze scores a single frame against the current task context.
// The returned raw score is always inside [0,5]: anything the model
// produces outside that range is clamped here, at the boundary.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if err := c.rateLimiter.Allow(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()

	var verdict verdictDTO
	var model string

	err := c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			v, m, err := c.doAnalyze(ctx, req)
			if err != nil {
				return c.classifyError(err)
			}
			verdict = v
			model = m
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{
		RawScore:         tracking.RawScore(verdict.Score).Clamp(),
		Description:      strings.TrimSpace(verdict.Description),
		ShortDescription: strings.TrimSpace(verdict.ShortDescription),
		Suggestion:       verdict.Suggestion,
		Model:            model,
		Latency:          time.Since(start),
	}

	if analysis.Description == "" {
		return nil, fmt.Errorf("%w: empty description", shared.ErrVisionInvalidResponse)
	}

	c.logger.Debug("frame analyzed",
		"session_id", req.SessionID,
		"raw_score", int(analysis.RawScore),
		"latency_ms", analysis.Latency.Milliseconds())

	return analysis, nil
}

// doAnalyze performs a single API round trip.
func (c *Client) doAnalyze(ctx context.Context, req AnalyzeRequest) (verdictDTO, string, error) {
	mime := req.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s",
		mime, base64.StdEncoding.EncodeToString(req.Image))

	schemaBytes, err := json.Marshal(verdictSchema)
	if err != nil {
		return verdictDTO{}, "", fmt.Errorf("marshal schema: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: buildUserPrompt(req.TaskContext),
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
		MaxTokens:   300,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "frame_verdict",
				Schema: json.RawMessage(schemaBytes),
				Strict: true,
			},
		},
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return verdictDTO{}, "", err
	}

	if len(resp.Choices) == 0 {
		return verdictDTO{}, "", fmt.Errorf("%w: no choices", shared.ErrVisionInvalidResponse)
	}

	content := stripJSONFences(resp.Choices[0].Message.Content)

	var verdict verdictDTO
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return verdictDTO{}, "", fmt.Errorf("%w: %v", shared.ErrVisionInvalidResponse, err)
	}

	return verdict, resp.Model, nil
}

// classifyError maps vendor errors onto retryable/permanent sentinels.
func (c *Client) classifyError(err error) error {
	if err == nil {
		return nil
	}

	// Parse errors never improve on retry
	if errors.Is(err, shared.ErrVisionInvalidResponse) {
		return retry.Permanent(err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			c.rateLimiter.RecordRateLimitHit()
			return retry.Retryable(fmt.Errorf("%w: %v", ErrRateLimited, err))
		case apiErr.HTTPStatusCode >= 500:
			return retry.Retryable(fmt.Errorf("%w: %v", shared.ErrVisionUnavailable, err))
		default:
			return retry.Permanent(fmt.Errorf("%w: %v", shared.ErrVisionUnavailable, err))
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return retry.Retryable(fmt.Errorf("%w: %v", shared.ErrVisionTimeout, err))
	}
	if errors.Is(err, context.Canceled) {
		return retry.Permanent(err)
	}

	// Transport-level failures are worth another attempt
	return retry.Retryable(fmt.Errorf("%w: %v", shared.ErrVisionUnavailable, err))
}

// stripJSONFences removes markdown code fences some models insist on.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// ClientStatus reports the client's protective machinery.
type ClientStatus struct {
	RateLimiter    RateLimiterStatus
	CircuitBreaker circuitbreaker.State
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	return ClientStatus{
		RateLimiter:    c.rateLimiter.Status(),
		CircuitBreaker: c.circuitBreaker.State(),
	}
}

// Reset resets the rate limiter and circuit breaker.
func (c *Client) Reset() {
	c.rateLimiter.Reset()
	c.circuitBreaker.Reset()
}
