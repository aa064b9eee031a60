// Package generation produces first-person answers with an OpenAI-compatible
// chat completion API (Groq by default).
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/digitaltwin/internal/config"
)

// Message roles.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 3
	defaultRetryBackoff = 1 * time.Second
	defaultRateLimit    = 30.0 / 60.0
	defaultBurst        = 5
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion request. Zero sampling values are sent as
// the provider defaults.
type Request struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
	TopP        float32
}

// TokenCount is the provider-reported usage of one request.
type TokenCount struct {
	Prompt     int
	Completion int
}

// Completion is a finished, non-streamed response.
type Completion struct {
	Text   string
	Tokens TokenCount
}

// ChatClient produces chat completions.
type ChatClient interface {
	Complete(ctx context.Context, req Request) (Completion, error)
	Stream(ctx context.Context, req Request) (*Stream, error)
}

// ClientConfig configures an OpenAIClient.
type ClientConfig struct {
	BaseURL      string
	Model        string
	APIKey       string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	RateLimit    float64 // requests per second
	Burst        int

	// HTTPClient overrides the transport. Tests point it at httptest servers.
	HTTPClient *http.Client
}

// ClientConfigFrom maps the generation section of the service configuration.
func ClientConfigFrom(cfg config.GenerationConfig) ClientConfig {
	return ClientConfig{
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		APIKey:     cfg.APIKey.Value(),
		Timeout:    cfg.Timeout.Duration(),
		MaxRetries: cfg.MaxRetries,
		RateLimit:  cfg.RateLimit,
		Burst:      cfg.Burst,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *ClientConfig) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RateLimit <= 0 {
		c.RateLimit = defaultRateLimit
	}
	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}
}

// OpenAIClient implements ChatClient over go-openai. Requests are rate
// limited and retried with exponential backoff on transient failures.
type OpenAIClient struct {
	client  *openai.Client
	config  ClientConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewOpenAIClient creates a client for the configured endpoint.
func NewOpenAIClient(cfg ClientConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: generation api key required", config.ErrConfiguration)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: generation model required", config.ErrConfiguration)
	}
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(oc),
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		logger:  logger,
	}, nil
}

// Complete sends req and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Completion, error) {
	ctx, span := tracer.Start(ctx, "generation.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("model", c.config.Model), attribute.Int("messages", len(req.Messages)))

	start := time.Now()
	out, err := c.complete(ctx, req)
	RequestDuration.WithLabelValues("complete").Observe(time.Since(start).Seconds())
	recordResult("complete", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return Completion{}, err
	}

	recordTokens(out.Tokens)
	span.SetAttributes(
		attribute.Int("tokens.prompt", out.Tokens.Prompt),
		attribute.Int("tokens.completion", out.Tokens.Completion),
	)
	return out, nil
}

func (c *OpenAIClient) complete(ctx context.Context, req Request) (Completion, error) {
	if err := c.wait(ctx); err != nil {
		return Completion{}, err
	}

	chatReq := c.chatRequest(req)
	return retry(ctx, c, "complete", func() (Completion, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()

		resp, err := c.client.CreateChatCompletion(callCtx, chatReq)
		if err != nil {
			return Completion{}, wrapErr(err)
		}
		if len(resp.Choices) == 0 {
			return Completion{}, &Error{Kind: KindEmpty, Err: errors.New("response has no choices")}
		}
		return Completion{
			Text: resp.Choices[0].Message.Content,
			Tokens: TokenCount{
				Prompt:     resp.Usage.PromptTokens,
				Completion: resp.Usage.CompletionTokens,
			},
		}, nil
	})
}

// Stream opens a streamed completion. Only opening the stream is retried;
// failures after the first chunk end the stream with Err set. The stream
// is bounded by the configured timeout.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (*Stream, error) {
	ctx, span := tracer.Start(ctx, "generation.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("model", c.config.Model), attribute.Int("messages", len(req.Messages)))

	start := time.Now()
	s, err := c.stream(ctx, req)
	RequestDuration.WithLabelValues("stream").Observe(time.Since(start).Seconds())
	recordResult("stream", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "opening stream failed")
		return nil, err
	}
	s.observe(recordTokens)
	return s, nil
}

func (c *OpenAIClient) stream(ctx context.Context, req Request) (*Stream, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	chatReq := c.chatRequest(req)
	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	streamCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)

	raw, err := retry(ctx, c, "stream", func() (*openai.ChatCompletionStream, error) {
		s, err := c.client.CreateChatCompletionStream(streamCtx, chatReq)
		if err != nil {
			return nil, wrapErr(err)
		}
		return s, nil
	})
	if err != nil {
		cancel()
		return nil, err
	}

	recv := func() (Delta, error) {
		resp, err := raw.Recv()
		if err != nil {
			return Delta{}, err
		}
		var d Delta
		if len(resp.Choices) > 0 {
			d.Text = resp.Choices[0].Delta.Content
		}
		if resp.Usage != nil {
			d.Tokens = &TokenCount{Prompt: resp.Usage.PromptTokens, Completion: resp.Usage.CompletionTokens}
		}
		return d, nil
	}
	closer := func() error {
		defer cancel()
		return raw.Close()
	}
	return NewStream(recv, closer), nil
}

// wait blocks on the rate limiter.
func (c *OpenAIClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return wrapErr(ctx.Err())
		}
		return &Error{Kind: KindRateLimited, Err: fmt.Errorf("rate limiter: %w", err)}
	}
	return nil
}

func (c *OpenAIClient) chatRequest(req Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	}
}

// retry runs op with exponential backoff while it fails with a retryable kind.
func retry[T any](ctx context.Context, c *OpenAIClient, operation string, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.RetryBackoff

	out, err := backoff.Retry(ctx, func() (T, error) {
		out, err := op()
		if err != nil && !retryable(KindOf(err)) {
			return out, backoff.Permanent(err)
		}
		return out, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.config.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			RetriesTotal.Inc()
			c.logger.Warn("retrying chat completion",
				zap.String("operation", operation),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		// Retry returns the permanent wrapper when the last try fails permanently.
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		return out, wrapErr(err)
	}
	return out, nil
}

var _ ChatClient = (*OpenAIClient)(nil)
