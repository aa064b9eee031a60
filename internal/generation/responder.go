package generation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/digitaltwin/internal/retriever"
)

// Answer defaults.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
	DefaultTopP        = 0.9
)

// Options controls one answer. A nil Temperature or zero MaxTokens uses
// the default.
type Options struct {
	Temperature *float32
	MaxTokens   int
}

// Temperature returns a pointer to v for Options.
func Temperature(v float32) *float32 {
	return &v
}

// Responder turns retrieved results and a question into a persona answer.
type Responder struct {
	client  ChatClient
	persona Persona
	topP    float32
	logger  *zap.Logger
}

// NewResponder creates a Responder. A topP of 0 uses DefaultTopP.
func NewResponder(client ChatClient, persona Persona, topP float32, logger *zap.Logger) (*Responder, error) {
	if client == nil {
		return nil, fmt.Errorf("chat client cannot be nil")
	}
	if topP <= 0 {
		topP = DefaultTopP
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{client: client, persona: persona, topP: topP, logger: logger}, nil
}

// BuildContext joins results as "title: content" blocks.
func BuildContext(results []retriever.Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Title+": "+r.Content)
	}
	return strings.Join(parts, "\n\n")
}

func (r *Responder) request(query string, results []retriever.Result, opts Options) Request {
	temperature := float32(DefaultTemperature)
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	if temperature == 0 {
		// go-openai drops a zero temperature from the request body.
		temperature = math.SmallestNonzeroFloat32
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	return Request{
		Messages: []Message{
			{Role: RoleSystem, Content: r.persona.SystemPrompt()},
			{Role: RoleUser, Content: r.persona.UserPrompt(query, BuildContext(results))},
		},
		Temperature: temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        r.topP,
	}
}

// Generate returns the trimmed answer. A blank completion is an error of
// kind KindEmpty.
func (r *Responder) Generate(ctx context.Context, query string, results []retriever.Result, opts Options) (string, error) {
	out, err := r.client.Complete(ctx, r.request(query, results, opts))
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", &Error{Kind: KindEmpty, Err: errors.New("model returned an empty answer")}
	}
	r.logger.Debug("answer generated",
		zap.Int("context_results", len(results)),
		zap.Int("tokens.prompt", out.Tokens.Prompt),
		zap.Int("tokens.completion", out.Tokens.Completion),
	)
	return text, nil
}

// GenerateStream opens a streamed answer. The caller must drain or Close it.
func (r *Responder) GenerateStream(ctx context.Context, query string, results []retriever.Result, opts Options) (*Stream, error) {
	return r.client.Stream(ctx, r.request(query, results, opts))
}
