package followup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/digitaltwin/internal/generation"
)

// ErrFollowUp is returned for requests the generator cannot serve at all.
// Model failures never surface as errors; they degrade to Fallback.
var ErrFollowUp = errors.New("follow-up generation failed")

const (
	defaultTemperature     = 0.8
	conversationMaxTokens  = 500
	scenarioMaxTokens      = 400
	historyTurns           = 6
	defaultAssistantLabel  = "Me"
	beginningOfInteraction = "This is the beginning of the conversation."
)

// FollowUpsTotal counts generated follow-ups.
// Labels: kind (conversation, interview, initial), result (generated, fallback)
var FollowUpsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "digitaltwin",
		Subsystem: "followup",
		Name:      "generated_total",
		Help:      "Total number of follow-up questions by outcome",
	},
	[]string{"kind", "result"},
)

// Depth is how far a follow-up probes.
type Depth string

const (
	Shallow  Depth = "shallow"
	Moderate Depth = "moderate"
	Deep     Depth = "deep"
)

// ParseDepth accepts shallow, moderate or deep. Empty means Moderate.
func ParseDepth(s string) (Depth, error) {
	switch d := Depth(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return Moderate, nil
	case Shallow, Moderate, Deep:
		return d, nil
	default:
		return "", fmt.Errorf("%w: unknown depth %q", ErrFollowUp, s)
	}
}

// Options controls GenerateFollowUp.
type Options struct {
	History     []generation.Message
	Depth       Depth
	Temperature float32

	// Topic names the subject for the canned fallback. When empty the first
	// extracted topic is used.
	Topic string
}

// Result is a generated follow-up.
type Result struct {
	FollowUpQuestion    string   `json:"followUpQuestion"`
	SuggestedTopics     []string `json:"suggestedTopics"`
	ConversationContext string   `json:"conversationContext"`

	// Fallback is true when the question is a canned template because the
	// model call failed.
	Fallback bool `json:"fallback"`
}

// Config configures a Generator.
type Config struct {
	// Name is the twin's name. Its first word labels the twin's turns in
	// the conversation context.
	Name string
}

// Generator writes follow-up questions with a chat model.
type Generator struct {
	client generation.ChatClient
	name   string
	label  string
	logger *zap.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(client generation.ChatClient, cfg Config, logger *zap.Logger) (*Generator, error) {
	if client == nil {
		return nil, fmt.Errorf("chat client cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	label := defaultAssistantLabel
	if fields := strings.Fields(cfg.Name); len(fields) > 0 {
		label = fields[0]
	}
	return &Generator{client: client, name: strings.TrimSpace(cfg.Name), label: label, logger: logger}, nil
}

// GenerateFollowUp writes a 2-3 paragraph question reacting to the user's
// latest reply. If the model fails, the result carries a canned question
// and Fallback is set.
func (g *Generator) GenerateFollowUp(ctx context.Context, userResponse, previousQuestion string, opts Options) (Result, error) {
	if strings.TrimSpace(userResponse) == "" {
		return Result{}, fmt.Errorf("%w: user response is required", ErrFollowUp)
	}
	if opts.Depth == "" {
		opts.Depth = Moderate
	}
	if opts.Temperature <= 0 {
		opts.Temperature = defaultTemperature
	}

	intent := Classify(userResponse)
	wantsMore := intent == Elaboration
	vague := IsVague(userResponse)
	convo := g.conversationContext(opts.History)
	topics := ExtractTopics(userResponse, previousQuestion)

	result := Result{SuggestedTopics: topics, ConversationContext: convo}

	out, err := g.client.Complete(ctx, generation.Request{
		Messages: []generation.Message{
			{Role: generation.RoleSystem, Content: g.conversationSystemPrompt(wantsMore, vague, opts.Depth)},
			{Role: generation.RoleUser, Content: conversationUserPrompt(previousQuestion, userResponse, convo, intent, wantsMore, vague)},
		},
		Temperature: opts.Temperature,
		MaxTokens:   conversationMaxTokens,
	})
	text := strings.TrimSpace(out.Text)
	if err == nil && text == "" {
		err = &generation.Error{Kind: generation.KindEmpty, Err: errors.New("model returned an empty follow-up")}
	}
	if err != nil {
		topic := opts.Topic
		if topic == "" && len(topics) > 0 {
			topic = topics[0]
		}
		g.logger.Warn("follow-up generation failed, using fallback",
			zap.String("intent", intent.String()),
			zap.Error(err),
		)
		FollowUpsTotal.WithLabelValues("conversation", "fallback").Inc()
		result.FollowUpQuestion = Fallback(topic)
		result.Fallback = true
		return result, nil
	}

	FollowUpsTotal.WithLabelValues("conversation", "generated").Inc()
	result.FollowUpQuestion = text
	return result, nil
}

// GenerateInterviewFollowUp writes a follow-up focused on one interview
// scenario. It returns the canned fallback when the model fails.
func (g *Generator) GenerateInterviewFollowUp(ctx context.Context, scenario Scenario, userResponse, previousQuestion string) (string, error) {
	focus, ok := scenarioFocus[scenario]
	if !ok {
		return "", fmt.Errorf("%w: unknown scenario %q", ErrFollowUp, scenario)
	}

	system := "You are conducting a professional interview. " + focus + "\n\n" +
		"Write a 2-3 paragraph follow-up question that:\n" +
		"1. Acknowledges their previous answer\n" +
		"2. Asks deeper, more specific questions\n" +
		"3. Encourages detailed, reflective responses\n" +
		"4. Keeps a professional yet conversational tone"
	user := "Previous question: " + previousQuestion + "\n\n" +
		"Their response: " + userResponse + "\n\n" +
		"Write a thoughtful follow-up question (2-3 paragraphs):"

	return g.completeOrFallback(ctx, "interview", system, user, string(scenario)), nil
}

// GenerateInitialFollowUp opens a topic with a warm 2-3 paragraph question.
// It returns the canned fallback when the model fails.
func (g *Generator) GenerateInitialFollowUp(ctx context.Context, topic string) (string, error) {
	if strings.TrimSpace(topic) == "" {
		return "", fmt.Errorf("%w: topic is required", ErrFollowUp)
	}

	system := "You are an empathetic interviewer having a natural conversation. Write a warm, engaging follow-up question that:\n" +
		"1. Is 2-3 paragraphs long\n" +
		"2. Starts by acknowledging what was just shared\n" +
		"3. Asks deeper, meaningful questions about the topic\n" +
		"4. Encourages detailed, thoughtful answers\n" +
		"5. Sounds natural and conversational, never formal or robotic\n\n" +
		"Keep a neutral, general tone that suits any topic: achievements, experiences, challenges, hobbies or opinions."
	user := "The conversation topic is: " + topic + "\n\n" +
		"Write a thoughtful 2-3 paragraph follow-up question that explores this topic more deeply."

	return g.completeOrFallback(ctx, "initial", system, user, topic), nil
}

func (g *Generator) completeOrFallback(ctx context.Context, kind, system, user, topic string) string {
	out, err := g.client.Complete(ctx, generation.Request{
		Messages: []generation.Message{
			{Role: generation.RoleSystem, Content: system},
			{Role: generation.RoleUser, Content: user},
		},
		Temperature: defaultTemperature,
		MaxTokens:   scenarioMaxTokens,
	})
	text := strings.TrimSpace(out.Text)
	if err != nil || text == "" {
		g.logger.Warn("follow-up generation failed, using fallback",
			zap.String("kind", kind),
			zap.Error(err),
		)
		FollowUpsTotal.WithLabelValues(kind, "fallback").Inc()
		return Fallback(topic)
	}
	FollowUpsTotal.WithLabelValues(kind, "generated").Inc()
	return text
}

// conversationContext renders the last few turns, oldest first.
func (g *Generator) conversationContext(history []generation.Message) string {
	if len(history) == 0 {
		return beginningOfInteraction
	}
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	lines := make([]string, len(history))
	for i, m := range history {
		speaker := g.label
		if m.Role == generation.RoleUser {
			speaker = "User"
		}
		lines[i] = speaker + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}
