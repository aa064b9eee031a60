package followup

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/digitaltwin/internal/generation"
)

// MockChatClient is a mock implementation of generation.ChatClient
type MockChatClient struct {
	mock.Mock
}

func (m *MockChatClient) Complete(ctx context.Context, req generation.Request) (generation.Completion, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(generation.Completion), args.Error(1)
}

func (m *MockChatClient) Stream(ctx context.Context, req generation.Request) (*generation.Stream, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*generation.Stream), args.Error(1)
}

const twoParagraphs = "It sounds like leading that team taught you a lot. What did a typical week look like?\n\nHow did you keep everyone aligned when priorities changed?"

var errModelDown = &generation.Error{Kind: generation.KindUnavailable, StatusCode: 503}

// multiSentence matches a period followed by a capitalized sentence.
var multiSentence = regexp.MustCompile(`[.!?]\s+[A-Z]`)

func newTestGenerator(t *testing.T, client generation.ChatClient) *Generator {
	t.Helper()
	g, err := NewGenerator(client, Config{Name: "Juan Dela Cruz"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return g
}

func TestGenerateFollowUp_Success(t *testing.T) {
	client := &MockChatClient{}
	var captured generation.Request
	client.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(generation.Request) }).
		Return(generation.Completion{Text: "  " + twoParagraphs + "\n"}, nil).Once()

	g := newTestGenerator(t, client)
	history := []generation.Message{
		{Role: generation.RoleUser, Content: "Tell me about your leadership"},
		{Role: generation.RoleAssistant, Content: "I led our capstone team."},
	}

	res, err := g.GenerateFollowUp(context.Background(), "tell me more", "What leadership roles have you had?", Options{History: history, Depth: Deep})
	require.NoError(t, err)
	client.AssertExpectations(t)

	assert.Equal(t, twoParagraphs, res.FollowUpQuestion)
	assert.False(t, res.Fallback)
	assert.Equal(t, []string{"leadership"}, res.SuggestedTopics)
	assert.Equal(t, "User: Tell me about your leadership\nJuan: I led our capstone team.", res.ConversationContext)

	assert.Equal(t, float32(0.8), captured.Temperature)
	assert.Equal(t, 500, captured.MaxTokens)
	require.Len(t, captured.Messages, 2)
	system, user := captured.Messages[0].Content, captured.Messages[1].Content
	assert.Contains(t, system, "Juan Dela Cruz's digital twin")
	assert.Contains(t, system, "wants MORE")
	assert.Contains(t, system, "Go DEEP")
	assert.Contains(t, user, "User wants more elaboration: YES")
	assert.Contains(t, user, "Digs into the same topic")
}

func TestGenerateFollowUp_PromptBranches(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		depth      Depth
		wantUser   string
		wantSystem string
		absent     string
	}{
		{"vague", "yes", Shallow, "Gently acknowledges", "brief or vague", "wants MORE"},
		{"normal", "I led a team of fifteen students across three departments for two semesters", Moderate, "WHY, HOW or WHAT IT MEANT", "professional yet personable", "brief or vague"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockChatClient{}
			var captured generation.Request
			client.On("Complete", mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) { captured = args.Get(1).(generation.Request) }).
				Return(generation.Completion{Text: twoParagraphs}, nil)

			g := newTestGenerator(t, client)
			_, err := g.GenerateFollowUp(context.Background(), tt.reply, "What did you do last year?", Options{Depth: tt.depth})
			require.NoError(t, err)

			assert.Contains(t, captured.Messages[1].Content, tt.wantUser)
			assert.Contains(t, captured.Messages[0].Content, tt.wantSystem)
			assert.NotContains(t, captured.Messages[0].Content, tt.absent)
			assert.Contains(t, captured.Messages[1].Content, beginningOfInteraction)
		})
	}
}

func TestGenerateFollowUp_FallsBackWhenModelFails(t *testing.T) {
	client := &MockChatClient{}
	client.On("Complete", mock.Anything, mock.Anything).Return(generation.Completion{}, errModelDown).Once()

	g := newTestGenerator(t, client)
	res, err := g.GenerateFollowUp(context.Background(), "yes", "Tell me about your thesis", Options{Topic: "your thesis"})
	require.NoError(t, err)
	client.AssertExpectations(t)

	assert.True(t, res.Fallback)
	assert.NotEmpty(t, res.FollowUpQuestion)
	assert.Contains(t, res.FollowUpQuestion, "your thesis")
	assert.True(t, multiSentence.MatchString(res.FollowUpQuestion))
}

func TestGenerateFollowUp_FallbackTopicFromExtraction(t *testing.T) {
	client := &MockChatClient{}
	client.On("Complete", mock.Anything, mock.Anything).Return(generation.Completion{Text: "   "}, nil)

	g := newTestGenerator(t, client)
	res, err := g.GenerateFollowUp(context.Background(), "It was a hard project", "What challenge did you face?", Options{})
	require.NoError(t, err)

	assert.True(t, res.Fallback)
	assert.Equal(t, Fallback("project"), res.FollowUpQuestion)
}

func TestGenerateFollowUp_RequiresUserResponse(t *testing.T) {
	client := &MockChatClient{}
	g := newTestGenerator(t, client)

	_, err := g.GenerateFollowUp(context.Background(), "  ", "q", Options{})
	assert.ErrorIs(t, err, ErrFollowUp)
	client.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestGenerateFollowUp_HistoryKeepsLastSixTurns(t *testing.T) {
	client := &MockChatClient{}
	client.On("Complete", mock.Anything, mock.Anything).Return(generation.Completion{Text: twoParagraphs}, nil)

	g := newTestGenerator(t, client)
	var history []generation.Message
	for i := 0; i < 10; i++ {
		role := generation.RoleUser
		if i%2 == 1 {
			role = generation.RoleAssistant
		}
		history = append(history, generation.Message{Role: role, Content: string(rune('a' + i))})
	}

	res, err := g.GenerateFollowUp(context.Background(), "tell me more", "q", Options{History: history})
	require.NoError(t, err)

	lines := strings.Split(res.ConversationContext, "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "User: e", lines[0])
	assert.Equal(t, "Juan: j", lines[5])
}

func TestGenerateInterviewFollowUp(t *testing.T) {
	for _, scenario := range []Scenario{ScenarioAchievement, ScenarioChallenge, ScenarioLeadership, ScenarioTechnical, ScenarioCareer} {
		t.Run(string(scenario), func(t *testing.T) {
			client := &MockChatClient{}
			var captured generation.Request
			client.On("Complete", mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) { captured = args.Get(1).(generation.Request) }).
				Return(generation.Completion{Text: twoParagraphs}, nil).Once()

			g := newTestGenerator(t, client)
			text, err := g.GenerateInterviewFollowUp(context.Background(), scenario, "We built it in Laravel.", "What did you build?")
			require.NoError(t, err)
			assert.Equal(t, twoParagraphs, text)
			assert.Equal(t, 400, captured.MaxTokens)
			assert.Contains(t, captured.Messages[0].Content, string(scenario))
			assert.Contains(t, captured.Messages[1].Content, "We built it in Laravel.")
		})
	}
}

func TestGenerateInterviewFollowUp_Fallback(t *testing.T) {
	client := &MockChatClient{}
	client.On("Complete", mock.Anything, mock.Anything).Return(generation.Completion{}, errModelDown)

	g := newTestGenerator(t, client)
	text, err := g.GenerateInterviewFollowUp(context.Background(), ScenarioTechnical, "Go and Laravel", "Which stack?")
	require.NoError(t, err)
	assert.Equal(t, Fallback("technical"), text)

	_, err = g.GenerateInterviewFollowUp(context.Background(), Scenario("hobby"), "", "")
	assert.ErrorIs(t, err, ErrFollowUp)
}

func TestGenerateInitialFollowUp(t *testing.T) {
	client := &MockChatClient{}
	client.On("Complete", mock.Anything, mock.Anything).Return(generation.Completion{Text: twoParagraphs}, nil).Once()
	client.On("Complete", mock.Anything, mock.Anything).Return(generation.Completion{}, errModelDown).Once()

	g := newTestGenerator(t, client)
	text, err := g.GenerateInitialFollowUp(context.Background(), "your biggest achievement")
	require.NoError(t, err)
	assert.Equal(t, twoParagraphs, text)

	text, err = g.GenerateInitialFollowUp(context.Background(), "your biggest achievement")
	require.NoError(t, err)
	assert.Equal(t, Fallback("your biggest achievement"), text)
	assert.True(t, multiSentence.MatchString(text))

	_, err = g.GenerateInitialFollowUp(context.Background(), "")
	assert.ErrorIs(t, err, ErrFollowUp)
	client.AssertNumberOfCalls(t, "Complete", 2)
}

func TestNewGenerator(t *testing.T) {
	_, err := NewGenerator(nil, Config{}, nil)
	assert.Error(t, err)

	g, err := NewGenerator(&MockChatClient{}, Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultAssistantLabel, g.label)
}
