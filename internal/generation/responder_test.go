package generation

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/digitaltwin/internal/retriever"
)

// fakeChat returns canned replies in order and records requests.
type fakeChat struct {
	mu           sync.Mutex
	replies      []Completion
	chunks       []string
	streamTokens *TokenCount
	err          error
	requests     []Request
}

func (f *fakeChat) Complete(_ context.Context, req Request) (Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return Completion{}, f.err
	}
	if len(f.replies) == 0 {
		return Completion{}, nil
	}
	out := f.replies[0]
	f.replies = f.replies[1:]
	return out, nil
}

func (f *fakeChat) Stream(_ context.Context, req Request) (*Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	deltas := make([]Delta, 0, len(f.chunks)+1)
	for _, c := range f.chunks {
		deltas = append(deltas, Delta{Text: c})
	}
	if f.streamTokens != nil {
		deltas = append(deltas, Delta{Tokens: f.streamTokens})
	}
	return NewStream(sliceRecv(io.EOF, deltas...), nil), nil
}

func (f *fakeChat) lastRequest() Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

var skillResults = []retriever.Result{
	{ID: "profile.skills[0]", Title: "skills", Content: "C++", Score: 0.9},
	{ID: "profile.skills[2]", Title: "skills", Content: "Laravel", Score: 0.8},
}

func TestBuildContext(t *testing.T) {
	assert.Equal(t, "skills: C++\n\nskills: Laravel", BuildContext(skillResults))
	assert.Empty(t, BuildContext(nil))
}

func TestResponder_Generate(t *testing.T) {
	fake := &fakeChat{replies: []Completion{{Text: "  I work with C++ and Laravel.\n"}}}
	r, err := NewResponder(fake, Persona{Name: "Juan Dela Cruz", Role: "a BSIT student"}, 0, nil)
	require.NoError(t, err)

	answer, err := r.Generate(context.Background(), "What programming languages do you know?", skillResults, Options{})
	require.NoError(t, err)
	assert.Equal(t, "I work with C++ and Laravel.", answer)

	req := fake.lastRequest()
	assert.Equal(t, float32(DefaultTemperature), req.Temperature)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.Equal(t, float32(DefaultTopP), req.TopP)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "You are Juan Dela Cruz, a BSIT student.")
	assert.Equal(t, RoleUser, req.Messages[1].Role)
	assert.Contains(t, req.Messages[1].Content, "skills: C++\n\nskills: Laravel")
	assert.Contains(t, req.Messages[1].Content, "Question: What programming languages do you know?")
}

func TestResponder_GenerateOptions(t *testing.T) {
	fake := &fakeChat{replies: []Completion{{Text: "Short."}}}
	r, err := NewResponder(fake, Persona{}, 0.5, nil)
	require.NoError(t, err)

	_, err = r.Generate(context.Background(), "q", nil, Options{Temperature: Temperature(0.2), MaxTokens: 150})
	require.NoError(t, err)

	req := fake.lastRequest()
	assert.Equal(t, float32(0.2), req.Temperature)
	assert.Equal(t, 150, req.MaxTokens)
	assert.Equal(t, float32(0.5), req.TopP)
	assert.Contains(t, req.Messages[1].Content, "(none)")
}

func TestResponder_ZeroTemperatureIsSent(t *testing.T) {
	fake := &fakeChat{replies: []Completion{{Text: "Deterministic."}}}
	r, err := NewResponder(fake, Persona{}, 0, nil)
	require.NoError(t, err)

	_, err = r.Generate(context.Background(), "q", skillResults, Options{Temperature: Temperature(0)})
	require.NoError(t, err)

	req := fake.lastRequest()
	assert.Greater(t, req.Temperature, float32(0))
	assert.Less(t, req.Temperature, float32(1e-6))
	assert.NotEqual(t, float32(DefaultTemperature), req.Temperature)
}

func TestResponder_EmptyAnswerIsAnError(t *testing.T) {
	fake := &fakeChat{replies: []Completion{{Text: "   "}}}
	r, err := NewResponder(fake, Persona{}, 0, nil)
	require.NoError(t, err)

	_, err = r.Generate(context.Background(), "q", skillResults, Options{})
	assert.ErrorIs(t, err, ErrGeneration)
	assert.Equal(t, KindEmpty, KindOf(err))
}

func TestResponder_PropagatesClientErrors(t *testing.T) {
	fake := &fakeChat{err: &Error{Kind: KindAuth, StatusCode: 401}}
	r, err := NewResponder(fake, Persona{}, 0, nil)
	require.NoError(t, err)

	_, err = r.Generate(context.Background(), "q", skillResults, Options{})
	assert.ErrorIs(t, err, ErrAuth)

	_, err = r.GenerateStream(context.Background(), "q", skillResults, Options{})
	assert.ErrorIs(t, err, ErrAuth)
}

func TestResponder_GenerateStream(t *testing.T) {
	fake := &fakeChat{chunks: []string{"I know ", "C++."}}
	r, err := NewResponder(fake, Persona{}, 0, nil)
	require.NoError(t, err)

	s, err := r.GenerateStream(context.Background(), "languages?", skillResults, Options{MaxTokens: 200})
	require.NoError(t, err)

	var b strings.Builder
	for s.Next() {
		b.WriteString(s.Current())
	}
	require.NoError(t, s.Err())
	assert.Equal(t, "I know C++.", b.String())
	assert.Equal(t, 200, fake.lastRequest().MaxTokens)
}

func TestResponder_UsageAccumulatesAcrossCalls(t *testing.T) {
	counts := []TokenCount{{Prompt: 120, Completion: 30}, {Prompt: 80, Completion: 45}, {Prompt: 200, Completion: 10}}
	fake := &fakeChat{}
	for _, c := range counts {
		fake.replies = append(fake.replies, Completion{Text: "answer", Tokens: c})
	}
	tracker := NewUsageTracker(DefaultPricing)
	r, err := NewResponder(WithUsage(fake, tracker), Persona{}, 0, nil)
	require.NoError(t, err)

	var want int64
	for _, c := range counts {
		_, err := r.Generate(context.Background(), "q", skillResults, Options{})
		require.NoError(t, err)
		want += int64(c.Prompt + c.Completion)
	}
	assert.Equal(t, want, tracker.Snapshot().TotalTokens)
}

func TestPersona_SystemPrompt(t *testing.T) {
	p := Persona{
		Name:                 "Juan Dela Cruz",
		SignatureAchievement: "the enrollment system I built for my department",
		ForbiddenClaims:      []string{"ICPC", "coding competitions"},
	}
	prompt := p.SystemPrompt()

	assert.Contains(t, prompt, "first person")
	assert.Contains(t, prompt, NoInfoReply)
	assert.Contains(t, prompt, "the enrollment system I built for my department")
	assert.Contains(t, prompt, "Never mention ICPC, coding competitions")
	assert.Contains(t, Persona{}.SystemPrompt(), "You are the person described")
	assert.NotContains(t, Persona{}.SystemPrompt(), "Never mention")
}
