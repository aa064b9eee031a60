package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/digitaltwin/internal/generation"
	"github.com/fyrsmithlabs/digitaltwin/internal/rag"
	"github.com/fyrsmithlabs/digitaltwin/internal/retriever"
	"github.com/fyrsmithlabs/digitaltwin/internal/vectorstore"
)

type fakeService struct {
	queries []string
	opts    []rag.QueryOptions
	err     error
}

func (f *fakeService) QueryWithResponse(_ context.Context, query string, opts rag.QueryOptions) (*rag.QueryResult, error) {
	f.queries = append(f.queries, query)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	res := &rag.QueryResult{
		Query:         query,
		Response:      "I work mostly with C++ and Laravel.",
		SearchResults: []retriever.Result{{ID: "chunk_0", Content: "C++"}},
		UsageStats:    generation.Usage{TotalTokens: 120, Cost: 0.0001},
	}
	if opts.GenerateFollowUp {
		res.FollowUpQuestion = "Which one do you enjoy more?"
	}
	return res, nil
}

func (f *fakeService) SystemInfo(context.Context) rag.SystemInfo {
	return rag.SystemInfo{
		IsInitialized: true,
		StoreStatus:   rag.StoreHealthy,
		VectorInfo:    &vectorstore.Info{VectorCount: 12, Provider: "memory"},
	}
}

func newSizedModel(svc Service, opts Options) Model {
	m := NewModel(context.Background(), svc, opts)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return updated.(Model)
}

func typeText(m Model, text string) Model {
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return updated.(Model)
}

// submit presses enter and runs the resulting query command synchronously.
func submit(t *testing.T, m Model) Model {
	t.Helper()
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	require.True(t, m.pending)

	query := m.transcript[len(m.transcript)-1].text
	msg := m.ask(query)()
	updated, _ = m.Update(msg)
	return updated.(Model)
}

func TestNewModel(t *testing.T) {
	m := NewModel(context.Background(), &fakeService{}, Options{})
	assert.Equal(t, "Twin", m.opts.Name)
	assert.Equal(t, defaultTimeout, m.opts.Timeout)
	assert.False(t, m.ready)
	assert.NotNil(t, m.Init())
	assert.Equal(t, "Starting...", stripANSI(m.View()))
}

func TestModel_AskAndAnswer(t *testing.T) {
	svc := &fakeService{}
	m := newSizedModel(svc, Options{Name: "Lorenzo", TopK: 3})

	m = typeText(m, "What languages do you know?")
	m = submit(t, m)

	assert.False(t, m.pending)
	assert.Equal(t, "", m.input.Value())
	require.Len(t, m.transcript, 2)
	assert.Equal(t, speakerUser, m.transcript[0].from)
	assert.Equal(t, speakerTwin, m.transcript[1].from)
	assert.Equal(t, "I work mostly with C++ and Laravel.", m.transcript[1].text)
	assert.Equal(t, []string{"What languages do you know?"}, svc.queries)
	assert.Equal(t, 3, svc.opts[0].TopK)
	assert.Empty(t, svc.opts[0].ConversationHistory)

	require.Len(t, m.history, 2)
	assert.Equal(t, generation.RoleUser, m.history[0].Role)
	assert.Equal(t, generation.RoleAssistant, m.history[1].Role)
	assert.Equal(t, int64(120), m.status.UsageStats.TotalTokens)

	view := stripANSI(m.View())
	assert.Contains(t, view, "Lorenzo")
	assert.Contains(t, view, "I work mostly with C++ and Laravel.")
	assert.Contains(t, view, "120 tokens")
}

func TestModel_HistoryIsSentWithLaterQuestions(t *testing.T) {
	svc := &fakeService{}
	m := newSizedModel(svc, Options{FollowUp: true})

	m = submit(t, typeText(m, "first"))
	m = submit(t, typeText(m, "second"))

	require.Len(t, svc.opts, 2)
	hist := svc.opts[1].ConversationHistory
	require.Len(t, hist, 2)
	assert.Equal(t, "first", hist[0].Content)
	assert.Equal(t, "I work mostly with C++ and Laravel.\n\nWhich one do you enjoy more?", hist[1].Content)
	assert.True(t, svc.opts[1].GenerateFollowUp)
	assert.Equal(t, "Which one do you enjoy more?", m.transcript[3].followUp)
}

func TestModel_ErrorShowsPublicMessage(t *testing.T) {
	svc := &fakeService{err: fmt.Errorf("generating answer: %w", &generation.Error{
		Kind: generation.KindAuth, StatusCode: 401, Err: errors.New("bad key gsk_123"),
	})}
	m := newSizedModel(svc, Options{})

	m = submit(t, typeText(m, "hello"))

	require.Len(t, m.transcript, 2)
	assert.Equal(t, speakerError, m.transcript[1].from)
	assert.Equal(t, "generation service rejected its credentials", m.transcript[1].text)
	assert.Empty(t, m.history)
	assert.NotContains(t, stripANSI(m.View()), "gsk_123")
}

func TestModel_EnterIgnoredWhileBlankOrPending(t *testing.T) {
	m := newSizedModel(&fakeService{}, Options{})

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, updated.(Model).transcript)

	m = typeText(m, "one")
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = typeText(updated.(Model), "two")
	updated, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Len(t, updated.(Model).transcript, 1)
}

func TestModel_Keys(t *testing.T) {
	m := newSizedModel(&fakeService{}, Options{})
	m = submit(t, typeText(m, "hello"))

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlF})
	m = updated.(Model)
	assert.True(t, m.opts.FollowUp)

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlL})
	m = updated.(Model)
	assert.Empty(t, m.transcript)
	assert.Empty(t, m.history)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.True(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, updated.(Model).View())
}

func TestModel_StatusMsg(t *testing.T) {
	svc := &fakeService{}
	m := newSizedModel(svc, Options{})
	updated, _ := m.Update(m.fetchStatus()())
	m = updated.(Model)

	view := stripANSI(m.View())
	assert.Contains(t, view, "HEALTHY")
	assert.Contains(t, view, "12 facts · memory")
}

func TestAppendHistory(t *testing.T) {
	var hist []generation.Message
	for i := range maxHistory + 4 {
		hist = appendHistory(hist, generation.Message{Role: generation.RoleUser, Content: fmt.Sprint(i)})
	}
	require.Len(t, hist, maxHistory)
	assert.Equal(t, "4", hist[0].Content)
	assert.Equal(t, fmt.Sprint(maxHistory+3), hist[maxHistory-1].Content)
}

func TestStoreBadge(t *testing.T) {
	tests := []struct {
		name string
		info rag.SystemInfo
		want string
	}{
		{"not indexed", rag.SystemInfo{StoreStatus: rag.StoreHealthy}, "NOT INDEXED"},
		{"healthy", rag.SystemInfo{IsInitialized: true, StoreStatus: rag.StoreHealthy}, "HEALTHY"},
		{"down", rag.SystemInfo{IsInitialized: true, StoreStatus: rag.StoreDegraded}, "STORE DOWN"},
		{"fallback", rag.SystemInfo{IsInitialized: true, StoreStatus: rag.StoreDegraded, VectorInfo: &vectorstore.Info{}}, "DEGRADED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, stripANSI(storeBadge(tt.info)), tt.want)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "950 tokens", FormatTokens(950))
	assert.Equal(t, "12.5K tokens", FormatTokens(12_500))
	assert.Equal(t, "$0.0012", FormatCost(0.00123))
	assert.Equal(t, "120 tokens · $0.0001", FormatUsage(generation.Usage{TotalTokens: 120, Cost: 0.0001}))
	assert.Equal(t, "250.0ms", FormatLatency(250*time.Millisecond))
	assert.Equal(t, "1.5s", FormatLatency(1500*time.Millisecond))
}

// stripANSI removes SGR escape sequences.
func stripANSI(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && (s[j] < '@' || s[j] > '~') {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
