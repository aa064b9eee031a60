// Package tui implements the terminal chat with the digital twin.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/digitaltwin/internal/generation"
	"github.com/fyrsmithlabs/digitaltwin/internal/rag"
)

const (
	// maxHistory bounds the turns sent with each query.
	maxHistory = 20

	// Rows used by the header, input box and footer.
	chromeHeight = 6

	defaultTimeout = 90 * time.Second
)

// Service is the part of the query pipeline the chat uses.
type Service interface {
	QueryWithResponse(ctx context.Context, query string, opts rag.QueryOptions) (*rag.QueryResult, error)
	SystemInfo(ctx context.Context) rag.SystemInfo
}

// Options configures the chat.
type Options struct {
	// Name labels the twin's turns. Defaults to "Twin".
	Name     string
	TopK     int
	FollowUp bool
	// Timeout bounds each question. Defaults to 90s.
	Timeout time.Duration
}

type speaker int

const (
	speakerUser speaker = iota
	speakerTwin
	speakerError
)

type entry struct {
	from     speaker
	text     string
	followUp string
	meta     string
}

// Model is the BubbleTea chat model. Conversation history is kept here,
// client side, and sent with every question.
type Model struct {
	ctx     context.Context
	service Service
	opts    Options

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	transcript []entry
	history    []generation.Message
	status     rag.SystemInfo
	pending    bool
	ready      bool
	width      int
	quitting   bool
}

// Message types
type answerMsg struct {
	query   string
	result  *rag.QueryResult
	elapsed time.Duration
}
type errMsg struct{ err error }
type statusMsg rag.SystemInfo

// NewModel creates a chat model. ctx bounds every request it makes.
func NewModel(ctx context.Context, service Service, opts Options) Model {
	if opts.Name == "" {
		opts.Name = "Twin"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	ti := textinput.New()
	ti.Placeholder = "Ask me anything about my work..."
	ti.CharLimit = rag.MaxQueryLength
	ti.Prompt = "› "
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = dimStyle

	return Model{
		ctx:      ctx,
		service:  service,
		opts:     opts,
		viewport: viewport.New(80, 20),
		input:    ti,
		spinner:  sp,
	}
}

// Init loads the status line and starts the cursor blinking.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.fetchStatus())
}

// fetchStatus reads the service status.
func (m Model) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		return statusMsg(m.service.SystemInfo(m.ctx))
	}
}

// ask sends query with a snapshot of the history.
func (m Model) ask(query string) tea.Cmd {
	history := append([]generation.Message(nil), m.history...)
	opts := rag.QueryOptions{
		TopK:                m.opts.TopK,
		GenerateFollowUp:    m.opts.FollowUp,
		ConversationHistory: history,
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, m.opts.Timeout)
		defer cancel()

		start := time.Now()
		res, err := m.service.QueryWithResponse(ctx, query, opts)
		if err != nil {
			return errMsg{err}
		}
		return answerMsg{query: query, result: res, elapsed: time.Since(start)}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chromeHeight, 3)
		m.input.Width = max(msg.Width-8, 10)
		m.ready = true
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyCtrlF:
			m.opts.FollowUp = !m.opts.FollowUp
			return m, nil
		case tea.KeyCtrlL:
			m.transcript = nil
			m.history = nil
			m.refresh()
			return m, nil
		case tea.KeyEnter:
			query := strings.TrimSpace(m.input.Value())
			if query == "" || m.pending {
				return m, nil
			}
			m.input.Reset()
			m.pending = true
			m.transcript = append(m.transcript, entry{from: speakerUser, text: query})
			m.refresh()
			return m, tea.Batch(m.ask(query), m.spinner.Tick)
		}

	case answerMsg:
		m.pending = false
		res := msg.result
		m.transcript = append(m.transcript, entry{
			from:     speakerTwin,
			text:     res.Response,
			followUp: res.FollowUpQuestion,
			meta:     fmt.Sprintf("%d sources · %s", len(res.SearchResults), FormatLatency(msg.elapsed)),
		})
		m.status.UsageStats = res.UsageStats

		reply := res.Response
		if res.FollowUpQuestion != "" {
			reply += "\n\n" + res.FollowUpQuestion
		}
		m.history = appendHistory(m.history,
			generation.Message{Role: generation.RoleUser, Content: msg.query},
			generation.Message{Role: generation.RoleAssistant, Content: reply},
		)
		m.refresh()
		return m, m.fetchStatus()

	case errMsg:
		m.pending = false
		m.transcript = append(m.transcript, entry{from: speakerError, text: rag.PublicMessage(msg.err)})
		m.refresh()
		return m, m.fetchStatus()

	case statusMsg:
		m.status = rag.SystemInfo(msg)
		return m, nil

	case spinner.TickMsg:
		if !m.pending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	if scrollsTranscript(msg) {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// scrollsTranscript reports whether msg goes to the viewport. Typed text
// belongs to the input, so only paging keys are forwarded.
func scrollsTranscript(msg tea.Msg) bool {
	k, ok := msg.(tea.KeyMsg)
	if !ok {
		return true
	}
	switch k.Type {
	case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
		return true
	}
	return false
}

// appendHistory appends turns and keeps the most recent maxHistory.
func appendHistory(history []generation.Message, turns ...generation.Message) []generation.Message {
	history = append(history, turns...)
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	return history
}

// refresh re-renders the transcript into the viewport and scrolls to the end.
func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	if len(m.transcript) == 0 {
		return dimStyle.Render(fmt.Sprintf("Hi, I'm %s. Ask me about my projects, skills or experience.", m.opts.Name))
	}

	wrap := lipgloss.NewStyle().Width(max(m.width-2, 20))
	var b strings.Builder
	for i, e := range m.transcript {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch e.from {
		case speakerUser:
			b.WriteString(userLabelStyle.Render("You") + "\n")
			b.WriteString(wrap.Render(e.text))
		case speakerTwin:
			b.WriteString(twinLabelStyle.Render(m.opts.Name) + "\n")
			b.WriteString(wrap.Render(e.text))
			if e.followUp != "" {
				b.WriteString("\n\n" + wrap.Inherit(followUpStyle).Render(e.followUp))
			}
			if e.meta != "" {
				b.WriteString("\n" + dimStyle.Render(e.meta))
			}
		case speakerError:
			b.WriteString(errorStyle.Render("⚠ " + e.text))
		}
	}
	return b.String()
}

// View renders the chat
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return dimStyle.Render("Starting...")
	}

	header := headerStyle.Render(" "+m.opts.Name+" ") + "  " + storeBadge(m.status)
	if vi := m.status.VectorInfo; vi != nil {
		header += "  " + dimStyle.Render(fmt.Sprintf("%d facts · %s", vi.VectorCount, vi.Provider))
	}

	input := inputStyle.Width(max(m.width-2, 10)).Render(m.input.View())
	if m.pending {
		input = inputStyle.Width(max(m.width-2, 10)).Render(m.spinner.View() + dimStyle.Render(" thinking..."))
	}

	followUp := "off"
	if m.opts.FollowUp {
		followUp = "on"
	}
	footer := footerKeyStyle.Render("[enter]") + footerStyle.Render(" ask  ") +
		footerKeyStyle.Render("[ctrl+f]") + footerStyle.Render(" follow-ups "+followUp+"  ") +
		footerKeyStyle.Render("[ctrl+l]") + footerStyle.Render(" clear  ") +
		footerKeyStyle.Render("[esc]") + footerStyle.Render(" quit  ") +
		valueStyle.Render(FormatUsage(m.status.UsageStats))

	return header + "\n" + m.viewport.View() + "\n" + input + "\n" + footer
}
