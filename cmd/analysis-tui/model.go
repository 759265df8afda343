package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"stream-analyst/models"
)

// panelActions is the part of the app the terminal drives
type panelActions interface {
	Analyze(panelID, symbol string, protocol models.Protocol, locale string) (uint64, error)
	Cancel(panelID string) error
	Retry(panelID string) (uint64, error)
}

type snapshotMsg models.AnalysisSession

type panelClosedMsg struct{}

type actionDoneMsg struct {
	action string
	err    error
}

// chrome is the number of lines around the viewport
const chrome = 6

type model struct {
	actions   panelActions
	panel     string
	locale    string
	protocol  models.Protocol
	snapshots <-chan models.AnalysisSession

	session models.AnalysisSession
	status  string
	pending bool // analyze the input value once the program starts

	width  int
	height int

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	theme theme
}

func newModel(actions panelActions, panel, locale string, protocol models.Protocol, snapshots <-chan models.AnalysisSession) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.Placeholder = "Symbol, e.g. AAPL"
	input.CharLimit = 10
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	vp := viewport.New(0, 0)
	vp.MouseWheelEnabled = true

	return model{
		actions:   actions,
		panel:     panel,
		locale:    locale,
		protocol:  protocol,
		snapshots: snapshots,
		input:     input,
		viewport:  vp,
		spinner:   sp,
		theme:     newTheme(),
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick, waitSnapshot(m.snapshots)}
	if m.pending {
		cmds = append(cmds, m.analyzeCmd(m.input.Value()))
	}
	return tea.Batch(cmds...)
}

// waitSnapshot blocks for the next published session
func waitSnapshot(ch <-chan models.AnalysisSession) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return panelClosedMsg{}
		}
		return snapshotMsg(s)
	}
}

func (m model) analyzeCmd(symbol string) tea.Cmd {
	actions, panel, protocol, locale := m.actions, m.panel, m.protocol, m.locale
	return func() tea.Msg {
		_, err := actions.Analyze(panel, symbol, protocol, locale)
		return actionDoneMsg{action: "analyze", err: err}
	}
}

func (m model) cancelCmd() tea.Cmd {
	actions, panel := m.actions, m.panel
	return func() tea.Msg {
		return actionDoneMsg{action: "cancel", err: actions.Cancel(panel)}
	}
}

func (m model) retryCmd() tea.Cmd {
	actions, panel := m.actions, m.panel
	return func() tea.Msg {
		_, err := actions.Retry(panel)
		return actionDoneMsg{action: "retry", err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-4, 10)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chrome, 1)
		m.refresh()
		return m, nil

	case snapshotMsg:
		m.session = models.AnalysisSession(msg)
		m.refresh()
		return m, waitSnapshot(m.snapshots)

	case panelClosedMsg:
		return m, tea.Quit

	case actionDoneMsg:
		m.status = ""
		if msg.err != nil {
			m.status = msg.action + " failed: " + msg.err.Error()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			symbol := strings.TrimSpace(m.input.Value())
			if symbol == "" {
				return m, nil
			}
			return m, m.analyzeCmd(symbol)
		case "ctrl+x":
			return m, m.cancelCmd()
		case "ctrl+r":
			return m, m.retryCmd()
		case "tab":
			if m.protocol == models.ProtocolPhased {
				m.protocol = models.ProtocolStreaming
			} else {
				m.protocol = models.ProtocolPhased
			}
			return m, nil
		case "pgup", "pgdown", "up", "down":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// refresh re-renders the session into the viewport
func (m *model) refresh() {
	width := m.viewport.Width
	if width <= 0 {
		width = 80
	}
	m.viewport.SetContent(renderSession(m.session, m.theme, width))
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(m.theme.header.Render("Stream Analyst"))
	b.WriteString(m.theme.muted.Render("  panel " + m.panel + " · protocol " + protocolLabel(m.protocol)))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.session.Status.IsLive() {
		b.WriteString(m.spinner.View() + " ")
	}
	if m.status != "" {
		b.WriteString(m.theme.errorText.Render(m.status))
	} else {
		b.WriteString(m.theme.muted.Render("enter analyze · ctrl+x cancel · ctrl+r retry · tab protocol · esc quit"))
	}
	return b.String()
}

func protocolLabel(p models.Protocol) string {
	if p == models.ProtocolPhased {
		return "phased"
	}
	return "streaming"
}
