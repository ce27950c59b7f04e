// Package ui is the terminal front end of the chat controller.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
	"github.com/zhouzirui/llmbot-chat/internal/model/settings"
	chatService "github.com/zhouzirui/llmbot-chat/internal/service/chat"
)

// Controller is what the UI drives.
type Controller interface {
	Snapshot() chatService.View
	Subscribe() (<-chan struct{}, func())
	Start(ctx context.Context, resumeID string) error
	NewChat(ctx context.Context) string
	Submit(query string) error
	Rate(index int, verdict chat.Verdict) (chat.Verdict, error)
	UpdateSettings(ctx context.Context, edit func(*settings.Settings)) error
	ExpandSettings(expanded bool)
}

// changedMsg signals that the controller state moved on.
type changedMsg struct{}

// actionDoneMsg reports the outcome of a command run off the update loop.
type actionDoneMsg struct {
	status string
	err    error
}

// Model is the bubbletea model.
type Model struct {
	ctx     context.Context
	ctrl    Controller
	changes <-chan struct{}

	input      textinput.Model
	transcript viewport.Model
	spinner    spinner.Model
	theme      theme

	view   chatService.View
	status string
	err    error

	width  int
	height int
}

// New builds the model. The returned function unsubscribes from the
// controller and should be called once the program exits.
func New(ctx context.Context, ctrl Controller) (Model, func()) {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 8000
	input.Placeholder = "Ask something, or /help"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	changes, unsubscribe := ctrl.Subscribe()
	m := Model{
		ctx:        ctx,
		ctrl:       ctrl,
		changes:    changes,
		input:      input,
		transcript: viewport.New(0, 0),
		spinner:    sp,
		theme:      newTheme(),
		view:       ctrl.Snapshot(),
	}
	return m, unsubscribe
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitChange(m.changes))
}

func waitChange(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = max(msg.Width, 0)
		m.height = max(msg.Height, 0)
		m.layout()
		m.render()
	case changedMsg:
		m.view = m.ctrl.Snapshot()
		m.layout()
		m.render()
		cmds = append(cmds, waitChange(m.changes))
	case actionDoneMsg:
		m.status = msg.status
		m.err = msg.err
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.view.Busy {
			m.render()
		}
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.Reset()
			cmd := m.handleLine(line)
			return m, cmd
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.transcript, cmd = m.transcript.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}
	m.input.Width = max(m.width-4, 1)

	// header, status line, input line and the optional settings panel
	reserved := 4
	if m.view.SettingsExpanded {
		reserved += lipgloss.Height(m.settingsPanel())
	}
	m.transcript.Width = m.width
	m.transcript.Height = max(m.height-reserved, 1)
}

func (m *Model) render() {
	atBottom := m.transcript.AtBottom()
	m.transcript.SetContent(m.renderTranscript())
	if atBottom || m.view.Busy {
		m.transcript.GotoBottom()
	}
}

func (m Model) renderTranscript() string {
	width := max(m.width-2, 20)
	body := lipgloss.NewStyle().Width(width)

	var sb strings.Builder
	for _, msg := range m.view.Messages {
		sb.WriteString(m.messageHeader(msg))
		sb.WriteString("\n")
		if msg.Trace != "" {
			sb.WriteString(m.theme.trace.Width(width).Render(strings.TrimSpace(msg.Trace)))
			sb.WriteString("\n")
		}
		sb.WriteString(body.Render(msg.Content))
		sb.WriteString("\n\n")
	}
	if m.view.LoadingHistory {
		sb.WriteString(m.spinner.View() + " loading history\n")
	}
	if f := m.view.InFlight; f != nil {
		sb.WriteString(m.theme.ai.Render("AI") + " " + m.spinner.View() + "\n")
		if f.Trace != "" {
			sb.WriteString(m.theme.trace.Width(width).Render(strings.TrimSpace(f.Trace)))
			sb.WriteString("\n")
		}
		sb.WriteString(body.Render(f.Content))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m Model) messageHeader(msg chatService.MessageView) string {
	role := m.theme.ai.Render("AI")
	if msg.Role == chat.RoleHuman {
		role = m.theme.human.Render("You")
	}
	head := m.theme.index.Render(fmt.Sprintf("[%d]", msg.Index)) + " " + role
	switch msg.Feedback {
	case chat.VerdictPositive:
		head += " " + m.theme.positive.Render("▲")
	case chat.VerdictNegative:
		head += " " + m.theme.negative.Render("▼")
	}
	return head
}

func (m Model) settingsPanel() string {
	s := m.view.Settings
	rows := [][2]string{
		{settings.KeyScenario, s.Scenario},
		{settings.KeyChatbot, s.ChatbotID},
		{settings.KeyModel, s.ModelID},
		{settings.KeyEndpoint, s.Endpoint},
		{settings.KeyTemperature, s.Temperature},
		{settings.KeyMaxTokens, s.MaxTokens},
		{settings.KeyGoodsID, s.GoodsID},
		{settings.KeyUseHistory, fmt.Sprint(s.UseHistory)},
		{settings.KeyEnableTrace, fmt.Sprint(s.EnableTrace)},
		{settings.KeyOnlyRAGTool, fmt.Sprint(s.OnlyRAGTool)},
		{settings.KeyAdditionalConfig, s.AdditionalConfig},
	}

	var lines []string
	for _, row := range rows {
		line := m.theme.settingKey.Render(row[0]) + " = " + row[1]
		if field, ok := settings.FieldForKey(row[0]); ok {
			if code, bad := m.view.FieldErrors[field]; bad {
				line += "  " + m.theme.errorStatus.Render(code)
			}
		}
		lines = append(lines, line)
	}
	lines = append(lines,
		m.theme.help.Render("models: "+strings.Join(m.view.Models, ", ")),
		m.theme.help.Render("chatbots: "+strings.Join(m.view.Chatbots, ", ")),
	)
	return m.theme.panel.Render(strings.Join(lines, "\n"))
}

func (m Model) View() string {
	label := m.view.Connection
	style, ok := m.theme.connection[label]
	if !ok {
		style = m.theme.status
	}
	header := m.theme.header.Render(fmt.Sprintf("session %s  %s", m.view.SessionID, style.Render("● "+label)))

	parts := []string{header, m.transcript.View()}
	if m.view.SettingsExpanded {
		parts = append(parts, m.settingsPanel())
	}
	parts = append(parts, m.statusLine(), m.input.View())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) statusLine() string {
	switch {
	case m.err != nil:
		return m.theme.errorStatus.Render(describe(m.err))
	case m.view.Notice != "":
		return m.theme.errorStatus.Render(m.view.Notice)
	case m.status != "":
		return m.theme.status.Render(m.status)
	}
	return m.theme.help.Render("enter to send · /help for commands · esc to quit")
}

func describe(err error) string {
	var verr *chatService.ValidationError
	if errors.As(err, &verr) {
		return fmt.Sprintf("%s: %s", verr.Field, verr.Code)
	}
	return err.Error()
}
