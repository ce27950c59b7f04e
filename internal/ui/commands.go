package ui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
	"github.com/zhouzirui/llmbot-chat/internal/model/settings"
)

const helpText = "/new · /resume <session> · /up <n> · /down <n> · /set <key> <value> · /settings · /quit"

// handleLine runs one line of input: a slash command or a query.
func (m *Model) handleLine(line string) tea.Cmd {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return m.submit(line)
	}

	name, rest, _ := strings.Cut(trimmed, " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "/quit", "/exit":
		return tea.Quit
	case "/help":
		m.status, m.err = helpText, nil
		return nil
	case "/new":
		return m.action(func() (string, error) {
			return "started session " + m.ctrl.NewChat(m.ctx), nil
		})
	case "/resume":
		if rest == "" {
			return m.fail(fmt.Errorf("usage: /resume <session>"))
		}
		return m.action(func() (string, error) {
			if err := m.ctrl.Start(m.ctx, rest); err != nil {
				return "", err
			}
			return "resumed " + rest, nil
		})
	case "/up", "/down":
		verdict := chat.VerdictPositive
		if name == "/down" {
			verdict = chat.VerdictNegative
		}
		index, err := strconv.Atoi(rest)
		if err != nil {
			return m.fail(fmt.Errorf("usage: %s <message index>", name))
		}
		return m.action(func() (string, error) {
			next, err := m.ctrl.Rate(index, verdict)
			if err != nil {
				return "", err
			}
			if next == chat.VerdictNone {
				return fmt.Sprintf("cleared feedback on [%d]", index), nil
			}
			return fmt.Sprintf("rated [%d] %s", index, next), nil
		})
	case "/set":
		key, value, _ := strings.Cut(rest, " ")
		value = strings.TrimSpace(value)
		if !knownKey(key) {
			return m.fail(fmt.Errorf("unknown setting %q, one of: %s", key, strings.Join(settings.Keys(), ", ")))
		}
		return m.action(func() (string, error) {
			err := m.ctrl.UpdateSettings(m.ctx, func(s *settings.Settings) {
				s.Apply(key, value)
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s = %s", key, value), nil
		})
	case "/settings":
		expanded := !m.view.SettingsExpanded
		m.ctrl.ExpandSettings(expanded)
		return nil
	}
	return m.fail(fmt.Errorf("unknown command %s", name))
}

func (m *Model) submit(query string) tea.Cmd {
	return m.action(func() (string, error) {
		if err := m.ctrl.Submit(query); err != nil {
			return "", err
		}
		return "", nil
	})
}

// action runs fn off the update loop; controller calls may touch the
// network.
func (m *Model) action(fn func() (string, error)) tea.Cmd {
	m.err = nil
	return func() tea.Msg {
		status, err := fn()
		return actionDoneMsg{status: status, err: err}
	}
}

func (m *Model) fail(err error) tea.Cmd {
	m.status, m.err = "", err
	return nil
}

func knownKey(key string) bool {
	for _, k := range settings.Keys() {
		if k == key {
			return true
		}
	}
	return false
}
