package ui

import "github.com/charmbracelet/lipgloss"

type theme struct {
	header      lipgloss.Style
	human       lipgloss.Style
	ai          lipgloss.Style
	index       lipgloss.Style
	trace       lipgloss.Style
	positive    lipgloss.Style
	negative    lipgloss.Style
	status      lipgloss.Style
	errorStatus lipgloss.Style
	panel       lipgloss.Style
	settingKey  lipgloss.Style
	help        lipgloss.Style
	connection  map[string]lipgloss.Style
}

func newTheme() theme {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	amber := lipgloss.Color("#ffd166")
	muted := lipgloss.Color("#9ca3d8")

	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderBottom(true).
			BorderForeground(blue),
		human:       lipgloss.NewStyle().Foreground(mint).Bold(true),
		ai:          lipgloss.NewStyle().Foreground(blue).Bold(true),
		index:       lipgloss.NewStyle().Foreground(muted),
		trace:       lipgloss.NewStyle().Foreground(muted).Italic(true),
		positive:    lipgloss.NewStyle().Foreground(mint),
		negative:    lipgloss.NewStyle().Foreground(pink),
		status:      lipgloss.NewStyle().Foreground(blue),
		errorStatus: lipgloss.NewStyle().Foreground(pink).Bold(true),
		panel: lipgloss.NewStyle().
			Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted),
		settingKey: lipgloss.NewStyle().Foreground(blue),
		help:       lipgloss.NewStyle().Foreground(muted),
		connection: map[string]lipgloss.Style{
			"pending": lipgloss.NewStyle().Foreground(muted),
			"loading": lipgloss.NewStyle().Foreground(amber),
			"success": lipgloss.NewStyle().Foreground(mint),
			"closing": lipgloss.NewStyle().Foreground(amber),
			"error":   lipgloss.NewStyle().Foreground(pink),
		},
	}
}
