// Package watch implements the terminal progress view for one root job.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusQueued  lipgloss.Style

	Border lipgloss.Style
	Title  lipgloss.Style
	Dim    lipgloss.Style
	Accent lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusQueued:  lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Accent: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
	}
}

// StatusStyle picks the colour for a ledger status.
func (t Theme) StatusStyle(status string) lipgloss.Style {
	switch status {
	case "COMPLETED":
		return t.StatusOK
	case "FAILED":
		return t.StatusFailed
	case "IN_PROGRESS", "RETRYING":
		return t.StatusRunning
	default:
		return t.StatusQueued
	}
}
