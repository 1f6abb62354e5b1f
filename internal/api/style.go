package api

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("33"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// Title styles a heading.
func Title(s string) string { return titleStyle.Render(s) }

// Dim styles secondary text.
func Dim(s string) string { return dimStyle.Render(s) }

// Status prefixes msg with a colored marker: success, warning or failure.
func Status(ok, warn bool, msg string) string {
	switch {
	case !ok:
		return errorStyle.Render("✗ " + msg)
	case warn:
		return warnStyle.Render("! " + msg)
	default:
		return successStyle.Render("✓ " + msg)
	}
}
