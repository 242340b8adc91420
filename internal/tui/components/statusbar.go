package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/devcost/internal/tui/theme"
)

// RenderStatusBar renders the bottom key hints with a right-aligned note.
func RenderStatusBar(width int, note string) string {
	t := theme.Active

	left := " [r]efresh  [b]ackfill  [q]uit"
	right := ""
	if note != "" {
		right = note + " "
	}

	padding := width - lipgloss.Width(left) - lipgloss.Width(right)
	if padding < 0 {
		padding = 0
	}

	return lipgloss.NewStyle().
		Foreground(t.TextMuted).
		Width(width).
		Render(left + strings.Repeat(" ", padding) + right)
}
