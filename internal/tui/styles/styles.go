// ABOUTME: Shared lipgloss styles for consistent terminal output
// ABOUTME: Defines colors, text styles and the token lifetime bar

package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Colors - Core palette
	Primary   = lipgloss.Color("#7C3AED") // Purple
	Secondary = lipgloss.Color("#10B981") // Green
	Warning   = lipgloss.Color("#F59E0B") // Amber
	Danger    = lipgloss.Color("#EF4444") // Red
	Muted     = lipgloss.Color("#6B7280") // Gray
	Text      = lipgloss.Color("#F9FAFB") // Light
	Accent    = lipgloss.Color("#8B5CF6") // Lighter purple for highlights
	Info      = lipgloss.Color("#3B82F6") // Blue

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary)

	Subtitle = lipgloss.NewStyle().
			Foreground(Muted)

	// Status indicators
	StatusOK = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	StatusWarning = lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true)

	StatusCritical = lipgloss.NewStyle().
			Foreground(Danger).
			Bold(true)

	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Muted).
		Padding(0, 1)

	Help = lipgloss.NewStyle().
		Foreground(Muted)

	// KeyStyle labels a field
	KeyStyle = lipgloss.NewStyle().
			Foreground(Accent).
			Bold(true)

	// ValueStyle emphasizes data
	ValueStyle = lipgloss.NewStyle().
			Foreground(Text).
			Bold(true)
)

// LifetimeBar renders how much of a token's lifetime remains.
// percent is the remaining share, 0 to 100.
func LifetimeBar(percent float64, width int) string {
	filled := int(percent / 100.0 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	color := Secondary
	if percent <= 25 {
		color = Warning
	}
	if percent <= 5 {
		color = Danger
	}

	return lipgloss.NewStyle().Foreground(color).Render(bar)
}
