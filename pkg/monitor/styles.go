package monitor

import "github.com/charmbracelet/lipgloss"

var (
	salmonPink  = lipgloss.Color("#FFB3BA")
	mintGreen   = lipgloss.Color("#A8E6CF")
	amber       = lipgloss.Color("#FFD59E")
	mutedGray   = lipgloss.Color("#6B7280")
	brightWhite = lipgloss.Color("#F9FAFB")
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(salmonPink).
			Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(mutedGray).
			Padding(0, 1)

	failureStyle = lipgloss.NewStyle().
			Foreground(salmonPink)

	eventStyle = lipgloss.NewStyle().
			Foreground(brightWhite)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedGray).
			Italic(true)

	tableStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(salmonPink)
)

// stateStyle colours a handle state.
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "stable":
		return lipgloss.NewStyle().Foreground(mintGreen)
	case "recovering":
		return lipgloss.NewStyle().Foreground(amber)
	default:
		return lipgloss.NewStyle().Foreground(salmonPink)
	}
}
