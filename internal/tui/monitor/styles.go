package monitor

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mdai-dev/kiosk/internal/event"
	"github.com/mdai-dev/kiosk/internal/phase"
)

var (
	primaryColor   = lipgloss.Color("#A78BFA") // violet-400
	secondaryColor = lipgloss.Color("#10B981") // green
	warningColor   = lipgloss.Color("#F59E0B") // amber
	errorColor     = lipgloss.Color("#F87171") // red-400
	mutedColor     = lipgloss.Color("#9CA3AF")
	textColor      = lipgloss.Color("#F9FAFB")
	borderColor    = lipgloss.Color("#6B7280")
	blueColor      = lipgloss.Color("#60A5FA")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
	badgeStyle = lipgloss.NewStyle().Bold(true).Foreground(textColor).Padding(0, 1)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(borderColor).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(mutedColor).Width(12)
	helpStyle  = lipgloss.NewStyle().Foreground(mutedColor).MarginTop(1)
)

// phaseColor groups the pairing phases together and the capture phases
// together.
func phaseColor(p phase.Phase) lipgloss.Color {
	switch p {
	case phase.Idle:
		return borderColor
	case phase.PairingRequest, phase.HelloHuman, phase.ScanPrompt, phase.QrDisplay:
		return blueColor
	case phase.HumanDetect, phase.Processing:
		return warningColor
	case phase.Complete:
		return secondaryColor
	case phase.Error:
		return errorColor
	}
	return mutedColor
}

func phaseBadge(p phase.Phase) string {
	return badgeStyle.Background(phaseColor(p)).Render(p.String())
}

func eventStyle(e event.Event) lipgloss.Style {
	switch {
	case e.Error != "":
		return lipgloss.NewStyle().Foreground(errorColor)
	case e.Type == event.TypeWatchdog:
		return lipgloss.NewStyle().Foreground(warningColor)
	case e.Type == event.TypeBackend:
		return lipgloss.NewStyle().Foreground(blueColor)
	case e.Type == event.TypeState:
		return lipgloss.NewStyle().Foreground(textColor)
	}
	return mutedStyle
}
