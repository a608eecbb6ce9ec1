// Package report renders audit results and coverage for the terminal.
package report

import (
	"github.com/charmbracelet/lipgloss"

	"trustaudit/internal/types"
)

// Semantic colors.
var (
	Destructive = lipgloss.Color("#e53935")
	Severe      = lipgloss.Color("#ff8a65")
	Warning     = lipgloss.Color("#FFC107")
	Info        = lipgloss.Color("#2196F3")
	Success     = lipgloss.Color("#8BC34A")
	Muted       = lipgloss.Color("#6b7280")
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(Muted)
	forcedStyle = lipgloss.NewStyle().Bold(true).Foreground(Warning)
	labelStyle  = lipgloss.NewStyle().Width(12).Foreground(Muted)
)

// RiskColor returns the color used for a risk level.
func RiskColor(level types.RiskLevel) lipgloss.Color {
	switch level {
	case types.RiskCritical:
		return Destructive
	case types.RiskSevere:
		return Severe
	case types.RiskModerate:
		return Warning
	case types.RiskLow:
		return Info
	case types.RiskTrusted:
		return Success
	}
	return Muted
}

// Badge renders a risk level as a colored label.
func Badge(level types.RiskLevel) string {
	return lipgloss.NewStyle().
		Bold(true).
		Padding(0, 1).
		Foreground(lipgloss.Color("#ffffff")).
		Background(RiskColor(level)).
		Render(string(level))
}
