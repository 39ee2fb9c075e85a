// Package cli renders briefings, growth reports and progress for the terminal.
package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/opsflow/internal/model"
)

// Palette.
var (
	accentColor   = lipgloss.Color("#5B8DEF")
	inflowColor   = lipgloss.Color("#4ECDC4")
	cautionColor  = lipgloss.Color("#FFE66D")
	outflowColor  = lipgloss.Color("#FF6B6B")
	criticalColor = lipgloss.Color("#D7263D")
	mutedColor    = lipgloss.Color("#666666")
)

var (
	// TitleStyle heads a report.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor)

	// SectionStyle heads a block inside a report.
	SectionStyle = lipgloss.NewStyle().Bold(true).Foreground(mutedColor).MarginTop(1)

	// MutedStyle is for timestamps, hints and hashtags.
	MutedStyle = lipgloss.NewStyle().Foreground(mutedColor)

	// SnapshotStyle frames the financial snapshot.
	SnapshotStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Width(18).Foreground(mutedColor)

	inflowStyle  = lipgloss.NewStyle().Foreground(inflowColor)
	outflowStyle = lipgloss.NewStyle().Foreground(outflowColor)
	cautionStyle = lipgloss.NewStyle().Foreground(cautionColor)
)

var severityStyles = map[model.Severity]lipgloss.Style{
	model.SeverityLow:      MutedStyle,
	model.SeverityMedium:   cautionStyle,
	model.SeverityHigh:     outflowStyle,
	model.SeverityCritical: lipgloss.NewStyle().Bold(true).Foreground(criticalColor),
}

var impactStyles = map[string]lipgloss.Style{
	"high":   cautionStyle,
	"medium": lipgloss.NewStyle().Bold(true),
	"low":    MutedStyle,
}

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠️"
	BulletIcon  = "•"
)

// FormatSuccess prefixes message with a check mark.
func FormatSuccess(message string) string {
	return inflowStyle.Render(SuccessIcon + " " + message)
}

// FormatError prefixes message with a cross.
func FormatError(message string) string {
	return outflowStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning prefixes message with a warning sign.
func FormatWarning(message string) string {
	return cautionStyle.Render(WarningIcon + " " + message)
}

// cashStyle colors money by direction.
func cashStyle(v float64) lipgloss.Style {
	if v < 0 {
		return outflowStyle
	}
	return inflowStyle
}

func severityStyle(s model.Severity) lipgloss.Style {
	if st, ok := severityStyles[s]; ok {
		return st
	}
	return MutedStyle
}

func impactStyle(impact string) lipgloss.Style {
	if st, ok := impactStyles[impact]; ok {
		return st
	}
	return impactStyles["medium"]
}
