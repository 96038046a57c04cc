// SPDX-License-Identifier: MPL-2.0

package cmd

import "github.com/charmbracelet/lipgloss"

// Color palette - shared hex colors for consistent theming across all CLI output.
// These colors are designed for dark terminal backgrounds with good contrast.
const (
	// ColorPrimary is purple - used for titles and headers.
	ColorPrimary = lipgloss.Color("#7C3AED")

	// ColorMuted is gray - used for subtitles and de-emphasized content.
	ColorMuted = lipgloss.Color("#6B7280")

	// ColorSuccess is green - used for completed steps.
	ColorSuccess = lipgloss.Color("#10B981")

	// ColorError is red - used for failed steps.
	ColorError = lipgloss.Color("#EF4444")

	// ColorWarning is amber - used for reorder notices and skipped steps.
	ColorWarning = lipgloss.Color("#F59E0B")

	// ColorHighlight is blue - used for step names and paths.
	ColorHighlight = lipgloss.Color("#3B82F6")
)

var (
	// TitleStyle is for primary headers and section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// SubtitleStyle is for secondary headers and descriptions.
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	// SuccessStyle is for success messages and positive indicators.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	// ErrorStyle is for error messages and failure indicators.
	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorError)

	// WarningStyle is for warning messages and caution indicators.
	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	// CmdStyle is for step names, paths and code.
	CmdStyle = lipgloss.NewStyle().
			Foreground(ColorHighlight)
)

// statusStyle picks the style for a step status.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "succeeded", "completed":
		return SuccessStyle
	case "failed":
		return ErrorStyle
	case "skipped", "pending":
		return WarningStyle
	default:
		return SubtitleStyle
	}
}
