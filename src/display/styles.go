// Package display renders build history, build detail and issues as terminal tables.
package display

import (
	"github.com/charmbracelet/lipgloss"

	"buildwatch-agent/src/provider"
)

// StyleConfig holds the colors of the terminal output.
type StyleConfig struct {
	PrimaryBlue   lipgloss.Color
	TextPrimary   lipgloss.Color
	TextSecondary lipgloss.Color
	BorderColor   lipgloss.Color

	Success lipgloss.Color
	Failure lipgloss.Color
	Running lipgloss.Color
	Ignored lipgloss.Color
}

// DefaultStyles returns the default color palette
func DefaultStyles() *StyleConfig {
	return &StyleConfig{
		PrimaryBlue:   lipgloss.Color("#8AB4F8"),
		TextPrimary:   lipgloss.Color("#E8EAED"),
		TextSecondary: lipgloss.Color("#9AA0A6"),
		BorderColor:   lipgloss.Color("#5F6368"),
		Success:       lipgloss.Color("#34A853"),
		Failure:       lipgloss.Color("#EA4335"),
		Running:       lipgloss.Color("#FBBC04"),
		Ignored:       lipgloss.Color("#A142F4"),
	}
}

// TitleStyle returns the style of table titles.
func (s *StyleConfig) TitleStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.PrimaryBlue).
		Bold(true)
}

// HeaderStyle returns the style of column headers.
func (s *StyleConfig) HeaderStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.TextSecondary).
		Bold(true)
}

// MutedStyle returns the style of secondary text.
func (s *StyleConfig) MutedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(s.TextSecondary)
}

// PanelStyle returns a bordered container style.
func (s *StyleConfig) PanelStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(s.BorderColor).
		Padding(0, 1)
}

// BuildStyle colors a build by its state and outcome.
func (s *StyleConfig) BuildStyle(state provider.BuildState, status string) lipgloss.Style {
	style := lipgloss.NewStyle().Foreground(s.TextPrimary)
	switch {
	case state != provider.StateFinished:
		return style.Foreground(s.Running)
	case status == provider.StatusSuccess:
		return style.Foreground(s.Success)
	case status == provider.StatusFailure || status == provider.StatusError:
		return style.Foreground(s.Failure)
	}
	return style
}

// TestStyle colors a test occurrence by status.
func (s *StyleConfig) TestStyle(status provider.TestStatus) lipgloss.Style {
	switch status {
	case provider.TestOK:
		return lipgloss.NewStyle().Foreground(s.Success)
	case provider.TestFailure:
		return lipgloss.NewStyle().Foreground(s.Failure).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(s.Ignored)
	}
}
