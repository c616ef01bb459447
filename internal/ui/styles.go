package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/volplayer/internal/registry"
)

// Dark studio palette.
var (
	Primary   = lipgloss.Color("#FF6B35")
	Secondary = lipgloss.Color("#1E88E5")
	Success   = lipgloss.Color("#4CAF50")
	Warning   = lipgloss.Color("#FFB74D")
	Error     = lipgloss.Color("#F44336")

	Text       = lipgloss.Color("#E0E0E0")
	TextBright = lipgloss.Color("#FFFFFF")
	Muted      = lipgloss.Color("#90A4AE")
	LiveGreen  = lipgloss.Color("#66BB6A")
	Offline    = lipgloss.Color("#424242")

	PanelBg    = lipgloss.Color("#161B26")
	HeaderBg   = lipgloss.Color("#1C2128")
	BorderDark = lipgloss.Color("#30363D")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(TextBright).
			Background(HeaderBg).
			Padding(0, 2).
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderDark).
			Foreground(Text).
			Padding(0, 1)

	PanelTitleStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Width(14)

	ValueStyle = lipgloss.NewStyle().
			Foreground(TextBright).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().Foreground(Success).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)
	InfoStyle    = lipgloss.NewStyle().Foreground(Secondary).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(Muted)
)

// StateBadge renders a session state as a colored label.
func StateBadge(state registry.SessionState) string {
	switch state {
	case registry.StatePlaying:
		return lipgloss.NewStyle().Foreground(LiveGreen).Bold(true).Render("● PLAYING")
	case registry.StateStarting:
		return WarningStyle.Render("◌ STARTING")
	case registry.StateError:
		return ErrorStyle.Render("✖ ERROR")
	default:
		return lipgloss.NewStyle().Foreground(Offline).Bold(true).Render("■ STOPPED")
	}
}

// LevelBadge renders a log level tag.
func LevelBadge(level string) string {
	switch level {
	case "error":
		return ErrorStyle.Render("ERR")
	case "warning":
		return WarningStyle.Render("WRN")
	case "info":
		return InfoStyle.Render("INF")
	default:
		return MutedStyle.Render("DBG")
	}
}
