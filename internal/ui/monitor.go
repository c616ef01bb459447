// Package ui is a terminal monitor for a running player.
package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/volplayer/internal/logger"
	"github.com/zsiec/volplayer/internal/playback"
	"github.com/zsiec/volplayer/internal/registry"
)

const (
	driftHistory = 60
	recentEvents = 8
)

// StatusSource is what the monitor polls; *playback.Player satisfies it.
type StatusSource interface {
	Status() playback.Status
}

type event struct {
	at      time.Time
	channel logger.Channel
	level   logger.Level
	message string
}

// Model is the bubbletea model of the monitor.
type Model struct {
	source   StatusSource
	interval time.Duration

	mu     sync.RWMutex
	status playback.Status
	drift  []float64 // milliseconds, oldest first
	events []event

	width    int
	height   int
	quitting bool
}

type tickMsg time.Time

// DoneMsg tells the monitor that playback ended; it renders the final
// status and quits.
type DoneMsg struct {
	Err error
}

// NewModel creates a monitor polling source every interval.
func NewModel(source StatusSource, interval time.Duration) *Model {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Model{
		source:   source,
		interval: interval,
		status:   source.Status(),
	}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return tickEvery(m.interval)
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		m.sample()
		return m, tickEvery(m.interval)

	case DoneMsg:
		m.sample()
		if msg.Err != nil {
			m.AddEvent(logger.ChannelInterface, logger.LevelError, msg.Err.Error())
		}
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) sample() {
	st := m.source.Status()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = st
	if st.State == registry.StatePlaying {
		m.drift = append(m.drift, float64(st.Drift)/float64(time.Millisecond))
		if len(m.drift) > driftHistory {
			m.drift = m.drift[len(m.drift)-driftHistory:]
		}
	}
}

// AddEvent appends a line to the recent events panel. Safe to call from any
// goroutine.
func (m *Model) AddEvent(channel logger.Channel, level logger.Level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event{at: time.Now(), channel: channel, level: level, message: message})
	if len(m.events) > recentEvents {
		m.events = m.events[len(m.events)-recentEvents:]
	}
}

// Sink returns a logger sink that feeds the events panel.
func (m *Model) Sink() logger.Sink {
	return logger.SinkFunc(func(channel logger.Channel, level logger.Level, message string, _ logger.Fields) {
		m.AddEvent(channel, level, message)
	})
}

// View implements tea.Model
func (m *Model) View() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	width := m.width
	if width == 0 {
		width = 100
	}
	st := m.status

	header := HeaderStyle.Width(width - 2).Render(fmt.Sprintf("volplayer  %s  %s",
		MutedStyle.Render(st.SessionID), StateBadge(st.State)))

	panelWidth := (width - 4) / 3
	vertical := width < 80
	if vertical {
		panelWidth = width - 2
	}
	panels := []string{
		m.progressPanel(st, panelWidth),
		m.syncPanel(st, panelWidth),
		m.countersPanel(st, panelWidth),
	}

	var body string
	if vertical {
		body = lipgloss.JoinVertical(lipgloss.Left, panels...)
	} else {
		body = lipgloss.JoinHorizontal(lipgloss.Top, panels...)
	}

	sections := []string{header, body, m.eventsPanel(width - 2)}
	if m.quitting {
		sections = append(sections, MutedStyle.Render("monitor stopped"))
	} else {
		sections = append(sections, MutedStyle.Render("q: quit"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func (m *Model) progressPanel(st playback.Status, width int) string {
	percent := 0
	if st.FrameCount > 0 && st.GeometryFrame >= 0 {
		percent = (st.GeometryFrame + 1) * 100 / st.FrameCount
	}
	lines := []string{
		PanelTitleStyle.Render("Geometry"),
		row("Frame", fmt.Sprintf("%s / %d", frameNumber(int64(st.GeometryFrame)), st.FrameCount)),
		row("Elapsed", fmt.Sprintf("%s / %s", formatDuration(st.Elapsed), formatDuration(st.Duration))),
		progressBar(percent, max(width-8, 10)),
	}
	return PanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m *Model) syncPanel(st playback.Status, width int) string {
	lines := []string{
		PanelTitleStyle.Render("Video sync"),
		row("Frame", frameNumber(st.VideoFrame)),
		row("Drift", driftStyle(st.Drift).Render(fmt.Sprintf("%+.1f ms", float64(st.Drift)/float64(time.Millisecond)))),
		sparkline(m.drift, max(width-4, 10)),
	}
	return PanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m *Model) countersPanel(st playback.Status, width int) string {
	errStyle := func(n int64) string {
		if n > 0 {
			return ErrorStyle.Render(formatNumber(n))
		}
		return ValueStyle.Render("0")
	}
	lines := []string{
		PanelTitleStyle.Render("Counters"),
		row("Rendered", formatNumber(st.Rendered)),
		row("Loops", formatNumber(st.Loops)),
		LabelStyle.Render("Geometry err") + errStyle(st.GeometryErrors),
		LabelStyle.Render("Video err") + errStyle(st.VideoErrors),
	}
	return PanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m *Model) eventsPanel(width int) string {
	lines := []string{PanelTitleStyle.Render("Events")}
	if m.status.LastError != "" {
		lines = append(lines, ErrorStyle.Render("last error: ")+truncate(m.status.LastError, width-16))
	}
	if len(m.events) == 0 {
		lines = append(lines, MutedStyle.Render("no events"))
	}
	for _, e := range m.events {
		prefix := fmt.Sprintf("%s %s %-9s ", MutedStyle.Render(e.at.Format("15:04:05")), LevelBadge(e.level.String()), e.channel)
		lines = append(lines, prefix+truncate(e.message, width-28))
	}
	return PanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func row(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

func frameNumber(n int64) string {
	if n < 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}

// driftStyle colors drift by how close it is to a frame period at 30 fps.
func driftStyle(d time.Duration) lipgloss.Style {
	if d < 0 {
		d = -d
	}
	switch {
	case d < 17*time.Millisecond:
		return SuccessStyle
	case d < 34*time.Millisecond:
		return WarningStyle
	default:
		return ErrorStyle
	}
}

func progressBar(percent, width int) string {
	percent = min(max(percent, 0), 100)
	filled := percent * width / 100
	return SuccessStyle.Render(strings.Repeat("█", filled)) +
		MutedStyle.Render(strings.Repeat("░", width-filled)) +
		fmt.Sprintf(" %3d%%", percent)
}

// sparkline scales data between its min and max over width cells; the
// newest samples are on the right.
func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return MutedStyle.Render(strings.Repeat("▁", width))
	}
	if len(data) > width {
		data = data[len(data)-width:]
	}

	lo, hi := data[0], data[0]
	for _, v := range data {
		lo, hi = min(lo, v), max(hi, v)
	}

	chars := []rune("▁▂▃▄▅▆▇█")
	var b strings.Builder
	b.WriteString(strings.Repeat(" ", width-len(data)))
	for _, v := range data {
		idx := 3
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * 7)
		}
		b.WriteRune(chars[idx])
	}
	return InfoStyle.Render(b.String())
}

func formatNumber(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

func formatDuration(d time.Duration) string {
	d = d.Round(100 * time.Millisecond)
	minutes := int(d / time.Minute)
	seconds := (d % time.Minute).Seconds()
	return fmt.Sprintf("%d:%04.1f", minutes, seconds)
}

func truncate(s string, n int) string {
	if n < 4 {
		n = 4
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
