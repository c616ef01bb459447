package ui

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/volplayer/internal/logger"
	"github.com/zsiec/volplayer/internal/playback"
	"github.com/zsiec/volplayer/internal/registry"
)

type fakeSource struct {
	mu     sync.Mutex
	status playback.Status
}

func (f *fakeSource) Status() playback.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSource) set(fn func(*playback.Status)) {
	f.mu.Lock()
	fn(&f.status)
	f.mu.Unlock()
}

func newSource() *fakeSource {
	return &fakeSource{status: playback.Status{
		SessionID:     "session-1",
		State:         registry.StateStarting,
		GeometryFrame: -1,
		VideoFrame:    -1,
		FrameCount:    300,
		Duration:      10 * time.Second,
	}}
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestModelSamplesOnTick(t *testing.T) {
	src := newSource()
	m := NewModel(src, 10*time.Millisecond)
	require.NotNil(t, m.Init())

	view := m.View()
	assert.Contains(t, view, "session-1")
	assert.Contains(t, view, "STARTING")

	src.set(func(s *playback.Status) {
		s.State = registry.StatePlaying
		s.GeometryFrame = 149
		s.VideoFrame = 150
		s.Drift = 4 * time.Millisecond
		s.Elapsed = 5 * time.Second
		s.Rendered = 1500
	})
	_, cmd := m.Update(tickMsg(time.Now()))
	require.NotNil(t, cmd, "ticks keep coming")

	view = m.View()
	assert.Contains(t, view, "PLAYING")
	assert.Contains(t, view, "149 / 300")
	assert.Contains(t, view, "50%")
	assert.Contains(t, view, "+4.0 ms")
	assert.Contains(t, view, "0:05.0 / 0:10.0")
	assert.Contains(t, view, "1.5K")
	assert.Equal(t, []float64{4}, m.drift)
}

func TestModelDriftHistoryBounded(t *testing.T) {
	src := newSource()
	src.status.State = registry.StatePlaying
	m := NewModel(src, time.Millisecond)

	for i := 0; i < driftHistory+10; i++ {
		src.set(func(s *playback.Status) { s.Drift = time.Duration(i) * time.Millisecond })
		m.Update(tickMsg(time.Now()))
	}
	require.Len(t, m.drift, driftHistory)
	assert.Equal(t, float64(driftHistory+9), m.drift[driftHistory-1])

	src.set(func(s *playback.Status) { s.State = registry.StateStopped })
	m.Update(tickMsg(time.Now()))
	assert.Len(t, m.drift, driftHistory, "only playing samples are kept")
}

func TestModelQuit(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.Msg
	}{
		{"q", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}},
		{"ctrl+c", tea.KeyMsg{Type: tea.KeyCtrlC}},
		{"done", DoneMsg{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewModel(newSource(), time.Millisecond)
			_, cmd := m.Update(tt.msg)
			assert.True(t, isQuit(cmd))
			assert.Contains(t, m.View(), "monitor stopped")

			_, cmd = m.Update(tickMsg(time.Now()))
			assert.Nil(t, cmd, "no ticks after quitting")
		})
	}

	m := NewModel(newSource(), time.Millisecond)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.Nil(t, cmd)
}

func TestModelDoneWithError(t *testing.T) {
	src := newSource()
	src.status.State = registry.StateError
	src.status.LastError = "device lost"
	m := NewModel(src, time.Millisecond)

	m.Update(DoneMsg{Err: errors.New("device lost")})
	view := m.View()
	assert.Contains(t, view, "ERROR")
	assert.Contains(t, view, "last error: device lost")
	require.Len(t, m.events, 1)
	assert.Equal(t, logger.LevelError, m.events[0].level)
}

func TestModelEvents(t *testing.T) {
	m := NewModel(newSource(), time.Millisecond)
	assert.Contains(t, m.View(), "no events")

	channels := logger.NewDisabledChannels()
	channels.SetSink(logger.ChannelGeometry, m.Sink())
	channels.SetLevels(logger.ChannelGeometry, logger.LevelAll)
	channels.SetEnabled(logger.ChannelGeometry, true)
	log := channels.Logger(logger.ChannelGeometry)

	for i := 0; i < recentEvents+3; i++ {
		log.Warnf("frame %d skipped", i)
	}
	channels.Logger(logger.ChannelAV).Error("not routed")

	require.Len(t, m.events, recentEvents)
	assert.Equal(t, fmt.Sprintf("frame %d skipped", recentEvents+2), m.events[recentEvents-1].message)
	assert.Equal(t, logger.ChannelGeometry, m.events[0].channel)

	view := m.View()
	assert.Contains(t, view, "WRN")
	assert.Contains(t, view, "frame 10 skipped")
	assert.NotContains(t, view, "not routed")
}

func TestModelNarrowLayout(t *testing.T) {
	m := NewModel(newSource(), time.Millisecond)
	m.Update(tea.WindowSizeMsg{Width: 60, Height: 40})

	view := m.View()
	geometry := strings.Index(view, "Geometry")
	videoSync := strings.Index(view, "Video sync")
	require.True(t, geometry >= 0 && videoSync >= 0)
	assert.Greater(t, strings.Count(view[geometry:videoSync], "\n"), 2, "panels stack vertically")
}

func TestSparkline(t *testing.T) {
	line := []rune(stripANSI(sparkline([]float64{0, 7, 3.5}, 5)))
	assert.Equal(t, []rune("  ▁█▄"), line)

	flat := []rune(stripANSI(sparkline([]float64{2, 2}, 2)))
	assert.Equal(t, []rune("▄▄"), flat)

	assert.Equal(t, "▁▁▁", stripANSI(sparkline(nil, 3)))
	assert.Len(t, []rune(stripANSI(sparkline(make([]float64, 20), 8))), 8)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1.5K", formatNumber(1500))
	assert.Equal(t, "2.0M", formatNumber(2_000_000))
	assert.Equal(t, "1:05.4", formatDuration(65400*time.Millisecond))
	assert.Equal(t, "0:00.0", formatDuration(0))
	assert.Equal(t, "-", frameNumber(-1))
	assert.Equal(t, "abc…", truncate("abcdefgh", 4))
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, SuccessStyle, driftStyle(-10*time.Millisecond))
	assert.Equal(t, ErrorStyle, driftStyle(50*time.Millisecond))
}

func stripANSI(s string) string {
	var b strings.Builder
	esc := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			esc = true
		case esc:
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				esc = false
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
