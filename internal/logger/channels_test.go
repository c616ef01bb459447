package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zsiec/volplayer/internal/config"
)

type event struct {
	channel Channel
	level   Level
	message string
	fields  Fields
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Emit(ch Channel, level Level, msg string, fields Fields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{ch, level, msg, fields})
}

func (r *recorder) all() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

func allChannels(levels ...string) config.ChannelsConfig {
	ch := config.ChannelConfig{Enabled: true, Levels: levels}
	return config.ChannelsConfig{Interface: ch, Geometry: ch, AV: ch}
}

func TestParseLevelMask(t *testing.T) {
	tests := []struct {
		in      []string
		want    Level
		wantErr bool
	}{
		{nil, LevelNone, false},
		{[]string{"info"}, LevelInfo, false},
		{[]string{"Warn", "error"}, LevelWarning | LevelError, false},
		{[]string{"info", "debug", "warning", "error"}, LevelAll, false},
		{[]string{"verbose"}, LevelNone, true},
	}

	for _, tt := range tests {
		t.Run(Level(tt.want).String(), func(t *testing.T) {
			got, err := ParseLevelMask(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "info|error", (LevelInfo | LevelError).String())
}

func TestChannelFiltering(t *testing.T) {
	rec := &recorder{}
	channels, err := NewChannels(allChannels("warning", "error"), rec)
	require.NoError(t, err)

	geom := channels.Logger(ChannelGeometry)
	geom.Info("dropped by mask")
	geom.Debug("dropped by mask")
	geom.WithField("frame", 3).Warn("chain is long")

	channels.SetEnabled(ChannelAV, false)
	channels.Logger(ChannelAV).Error("dropped by toggle")

	channels.SetLevels(ChannelInterface, LevelDebug)
	channels.Logger(ChannelInterface).Debugf("open %s", "a.vols")

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, ChannelGeometry, events[0].channel)
	assert.Equal(t, LevelWarning, events[0].level)
	assert.Equal(t, 3, events[0].fields["frame"])
	assert.Equal(t, ChannelInterface, events[1].channel)
	assert.Equal(t, "open a.vols", events[1].message)

	assert.True(t, channels.Enabled(ChannelGeometry, LevelError))
	assert.False(t, channels.Enabled(ChannelAV, LevelError))
}

func TestChannelSinks(t *testing.T) {
	shared, private := &recorder{}, &recorder{}
	channels, err := NewChannels(allChannels("error"), shared)
	require.NoError(t, err)

	channels.SetSink(ChannelAV, private)
	channels.Logger(ChannelAV).Error("video")
	channels.Logger(ChannelGeometry).WithError(errors.New("bad op")).Fatal("geometry")

	assert.Len(t, private.all(), 1)
	require.Len(t, shared.all(), 1)
	assert.Equal(t, "bad op", shared.all()[0].fields[logrus.ErrorKey])

	channels.SetSink(ChannelGeometry, nil)
	channels.Logger(ChannelGeometry).Error("nowhere")
	assert.Len(t, shared.all(), 1)
}

func TestChannelLoggerFieldsAreCopied(t *testing.T) {
	rec := &recorder{}
	channels, err := NewChannels(allChannels("info"), rec)
	require.NoError(t, err)

	base := channels.Logger(ChannelGeometry).WithField("stream_id", "s1")
	base.WithField("frame", 1).Info("a")
	base.Info("b")

	events := rec.all()
	require.Len(t, events, 2)
	assert.Contains(t, events[0].fields, "frame")
	assert.NotContains(t, events[1].fields, "frame")
	assert.Equal(t, "s1", events[1].fields["stream_id"])
}

func TestDisabledChannels(t *testing.T) {
	channels := NewDisabledChannels()
	assert.False(t, channels.Enabled(ChannelInterface, LevelError))
	assert.NotPanics(t, func() { channels.Logger(ChannelAV).Error("x") })
}

func TestLogrusSink(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})

	channels, err := NewChannels(allChannels("warning"), NewLogrusSink(l))
	require.NoError(t, err)
	channels.Logger(ChannelAV).WithField("pts", 33).Warn("late frame")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "av", entry["channel"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "late frame", entry["msg"])
}

func TestNewChannelsRejectsUnknownLevel(t *testing.T) {
	_, err := NewChannels(allChannels("loud"), nil)
	assert.Error(t, err)
}
