package logger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/zsiec/volplayer/internal/config"
)

// Channel names one of the independent diagnostic streams.
type Channel string

const (
	ChannelInterface Channel = "interface"
	ChannelGeometry  Channel = "geometry"
	ChannelAV        Channel = "av"
)

// Level is a bit in a channel's severity mask.
type Level uint8

const (
	LevelInfo Level = 1 << iota
	LevelDebug
	LevelWarning
	LevelError

	LevelNone Level = 0
	LevelAll        = LevelInfo | LevelDebug | LevelWarning | LevelError
)

// Has reports whether every bit of l is set in the mask.
func (m Level) Has(l Level) bool {
	return l != 0 && m&l == l
}

func (m Level) String() string {
	if m == LevelNone {
		return "none"
	}
	var parts []string
	for _, p := range []struct {
		bit  Level
		name string
	}{{LevelInfo, "info"}, {LevelDebug, "debug"}, {LevelWarning, "warning"}, {LevelError, "error"}} {
		if m.Has(p.bit) {
			parts = append(parts, p.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseLevelMask builds a mask from level names.
func ParseLevelMask(names []string) (Level, error) {
	var mask Level
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "info":
			mask |= LevelInfo
		case "debug":
			mask |= LevelDebug
		case "warn", "warning":
			mask |= LevelWarning
		case "error":
			mask |= LevelError
		default:
			return LevelNone, fmt.Errorf("unknown log level %q", name)
		}
	}
	return mask, nil
}

// Sink receives events that passed a channel's filter.
type Sink interface {
	Emit(channel Channel, level Level, message string, fields Fields)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(channel Channel, level Level, message string, fields Fields)

func (f SinkFunc) Emit(channel Channel, level Level, message string, fields Fields) {
	f(channel, level, message, fields)
}

// LogrusSink forwards channel events to a logrus logger.
type LogrusSink struct {
	entry *logrus.Entry
}

// NewLogrusSink creates a sink writing through logger.
func NewLogrusSink(logger *logrus.Logger) *LogrusSink {
	return &LogrusSink{entry: Base(logger)}
}

func (s *LogrusSink) Emit(channel Channel, level Level, message string, fields Fields) {
	entry := s.entry.WithFields(fields).WithField("channel", string(channel))
	switch level {
	case LevelDebug:
		entry.Debug(message)
	case LevelWarning:
		entry.Warn(message)
	case LevelError:
		entry.Error(message)
	default:
		entry.Info(message)
	}
}

type channelState struct {
	enabled bool
	mask    Level
	sink    Sink
}

// Channels holds the filter state of the interface, geometry and av channels.
// Core components never read global logging state; they get a Logger bound to
// one channel at construction.
type Channels struct {
	mu     sync.RWMutex
	states map[Channel]*channelState
}

// NewChannels builds channel state from configuration. Every channel starts
// with the same sink; use SetSink to split them.
func NewChannels(cfg config.ChannelsConfig, sink Sink) (*Channels, error) {
	c := &Channels{states: make(map[Channel]*channelState, 3)}
	for ch, chCfg := range map[Channel]config.ChannelConfig{
		ChannelInterface: cfg.Interface,
		ChannelGeometry:  cfg.Geometry,
		ChannelAV:        cfg.AV,
	} {
		mask, err := ParseLevelMask(chCfg.Levels)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch, err)
		}
		c.states[ch] = &channelState{enabled: chCfg.Enabled, mask: mask, sink: sink}
	}
	return c, nil
}

// NewDisabledChannels returns channels that drop everything.
func NewDisabledChannels() *Channels {
	c, _ := NewChannels(config.ChannelsConfig{}, nil)
	return c
}

func (c *Channels) state(ch Channel) *channelState {
	st, ok := c.states[ch]
	if !ok {
		st = &channelState{}
		c.states[ch] = st
	}
	return st
}

// SetEnabled toggles a channel.
func (c *Channels) SetEnabled(ch Channel, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state(ch).enabled = enabled
}

// SetLevels replaces a channel's severity mask.
func (c *Channels) SetLevels(ch Channel, mask Level) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state(ch).mask = mask
}

// SetSink replaces a channel's sink. A nil sink disables output.
func (c *Channels) SetSink(ch Channel, sink Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state(ch).sink = sink
}

// Enabled reports whether an event at level on ch would reach a sink.
func (c *Channels) Enabled(ch Channel, level Level) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states[ch]
	return ok && st.enabled && st.sink != nil && st.mask.Has(level)
}

func (c *Channels) emit(ch Channel, level Level, message string, fields Fields) {
	c.mu.RLock()
	st, ok := c.states[ch]
	var sink Sink
	if ok && st.enabled && st.mask.Has(level) {
		sink = st.sink
	}
	c.mu.RUnlock()

	if sink != nil {
		sink.Emit(ch, level, message, fields)
	}
}

// Logger returns a Logger that writes to ch.
func (c *Channels) Logger(ch Channel) Logger {
	return &ChannelLogger{channels: c, channel: ch}
}

// ChannelLogger implements Logger on top of one channel. Fatal never exits:
// decoder failures are always recoverable by the host.
type ChannelLogger struct {
	channels *Channels
	channel  Channel
	fields   Fields
}

func (l *ChannelLogger) with(extra Fields) *ChannelLogger {
	merged := make(Fields, len(l.fields)+len(extra))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return &ChannelLogger{channels: l.channels, channel: l.channel, fields: merged}
}

func (l *ChannelLogger) WithFields(fields map[string]interface{}) Logger {
	return l.with(fields)
}

func (l *ChannelLogger) WithField(key string, value interface{}) Logger {
	return l.with(Fields{key: value})
}

func (l *ChannelLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.with(Fields{logrus.ErrorKey: err.Error()})
}

func (l *ChannelLogger) emit(level Level, message string) {
	l.channels.emit(l.channel, level, message, l.fields)
}

func (l *ChannelLogger) Debug(args ...interface{}) { l.emit(LevelDebug, fmt.Sprint(args...)) }
func (l *ChannelLogger) Info(args ...interface{})  { l.emit(LevelInfo, fmt.Sprint(args...)) }
func (l *ChannelLogger) Warn(args ...interface{})  { l.emit(LevelWarning, fmt.Sprint(args...)) }
func (l *ChannelLogger) Error(args ...interface{}) { l.emit(LevelError, fmt.Sprint(args...)) }
func (l *ChannelLogger) Fatal(args ...interface{}) { l.emit(LevelError, fmt.Sprint(args...)) }

func (l *ChannelLogger) Log(level logrus.Level, args ...interface{}) {
	l.emit(fromLogrus(level), fmt.Sprint(args...))
}

func (l *ChannelLogger) Debugf(format string, args ...interface{}) {
	l.emit(LevelDebug, fmt.Sprintf(format, args...))
}

func (l *ChannelLogger) Infof(format string, args ...interface{}) {
	l.emit(LevelInfo, fmt.Sprintf(format, args...))
}

func (l *ChannelLogger) Warnf(format string, args ...interface{}) {
	l.emit(LevelWarning, fmt.Sprintf(format, args...))
}

func (l *ChannelLogger) Errorf(format string, args ...interface{}) {
	l.emit(LevelError, fmt.Sprintf(format, args...))
}

func fromLogrus(level logrus.Level) Level {
	switch level {
	case logrus.TraceLevel, logrus.DebugLevel:
		return LevelDebug
	case logrus.InfoLevel:
		return LevelInfo
	case logrus.WarnLevel:
		return LevelWarning
	default:
		return LevelError
	}
}
