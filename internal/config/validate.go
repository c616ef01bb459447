package config

import (
	"fmt"
	"strings"
)

func (c *Config) Validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return fmt.Errorf("geometry config: %w", err)
	}

	if err := c.Video.Validate(); err != nil {
		return fmt.Errorf("video config: %w", err)
	}

	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}

	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory config: %w", err)
	}

	return nil
}

func (g *GeometryConfig) Validate() error {
	if g.StreamID == "" {
		return fmt.Errorf("stream_id is required")
	}
	if g.HeaderPath == "" {
		return fmt.Errorf("header_path is required")
	}
	if g.SequencePath == "" {
		return fmt.Errorf("sequence_path is required")
	}
	return nil
}

// Validate allows an empty path: geometry-only playback.
func (v *VideoConfig) Validate() error {
	return nil
}

func (p *PlaybackConfig) Validate() error {
	if p.GeometryFrameRate < 0 {
		return fmt.Errorf("geometry_frame_rate must not be negative: %v", p.GeometryFrameRate)
	}
	if p.RenderRate < 0 {
		return fmt.Errorf("render_rate must not be negative: %v", p.RenderRate)
	}
	if p.StatusInterval < 0 {
		return fmt.Errorf("status_interval must not be negative")
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "warning": true, "error": true,
	}
	if !validLevels[strings.ToLower(l.Level)] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", l.Format)
	}

	if l.Output == "" {
		return fmt.Errorf("log output is required")
	}

	channels := map[string]ChannelConfig{
		"interface": l.Channels.Interface,
		"geometry":  l.Channels.Geometry,
		"av":        l.Channels.AV,
	}
	for name, ch := range channels {
		for _, lvl := range ch.Levels {
			switch strings.ToLower(lvl) {
			case "info", "debug", "warning", "warn", "error":
			default:
				return fmt.Errorf("channel %s: invalid level %q", name, lvl)
			}
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}

	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", m.Port)
	}

	if m.Path == "" || m.Path[0] != '/' {
		return fmt.Errorf("metrics path must start with /")
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", s.Port)
	}

	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}

	return nil
}

func (r *RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if len(r.Addresses) == 0 {
		return fmt.Errorf("at least one Redis address is required")
	}

	if r.DB < 0 {
		return fmt.Errorf("invalid Redis DB: %d", r.DB)
	}

	if r.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}

	if r.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive")
	}

	return nil
}

func (m *MemoryConfig) Validate() error {
	if m.MaxTotal <= 0 {
		return fmt.Errorf("max_total must be positive")
	}

	if m.MaxPerStream <= 0 {
		return fmt.Errorf("max_per_stream must be positive")
	}

	if m.MaxPerStream > m.MaxTotal {
		return fmt.Errorf("max_per_stream (%d) exceeds max_total (%d)", m.MaxPerStream, m.MaxTotal)
	}

	return nil
}
