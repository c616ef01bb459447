package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Geometry GeometryConfig `mapstructure:"geometry"`
	Video    VideoConfig    `mapstructure:"video"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Memory   MemoryConfig   `mapstructure:"memory"`
}

type GeometryConfig struct {
	StreamID     string `mapstructure:"stream_id"`
	HeaderPath   string `mapstructure:"header_path"`
	SequencePath string `mapstructure:"sequence_path"`
	Streaming    bool   `mapstructure:"streaming"` // lazy body reads instead of preload
}

type VideoConfig struct {
	Path         string `mapstructure:"path"`
	FlipVertical bool   `mapstructure:"flip_vertical"`
}

type PlaybackConfig struct {
	GeometryFrameRate float64       `mapstructure:"geometry_frame_rate"` // 0 = use the video frame rate
	RenderRate        float64       `mapstructure:"render_rate"`         // ticks per second, 0 = video frame rate
	Loop              bool          `mapstructure:"loop"`
	StatusInterval    time.Duration `mapstructure:"status_interval"`
}

type LoggingConfig struct {
	Level      string         `mapstructure:"level"`
	Format     string         `mapstructure:"format"`   // json or text
	Output     string         `mapstructure:"output"`   // stdout, stderr, or file path
	MaxSize    int            `mapstructure:"max_size"` // MB
	MaxBackups int            `mapstructure:"max_backups"`
	MaxAge     int            `mapstructure:"max_age"` // days
	Channels   ChannelsConfig `mapstructure:"channels"`
}

// ChannelsConfig toggles the three diagnostic channels independently.
type ChannelsConfig struct {
	Interface ChannelConfig `mapstructure:"interface"`
	Geometry  ChannelConfig `mapstructure:"geometry"`
	AV        ChannelConfig `mapstructure:"av"`
}

type ChannelConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Levels  []string `mapstructure:"levels"` // any of info, debug, warning, error
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
}

type MemoryConfig struct {
	MaxTotal     int64 `mapstructure:"max_total"`      // Total bytes for all geometry block buffers
	MaxPerStream int64 `mapstructure:"max_per_stream"` // Per-stream limit in bytes
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(configPath)

	// Environment variable override
	v.SetEnvPrefix("VOLPLAYER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Geometry defaults
	v.SetDefault("geometry.stream_id", "default")
	v.SetDefault("geometry.streaming", true)

	// Video defaults
	v.SetDefault("video.flip_vertical", true)

	// Playback defaults
	v.SetDefault("playback.geometry_frame_rate", 0)
	v.SetDefault("playback.render_rate", 0)
	v.SetDefault("playback.loop", false)
	v.SetDefault("playback.status_interval", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)
	for _, ch := range []string{"interface", "geometry", "av"} {
		v.SetDefault("logging.channels."+ch+".enabled", true)
		v.SetDefault("logging.channels."+ch+".levels", []string{"info", "warning", "error"})
	}

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen_addr", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "5s")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.session_ttl", "30s")

	// Memory defaults
	v.SetDefault("memory.max_total", 1<<30)        // 1GB
	v.SetDefault("memory.max_per_stream", 256<<20) // 256MB
}
