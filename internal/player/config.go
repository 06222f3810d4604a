package player

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rtspplayer/pkg/rtsp"
)

// Describe policies. Some deployments only answer DESCRIBE for an active stream.
const (
	DescribePlaying = "playing" // only while Playing
	DescribeActive  = "active"  // any state but Init
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	RTP     RTPConfig     `yaml:"rtp"`
	Stream  StreamConfig  `yaml:"stream"`
	Session SessionConfig `yaml:"session"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type RTPConfig struct {
	Port           int           `yaml:"port"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
	BufferSize     int           `yaml:"buffer_size"`
}

type StreamConfig struct {
	Resource string `yaml:"resource"`
}

type SessionConfig struct {
	SetupTimeout   time.Duration `yaml:"setup_timeout"`
	ReplyTimeout   time.Duration `yaml:"reply_timeout"`
	DescribePolicy string        `yaml:"describe_policy"`
}

type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the values used for keys missing from the file
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: rtsp.DefaultRTSPPort},
		RTP: RTPConfig{
			Port:           25000,
			ReceiveTimeout: 500 * time.Millisecond,
			BufferSize:     20480,
		},
		Session: SessionConfig{
			SetupTimeout:   5 * time.Second,
			ReplyTimeout:   5 * time.Second,
			DescribePolicy: DescribePlaying,
		},
		Cache:   CacheConfig{Enabled: true, Dir: os.TempDir()},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig loads configuration from a yaml file on top of DefaultConfig
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("server host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1-65535)", c.Server.Port)
	}
	if c.RTP.Port <= 0 || c.RTP.Port > 65535 {
		return fmt.Errorf("invalid rtp port: %d (must be between 1-65535)", c.RTP.Port)
	}
	if c.RTP.ReceiveTimeout <= 0 {
		return fmt.Errorf("invalid rtp receive_timeout: %s (must be positive)", c.RTP.ReceiveTimeout)
	}
	if c.RTP.BufferSize < 12 {
		return fmt.Errorf("invalid rtp buffer_size: %d (must hold an rtp header)", c.RTP.BufferSize)
	}
	if c.Stream.Resource == "" {
		return fmt.Errorf("stream resource is required")
	}
	if c.Session.SetupTimeout <= 0 || c.Session.ReplyTimeout <= 0 {
		return fmt.Errorf("session timeouts must be positive")
	}

	switch strings.ToLower(c.Session.DescribePolicy) {
	case DescribePlaying, DescribeActive:
	default:
		return fmt.Errorf("invalid describe_policy: %s (must be one of: %s, %s)",
			c.Session.DescribePolicy, DescribePlaying, DescribeActive)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, level := range validLevels {
		if strings.ToLower(c.Logging.Level) == level {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid log level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}

	return nil
}

// ServerAddr returns host:port of the control channel
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetSlogLevel returns slog.Level from config
func (c *Config) GetSlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
