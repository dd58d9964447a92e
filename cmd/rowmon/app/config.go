package app

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration defaults. The serial defaults match the rower's USB bridge.
const (
	DefaultSerialPort  = "/dev/ttyUSB0"
	DefaultBaudRate    = 9600
	DefaultReadTimeout = 2 * time.Second

	DefaultMaxAttempts       = 5
	DefaultHandshakeAttempts = 20
	DefaultBackoff           = 500 * time.Millisecond
	DefaultFlushInterval     = time.Minute
	DefaultFlushAfterStrokes = 10

	DefaultDataDirectory = "data"
	DefaultListenAddr    = ":8077"
)

// Duration is a time.Duration with YAML support for values like "2s" or "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", value.Value, err)
	}

	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the main application configuration.
type Config struct {
	Settings  Settings        `yaml:"settings"`
	Serial    SerialSettings  `yaml:"serial"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Storage   StorageConfig   `yaml:"storage"`
	API       APIConfig       `yaml:"api"`
}

// Settings represents global application settings.
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// SerialSettings describes the serial port the rower is attached to.
type SerialSettings struct {
	Port        string   `yaml:"port"`
	BaudRate    int      `yaml:"baudRate"`
	ReadTimeout Duration `yaml:"readTimeout"`
}

// ReconnectConfig tunes failure handling and flush triggers. The handshake
// attempt ceiling and the reconnect attempt ceiling are independent
// counters.
type ReconnectConfig struct {
	MaxAttempts       int      `yaml:"maxAttempts"`
	HandshakeAttempts int      `yaml:"handshakeAttempts"`
	Backoff           Duration `yaml:"backoff"`
	FlushInterval     Duration `yaml:"flushInterval"`
	FlushAfterStrokes int      `yaml:"flushAfterStrokes"`
}

// StorageConfig represents storage settings.
type StorageConfig struct {
	DataDirectory string `yaml:"dataDirectory"`
}

// APIConfig represents the live API server settings.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listenAddr"`
}

// NewConfig returns a configuration populated with defaults.
func NewConfig() *Config {
	return &Config{
		Settings: Settings{LogLevel: "info"},
		Serial: SerialSettings{
			Port:        DefaultSerialPort,
			BaudRate:    DefaultBaudRate,
			ReadTimeout: Duration(DefaultReadTimeout),
		},
		Reconnect: ReconnectConfig{
			MaxAttempts:       DefaultMaxAttempts,
			HandshakeAttempts: DefaultHandshakeAttempts,
			Backoff:           Duration(DefaultBackoff),
			FlushInterval:     Duration(DefaultFlushInterval),
			FlushAfterStrokes: DefaultFlushAfterStrokes,
		},
		Storage: StorageConfig{DataDirectory: DefaultDataDirectory},
		API: APIConfig{
			Enabled:    false,
			ListenAddr: DefaultListenAddr,
		},
	}
}

// LoadConfig reads and validates a YAML configuration file. Missing keys
// keep their defaults.
func LoadConfig(path string) (*Config, error) {
	p, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration file: %w", err)
	}

	config := NewConfig()
	if err = yaml.Unmarshal(p, config); err != nil {
		return nil, fmt.Errorf("parsing configuration file: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.Serial.Port == "" {
		return fmt.Errorf("serial port must not be empty")
	}
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("baud rate must be positive: %d", c.Serial.BaudRate)
	}
	if c.Serial.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive: %s", time.Duration(c.Serial.ReadTimeout))
	}
	if c.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("max reconnect attempts must be at least 1: %d", c.Reconnect.MaxAttempts)
	}
	if c.Reconnect.HandshakeAttempts < 1 {
		return fmt.Errorf("handshake attempts must be at least 1: %d", c.Reconnect.HandshakeAttempts)
	}
	if c.Reconnect.Backoff < 0 {
		return fmt.Errorf("backoff must not be negative: %s", time.Duration(c.Reconnect.Backoff))
	}
	if c.Reconnect.FlushInterval < Duration(time.Second) {
		return fmt.Errorf("flush interval must be at least 1 second: %s", time.Duration(c.Reconnect.FlushInterval))
	}
	if c.Reconnect.FlushAfterStrokes < 1 {
		return fmt.Errorf("flush after strokes must be at least 1: %d", c.Reconnect.FlushAfterStrokes)
	}
	if c.API.Enabled && c.API.ListenAddr == "" {
		return fmt.Errorf("API listen address must not be empty when the API is enabled")
	}
	return nil
}

// LogLevel parses the configured log level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Settings.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
