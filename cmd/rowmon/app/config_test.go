package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
settings:
  logLevel: debug
serial:
  port: /dev/ttyACM1
  baudRate: 19200
  readTimeout: 3s
reconnect:
  maxAttempts: 8
  backoff: 250ms
  flushInterval: 30s
api:
  enabled: true
  listenAddr: ":9000"
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Serial.Port != "/dev/ttyACM1" {
		t.Errorf("Port: got %q, want /dev/ttyACM1", config.Serial.Port)
	}
	if config.Serial.BaudRate != 19200 {
		t.Errorf("BaudRate: got %d, want 19200", config.Serial.BaudRate)
	}
	if time.Duration(config.Serial.ReadTimeout) != 3*time.Second {
		t.Errorf("ReadTimeout: got %s, want 3s", time.Duration(config.Serial.ReadTimeout))
	}
	if config.Reconnect.MaxAttempts != 8 {
		t.Errorf("MaxAttempts: got %d, want 8", config.Reconnect.MaxAttempts)
	}
	if time.Duration(config.Reconnect.Backoff) != 250*time.Millisecond {
		t.Errorf("Backoff: got %s, want 250ms", time.Duration(config.Reconnect.Backoff))
	}
	if !config.API.Enabled || config.API.ListenAddr != ":9000" {
		t.Errorf("API: got %+v", config.API)
	}
	if config.LogLevel() != slog.LevelDebug {
		t.Errorf("LogLevel: got %s, want debug", config.LogLevel())
	}

	// Missing keys keep their defaults.
	if config.Reconnect.HandshakeAttempts != DefaultHandshakeAttempts {
		t.Errorf("HandshakeAttempts: got %d, want default %d",
			config.Reconnect.HandshakeAttempts, DefaultHandshakeAttempts)
	}
	if config.Storage.DataDirectory != DefaultDataDirectory {
		t.Errorf("DataDirectory: got %q, want default %q",
			config.Storage.DataDirectory, DefaultDataDirectory)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"bad duration", "serial:\n  readTimeout: soon\n"},
		{"empty port", "serial:\n  port: \"\"\n"},
		{"zero baud rate", "serial:\n  baudRate: 0\n"},
		{"zero reconnect attempts", "reconnect:\n  maxAttempts: 0\n"},
		{"sub-second flush interval", "reconnect:\n  flushInterval: 100ms\n"},
		{"api without address", "api:\n  enabled: true\n  listenAddr: \"\"\n"},
		{"not yaml", "{{{"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.content)
			if _, err := LoadConfig(path); err == nil {
				t.Error("Expected error for invalid config")
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestConfig_LogLevelFallback(t *testing.T) {
	config := NewConfig()
	config.Settings.LogLevel = "chatty"
	if config.LogLevel() != slog.LevelInfo {
		t.Errorf("Unknown level must fall back to info, got %s", config.LogLevel())
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	config := NewConfig()
	if err := config.Validate(); err != nil {
		t.Errorf("Default config must validate: %v", err)
	}
	if config.Serial.Port != DefaultSerialPort || config.Serial.BaudRate != DefaultBaudRate {
		t.Errorf("Unexpected serial defaults: %+v", config.Serial)
	}
	if config.API.Enabled {
		t.Error("API must be disabled by default")
	}
}
