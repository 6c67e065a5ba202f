package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the system-wide settings coordinator: database, HTTP, WebSocket
// and session-mediator tuning, kept separate from business logic.
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Session   *SessionConfig   `json:"session"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// SessionConfig tunes the session mediator.
type SessionConfig struct {
	// GraceWindow is how long a disconnected participant is kept in the
	// roster before the peer is shown a terminal "left" state.
	GraceWindow time.Duration `json:"grace_window"`

	// TickInterval is the timer authority's broadcast interval.
	TickInterval time.Duration `json:"tick_interval"`

	// DefaultDurationSeconds applies when a session is created implicitly by
	// the first join instead of through the HTTP API.
	DefaultDurationSeconds int `json:"default_duration_seconds"`

	// SubmissionRetryMaxElapsed bounds the backoff retries of the durable
	// submission write.
	SubmissionRetryMaxElapsed time.Duration `json:"submission_retry_max_elapsed"`

	// IdleSessionTTL is how long an empty, never-submitted session survives
	// before the janitor collects it.
	IdleSessionTTL time.Duration `json:"idle_session_ttl"`

	// SweepInterval is how often the janitor runs.
	SweepInterval time.Duration `json:"sweep_interval"`
}

// DefaultConfig returns production-ready defaults: local SQLite, HTTP on
// 8080, 30s WebSocket heartbeat, 2-minute reconnection grace.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./oscehub.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Session: &SessionConfig{
			GraceWindow:               2 * time.Minute,
			TickInterval:              time.Second,
			DefaultDurationSeconds:    600,
			SubmissionRetryMaxElapsed: 2 * time.Minute,
			IdleSessionTTL:            2 * time.Hour,
			SweepInterval:             30 * time.Minute,
		},
	}
}

// Validate prevents invalid configurations from reaching runtime.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket timeouts must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Session == nil {
		return fmt.Errorf("session configuration is required")
	}
	if c.Session.GraceWindow <= 0 {
		return fmt.Errorf("session grace window must be positive")
	}
	if c.Session.TickInterval <= 0 {
		return fmt.Errorf("session tick interval must be positive")
	}
	if c.Session.DefaultDurationSeconds <= 0 {
		return fmt.Errorf("session default duration must be positive")
	}
	if c.Session.SubmissionRetryMaxElapsed <= 0 {
		return fmt.Errorf("submission retry window must be positive")
	}
	if c.Session.IdleSessionTTL <= 0 || c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session janitor intervals must be positive")
	}

	return nil
}

// LoadFromEnv builds configuration from defaults overridden by environment
// variables. A .env file in the working directory is loaded first if present.
func LoadFromEnv() *Config {
	// Missing .env is not an error; real environment still applies.
	_ = godotenv.Load()

	config := DefaultConfig()

	if host := os.Getenv("OSCEHUB_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if port := os.Getenv("OSCEHUB_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if dbPath := os.Getenv("OSCEHUB_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}

	envDuration("OSCEHUB_DATABASE_TIMEOUT", &config.Database.Timeout)
	envDuration("OSCEHUB_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("OSCEHUB_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	envDuration("OSCEHUB_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("OSCEHUB_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("OSCEHUB_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envDuration("OSCEHUB_SESSION_GRACE_WINDOW", &config.Session.GraceWindow)
	envDuration("OSCEHUB_SESSION_TICK_INTERVAL", &config.Session.TickInterval)
	envDuration("OSCEHUB_SUBMISSION_RETRY_MAX_ELAPSED", &config.Session.SubmissionRetryMaxElapsed)
	envDuration("OSCEHUB_SESSION_IDLE_TTL", &config.Session.IdleSessionTTL)
	envDuration("OSCEHUB_SESSION_SWEEP_INTERVAL", &config.Session.SweepInterval)

	if bufferSize := os.Getenv("OSCEHUB_WEBSOCKET_BUFFER_SIZE"); bufferSize != "" {
		if size, err := strconv.Atoi(bufferSize); err == nil {
			config.WebSocket.BufferSize = size
		}
	}
	if duration := os.Getenv("OSCEHUB_SESSION_DEFAULT_DURATION"); duration != "" {
		if seconds, err := strconv.Atoi(duration); err == nil {
			config.Session.DefaultDurationSeconds = seconds
		}
	}

	return config
}

func envDuration(name string, target *time.Duration) {
	if value := os.Getenv(name); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			*target = parsed
		}
	}
}

// configFile mirrors Config with string durations for JSON parsing.
type configFile struct {
	Database *struct {
		Path    string `json:"path"`
		Timeout string `json:"timeout"`
	} `json:"database"`
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		BufferSize   int    `json:"buffer_size"`
	} `json:"websocket"`
	Session *struct {
		GraceWindow               string `json:"grace_window"`
		TickInterval              string `json:"tick_interval"`
		DefaultDurationSeconds    int    `json:"default_duration_seconds"`
		SubmissionRetryMaxElapsed string `json:"submission_retry_max_elapsed"`
		IdleSessionTTL            string `json:"idle_session_ttl"`
		SweepInterval             string `json:"sweep_interval"`
	} `json:"session"`
}

// LoadFromFile reads a JSON configuration file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config := DefaultConfig()

	if file.Database != nil {
		if file.Database.Path != "" {
			config.Database.Path = file.Database.Path
		}
		fileDuration(file.Database.Timeout, &config.Database.Timeout)
	}
	if file.HTTP != nil {
		if file.HTTP.Host != "" {
			config.HTTP.Host = file.HTTP.Host
		}
		if file.HTTP.Port > 0 {
			config.HTTP.Port = file.HTTP.Port
		}
		fileDuration(file.HTTP.ReadTimeout, &config.HTTP.ReadTimeout)
		fileDuration(file.HTTP.WriteTimeout, &config.HTTP.WriteTimeout)
	}
	if file.WebSocket != nil {
		if file.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = file.WebSocket.BufferSize
		}
		fileDuration(file.WebSocket.PingInterval, &config.WebSocket.PingInterval)
		fileDuration(file.WebSocket.ReadTimeout, &config.WebSocket.ReadTimeout)
		fileDuration(file.WebSocket.WriteTimeout, &config.WebSocket.WriteTimeout)
	}
	if file.Session != nil {
		if file.Session.DefaultDurationSeconds > 0 {
			config.Session.DefaultDurationSeconds = file.Session.DefaultDurationSeconds
		}
		fileDuration(file.Session.GraceWindow, &config.Session.GraceWindow)
		fileDuration(file.Session.TickInterval, &config.Session.TickInterval)
		fileDuration(file.Session.SubmissionRetryMaxElapsed, &config.Session.SubmissionRetryMaxElapsed)
		fileDuration(file.Session.IdleSessionTTL, &config.Session.IdleSessionTTL)
		fileDuration(file.Session.SweepInterval, &config.Session.SweepInterval)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return config, nil
}

func fileDuration(value string, target *time.Duration) {
	if value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			*target = parsed
		}
	}
}

// LoadWithPrecedence resolves configuration as file > environment > defaults.
// File errors are not fatal; environment and defaults still apply.
func LoadWithPrecedence(path string) *Config {
	config := LoadFromEnv()

	if path != "" {
		if fileConfig, err := LoadFromFile(path); err == nil {
			config = fileConfig
		}
	}

	return config
}
