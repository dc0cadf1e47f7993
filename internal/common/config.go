package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Artifacts ArtifactsConfig
	Database  DatabaseConfig
	Server    ServerConfig
	LLM       LLMConfig
	Loop      LoopConfig
	Ingest    IngestConfig
}

// ArtifactsConfig locates per-job artifact storage.
type ArtifactsConfig struct {
	DataRoot string
}

// DatabaseConfig holds the job-registry configuration. An empty DSN
// selects an embedded SQLite database under the data root.
type DatabaseConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPAddr string
}

// LLMConfig holds the text-understanding capability settings. The whole
// struct is constructed once and passed by reference into every
// component that calls the capability; there is no process-global.
type LLMConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float32
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// LoopConfig bounds the extraction control loop.
type LoopConfig struct {
	MaxSteps    int // extraction passes, baseline included
	InitialSpan int // first widened half-span
	MaxSpan     int // widening ceiling
	Preflight   bool
}

// IngestConfig configures the optional drop-folder watcher.
type IngestConfig struct {
	WatchDir string
	Debounce time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Artifacts: ArtifactsConfig{
			DataRoot: getEnv("DATA_ROOT", "./data"),
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DB_URL", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		},
		LLM: LLMConfig{
			BaseURL:      getEnv("LLM_BASE_URL", "http://localhost:11434/v1"),
			APIKey:       getEnv("LLM_API_KEY", ""),
			Model:        getEnv("LLM_MODEL", "llama3.1:latest"),
			Temperature:  getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			Timeout:      getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
			MaxRetries:   getEnvAsInt("LLM_MAX_RETRIES", 2),
			RetryBackoff: getEnvAsDuration("LLM_RETRY_BACKOFF", 500*time.Millisecond),
		},
		Loop: LoopConfig{
			MaxSteps:    getEnvAsInt("MAX_STEPS", 5),
			InitialSpan: getEnvAsInt("INITIAL_SPAN", 2),
			MaxSpan:     getEnvAsInt("MAX_SPAN", 4),
			Preflight:   getEnv("SKIP_PREFLIGHT", "") == "",
		},
		Ingest: IngestConfig{
			WatchDir: getEnv("WATCH_DIR", ""),
			Debounce: getEnvAsDuration("WATCH_DEBOUNCE", 500*time.Millisecond),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Artifacts.DataRoot == "" {
		return NewAppError("CONFIG_ERROR", "DATA_ROOT is required", ErrInvalidInput)
	}
	if c.LLM.BaseURL == "" {
		return NewAppError("CONFIG_ERROR", "LLM_BASE_URL is required", ErrInvalidInput)
	}
	if c.Loop.MaxSteps < 1 {
		return NewAppError("CONFIG_ERROR", "MAX_STEPS must be >= 1", ErrInvalidInput)
	}
	if c.Loop.MaxSpan < 0 || c.Loop.MaxSpan > 10 {
		return NewAppError("CONFIG_ERROR", "MAX_SPAN must be in 0..10", ErrInvalidInput)
	}
	if c.Loop.InitialSpan < 0 || c.Loop.InitialSpan > c.Loop.MaxSpan {
		return NewAppError("CONFIG_ERROR", "INITIAL_SPAN must be in 0..MAX_SPAN", ErrInvalidInput)
	}
	return nil
}
