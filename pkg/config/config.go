// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults for optional settings.
const (
	DefaultHTTPPort          = "8080"
	DefaultSchemaPath        = "./schema.yaml"
	DefaultLLMModel          = "gpt-4o"
	DefaultSessionTTL        = 900 * time.Second
	MinSessionTTL            = 900 * time.Second
	DefaultLLMMaxConcurrent  = 8
	DefaultQueryTimeout      = 30 * time.Second
	DefaultRowCap            = 10_000
	DefaultDBMaxOpenConns    = 25
	DefaultDBMaxIdleConns    = 10
	DefaultDBConnMaxLifetime = time.Hour
)

// Config holds all service configuration.
type Config struct {
	HTTPPort    string
	DatabaseURL string
	SchemaPath  string

	LLMAPIKey        string
	LLMModel         string
	LLMBaseURL       string
	LLMMaxConcurrent int

	SessionTTL   time.Duration
	QueryTimeout time.Duration
	RowCap       int

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
}

// Load reads configuration from environment variables with validation
// and production-ready defaults.
func Load() (*Config, error) {
	ttlSeconds, err := intEnv("SESSION_TTL_SECONDS", int(DefaultSessionTTL.Seconds()))
	if err != nil {
		return nil, err
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	if ttl < MinSessionTTL {
		ttl = MinSessionTTL
	}

	maxConcurrent, err := intEnv("LLM_MAX_CONCURRENT", DefaultLLMMaxConcurrent)
	if err != nil {
		return nil, err
	}
	rowCap, err := intEnv("EXECUTOR_ROW_CAP", DefaultRowCap)
	if err != nil {
		return nil, err
	}
	maxOpen, err := intEnv("DB_MAX_OPEN_CONNS", DefaultDBMaxOpenConns)
	if err != nil {
		return nil, err
	}
	maxIdle, err := intEnv("DB_MAX_IDLE_CONNS", DefaultDBMaxIdleConns)
	if err != nil {
		return nil, err
	}
	queryTimeout, err := durationEnv("EXECUTOR_QUERY_TIMEOUT", DefaultQueryTimeout)
	if err != nil {
		return nil, err
	}
	connLifetime, err := durationEnv("DB_CONN_MAX_LIFETIME", DefaultDBConnMaxLifetime)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPPort:          getEnvOrDefault("HTTP_PORT", DefaultHTTPPort),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SchemaPath:        getEnvOrDefault("SCHEMA_PATH", DefaultSchemaPath),
		LLMAPIKey:         os.Getenv("LLM_API_KEY"),
		LLMModel:          getEnvOrDefault("LLM_MODEL", DefaultLLMModel),
		LLMBaseURL:        os.Getenv("LLM_BASE_URL"),
		LLMMaxConcurrent:  maxConcurrent,
		SessionTTL:        ttl,
		QueryTimeout:      queryTimeout,
		RowCap:            rowCap,
		DBMaxOpenConns:    maxOpen,
		DBMaxIdleConns:    maxIdle,
		DBConnMaxLifetime: connLifetime,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required settings are present and consistent.
func (c *Config) Validate() error {
	if c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.LLMMaxConcurrent < 1 {
		return fmt.Errorf("LLM_MAX_CONCURRENT must be at least 1")
	}
	if c.RowCap < 1 {
		return fmt.Errorf("EXECUTOR_ROW_CAP must be at least 1")
	}
	if c.DBMaxIdleConns > c.DBMaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS (%d) cannot exceed DB_MAX_OPEN_CONNS (%d)",
			c.DBMaxIdleConns, c.DBMaxOpenConns)
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func intEnv(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
