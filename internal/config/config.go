// Package config provides configuration for agentd.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the agentd configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Toolsets
	ToolsetsFile           string
	ToolsetRefreshSchedule string
	ToolsetConnectTimeout  time.Duration

	// Agent
	PolicyFile          string
	MaxToolCallsPerTurn int
	UserLanguage        string
	Mode                string
	LLMTimeout          time.Duration

	// Titles
	TitleGeneration bool
	// TitleModel names the model used for task titles. Empty means the
	// task agent's own model.
	TitleModel string

	// Logging
	LogLevel  string
	LogFormat string

	// Tracing
	OTLPEndpoint string
	OTLPInsecure bool
	ServiceName  string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:               getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:            getEnv("DATABASE_URL", "file:agentd.db?cache=shared&mode=rwc"),
		ToolsetsFile:           getEnv("TOOLSETS_FILE", ""),
		ToolsetRefreshSchedule: getEnvOptional("TOOLSET_REFRESH_SCHEDULE", "@every 5m"),
		ToolsetConnectTimeout:  getEnvDuration("TOOLSET_CONNECT_TIMEOUT_MS", 30*time.Second),
		PolicyFile:             getEnv("POLICY_FILE", ""),
		MaxToolCallsPerTurn:    getEnvInt("MAX_TOOL_CALLS_PER_TURN", 1),
		UserLanguage:           getEnv("USER_LANGUAGE", "en-US"),
		Mode:                   strings.ToUpper(getEnv("AGENTD_MODE", "")),
		LLMTimeout:             getEnvDuration("LLM_TIMEOUT_MS", 5*time.Minute),
		TitleGeneration:        getEnvBool("TITLE_GENERATION", true),
		TitleModel:             getEnv("TITLE_MODEL", ""),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "text"),
		OTLPEndpoint:           getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure:           getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:            getEnv("OTEL_SERVICE_NAME", "agentd"),
	}
	if cfg.MaxToolCallsPerTurn < 1 {
		cfg.MaxToolCallsPerTurn = 1
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvOptional treats a variable set to the empty string as an explicit
// empty value rather than unset.
func getEnvOptional(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration reads a millisecond count.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
