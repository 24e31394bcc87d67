// Package config provides environment configuration for the widget services.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	AllowedOrigins     []string

	// Storage settings
	StorageDriver string
	StorageDSN    string
	BoltPath      string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	NATSKVBucket string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// Session manager settings
	ResumeLatest   bool
	ManagerIdleTTL time.Duration

	// Widget settings, merged over the built-in defaults
	Widget         WidgetConfig
	WidgetFileErr  error
	AllowedTypes   []string
	MaxUploadBytes int64

	// Automation backend settings
	AutomationPort     string
	AutomationGreeting string
	AutomationPrompt   string
	AutomationHistory  string
	AnthropicAPIKey    string
	OpenAIAPIKey       string
	DefaultLLM         string
	LLMModel           string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	Environment string
	LogLevel    string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from a .env file, if present, and the environment.
func Load() *Config {
	_ = godotenv.Load()

	widget, widgetErr := LoadWidget(getEnv("WIDGET_CONFIG_FILE", ""))

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		AllowedOrigins:     getListEnv("ALLOWED_ORIGINS", []string{"https://*", "http://*"}),

		// Storage
		StorageDriver: getEnv("STORAGE_DRIVER", "memory"),
		StorageDSN:    getEnv("STORAGE_DSN", ""),
		BoltPath:      getEnv("BOLT_PATH", "data/conversations.bolt"),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),
		NATSKVBucket: getEnv("NATS_KV_BUCKET", "chat_conversations"),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 30*24*time.Hour),

		// Session manager
		ResumeLatest:   getBoolEnv("RESUME_LATEST", true),
		ManagerIdleTTL: getDurationEnv("MANAGER_IDLE_TTL", 30*time.Minute),

		// Widget
		Widget:         widget,
		WidgetFileErr:  widgetErr,
		AllowedTypes:   getListEnv("ALLOWED_FILE_TYPES", DefaultAllowedTypes()),
		MaxUploadBytes: int64(getIntEnv("MAX_UPLOAD_BYTES", DefaultMaxFileSize)),

		// Automation backend
		AutomationPort:     getEnv("AUTOMATION_PORT", "5678"),
		AutomationGreeting: getEnv("AUTOMATION_GREETING", "Hi there! How can we help you today?"),
		AutomationPrompt:   getEnv("AUTOMATION_SYSTEM_PROMPT", "You are a friendly website assistant. Answer briefly using markdown."),
		AutomationHistory:  getEnv("AUTOMATION_HISTORY", "memory"),
		AnthropicAPIKey:    getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:         getEnv("DEFAULT_LLM", "anthropic"),
		LLMModel:           getEnv("LLM_MODEL", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		Environment: getEnv("ENV", "production"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
