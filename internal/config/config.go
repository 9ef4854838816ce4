// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	LogLevel  string
	LogFormat string

	// Data provider
	ProviderURL       string
	ProviderAPIKey    string
	ProviderRateLimit float64
	ProviderBurst     int
	RequestTimeout    time.Duration

	// Storage and caches; empty URLs select the in-memory implementations
	DatabaseURL    string
	RedisURL       string
	CacheRetention time.Duration

	// Pipeline
	Workers      int
	RunAt        string
	RunOnStartup bool
	Stake        float64

	// Ledger integrity
	ChecksumAlgorithm string
	SigningKey        string

	// Circuit breaker settings
	CircuitMaxFailures int
	CircuitMaxPrice    float64
	CircuitResetDelay  time.Duration

	// Public API
	APIRateLimit float64
	APIBurst     int
	CORSOrigins  []string
	AdminToken   string

	// Signal export
	ExportBatchSize int
	ExportInterval  time.Duration
	WebhookURL      string
	WebhookAPIKey   string
	AMQPURL         string
	AMQPExchange    string
	AMQPRoutingKey  string

	// OpenTelemetry endpoint for observability
	OtelEndpoint    string
	OtelSampleRatio float64

	// ConfigFile points at the optional YAML engine settings
	ConfigFile string
}

// Load creates a new Config from environment variables
func Load() Config {
	return Config{
		Port:      GetEnvOrDefault("PORT", "8080"),
		LogLevel:  strings.ToLower(GetEnvOrDefault("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(GetEnvOrDefault("LOG_FORMAT", "json")),

		ProviderURL:       GetEnvOrDefault("PROVIDER_URL", "http://localhost:9090/v1"),
		ProviderAPIKey:    GetEnvOrDefault("PROVIDER_API_KEY", ""),
		ProviderRateLimit: GetEnvAsFloat("PROVIDER_RATE_LIMIT", 5),
		ProviderBurst:     GetEnvAsInt("PROVIDER_BURST", 10),
		RequestTimeout:    GetEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),

		DatabaseURL:    GetEnvOrDefault("DATABASE_URL", ""),
		RedisURL:       GetEnvOrDefault("REDIS_URL", ""),
		CacheRetention: GetEnvAsDuration("CACHE_RETENTION", 24*time.Hour),

		Workers:      GetEnvAsInt("WORKERS", 8),
		RunAt:        GetEnvOrDefault("RUN_AT", "06:00"),
		RunOnStartup: GetEnvAsBool("RUN_ON_STARTUP", false),
		Stake:        GetEnvAsFloat("STAKE", 10),

		ChecksumAlgorithm: GetEnvOrDefault("CHECKSUM_ALGORITHM", "sha256"),
		SigningKey:        GetEnvOrDefault("SIGNING_KEY", ""),

		CircuitMaxFailures: GetEnvAsInt("CIRCUIT_MAX_FAILURES", 5),
		CircuitMaxPrice:    GetEnvAsFloat("CIRCUIT_MAX_PRICE", 1000),
		CircuitResetDelay:  GetEnvAsDuration("CIRCUIT_RESET_DELAY", 5*time.Minute),

		APIRateLimit: GetEnvAsFloat("API_RATE_LIMIT", 20),
		APIBurst:     GetEnvAsInt("API_BURST", 40),
		CORSOrigins:  GetEnvAsList("CORS_ORIGINS", []string{"*"}),
		AdminToken:   GetEnvOrDefault("ADMIN_TOKEN", ""),

		ExportBatchSize: GetEnvAsInt("EXPORT_BATCH_SIZE", 100),
		ExportInterval:  GetEnvAsDuration("EXPORT_INTERVAL", time.Minute),
		WebhookURL:      GetEnvOrDefault("WEBHOOK_URL", ""),
		WebhookAPIKey:   GetEnvOrDefault("WEBHOOK_API_KEY", ""),
		AMQPURL:         GetEnvOrDefault("AMQP_URL", ""),
		AMQPExchange:    GetEnvOrDefault("AMQP_EXCHANGE", "accafreeze.signals"),
		AMQPRoutingKey:  GetEnvOrDefault("AMQP_ROUTING_KEY", "signals.daily"),

		OtelEndpoint:    GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OtelSampleRatio: GetEnvAsFloat("OTEL_SAMPLE_RATIO", 1),

		ConfigFile: GetEnvOrDefault("CONFIG_FILE", ""),
	}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a bool with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvAsList retrieves a comma separated environment variable
func GetEnvAsList(key string, defaultValue []string) []string {
	value, exists := GetEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
