package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Routing
	OwnerNumbers    []string
	ExcludedNumbers []string

	// Assistant
	PersonaPrompt         string
	ReplySignature        string
	GeminiAPIKey          string
	GeminiModelID         string
	GeminiFallbackModelID string
	AssistantTimeout      time.Duration

	// Inbound queue
	UseMemoryQueue      bool
	WorkerCount         int
	InboundQueueURL     string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Conversation state store
	UseMemoryStore bool
	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	StateTTL       time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		OwnerNumbers:    splitList(getEnv("OWNER_NUMBERS", "")),
		ExcludedNumbers: splitList(getEnv("EXCLUDED_NUMBERS", "")),

		PersonaPrompt:         getEnv("PERSONA_PROMPT", "You are a friendly, concise assistant answering on behalf of a small business."),
		ReplySignature:        getEnv("REPLY_SIGNATURE", ""),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:         getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		GeminiFallbackModelID: getEnv("GEMINI_FALLBACK_MODEL_ID", ""),
		AssistantTimeout:      getEnvAsDuration("ASSISTANT_TIMEOUT", 30*time.Second),

		UseMemoryQueue:      getEnvAsBool("USE_MEMORY_QUEUE", true),
		WorkerCount:         getEnvAsInt("WORKER_COUNT", 4),
		InboundQueueURL:     getEnv("INBOUND_QUEUE_URL", ""),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		UseMemoryStore: getEnvAsBool("USE_MEMORY_STORE", false),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		StateTTL:       getEnvAsDuration("STATE_TTL", 0),
	}
}

// splitList parses a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
