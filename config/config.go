// Package config loads the service configuration from environment variables.
// A .env file, when present, is loaded by the entrypoint before this package
// reads the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable of the service.
type Config struct {
	// ListenAddr is the HTTP bind address for the webhook server.
	ListenAddr string
	// DatabasePath is the SQLite database file.
	DatabasePath string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// LogFormat is "json" or "text".
	LogFormat string

	// PublicURL is the externally visible webhook URL for signature checks.
	PublicURL string

	// Provider selects the reasoning engine: "anthropic" or "openai".
	Provider        string
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string
	MaxToolRounds   int
	RoundTimeout    time.Duration
	HistoryLimit    int

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	PaymentBaseURL string
	PaymentAPIKey  string

	// RedisAddr enables the Redis dedup backend when non-empty.
	RedisAddr     string
	RedisPassword string

	Workers     int
	MaxAttempts int
	LockTimeout time.Duration
	QueueBuffer int

	DedupTTL time.Duration
	CacheTTL time.Duration

	SenderPerMinute float64
	SenderBurst     int
	GlobalPerSecond float64
	GlobalBurst     int
}

// Load reads the configuration from the environment, applying defaults for
// everything optional.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:   getEnv("LISTEN_ADDR", ":8080"),
		DatabasePath: getEnv("DATABASE_PATH", "data/commercemesh.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),

		PublicURL: os.Getenv("PUBLIC_URL"),

		Provider:        getEnv("LLM_PROVIDER", "anthropic"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o"),
		MaxToolRounds:   getEnvInt("MAX_TOOL_ROUNDS", 5),
		RoundTimeout:    getEnvDuration("ROUND_TIMEOUT", 30*time.Second),
		HistoryLimit:    getEnvInt("HISTORY_LIMIT", 20),

		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_PHONE_NUMBER"),

		PaymentBaseURL: os.Getenv("PAYMENT_BASE_URL"),
		PaymentAPIKey:  os.Getenv("PAYMENT_API_KEY"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		Workers:     getEnvInt("WORKERS", 4),
		MaxAttempts: getEnvInt("MAX_ATTEMPTS", 3),
		LockTimeout: getEnvDuration("LOCK_TIMEOUT", 30*time.Second),
		QueueBuffer: getEnvInt("QUEUE_BUFFER", 256),

		DedupTTL: getEnvDuration("DEDUP_TTL", 24*time.Hour),
		CacheTTL: getEnvDuration("CACHE_TTL", 30*time.Minute),

		SenderPerMinute: getEnvFloat("RATE_SENDER_PER_MINUTE", 10),
		SenderBurst:     getEnvInt("RATE_SENDER_BURST", 5),
		GlobalPerSecond: getEnvFloat("RATE_GLOBAL_PER_SECOND", 50),
		GlobalBurst:     getEnvInt("RATE_GLOBAL_BURST", 100),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("config: WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config: MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.MaxToolRounds < 1 {
		return fmt.Errorf("config: MAX_TOOL_ROUNDS must be at least 1, got %d", c.MaxToolRounds)
	}
	if c.RoundTimeout <= 0 {
		return fmt.Errorf("config: ROUND_TIMEOUT must be positive, got %s", c.RoundTimeout)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("config: LOCK_TIMEOUT must be positive, got %s", c.LockTimeout)
	}
	if c.DedupTTL <= 0 {
		return fmt.Errorf("config: DEDUP_TTL must be positive, got %s", c.DedupTTL)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("config: CACHE_TTL must be positive, got %s", c.CacheTTL)
	}

	switch c.Provider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("config: ANTHROPIC_API_KEY is required when LLM_PROVIDER=anthropic")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("config: OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("config: unknown LLM_PROVIDER %q", c.Provider)
	}

	if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFromNumber == "" {
		return fmt.Errorf("config: TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER are required")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
