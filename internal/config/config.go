package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	AccessTokenTTL     time.Duration
	CORSAllowedOrigins []string

	PaymentSecretKey     string
	PaymentWebhookSecret string
	PaymentBaseURL       string
	PaymentCurrency      string
	PaymentTimeout       time.Duration

	WebhookReplayTTL time.Duration
	IdempotencyTTL   time.Duration
	LoginRateWindow  time.Duration
	LoginRateMax     int

	EventQueueName string

	MigrateOnStart bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          valueOrDefault(k.String("JWT_ISSUER"), "payflow-api"),
		JWTAudience:        valueOrDefault(k.String("JWT_AUDIENCE"), "payflow-clients"),
		AccessTokenTTL:     parseDuration(k.String("ACCESS_TOKEN_TTL"), "168h"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		PaymentSecretKey:     k.String("PAYMENT_SECRET_KEY"),
		PaymentWebhookSecret: k.String("PAYMENT_WEBHOOK_SECRET"),
		PaymentBaseURL:       k.String("PAYMENT_BASE_URL"),
		PaymentCurrency:      valueOrDefault(k.String("PAYMENT_CURRENCY"), "usd"),
		PaymentTimeout:       parseDuration(k.String("PAYMENT_TIMEOUT"), "10s"),

		WebhookReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),
		LoginRateWindow:  parseDuration(k.String("LOGIN_RATE_WINDOW"), "1m"),
		LoginRateMax:     int(k.Int64("LOGIN_RATE_MAX")),

		EventQueueName: valueOrDefault(k.String("EVENT_QUEUE_NAME"), "default"),

		MigrateOnStart: parseBool(k.String("DB_MIGRATE_ON_START")),
	}

	if cfg.LoginRateMax <= 0 {
		cfg.LoginRateMax = 10
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.PaymentSecretKey == "" {
		return nil, errors.New("PAYMENT_SECRET_KEY is required")
	}
	if cfg.PaymentWebhookSecret == "" {
		return nil, errors.New("PAYMENT_WEBHOOK_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func parseDuration(value, fallback string) time.Duration {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		trimmed = fallback
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	}
	return false
}
