package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig aggregates runtime configuration. Everything is injected via
// environment variables with sensible defaults; business windows are
// named durations so tests can shrink them.
type AppConfig struct {
	HTTPAddr string
	DBPath   string

	RedisAddr string
	RedisDB   int

	// Kafka cluster (comma separated) and topic for order lifecycle events.
	KafkaBrokers []string
	KafkaTopic   string

	// Checkout endpoint rate limiting.
	CheckoutRateLimit  int
	CheckoutRateWindow time.Duration

	// Business windows driving the completion scheduler and refund
	// eligibility.
	RefundWindow      time.Duration // post-delivery refund eligibility
	CompleteWindow    time.Duration // delivered -> auto-completed
	SchedulerInterval time.Duration // status-advance polling interval

	// Elapsed-time thresholds for automatic status advancement.
	ProcessingAfter time.Duration // confirmed -> processing
	ShippedAfter    time.Duration // processing -> shipped
	DeliveredAfter  time.Duration // shipped -> delivered

	// TTL of out-of-band payment verification codes.
	VerificationCodeTTL time.Duration

	// Simple admin token protecting listing seed endpoints.
	AdminToken string
}

// Load reads and validates configuration, falling back to defaults for
// anything unset.
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		DBPath:              getEnv("DB_PATH", "bazaar.db"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:             0,
		KafkaBrokers:        splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "bazaar-order-events"),
		CheckoutRateLimit:   30,
		CheckoutRateWindow:  time.Minute,
		RefundWindow:        48 * time.Hour,
		CompleteWindow:      48 * time.Hour,
		SchedulerInterval:   5 * time.Minute,
		ProcessingAfter:     time.Hour,
		ShippedAfter:        24 * time.Hour,
		DeliveredAfter:      48 * time.Hour,
		VerificationCodeTTL: 10 * time.Minute,
		AdminToken:          getEnv("ADMIN_TOKEN", "dev-admin-token"),
	}

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	rateLimit, err := getEnvInt("CHECKOUT_RATE_LIMIT", cfg.CheckoutRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CHECKOUT_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("CHECKOUT_RATE_LIMIT must be > 0")
	}
	cfg.CheckoutRateLimit = rateLimit

	for _, d := range []struct {
		env string
		dst *time.Duration
	}{
		{"CHECKOUT_RATE_WINDOW", &cfg.CheckoutRateWindow},
		{"REFUND_WINDOW", &cfg.RefundWindow},
		{"COMPLETE_WINDOW", &cfg.CompleteWindow},
		{"SCHEDULER_INTERVAL", &cfg.SchedulerInterval},
		{"PROCESSING_AFTER", &cfg.ProcessingAfter},
		{"SHIPPED_AFTER", &cfg.ShippedAfter},
		{"DELIVERED_AFTER", &cfg.DeliveredAfter},
		{"VERIFICATION_CODE_TTL", &cfg.VerificationCodeTTL},
	} {
		v, err := getEnvDuration(d.env, *d.dst)
		if err != nil {
			return AppConfig{}, fmt.Errorf("invalid %s: %w", d.env, err)
		}
		if v <= 0 {
			return AppConfig{}, fmt.Errorf("%s must be > 0", d.env)
		}
		*d.dst = v
	}

	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
	}

	return cfg, nil
}

// getEnv reads a string env var, returning the fallback when empty.
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt reads an integer env var, returning the fallback when empty.
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// getEnvDuration reads a Go duration string ("48h", "5m").
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

// splitCSV parses a comma separated string into a slice.
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
