package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds chatcore configuration loaded from environment.
type Config struct {
	Env      string
	HTTPAddr string

	MongoURI      string
	MongoDatabase string
	RedisAddr     string
	RedisPassword string
	KafkaBrokers  []string
	KafkaTopic    string

	// Moderation gate policy.
	FlagThreshold      float64
	BlockThreshold     float64
	ModerationTimeout  time.Duration
	ModerationFailOpen bool

	// Connection manager.
	TypingExpiry      time.Duration
	SendQueueSize     int
	MaxProtocolErrors int

	// Task dispatcher.
	Workers         int
	PollInterval    time.Duration
	RetryBase       time.Duration
	RetryCap        time.Duration
	JobLease        time.Duration
	WebhookAttempts int
	WebhookTimeout  time.Duration
	WebhookSecret   string
	WebhookURLs     []string

	// Persistence.
	PersistTimeout   time.Duration
	MessageRetention time.Duration

	// AuthTokens maps static bearer tokens to user IDs, parsed from
	// AUTH_TOKENS as "token=user" pairs. Deployments with an identity
	// service plug in their own resolver instead.
	AuthTokens map[string]string
}

// Load parses environment variables into a Config struct.
func Load() (Config, error) {
	cfg := Config{
		Env:           getEnv("APP_ENV", "dev"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: strings.TrimSpace(getEnv("MONGO_DATABASE", "chatcore")),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		KafkaBrokers:  splitAndTrim(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    getEnv("KAFKA_ANALYTICS_TOPIC", "chat.analytics.v1"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
		WebhookURLs:   splitAndTrim(os.Getenv("WEBHOOK_URLS")),
		AuthTokens:    parseTokenPairs(os.Getenv("AUTH_TOKENS")),

		ModerationFailOpen: parseBool(os.Getenv("MODERATION_FAIL_OPEN"), false),
		SendQueueSize:      parseIntWithDefault(os.Getenv("SEND_QUEUE_SIZE"), 64),
		MaxProtocolErrors:  parseIntWithDefault(os.Getenv("MAX_PROTOCOL_ERRORS"), 5),
		Workers:            parseIntWithDefault(os.Getenv("TASK_WORKERS"), 4),
		WebhookAttempts:    parseIntWithDefault(os.Getenv("WEBHOOK_MAX_ATTEMPTS"), 3),
	}
	if cfg.MongoDatabase == "" {
		return Config{}, fmt.Errorf("MONGO_DATABASE is required")
	}

	var err error
	if cfg.FlagThreshold, err = parseFloat("MODERATION_FLAG_THRESHOLD", 0.5); err != nil {
		return Config{}, err
	}
	if cfg.BlockThreshold, err = parseFloat("MODERATION_BLOCK_THRESHOLD", 0.9); err != nil {
		return Config{}, err
	}
	if cfg.BlockThreshold < cfg.FlagThreshold {
		return Config{}, fmt.Errorf("MODERATION_BLOCK_THRESHOLD must be >= MODERATION_FLAG_THRESHOLD")
	}

	durations := []struct {
		dst *time.Duration
		key string
		def string
	}{
		{&cfg.ModerationTimeout, "MODERATION_TIMEOUT", "2s"},
		{&cfg.TypingExpiry, "TYPING_EXPIRY", "10s"},
		{&cfg.PollInterval, "TASK_POLL_INTERVAL", "500ms"},
		{&cfg.RetryBase, "TASK_RETRY_BASE", "1m"},
		{&cfg.RetryCap, "TASK_RETRY_CAP", "30m"},
		{&cfg.JobLease, "TASK_JOB_LEASE", "5m"},
		{&cfg.WebhookTimeout, "WEBHOOK_TIMEOUT", "30s"},
		{&cfg.PersistTimeout, "PERSIST_TIMEOUT", "5s"},
		{&cfg.MessageRetention, "MESSAGE_RETENTION", "720h"},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(d.key, d.def); err != nil {
			return Config{}, err
		}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseTokenPairs(raw string) map[string]string {
	pairs := make(map[string]string)
	for _, part := range splitAndTrim(raw) {
		token, user, ok := strings.Cut(part, "=")
		if !ok || token == "" || user == "" {
			continue
		}
		pairs[token] = user
	}
	return pairs
}

func parseDuration(key, def string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return dur, nil
}

func parseFloat(key string, def float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("invalid %s: must be in [0,1]", key)
	}
	return v, nil
}

func parseIntWithDefault(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func parseBool(raw string, def bool) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
