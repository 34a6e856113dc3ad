// Package config loads service configuration from the environment, with an
// optional .env file for development. Environment variables always win.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/nestwatch/nestwatch/internal/crypto"
	"github.com/nestwatch/nestwatch/internal/utils"
)

// Defaults for tunables the environment may omit.
const (
	DefaultMaxResultsPerChannel = 10
	DefaultCacheTTLSeconds      = 86400
	DefaultRefreshBufferMinutes = 5
	DefaultScanTimeoutMinutes   = 30
	DefaultScanConcurrency      = 5
	DefaultScanSchedule         = "0 3 * * *"
	DefaultMetricsAddr          = ":9633"
	DefaultRedisURL             = "redis://localhost:6379/0"
	DefaultDatabasePath         = "nestwatch.db"
)

// Config carries everything the service reads from the environment.
type Config struct {
	DatabaseURL string
	RedisURL    string

	SecretKey          string
	TokenEncryptionKey []byte

	YouTubeClientID     string
	YouTubeClientSecret string
	YouTubeRedirectURI  string

	EmailEnabled bool
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	PushEnabled bool
	FCMAPIKey   string

	ScanMaxResultsPerChannel int
	ScanCacheTTL             time.Duration
	TokenRefreshBuffer       time.Duration
	ScanTimeout              time.Duration
	ScanConcurrency          int
	ScanSchedule             string
	SeedChannelIDs           []string

	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxAgeDays int

	MetricsAddr string
}

// Load reads configuration. A .env file in the working directory is applied
// first when present; real environment variables override it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env file")
	}

	cfg := &Config{
		DatabaseURL:         envOr("DATABASE_URL", DefaultDatabasePath),
		RedisURL:            envOr("REDIS_URL", DefaultRedisURL),
		SecretKey:           utils.GetenvTrim("SECRET_KEY"),
		YouTubeClientID:     utils.GetenvTrim("YOUTUBE_CLIENT_ID"),
		YouTubeClientSecret: utils.GetenvTrim("YOUTUBE_CLIENT_SECRET"),
		YouTubeRedirectURI:  utils.GetenvTrim("YOUTUBE_REDIRECT_URI"),
		EmailEnabled:        utils.ParseBool(utils.GetenvTrim("EMAIL_ENABLED")),
		SMTPHost:            utils.GetenvTrim("SMTP_HOST"),
		SMTPPort:            envInt("SMTP_PORT", 587),
		SMTPUsername:        utils.GetenvTrim("SMTP_USERNAME"),
		SMTPPassword:        utils.GetenvTrim("SMTP_PASSWORD"),
		SMTPFrom:            utils.GetenvTrim("SMTP_FROM"),
		PushEnabled:         utils.ParseBool(utils.GetenvTrim("PUSH_ENABLED")),
		FCMAPIKey:           utils.GetenvTrim("FCM_API_KEY"),
		ScanSchedule:        envOr("SCAN_SCHEDULE", DefaultScanSchedule),
		LogLevel:            envOr("LOG_LEVEL", "info"),
		LogFormat:           envOr("LOG_FORMAT", "auto"),
		LogFile:             utils.GetenvTrim("LOG_FILE"),
		LogMaxSizeMB:        envInt("LOG_MAX_SIZE_MB", 100),
		LogMaxAgeDays:       envInt("LOG_MAX_AGE_DAYS", 30),
		MetricsAddr:         envOr("METRICS_ADDR", DefaultMetricsAddr),
	}

	cfg.ScanMaxResultsPerChannel = envInt("SCAN_MAX_RESULTS_PER_CHANNEL", DefaultMaxResultsPerChannel)
	cfg.ScanCacheTTL = time.Duration(envInt("SCAN_CACHE_TTL_SECONDS", DefaultCacheTTLSeconds)) * time.Second
	cfg.TokenRefreshBuffer = time.Duration(envInt("TOKEN_REFRESH_BUFFER_MINUTES", DefaultRefreshBufferMinutes)) * time.Minute
	cfg.ScanTimeout = time.Duration(envInt("SCAN_TIMEOUT_MINUTES", DefaultScanTimeoutMinutes)) * time.Minute
	cfg.ScanConcurrency = envInt("SCAN_CONCURRENCY", DefaultScanConcurrency)

	if seeds := utils.GetenvTrim("SEED_CHANNEL_IDS"); seeds != "" {
		for _, id := range strings.Split(seeds, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.SeedChannelIDs = append(cfg.SeedChannelIDs, id)
			}
		}
	}

	if raw := utils.GetenvTrim("TOKEN_ENCRYPTION_KEY"); raw != "" {
		key, err := crypto.ParseKey(raw)
		if err != nil {
			return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY: %w", err)
		}
		cfg.TokenEncryptionKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the required keys and numeric sanity.
func (c *Config) Validate() error {
	var problems []string

	if c.SecretKey == "" {
		problems = append(problems, "SECRET_KEY is required")
	}
	if len(c.TokenEncryptionKey) != crypto.KeySize {
		problems = append(problems, "TOKEN_ENCRYPTION_KEY must decode to 32 bytes")
	}
	if c.YouTubeClientID == "" {
		problems = append(problems, "YOUTUBE_CLIENT_ID is required")
	}
	if c.YouTubeClientSecret == "" {
		problems = append(problems, "YOUTUBE_CLIENT_SECRET is required")
	}
	if c.YouTubeRedirectURI == "" {
		problems = append(problems, "YOUTUBE_REDIRECT_URI is required")
	}
	if c.EmailEnabled && c.SMTPHost == "" {
		problems = append(problems, "SMTP_HOST is required when EMAIL_ENABLED")
	}
	if c.PushEnabled && c.FCMAPIKey == "" {
		problems = append(problems, "FCM_API_KEY is required when PUSH_ENABLED")
	}
	if c.ScanMaxResultsPerChannel <= 0 {
		problems = append(problems, "SCAN_MAX_RESULTS_PER_CHANNEL must be positive")
	}
	if c.ScanCacheTTL <= 0 {
		problems = append(problems, "SCAN_CACHE_TTL_SECONDS must be positive")
	}
	if c.ScanTimeout <= 0 {
		problems = append(problems, "SCAN_TIMEOUT_MINUTES must be positive")
	}
	if c.ScanConcurrency <= 0 {
		problems = append(problems, "SCAN_CONCURRENCY must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := utils.GetenvTrim(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := utils.GetenvTrim(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return n
}
