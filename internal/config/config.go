package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minAuthSecretLength = 32

type Config struct {
	Port          string
	AllowedOrigin string
	AppEnv        string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	AuthSecret    string
	SettingsFile  string

	WebhookURL         string
	WebhookSecret      string
	WebhookTimeout     time.Duration
	WebhookMaxAttempts int
	WebhookQueueSize   int

	ClosingTimezone string
}

// Load reads an optional .env file and then the process environment. A .env
// file that exists but cannot be read is reported alongside the config built
// from the environment alone.
func Load() (Config, error) {
	var envErr error
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		envErr = fmt.Errorf("load .env: %w", err)
	}

	timeoutSeconds := getEnvInt("WEBHOOK_TIMEOUT_SECONDS", 10)
	if timeoutSeconds < 1 {
		timeoutSeconds = 10
	}
	maxAttempts := getEnvInt("WEBHOOK_MAX_ATTEMPTS", 5)
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	queueSize := getEnvInt("WEBHOOK_QUEUE_SIZE", 256)
	if queueSize < 1 {
		queueSize = 256
	}

	return Config{
		Port:          getEnv("PORT", "8080"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		AppEnv:        getEnv("APP_ENV", "production"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		AuthSecret:    strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		SettingsFile:  os.Getenv("SETTINGS_FILE"),

		WebhookURL:         strings.TrimSpace(os.Getenv("WEBHOOK_URL")),
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),
		WebhookTimeout:     time.Duration(timeoutSeconds) * time.Second,
		WebhookMaxAttempts: maxAttempts,
		WebhookQueueSize:   queueSize,

		ClosingTimezone: strings.TrimSpace(os.Getenv("CLOSING_TIMEZONE")),
	}, envErr
}

func (c Config) Validate() error {
	if len(c.AuthSecret) < minAuthSecretLength {
		return fmt.Errorf("AUTH_SECRET must be at least %d characters", minAuthSecretLength)
	}
	if _, err := c.ClosingLocation(); err != nil {
		return err
	}
	return nil
}

// ClosingLocation returns the timezone whose calendar days cash closings
// cover. An empty CLOSING_TIMEZONE means the server's local zone.
func (c Config) ClosingLocation() (*time.Location, error) {
	if c.ClosingTimezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.ClosingTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid CLOSING_TIMEZONE %q: %w", c.ClosingTimezone, err)
	}
	return loc, nil
}

func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}
