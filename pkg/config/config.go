// Package config loads gateway client settings from the environment, with
// optional .env file support for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Settings holds everything needed to stand up a gateway client.
type Settings struct {
	// GatewayURL is the ERP gateway root, e.g. "http://erp.example.com:8180".
	GatewayURL string

	// Username and Password authenticate the principal session.
	Username string
	Password string

	// RequestTimeout bounds one round trip.
	RequestTimeout time.Duration

	// MaxRetries is the number of attempts made after the first one.
	MaxRetries int

	// BatchThroughput is the batch group size that triggers a flush.
	BatchThroughput int

	// RedisAddr enables the dead-letter queue when non-empty.
	RedisAddr string

	// LogLevel is debug, info, warn or error.
	LogLevel string

	// LogPretty switches to human-readable console output.
	LogPretty bool
}

// Load reads settings from the environment. If a .env file exists in the
// working directory it is loaded first; real environment variables win over
// file values.
func Load() (Settings, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	s := Settings{
		GatewayURL:      os.Getenv("ERP_GATEWAY_URL"),
		Username:        os.Getenv("ERP_USERNAME"),
		Password:        os.Getenv("ERP_PASSWORD"),
		RequestTimeout:  30 * time.Second,
		MaxRetries:      3,
		BatchThroughput: 50,
		RedisAddr:       os.Getenv("ERP_REDIS_ADDR"),
		LogLevel:        envOr("ERP_LOG_LEVEL", "info"),
		LogPretty:       os.Getenv("ERP_LOG_PRETTY") == "true",
	}

	if v := os.Getenv("ERP_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Settings{}, fmt.Errorf("parse ERP_REQUEST_TIMEOUT: %w", err)
		}
		s.RequestTimeout = d
	}
	if v := os.Getenv("ERP_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Settings{}, fmt.Errorf("parse ERP_MAX_RETRIES: %q is not a non-negative integer", v)
		}
		s.MaxRetries = n
	}
	if v := os.Getenv("ERP_BATCH_THROUGHPUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Settings{}, fmt.Errorf("parse ERP_BATCH_THROUGHPUT: %q is not a positive integer", v)
		}
		s.BatchThroughput = n
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks the required fields.
func (s Settings) Validate() error {
	if s.GatewayURL == "" {
		return fmt.Errorf("ERP_GATEWAY_URL is required")
	}
	if s.Username == "" {
		return fmt.Errorf("ERP_USERNAME is required")
	}
	if s.Password == "" {
		return fmt.Errorf("ERP_PASSWORD is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
