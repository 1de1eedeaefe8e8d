package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all process-level configuration parameters.
type Config struct {
	DatabaseURL   string
	EventHubPort  int
	SweepInterval time.Duration

	// Evidence object storage (S3-compatible, Cloudflare R2).
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicBaseURL   string
}

// Load reads configuration from environment variables. A .env file is loaded
// if present, which is convenient for local development and not fatal otherwise.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	portStr := os.Getenv("EVENT_HUB_PORT")
	if portStr == "" {
		portStr = "8090"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid EVENT_HUB_PORT environment variable: %w", err)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("EVENT_HUB_PORT must be between 1 and 65535, got %d", port)
	}

	sweepStr := os.Getenv("SWEEP_INTERVAL")
	if sweepStr == "" {
		sweepStr = "30s"
	}
	sweep, err := time.ParseDuration(sweepStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL environment variable: %w", err)
	}
	if sweep < time.Second {
		return nil, fmt.Errorf("SWEEP_INTERVAL must be at least 1s, got %s", sweep)
	}

	cfg := &Config{
		DatabaseURL:       dbURL,
		EventHubPort:      port,
		SweepInterval:     sweep,
		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		R2PublicBaseURL:   os.Getenv("R2_PUBLIC_BASE_URL"),
	}

	return cfg, nil
}
