package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Default worker-pool sizes. Download tasks are almost pure I/O so the pool
// is wide; normalization tasks decode parquet and end with a blocking
// warehouse transaction, so the pool stays narrow.
const (
	DefaultDownloadWorkers  = 40
	DefaultNormalizeWorkers = 5
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatabaseURL     string
	EEAAPIURL       string
	StagingDir      string
	VocabDir        string
	DataDir         string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Air quality dataset selection. Dataset 3 is the full raw archive,
	// documented by the EEA as order-of-terabytes.
	Dataset1 bool
	Dataset2 bool
	Dataset3 bool

	DownloadWorkers  int
	NormalizeWorkers int
	DownloadTimeout  time.Duration
	DiscoveryDelay   time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	downloadTimeout, err := parseDuration("DOWNLOAD_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	discoveryDelay, err := parseDuration("DISCOVERY_DELAY", 0)
	if err != nil {
		return nil, err
	}
	downloadWorkers, err := parsePositiveInt("DOWNLOAD_WORKERS", DefaultDownloadWorkers)
	if err != nil {
		return nil, err
	}
	normalizeWorkers, err := parsePositiveInt("NORMALIZE_WORKERS", DefaultNormalizeWorkers)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		EEAAPIURL:       envOrDefault("EEA_API_URL", "https://eeadmz1-downloads-api-appservice.azurewebsites.net"),
		StagingDir:      envOrDefault("STAGING_DIR", "AirQuality/download"),
		VocabDir:        envOrDefault("VOCAB_DIR", "AirQuality"),
		DataDir:         envOrDefault("DATA_DIR", "."),
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		Dataset1: envBool("EEA_DATASET_1", true),
		Dataset2: envBool("EEA_DATASET_2", false),
		Dataset3: envBool("EEA_DATASET_3", false),

		DownloadWorkers:  downloadWorkers,
		NormalizeWorkers: normalizeWorkers,
		DownloadTimeout:  downloadTimeout,
		DiscoveryDelay:   discoveryDelay,
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if !cfg.Dataset1 && !cfg.Dataset2 && !cfg.Dataset3 {
		return nil, errors.New("at least one of EEA_DATASET_1/2/3 must be enabled")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true"
	}
	return def
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}
