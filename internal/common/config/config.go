package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Fetch    FetchConfig
	Registry RegistryConfig
	Tools    ToolsConfig
	Logging  LoggingConfig
}

// FetchConfig controls the download negotiator and the artifact layout.
type FetchConfig struct {
	FeedsDir     string
	DownloadDir  string
	OutDir       string
	HTTPTimeout  time.Duration
	RetryCount   int
	RetryBackoff time.Duration
	UserAgent    string
}

// RegistryConfig locates the local registry snapshots.
type RegistryConfig struct {
	TransitlandDir      string
	MobilityDatabaseCSV string
	MobilityDatabaseURL string
	TransitlandAPIKey   string
}

// ToolsConfig configures the external cleaning tool invocation.
type ToolsConfig struct {
	GTFSTidyPath   string
	EmptyAgencyURL string
}

type LoggingConfig struct {
	Level    string
	FilePath string
}

func Load() (*Config, error) {
	cfg := &Config{
		Fetch: FetchConfig{
			FeedsDir:     getEnv("FEEDS_DIR", "feeds"),
			DownloadDir:  getEnv("DOWNLOAD_DIR", "downloads"),
			OutDir:       getEnv("OUT_DIR", "out"),
			HTTPTimeout:  getDurationEnv("FETCH_HTTP_TIMEOUT", 5*time.Minute),
			RetryCount:   getIntEnv("FETCH_RETRY_COUNT", 3),
			RetryBackoff: getDurationEnv("FETCH_RETRY_BACKOFF", 2*time.Second),
			UserAgent:    getEnv("FETCH_USER_AGENT", "feedfetch/1.0 (+https://github.com/feedfetch-data)"),
		},
		Registry: RegistryConfig{
			TransitlandDir:      getEnv("TRANSITLAND_ATLAS_DIR", "transitland-atlas"),
			MobilityDatabaseCSV: getEnv("MDB_CSV_PATH", "mobilitydatabase.csv"),
			MobilityDatabaseURL: getEnv("MDB_CSV_URL", "https://storage.googleapis.com/storage/v1/b/mdb-csv/o/sources.csv?alt=media"),
			TransitlandAPIKey:   getEnv("TRANSITLAND_API_KEY", ""),
		},
		Tools: ToolsConfig{
			GTFSTidyPath:   getEnv("GTFSTIDY_PATH", "gtfstidy"),
			EmptyAgencyURL: getEnv("EMPTY_AGENCY_URL", "https://example.com/"),
		},
		Logging: LoggingConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			FilePath: getEnv("LOG_FILE", ""),
		},
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
