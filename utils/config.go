package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/mischief-tracker/models"
)

// History backends
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds all configuration for the application
type Config struct {
	App        AppConfig
	Scrape     ScrapeConfig
	BrightData BrightDataConfig
	Twitter    TwitterConfig
	HTML       []HTMLSourceConfig
	History    HistoryConfig
	Publish    PublishConfig
	Server     ServerConfig
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Name    string
	Version string
}

// ScrapeConfig controls the scrape loop and the hashtag parser
type ScrapeConfig struct {
	Hashtag          string
	Interval         time.Duration
	LeaderboardLimit int
	UsernameFallback bool
	AuthorFallback   bool
}

// BrightDataConfig holds Bright Data credentials and dataset ids
type BrightDataConfig struct {
	APIKey               string
	BaseURL              string
	Datasets             map[models.Platform]string
	MaxRequestsPerMinute int
}

// Enabled reports whether the Bright Data source should run
func (b BrightDataConfig) Enabled() bool {
	return b.APIKey != "" && len(b.Datasets) > 0
}

// TwitterConfig controls the credential-free X scraper
type TwitterConfig struct {
	Enabled   bool
	MaxTweets int
}

// HTMLSourceConfig is one page-scraping source
type HTMLSourceConfig struct {
	Name     string
	Platform models.Platform
	URL      string
}

// HistoryConfig selects and configures the claim history store
type HistoryConfig struct {
	Backend       string
	DatabasePath  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// PublishConfig lists the destinations of the reconciled result
type PublishConfig struct {
	S3Bucket string
	S3Key    string
	S3Region string
	RedisKey string
	CacheTTL time.Duration
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port                 int
	MaxRequestsPerMinute int
}

// LoadConfig loads configuration from .env file
func LoadConfig(envPath string, log *logrus.Logger) (*Config, error) {
	if envPath == "" {
		envPath = ".env"
	}

	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	htmlSources, err := parseHTMLSources(getEnv("HTML_SOURCES", ""))
	if err != nil {
		return nil, err
	}

	datasets := make(map[models.Platform]string)
	for _, platform := range models.Platforms {
		key := "BRIGHTDATA_" + strings.ToUpper(string(platform)) + "_DATASET"
		if id := getEnv(key, ""); id != "" {
			datasets[platform] = id
		}
	}

	config := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "Mission Mischief Tracker"),
			Version: getEnv("APP_VERSION", "1.0.0"),
		},
		Scrape: ScrapeConfig{
			Hashtag:          strings.TrimPrefix(getEnv("SCRAPE_HASHTAG", "missionmischief"), "#"),
			Interval:         time.Duration(getEnvAsInt("SCRAPE_INTERVAL", 3600)) * time.Second,
			LeaderboardLimit: getEnvAsInt("SCRAPE_LEADERBOARD_LIMIT", 50),
			UsernameFallback: getEnvAsBool("PARSER_USERNAME_FALLBACK", false),
			AuthorFallback:   getEnvAsBool("PARSER_AUTHOR_FALLBACK", false),
		},
		BrightData: BrightDataConfig{
			APIKey:               getEnv("BRIGHTDATA_API_KEY", ""),
			BaseURL:              getEnv("BRIGHTDATA_BASE_URL", "https://api.brightdata.com"),
			Datasets:             datasets,
			MaxRequestsPerMinute: getEnvAsInt("BRIGHTDATA_MAX_REQUESTS_PER_MINUTE", 30),
		},
		Twitter: TwitterConfig{
			Enabled:   getEnvAsBool("X_SCRAPER_ENABLED", false),
			MaxTweets: getEnvAsInt("X_SCRAPER_MAX_TWEETS", 200),
		},
		HTML: htmlSources,
		History: HistoryConfig{
			Backend:       strings.ToLower(getEnv("HISTORY_BACKEND", BackendSQLite)),
			DatabasePath:  getEnv("DATABASE_PATH", "./mischief.db"),
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
		},
		Publish: PublishConfig{
			S3Bucket: getEnv("PUBLISH_S3_BUCKET", ""),
			S3Key:    getEnv("PUBLISH_S3_KEY", "bounty-data.json"),
			S3Region: getEnv("PUBLISH_S3_REGION", "us-east-1"),
			RedisKey: getEnv("PUBLISH_REDIS_KEY", ""),
			CacheTTL: time.Duration(getEnvAsInt("PUBLISH_CACHE_TTL", 0)) * time.Second,
		},
		Server: ServerConfig{
			Port:                 getEnvAsInt("SERVER_PORT", 8080),
			MaxRequestsPerMinute: getEnvAsInt("SERVER_MAX_REQUESTS_PER_MINUTE", 120),
		},
	}

	// validation
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	log.WithField("file", envPath).Info("Config loaded successfully")
	return config, nil
}

// SourceNames returns the names of the enabled sources in run order
func (c *Config) SourceNames() []string {
	names := make([]string, 0)
	if c.BrightData.Enabled() {
		names = append(names, "brightdata")
	}
	if c.Twitter.Enabled {
		names = append(names, "x")
	}
	for _, h := range c.HTML {
		names = append(names, h.Name)
	}
	return names
}

// parseList parses a comma-separated list, dropping blanks
func parseList(value string) []string {
	parts := strings.Split(value, ",")

	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}

	return items
}

// parseHTMLSources parses name=platform=url entries
func parseHTMLSources(value string) ([]HTMLSourceConfig, error) {
	entries := parseList(value)
	sources := make([]HTMLSourceConfig, 0, len(entries))

	for _, entry := range entries {
		fields := strings.SplitN(entry, "=", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("HTML_SOURCES entry %q must be name=platform=url", entry)
		}
		platform, ok := models.ParsePlatform(fields[1])
		if !ok {
			return nil, fmt.Errorf("HTML_SOURCES entry %q has unknown platform %q", entry, fields[1])
		}
		name, url := strings.TrimSpace(fields[0]), strings.TrimSpace(fields[2])
		if name == "" || url == "" {
			return nil, fmt.Errorf("HTML_SOURCES entry %q needs a name and url", entry)
		}
		sources = append(sources, HTMLSourceConfig{Name: name, Platform: platform, URL: url})
	}

	return sources, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as a bool or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	names := config.SourceNames()
	if len(names) == 0 {
		return errors.New("at least one source is required: set BRIGHTDATA_API_KEY with a dataset, X_SCRAPER_ENABLED or HTML_SOURCES")
	}

	// names key history and winners, so they must be unique
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return fmt.Errorf("duplicate source name %q", name)
		}
		seen[name] = true
	}

	if config.Scrape.Interval <= 0 {
		return fmt.Errorf("SCRAPE_INTERVAL must be positive")
	}
	if config.Scrape.Hashtag == "" {
		return fmt.Errorf("SCRAPE_HASHTAG is required")
	}

	switch config.History.Backend {
	case BackendSQLite, BackendMemory:
	case BackendRedis:
		if config.History.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when HISTORY_BACKEND is redis")
		}
	default:
		return fmt.Errorf("HISTORY_BACKEND must be one of sqlite, redis, memory; got %q", config.History.Backend)
	}

	if config.Publish.RedisKey != "" && config.History.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required when PUBLISH_REDIS_KEY is set")
	}

	// the justice store always lives in sqlite; create a nested directory if needed
	dbDir := filepath.Dir(config.History.DatabasePath)
	if dbDir != "." && dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
