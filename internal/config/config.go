// Package config reads process configuration from the environment once at
// startup. Per spec.md §6/§9, configuration is immutable after process init.
package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

type Config struct {
	APIKey string

	DatabaseURL string

	SMTPServer   string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	EmailSender  string
	CTOEmail     string

	ScraperHeadless   bool
	ScraperTimeout    time.Duration
	ScraperMaxRetries int
	ScraperDelay      time.Duration

	SkipScraping bool
	RawCSVDir    string

	GeocodingBatchSize int
	DPEMaxRetries      int

	LogLevel string

	AddressAPIBaseURL string
	CertAPIBaseURL    string
	ListingsBaseURL   string

	RedisURL string

	Port string
}

var current *Config

// Load reads the environment once and caches the result. Safe to call
// repeatedly; subsequent calls return the cached Config.
func Load() *Config {
	if current != nil {
		return current
	}

	cfg := &Config{
		APIKey:      os.Getenv("API_KEY"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		SMTPServer:   os.Getenv("SMTP_SERVER"),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		EmailSender:  os.Getenv("EMAIL_SENDER"),
		CTOEmail:     os.Getenv("CTO_EMAIL"),

		ScraperHeadless:   getEnvBool("SCRAPER_HEADLESS", true),
		ScraperTimeout:    time.Duration(getEnvInt("SCRAPER_TIMEOUT", 60)) * time.Second,
		ScraperMaxRetries: getEnvInt("SCRAPER_MAX_RETRIES", 3),
		ScraperDelay:      time.Duration(getEnvInt("SCRAPER_DELAY", 0)) * time.Second,

		SkipScraping: getEnvBool("SKIP_SCRAPING", false),
		RawCSVDir:    getEnvStr("RAW_CSV_DIR", "/tmp/trackimmo-raw"),

		GeocodingBatchSize: getEnvInt("GEOCODING_BATCH_SIZE", 1000),
		DPEMaxRetries:      getEnvInt("DPE_MAX_RETRIES", 3),

		LogLevel: getEnvStr("LOG_LEVEL", "info"),

		AddressAPIBaseURL: getEnvStr("ADDRESS_API_BASE_URL", "https://api-adresse.data.gouv.fr"),
		CertAPIBaseURL:    getEnvStr("CERT_API_BASE_URL", "https://data.ademe.fr/data-fair/api/v1"),
		ListingsBaseURL:   getEnvStr("LISTINGS_BASE_URL", "https://www.immo-data.fr"),

		RedisURL: os.Getenv("REDIS_URL"),

		Port: getEnvStr("PORT", "8080"),
	}

	if cfg.DatabaseURL == "" {
		log.Println("⚠️  DATABASE_URL not set — relying on caller to provide a *gorm.DB directly")
	}

	current = cfg
	return cfg
}

func getEnvStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}
