// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Scraper    ScraperConfig    `mapstructure:"scraper"`
	Turbo      TurboConfig      `mapstructure:"turbo"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Redis      RedisConfig      `mapstructure:"redis"`
	DB         DBConfig         `mapstructure:"db"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig governs the crawl pipeline.
type ScraperConfig struct {
	AllowedHosts         []string `mapstructure:"allowed_hosts"`
	UserAgent            string   `mapstructure:"user_agent"`
	MaxRequestsPerSecond float64  `mapstructure:"max_rps"`
	DetailConcurrency    int      `mapstructure:"detail_concurrency"`
	DetailBatchSize      int      `mapstructure:"detail_batch_size"`
	CategoryBatchSize    int      `mapstructure:"category_batch_size"`
	MaxProductsCap       int      `mapstructure:"max_products_cap"`
	CancelPollIntervalMs int      `mapstructure:"cancel_poll_interval_ms"`
	WorkerConcurrency    int      `mapstructure:"worker_concurrency"`
	FetchTimeoutSeconds  int      `mapstructure:"fetch_timeout_seconds"`
}

// TurboConfig holds the aggressive preset applied for turbo jobs.
type TurboConfig struct {
	MaxRequestsPerSecond float64 `mapstructure:"max_rps"`
	DetailConcurrency    int     `mapstructure:"detail_concurrency"`
	PreferDynamic        bool    `mapstructure:"prefer_dynamic"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	NavTimeoutSec    int  `mapstructure:"nav_timeout_seconds"`
	SettleMillis     int  `mapstructure:"settle_ms"`
	PreferForCatalog bool `mapstructure:"prefer_for_catalog"`
}

// ClassifierConfig selects the category-classification model.
type ClassifierConfig struct {
	Model string `mapstructure:"model"`
}

// RedisConfig points at the queue backend.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("scraper.allowed_hosts", []string{"localhost", "127.0.0.1"})
	v.SetDefault("scraper.user_agent", "DermosulScraper/1.0 (+https://dermosul.com.br)")
	v.SetDefault("scraper.max_rps", 2.0)
	v.SetDefault("scraper.detail_concurrency", 1)
	v.SetDefault("scraper.detail_batch_size", 60)
	v.SetDefault("scraper.category_batch_size", 10)
	v.SetDefault("scraper.max_products_cap", 0)
	v.SetDefault("scraper.cancel_poll_interval_ms", 750)
	v.SetDefault("scraper.worker_concurrency", 1)
	v.SetDefault("scraper.fetch_timeout_seconds", 45)
	v.SetDefault("turbo.max_rps", 10.0)
	v.SetDefault("turbo.detail_concurrency", 4)
	v.SetDefault("turbo.prefer_dynamic", true)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.nav_timeout_seconds", 60)
	v.SetDefault("headless.settle_ms", 2500)
	v.SetDefault("headless.prefer_for_catalog", true)
	v.SetDefault("classifier.model", "gpt-4.1-mini")
	v.SetDefault("redis.url", "redis://127.0.0.1:6379")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Scraper.AllowedHosts) == 0 {
		return fmt.Errorf("scraper.allowed_hosts must not be empty")
	}
	if c.Scraper.MaxRequestsPerSecond <= 0 {
		return fmt.Errorf("scraper.max_rps must be > 0")
	}
	if c.Scraper.DetailConcurrency <= 0 {
		return fmt.Errorf("scraper.detail_concurrency must be > 0")
	}
	if c.Scraper.WorkerConcurrency <= 0 {
		return fmt.Errorf("scraper.worker_concurrency must be > 0")
	}
	if c.Scraper.CancelPollIntervalMs < 250 {
		return fmt.Errorf("scraper.cancel_poll_interval_ms must be >= 250")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// CancelPollInterval returns the worker's cancel-flag polling cadence.
func (c Config) CancelPollInterval() time.Duration {
	return time.Duration(c.Scraper.CancelPollIntervalMs) * time.Millisecond
}

// FetchTimeout returns the per-request fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Scraper.FetchTimeoutSeconds) * time.Second
}

// HostAllowed reports whether the URL's hostname matches the allow-list
// (exact match or subdomain of an allowed host).
func (c Config) HostAllowed(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}
	for _, allowed := range c.Scraper.AllowedHosts {
		a := strings.ToLower(strings.TrimSpace(allowed))
		if a == "" {
			continue
		}
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}
