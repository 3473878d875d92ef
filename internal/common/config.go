// Package common provides shared utilities for Folio
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Folio
type Config struct {
	Environment string          `toml:"environment"`
	Portfolios  []string        `toml:"portfolios"`
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Clients     ClientsConfig   `toml:"clients"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Calendar    CalendarConfig  `toml:"calendar"`
	Logging     LoggingConfig   `toml:"logging"`
	Auth        AuthConfig      `toml:"auth"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	ReadTimeout     string `toml:"read_timeout"`
	WriteTimeout    string `toml:"write_timeout"` // covers reconcile with a full quote refresh
	IdleTimeout     string `toml:"idle_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// GetReadTimeout returns the request read timeout, 30s when unset or invalid.
func (c *ServerConfig) GetReadTimeout() time.Duration {
	return durationOr(c.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout returns the response write timeout, 2m when unset or invalid.
func (c *ServerConfig) GetWriteTimeout() time.Duration {
	return durationOr(c.WriteTimeout, 2*time.Minute)
}

func (c *ServerConfig) GetIdleTimeout() time.Duration {
	return durationOr(c.IdleTimeout, time.Minute)
}

func (c *ServerConfig) GetShutdownTimeout() time.Duration {
	return durationOr(c.ShutdownTimeout, 10*time.Second)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// DefaultPortfolio returns the first portfolio in the list (the default), or "main".
func (c *Config) DefaultPortfolio() string {
	if len(c.Portfolios) > 0 {
		return c.Portfolios[0]
	}
	return "main"
}

// StorageConfig selects the document store backend.
type StorageConfig struct {
	Backend      string `toml:"backend"` // "memory", "file", "surrealdb" or "sqlite"
	Address      string `toml:"address"` // ws://host:port/rpc for surrealdb
	Namespace    string `toml:"namespace"`
	Database     string `toml:"database"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	Path         string `toml:"path"`          // sqlite file or file-store directory
	Versions     int    `toml:"versions"`      // file store: backups kept per document
	PollInterval string `toml:"poll_interval"` // change-subscription poll period
}

// GetPollInterval parses and returns the subscription poll interval
func (c *StorageConfig) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	Yahoo YahooConfig `toml:"yahoo"`
	EODHD EODHDConfig `toml:"eodhd"`
}

// YahooConfig holds Yahoo chart API configuration
type YahooConfig struct {
	BaseURL   string `toml:"base_url"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *YahooConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// EODHDConfig holds EODHD API configuration
type EODHDConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *EODHDConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// SchedulerConfig controls the in-process refresh and reconcile loop.
type SchedulerConfig struct {
	Enabled         bool   `toml:"enabled"`
	RefreshInterval string `toml:"refresh_interval"`
	Market          string `toml:"market"` // market whose close triggers the daily snapshot
}

// GetRefreshInterval parses and returns the refresh interval
func (c *SchedulerConfig) GetRefreshInterval() time.Duration {
	d, err := time.ParseDuration(c.RefreshInterval)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// CalendarConfig points at an optional holiday override file.
type CalendarConfig struct {
	HolidaysFile string `toml:"holidays_file"`
}

// AuthConfig holds bearer token configuration.
type AuthConfig struct {
	Required  bool   `toml:"required"`
	JWTSecret string `toml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
	MaxAgeDays int      `toml:"max_age_days"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Portfolios:  []string{"main"},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     "30s",
			WriteTimeout:    "2m",
			IdleTimeout:     "60s",
			ShutdownTimeout: "10s",
		},
		Storage: StorageConfig{
			Backend:      "memory",
			Address:      "ws://localhost:8000/rpc",
			Namespace:    "folio",
			Database:     "folio",
			Username:     "root",
			Password:     "root",
			Path:         "data/folio.db",
			PollInterval: "5s",
		},
		Clients: ClientsConfig{
			Yahoo: YahooConfig{
				BaseURL:   "https://query1.finance.yahoo.com",
				RateLimit: 5,
				Timeout:   "10s",
			},
			EODHD: EODHDConfig{
				BaseURL:   "https://eodhd.com/api",
				RateLimit: 10,
				Timeout:   "30s",
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			RefreshInterval: "15m",
			Market:          "HK",
		},
		Auth: AuthConfig{
			JWTSecret: "dev-jwt-secret-change-in-production",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Outputs:    []string{"console"},
			FilePath:   "./logs/folio.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Later files override earlier
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	config.Storage.Backend = strings.ToLower(strings.TrimSpace(config.Storage.Backend))
	config.Scheduler.Market = strings.ToUpper(strings.TrimSpace(config.Scheduler.Market))

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FOLIO_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("FOLIO_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("FOLIO_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("FOLIO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if v := os.Getenv("FOLIO_STORAGE_BACKEND"); v != "" {
		config.Storage.Backend = v
	}
	if v := os.Getenv("FOLIO_STORAGE_ADDRESS"); v != "" {
		config.Storage.Address = v
	}
	if v := os.Getenv("FOLIO_STORAGE_PATH"); v != "" {
		config.Storage.Path = v
	}

	if v := os.Getenv("FOLIO_AUTH_JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}
	if v := os.Getenv("FOLIO_AUTH_REQUIRED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Auth.Required = b
		}
	}

	for _, name := range []string{"EODHD_API_KEY", "FOLIO_EODHD_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			config.Clients.EODHD.APIKey = v
			break
		}
	}

	if dp := os.Getenv("FOLIO_DEFAULT_PORTFOLIO"); dp != "" {
		filtered := []string{dp}
		for _, p := range config.Portfolios {
			if p != dp {
				filtered = append(filtered, p)
			}
		}
		config.Portfolios = filtered
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ValidateRequired returns the names of settings that must be changed before
// running in production.
func (c *Config) ValidateRequired() []string {
	var missing []string
	if c.Auth.Required && (c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "dev-jwt-secret-change-in-production") {
		missing = append(missing, "auth.jwt_secret")
	}
	switch c.Storage.Backend {
	case "surrealdb":
		if c.Storage.Address == "" {
			missing = append(missing, "storage.address")
		}
	case "sqlite", "file":
		if c.Storage.Path == "" {
			missing = append(missing, "storage.path")
		}
	}
	return missing
}
