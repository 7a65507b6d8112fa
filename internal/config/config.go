// Package config provides configuration management for SOC Tower.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/soctower/soctower/internal/incident"
)

// Config holds all SOC Tower configuration.
type Config struct {
	Server       ServerConfig        `yaml:"server"`
	Postgres     PostgresConfig      `yaml:"postgres"`
	Redis        RedisConfig         `yaml:"redis"`
	Aggregation  AggregationConfig   `yaml:"aggregation"`
	RateLimit    RateLimitConfig     `yaml:"rate_limit"`
	Integrations []IntegrationConfig `yaml:"integrations"`
	Logging      LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PostgresConfig holds event cache database settings.
type PostgresConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	PasswordEnv string `yaml:"password_env"`
	Database    string `yaml:"database"`
	SSLMode     string `yaml:"ssl_mode"`
}

// DSN builds the lib/pq connection string, reading the password from the
// configured environment variable.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, os.Getenv(p.PasswordEnv), p.Database, p.SSLMode)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	PasswordEnv string        `yaml:"password_env"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// AggregationConfig holds the incident aggregation settings.
type AggregationConfig struct {
	// VendorTimeout bounds each per-vendor fetch; a slow vendor degrades
	// to an empty contribution instead of stalling the request.
	VendorTimeout   time.Duration `yaml:"vendor_timeout"`
	DefaultPageSize int           `yaml:"default_page_size"`
	MaxPageSize     int           `yaml:"max_page_size"`
}

// RateLimitConfig holds API rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// IntegrationConfig holds one vendor integration.
type IntegrationConfig struct {
	ID        string                `yaml:"id"`
	Name      string                `yaml:"name"`
	Source    incident.SourceVendor `yaml:"source"`
	Enabled   bool                  `yaml:"enabled"`
	BaseURL   string                `yaml:"base_url"`
	APIKeyEnv string                `yaml:"api_key_env"`
	Timeout   time.Duration         `yaml:"timeout"`
}

// APIKey reads the integration's secret from its environment variable.
func (i IntegrationConfig) APIKey() string {
	return os.Getenv(i.APIKeyEnv)
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:        "localhost",
			Port:        5432,
			User:        "soctower",
			PasswordEnv: "SOCTOWER_DB_PASSWORD",
			Database:    "soctower",
			SSLMode:     "disable",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Aggregation: AggregationConfig{
			VendorTimeout:   20 * time.Second,
			DefaultPageSize: 25,
			MaxPageSize:     200,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 120,
		},
		Integrations: []IntegrationConfig{
			{
				ID:        "cloud-xdr-prod",
				Name:      "Cloud XDR",
				Source:    incident.VendorCloudXDR,
				Enabled:   false,
				APIKeyEnv: "CLOUD_XDR_API_KEY",
				Timeout:   20 * time.Second,
			},
			{
				ID:        "offense-siem-prod",
				Name:      "Offense SIEM",
				Source:    incident.VendorOffenseSIEM,
				Enabled:   false,
				APIKeyEnv: "OFFENSE_SIEM_API_KEY",
				Timeout:   20 * time.Second,
			},
			{
				ID:        "host-agent-prod",
				Name:      "Host Agent",
				Source:    incident.VendorHostAgent,
				Enabled:   false,
				APIKeyEnv: "HOST_AGENT_API_KEY",
				Timeout:   20 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// EnabledIntegrations returns the integrations with Enabled set.
func (c *Config) EnabledIntegrations() []IntegrationConfig {
	var enabled []IntegrationConfig
	for _, integration := range c.Integrations {
		if integration.Enabled {
			enabled = append(enabled, integration)
		}
	}
	return enabled
}

// Integration looks up an integration by id.
func (c *Config) Integration(id string) (IntegrationConfig, bool) {
	for _, integration := range c.Integrations {
		if integration.ID == id {
			return integration, true
		}
	}
	return IntegrationConfig{}, false
}
