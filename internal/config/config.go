// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fhirhub/go-fhirhub/internal/converter"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	KafkaBrokers         []string      `mapstructure:"KAFKA_BROKERS"`
	APIKeys              string        `mapstructure:"API_KEYS"`
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
	OTLPEndpoint         string        `mapstructure:"OTLP_ENDPOINT"`
	TracingEnabled       bool          `mapstructure:"TRACING_ENABLED"`
	CacheMaxEntries      int64         `mapstructure:"CACHE_MAX_ENTRIES"`
	CacheTTL             time.Duration `mapstructure:"CACHE_TTL"`
	InputDir             string        `mapstructure:"INPUT_DIR"`
	OutputDir            string        `mapstructure:"OUTPUT_DIR"`
	WatchExtensions      []string      `mapstructure:"WATCH_EXTENSIONS"`
	LogRetention         time.Duration `mapstructure:"LOG_RETENTION"`
	RetentionSchedule    string        `mapstructure:"RETENTION_SCHEDULE"`
	IdentifierSystemBase string        `mapstructure:"IDENTIFIER_SYSTEM_BASE"`
	ExtensionBase        string        `mapstructure:"EXTENSION_BASE"`
	Workers              int           `mapstructure:"WORKERS"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "KAFKA_BROKERS", "API_KEYS", "LOG_LEVEL",
	"OTLP_ENDPOINT", "TRACING_ENABLED", "CACHE_MAX_ENTRIES", "CACHE_TTL",
	"INPUT_DIR", "OUTPUT_DIR", "WATCH_EXTENSIONS", "LOG_RETENTION",
	"RETENTION_SCHEDULE", "IDENTIFIER_SYSTEM_BASE", "EXTENSION_BASE", "WORKERS",
}

// Load reads .env from the working directory when present, then the
// environment.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("CACHE_MAX_ENTRIES", 10000)
	v.SetDefault("CACHE_TTL", "10m")
	v.SetDefault("INPUT_DIR", "./data/in")
	v.SetDefault("OUTPUT_DIR", "./data/out")
	v.SetDefault("WATCH_EXTENSIONS", ".hl7,.txt")
	v.SetDefault("LOG_RETENTION", "720h")
	v.SetDefault("RETENTION_SCHEDULE", "@daily")
	v.SetDefault("WORKERS", 8)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.WatchExtensions = splitList(v.GetString("WATCH_EXTENSIONS"))
	for i, ext := range cfg.WatchExtensions {
		if !strings.HasPrefix(ext, ".") {
			cfg.WatchExtensions[i] = "." + ext
		}
	}

	return cfg, nil
}

// Validate checks values every binary depends on.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}
	if c.CacheMaxEntries < 0 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must not be negative, got %d", c.CacheMaxEntries)
	}
	if _, err := c.APIKeyMap(); err != nil {
		return err
	}
	return nil
}

// RequireDatabase fails when DATABASE_URL is unset.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// APIKeyMap parses API_KEYS ("key:client,key2:client2") into key -> client id.
func (c *Config) APIKeyMap() (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitList(c.APIKeys) {
		key, client, ok := strings.Cut(pair, ":")
		key, client = strings.TrimSpace(key), strings.TrimSpace(client)
		if !ok || key == "" || client == "" {
			return nil, fmt.Errorf("API_KEYS entry %q must be key:client", pair)
		}
		out[key] = client
	}
	return out, nil
}

// ConverterOptions maps the identifier and extension settings onto engine options.
func (c *Config) ConverterOptions() converter.Options {
	return converter.Options{
		IdentifierSystemBase: c.IdentifierSystemBase,
		ExtensionBase:        c.ExtensionBase,
	}.Merge(converter.DefaultOptions())
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
