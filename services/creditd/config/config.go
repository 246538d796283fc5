package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rwacredit/observability/logging"
)

// Config captures the runtime settings for the credit daemon.
type Config struct {
	ListenAddress string             `yaml:"listen"`
	DataDir       string             `yaml:"data_dir"`
	GenesisPath   string             `yaml:"genesis"`
	TLS           TLSConfig          `yaml:"tls"`
	Auth          AuthConfig         `yaml:"auth"`
	RateLimits    []RateLimit        `yaml:"rate_limits"`
	CORS          CORSConfig         `yaml:"cors"`
	Indexer       IndexerConfig      `yaml:"indexer"`
	Webhook       WebhookConfig      `yaml:"webhook"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Log           logging.FileConfig `yaml:"log"`
	AccessLog     bool               `yaml:"access_log"`
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	HMACSecret string        `yaml:"hmac_secret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ScopeClaim string        `yaml:"scope_claim"`
	ClockSkew  time.Duration `yaml:"clock_skew"`
}

// RateLimit bounds one route group: public, investor or admin.
type RateLimit struct {
	Group         string         `yaml:"group"`
	RatePerSecond float64        `yaml:"rate_per_second"`
	Burst         int            `yaml:"burst"`
	DefaultTokens int            `yaml:"default_tokens"`
	Tokens        map[string]int `yaml:"tokens"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// IndexerConfig selects the read-model database. An empty DSN disables it.
type IndexerConfig struct {
	DSN string `yaml:"dsn"`
}

// WebhookConfig forwards committed events to an external endpoint. An empty
// endpoint disables delivery.
type WebhookConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Secret      string        `yaml:"secret"`
	Topics      []string      `yaml:"topics"`
	QueueSize   int           `yaml:"queue_size"`
	MaxAttempts int           `yaml:"max_attempts"`
	MinBackoff  time.Duration `yaml:"min_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

type SchedulerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	PageSize       int           `yaml:"page_size"`
	AutoLiquidate  bool          `yaml:"auto_liquidate"`
	AutoDistribute bool          `yaml:"auto_distribute"`
}

var validGroups = map[string]struct{}{"public": {}, "investor": {}, "admin": {}}

// Load reads the YAML configuration from disk, applies CREDITD_* environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress:   ":8080",
		DataDir:         "data",
		ShutdownTimeout: 10 * time.Second,
		Scheduler:       SchedulerConfig{Enabled: true, Interval: time.Minute, AutoLiquidate: true, AutoDistribute: true},
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if value, ok := lookup(key); ok {
			*dst = value
		}
	}
	str("CREDITD_LISTEN", &cfg.ListenAddress)
	str("CREDITD_DATA_DIR", &cfg.DataDir)
	str("CREDITD_GENESIS", &cfg.GenesisPath)
	str("CREDITD_AUTH_HMAC_SECRET", &cfg.Auth.HMACSecret)
	str("CREDITD_INDEXER_DSN", &cfg.Indexer.DSN)
	str("CREDITD_WEBHOOK_ENDPOINT", &cfg.Webhook.Endpoint)
	str("CREDITD_WEBHOOK_SECRET", &cfg.Webhook.Secret)
	if value, ok := lookup("CREDITD_AUTH_ENABLED"); ok {
		enabled, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("CREDITD_AUTH_ENABLED: %w", err)
		}
		cfg.Auth.Enabled = enabled
	}
	return nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8080"
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.GenesisPath = strings.TrimSpace(cfg.GenesisPath)
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Indexer.DSN = strings.TrimSpace(cfg.Indexer.DSN)
	cfg.Webhook.Endpoint = strings.TrimSpace(cfg.Webhook.Endpoint)
	for i := range cfg.RateLimits {
		cfg.RateLimits[i].Group = strings.ToLower(strings.TrimSpace(cfg.RateLimits[i].Group))
	}
	cfg.CORS.AllowedOrigins = trimAll(cfg.CORS.AllowedOrigins)
	cfg.Webhook.Topics = trimAll(cfg.Webhook.Topics)
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

func (cfg *Config) validate() error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	hasCert := cfg.TLS.CertPath != ""
	if hasCert != (cfg.TLS.KeyPath != "") {
		return fmt.Errorf("tls: cert and key must either both be provided or both be empty")
	}
	if !cfg.TLS.AllowInsecure && !hasCert {
		return fmt.Errorf("tls: cert and key are required unless allow_insecure=true")
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret is required when auth is enabled")
	}
	seen := make(map[string]struct{}, len(cfg.RateLimits))
	for _, limit := range cfg.RateLimits {
		if _, ok := validGroups[limit.Group]; !ok {
			return fmt.Errorf("rate_limits: unknown group %q", limit.Group)
		}
		if _, dup := seen[limit.Group]; dup {
			return fmt.Errorf("rate_limits: duplicate group %q", limit.Group)
		}
		seen[limit.Group] = struct{}{}
		if limit.RatePerSecond <= 0 || limit.Burst <= 0 {
			return fmt.Errorf("rate_limits.%s: rate_per_second and burst must be positive", limit.Group)
		}
	}
	if cfg.Webhook.Endpoint != "" && cfg.Webhook.Secret == "" {
		return fmt.Errorf("webhook: secret is required when endpoint is set")
	}
	if cfg.Scheduler.Enabled && cfg.Scheduler.Interval < time.Second {
		return fmt.Errorf("scheduler: interval must be at least 1s")
	}
	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
