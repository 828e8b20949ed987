package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"loyaltykit/adapters/redis"
	"loyaltykit/adapters/sqlx"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	// Environment and profile settings
	Environment Environment `json:"environment" yaml:"environment" env:"LOYALTYKIT_ENV"`
	Profile     string      `json:"profile" yaml:"profile" env:"LOYALTYKIT_PROFILE"`

	Server       ServerConfig       `json:"server" yaml:"server"`
	Storage      StorageConfig      `json:"storage" yaml:"storage"`
	Engine       EngineConfig       `json:"engine" yaml:"engine"`
	Logging      LoggingConfig      `json:"logging" yaml:"logging"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics"`
	Security     SecurityConfig     `json:"security" yaml:"security"`
	Integrations IntegrationsConfig `json:"integrations" yaml:"integrations"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" yaml:"address" env:"LOYALTYKIT_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" yaml:"path_prefix" env:"LOYALTYKIT_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" yaml:"cors_origin" env:"LOYALTYKIT_SERVER_CORS_ORIGIN"`
	MaxBodyBytes      int64         `json:"max_body_bytes" yaml:"max_body_bytes" env:"LOYALTYKIT_SERVER_MAX_BODY_BYTES"`
	ReadTimeout       time.Duration `json:"read_timeout" yaml:"read_timeout" env:"LOYALTYKIT_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" yaml:"write_timeout" env:"LOYALTYKIT_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"LOYALTYKIT_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" yaml:"read_header_timeout" env:"LOYALTYKIT_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"LOYALTYKIT_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string       `json:"adapter" yaml:"adapter" env:"LOYALTYKIT_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty" yaml:"redis"`
	SQL     sqlx.Config  `json:"sql,omitempty" yaml:"sql"`
	File    FileConfig   `json:"file,omitempty" yaml:"file"`
	// EnsureSchema creates the SQL tables on startup.
	EnsureSchema bool `json:"ensure_schema" yaml:"ensure_schema" env:"LOYALTYKIT_STORAGE_ENSURE_SCHEMA"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" yaml:"path" env:"LOYALTYKIT_STORAGE_FILE_PATH"`
}

// EngineConfig tunes the action processor and its event bus.
type EngineConfig struct {
	MaxAttempts  int           `json:"max_attempts" yaml:"max_attempts" env:"LOYALTYKIT_ENGINE_MAX_ATTEMPTS"`
	RetryBackoff time.Duration `json:"retry_backoff" yaml:"retry_backoff" env:"LOYALTYKIT_ENGINE_RETRY_BACKOFF"`
	DispatchMode string        `json:"dispatch_mode" yaml:"dispatch_mode" env:"LOYALTYKIT_ENGINE_DISPATCH_MODE"`
	QueueSize    int           `json:"queue_size" yaml:"queue_size" env:"LOYALTYKIT_ENGINE_QUEUE_SIZE"`
	// Milestones are point totals that emit milestone_reached when crossed.
	Milestones []int64 `json:"milestones,omitempty" yaml:"milestones"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" yaml:"level" env:"LOYALTYKIT_LOG_LEVEL"`
	Format     string            `json:"format" yaml:"format" env:"LOYALTYKIT_LOG_FORMAT"`
	Output     string            `json:"output" yaml:"output" env:"LOYALTYKIT_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes" env:"LOYALTYKIT_LOG_ATTRIBUTES"`
}

// MetricsConfig holds metrics and monitoring configuration
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled" env:"LOYALTYKIT_METRICS_ENABLED"`
	Address       string `json:"address" yaml:"address" env:"LOYALTYKIT_METRICS_ADDR"`
	Path          string `json:"path" yaml:"path" env:"LOYALTYKIT_METRICS_PATH"`
	CollectSystem bool   `json:"collect_system" yaml:"collect_system" env:"LOYALTYKIT_METRICS_COLLECT_SYSTEM"`
	// SnapshotInterval drives the analytics rollup loop. Zero disables it.
	SnapshotInterval time.Duration `json:"snapshot_interval" yaml:"snapshot_interval" env:"LOYALTYKIT_METRICS_SNAPSHOT_INTERVAL"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" yaml:"enable_rate_limit" env:"LOYALTYKIT_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit"`
	APIKeys         []string        `json:"api_keys,omitempty" yaml:"api_keys" env:"LOYALTYKIT_SECURITY_API_KEYS"`
	AllowedOrigins  []string        `json:"allowed_origins,omitempty" yaml:"allowed_origins" env:"LOYALTYKIT_SECURITY_ALLOWED_ORIGINS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute" yaml:"requests_per_minute" env:"LOYALTYKIT_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int           `json:"burst_size" yaml:"burst_size" env:"LOYALTYKIT_SECURITY_RATE_LIMIT_BURST"`
	CleanupInterval   time.Duration `json:"cleanup_interval" yaml:"cleanup_interval" env:"LOYALTYKIT_SECURITY_RATE_LIMIT_CLEANUP"`
}

// IntegrationsConfig configures the outbound collaborators.
type IntegrationsConfig struct {
	Webhook WebhookConfig `json:"webhook" yaml:"webhook"`
	Mint    MintConfig    `json:"mint" yaml:"mint"`
	IPFS    IPFSConfig    `json:"ipfs" yaml:"ipfs"`
}

type WebhookConfig struct {
	Endpoints  []string      `json:"endpoints,omitempty" yaml:"endpoints" env:"LOYALTYKIT_WEBHOOK_ENDPOINTS"`
	Secret     string        `json:"secret,omitempty" yaml:"secret" env:"LOYALTYKIT_WEBHOOK_SECRET"`
	EventTypes []string      `json:"event_types,omitempty" yaml:"event_types" env:"LOYALTYKIT_WEBHOOK_EVENT_TYPES"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout" env:"LOYALTYKIT_WEBHOOK_TIMEOUT"`
}

// MintConfig points at the token issuer. An empty endpoint disables minting.
type MintConfig struct {
	Endpoint string        `json:"endpoint,omitempty" yaml:"endpoint" env:"LOYALTYKIT_MINT_ENDPOINT"`
	Token    string        `json:"token,omitempty" yaml:"token" env:"LOYALTYKIT_MINT_TOKEN"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout" env:"LOYALTYKIT_MINT_TIMEOUT"`
}

type IPFSConfig struct {
	Gateway string `json:"gateway" yaml:"gateway" env:"LOYALTYKIT_IPFS_GATEWAY"`
}

// Load builds configuration from the profile named by LOYALTYKIT_PROFILE (or
// the defaults), overlays environment variables and validates the result.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if name := os.Getenv("LOYALTYKIT_PROFILE"); name != "" {
		p, err := LoadProfile(name)
		if err != nil {
			return nil, err
		}
		cfg = p
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if cfg.Environment == EnvProduction {
		if err := cfg.ApplySecrets(context.Background(), NewEnvironmentSecretStore()); err != nil {
			return nil, fmt.Errorf("failed to load secrets: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	switch strings.ToLower(filepath.Ext(cleanPath)) {
	case ".json", ".yaml", ".yml":
	default:
		return errors.New("config file must have .json, .yaml or .yml extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file. Environment
// variables override file values.
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return finish(cfg)
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		return json.Unmarshal(data, cfg)
	}
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			MaxBodyBytes:      1 << 20,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File: FileConfig{
				Path: "./data/loyaltykit.json",
			},
		},
		Engine: EngineConfig{
			MaxAttempts:  3,
			RetryBackoff: 20 * time.Millisecond,
			DispatchMode: "sync",
			QueueSize:    1024,
			Milestones:   []int64{1000, 10000, 100000},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:          false,
			Address:          ":9090",
			Path:             "/metrics",
			CollectSystem:    true,
			SnapshotInterval: time.Minute,
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
			APIKeys: []string{},
		},
		Integrations: IntegrationsConfig{
			Webhook: WebhookConfig{Timeout: 5 * time.Second},
			Mint:    MintConfig{Timeout: 10 * time.Second},
			IPFS:    IPFSConfig{Gateway: "https://ipfs.io"},
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	sections := []struct {
		name string
		err  error
	}{
		{"server config", c.Server.Validate()},
		{"storage config", c.Storage.Validate()},
		{"engine config", c.Engine.Validate()},
		{"logging config", c.Logging.Validate()},
		{"metrics config", c.Metrics.Validate()},
		{"security config", c.Security.Validate()},
		{"integrations config", c.Integrations.Validate()},
	}
	for _, s := range sections {
		if s.err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.name, s.err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

const redacted = "[REDACTED]"

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = redacted
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = redacted
	}
	if cfg.Integrations.Mint.Token != "" {
		cfg.Integrations.Mint.Token = redacted
	}
	if cfg.Integrations.Webhook.Secret != "" {
		cfg.Integrations.Webhook.Secret = redacted
	}
	if n := len(cfg.Security.APIKeys); n > 0 {
		cfg.Security.APIKeys = make([]string, n)
		for i := range cfg.Security.APIKeys {
			cfg.Security.APIKeys[i] = redacted
		}
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
