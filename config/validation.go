package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"loyaltykit/adapters/sqlx"
)

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}

func oneOf(value string, valid ...string) bool {
	for _, v := range valid {
		if value == v {
			return true
		}
	}
	return false
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string

	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}
	if s.MaxBodyBytes < 0 {
		errs = append(errs, "max_body_bytes cannot be negative")
	}
	if s.ReadTimeout <= 0 {
		errs = append(errs, "read_timeout must be positive")
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "write_timeout must be positive")
	}
	if s.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}
	if s.ReadHeaderTimeout <= 0 {
		errs = append(errs, "read_header_timeout must be positive")
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be positive")
	}

	return joinErrs(errs)
}

var validAdapters = []string{"memory", "redis", "sql", "file"}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string

	if !oneOf(s.Adapter, validAdapters...) {
		errs = append(errs, fmt.Sprintf("adapter must be one of: %s", strings.Join(validAdapters, ", ")))
	}

	switch s.Adapter {
	case "file":
		if err := s.File.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("file config: %v", err))
		}
	case "redis":
		if s.Redis.Addr == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
	case "sql":
		if s.SQL.Driver != sqlx.DriverPostgres && s.SQL.Driver != sqlx.DriverMySQL {
			errs = append(errs, fmt.Sprintf("sql config: driver must be %s or %s", sqlx.DriverPostgres, sqlx.DriverMySQL))
		}
		if s.SQL.DSN == "" {
			errs = append(errs, "sql config: dsn cannot be empty")
		}
	}

	return joinErrs(errs)
}

// Validate validates file storage configuration
func (f *FileConfig) Validate() error {
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	return nil
}

// Validate checks retry and dispatch settings.
func (e *EngineConfig) Validate() error {
	var errs []string
	if e.MaxAttempts < 1 {
		errs = append(errs, "max_attempts must be >= 1")
	}
	if e.RetryBackoff < 0 {
		errs = append(errs, "retry_backoff cannot be negative")
	}
	if !oneOf(e.DispatchMode, "sync", "async") {
		errs = append(errs, "dispatch_mode must be one of: sync, async")
	}
	if e.DispatchMode == "async" && e.QueueSize <= 0 {
		errs = append(errs, "queue_size must be > 0 for async dispatch")
	}
	for i, m := range e.Milestones {
		if m <= 0 {
			errs = append(errs, fmt.Sprintf("milestones[%d] must be > 0", i))
		}
	}
	return joinErrs(errs)
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string

	if !oneOf(l.Level, "debug", "info", "warn", "error") {
		errs = append(errs, "level must be one of: debug, info, warn, error")
	}
	if !oneOf(l.Format, "json", "text") {
		errs = append(errs, "format must be one of: json, text")
	}
	if !oneOf(l.Output, "stdout", "stderr") {
		errs = append(errs, "output must be one of: stdout, stderr")
	}

	return joinErrs(errs)
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	var errs []string

	if m.Enabled {
		if m.Address == "" {
			errs = append(errs, "address cannot be empty when metrics are enabled")
		}
		if m.Path == "" {
			errs = append(errs, "path cannot be empty when metrics are enabled")
		}
	}
	if m.SnapshotInterval < 0 {
		errs = append(errs, "snapshot_interval cannot be negative")
	}

	return joinErrs(errs)
}

// Validate validates security settings.
func (s *SecurityConfig) Validate() error {
	var errs []string
	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] is empty", i))
		}
	}
	return joinErrs(errs)
}

// Validate checks outbound endpoints are absolute http(s) URLs.
func (i *IntegrationsConfig) Validate() error {
	var errs []string
	for n, ep := range i.Webhook.Endpoints {
		if !httpURL(ep) {
			errs = append(errs, fmt.Sprintf("webhook.endpoints[%d] must be an http(s) URL", n))
		}
	}
	if i.Webhook.Timeout <= 0 {
		errs = append(errs, "webhook.timeout must be positive")
	}
	if i.Mint.Endpoint != "" && !httpURL(i.Mint.Endpoint) {
		errs = append(errs, "mint.endpoint must be an http(s) URL")
	}
	if i.Mint.Timeout <= 0 {
		errs = append(errs, "mint.timeout must be positive")
	}
	if i.IPFS.Gateway != "" && !httpURL(i.IPFS.Gateway) {
		errs = append(errs, "ipfs.gateway must be an http(s) URL")
	}
	return joinErrs(errs)
}

func httpURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
