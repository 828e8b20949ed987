package config

import (
	"fmt"
	"time"
)

// LoadProfile returns the preset for a named deployment profile. The result is
// not validated; Load and LoadFromFile do that after overlaying the environment.
func LoadProfile(name string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Profile = name

	switch Environment(name) {
	case EnvDevelopment:
		cfg.Environment = EnvDevelopment
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"

	case EnvTesting:
		cfg.Environment = EnvTesting
		cfg.Server.Address = ":0"
		cfg.Engine.RetryBackoff = time.Millisecond
		cfg.Logging.Level = "error"
		cfg.Metrics.SnapshotInterval = 0

	case EnvStaging:
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = "redis"
		cfg.Engine.DispatchMode = "async"
		cfg.Metrics.Enabled = true
		cfg.Security.EnableRateLimit = true

	case EnvProduction:
		cfg.Environment = EnvProduction
		cfg.Server.CORSOrigin = ""
		cfg.Storage.Adapter = "redis"
		cfg.Engine.DispatchMode = "async"
		cfg.Engine.QueueSize = 4096
		cfg.Logging.Level = "warn"
		cfg.Metrics.Enabled = true
		cfg.Metrics.CollectSystem = true
		cfg.Security.EnableRateLimit = true
		cfg.Security.RateLimit.RequestsPerMinute = 600
		cfg.Security.RateLimit.BurstSize = 50

	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}

	return cfg, nil
}
