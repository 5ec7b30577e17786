package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv applies environment overrides on top of the file
// configuration. Only the settings operators commonly flip at deploy time
// are exposed this way.
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("GATEKEEP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if logLevel := os.Getenv("GATEKEEP_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	if timeout := os.Getenv("GATEKEEP_VALIDATOR_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.Pipeline.ValidatorTimeout = d
		}
	}

	if ttl := os.Getenv("GATEKEEP_CACHE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			cfg.Pipeline.CacheTTL = d
		}
	}

	if capacity := os.Getenv("GATEKEEP_CACHE_CAPACITY"); capacity != "" {
		if n, err := strconv.Atoi(capacity); err == nil {
			cfg.Pipeline.CacheCapacity = n
		}
	}

	if secret := os.Getenv("GATEKEEP_AUTH_SECRET"); secret != "" {
		cfg.Validators.Auth.Secret = secret
	}
}
