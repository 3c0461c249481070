package ocrsched

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level scheduler configuration.
type Config struct {
	// PreferredProvider is tried first when set. It must match a configured
	// provider.
	PreferredProvider ProviderID `yaml:"preferred_provider"`

	// DefaultTimeout bounds queued requests that don't set their own.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	Cache     CacheConfig      `yaml:"cache"`
	Providers []ProviderConfig `yaml:"providers"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	// MaxEntries bounds live entries before eviction (0 = default).
	MaxEntries int `yaml:"max_entries"`

	// TTL is how long a cached result stays valid (0 = default 24h).
	TTL time.Duration `yaml:"ttl"`

	// Disabled turns caching off entirely.
	Disabled bool `yaml:"disabled"`
}

// UnmarshalYAML accepts default_timeout as a duration string ("30s").
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		PreferredProvider ProviderID       `yaml:"preferred_provider"`
		DefaultTimeout    string           `yaml:"default_timeout"`
		Cache             CacheConfig      `yaml:"cache"`
		Providers         []ProviderConfig `yaml:"providers"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.PreferredProvider = raw.PreferredProvider
	c.Cache = raw.Cache
	c.Providers = raw.Providers
	if raw.DefaultTimeout != "" {
		d, err := time.ParseDuration(raw.DefaultTimeout)
		if err != nil {
			return fmt.Errorf("default_timeout: %w", err)
		}
		c.DefaultTimeout = d
	}
	return nil
}

// UnmarshalYAML accepts ttl as a duration string ("24h").
func (c *CacheConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxEntries int    `yaml:"max_entries"`
		TTL        string `yaml:"ttl"`
		Disabled   bool   `yaml:"disabled"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.MaxEntries = raw.MaxEntries
	c.Disabled = raw.Disabled
	if raw.TTL != "" {
		d, err := time.ParseDuration(raw.TTL)
		if err != nil {
			return fmt.Errorf("cache.ttl: %w", err)
		}
		c.TTL = d
	}
	return nil
}

// ProviderConfig holds the per-provider rate limits. Limits of 0 mean
// unlimited for that window.
type ProviderConfig struct {
	ID                ProviderID `yaml:"id"`
	RequestsPerMinute int        `yaml:"requests_per_minute"`
	BurstCapacity     int        `yaml:"burst_capacity"`
	DailyQuota        int64      `yaml:"daily_quota"`
	MonthlyQuota      int64      `yaml:"monthly_quota"`
}

// LoadConfig reads and parses a YAML config file. Environment variables in
// the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("ocrsched: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("ocrsched: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("ocrsched: config: at least one provider is required")
	}

	ids := make(map[ProviderID]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("ocrsched: config: provider[%d]: id is required", i)
		}
		if ids[p.ID] {
			return fmt.Errorf("ocrsched: config: duplicate provider id %q", p.ID)
		}
		ids[p.ID] = true

		if p.RequestsPerMinute < 0 {
			return fmt.Errorf("ocrsched: config: provider[%d] (%s): requests_per_minute must be >= 0", i, p.ID)
		}
		if p.BurstCapacity < 0 {
			return fmt.Errorf("ocrsched: config: provider[%d] (%s): burst_capacity must be >= 0", i, p.ID)
		}
		if p.DailyQuota < 0 || p.MonthlyQuota < 0 {
			return fmt.Errorf("ocrsched: config: provider[%d] (%s): quotas must be >= 0", i, p.ID)
		}
		if p.DailyQuota > 0 && p.MonthlyQuota > 0 && p.DailyQuota > p.MonthlyQuota {
			return fmt.Errorf("ocrsched: config: provider[%d] (%s): daily_quota exceeds monthly_quota", i, p.ID)
		}
	}

	if c.PreferredProvider != "" && !ids[c.PreferredProvider] {
		return fmt.Errorf("ocrsched: config: preferred_provider %q is not configured", c.PreferredProvider)
	}

	if c.DefaultTimeout < 0 {
		return fmt.Errorf("ocrsched: config: default_timeout must be >= 0")
	}

	return nil
}
