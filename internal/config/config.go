// Package config loads service configuration in three layers: built-in
// defaults, an optional YAML file, then CSYNC_-prefixed environment
// variables. ENV > file > defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"channel-sync/internal/domain"
)

// EnvPrefix namespaces the environment overrides:
// CSYNC_CATALOG_BASE_URL -> catalog.base_url.
const EnvPrefix = "CSYNC_"

type CatalogConfig struct {
	BaseURL  string `koanf:"base_url"`
	Token    string `koanf:"token"`
	PageSize int    `koanf:"page_size"`
}

type GradesConfig struct {
	BaseURL string `koanf:"base_url"`
	Token   string `koanf:"token"`
}

type Config struct {
	AuditDBPath string        `koanf:"audit_db_path"`
	Workers     int           `koanf:"workers"`
	GiveUpAfter int           `koanf:"give_up_after"`
	RunDeadline time.Duration `koanf:"run_deadline"`
	Interval    time.Duration `koanf:"interval"`
	MetricsAddr string        `koanf:"metrics_addr"`
	LogLevel    string        `koanf:"log_level"`
	LogFormat   string        `koanf:"log_format"`

	Catalog CatalogConfig `koanf:"catalog"`
	Grades  GradesConfig  `koanf:"grades"`

	Channels []domain.ChannelConfiguration `koanf:"channels"`
}

func defaults() *Config {
	return &Config{
		AuditDBPath: "/var/lib/channel-sync/audit",
		Workers:     4,
		GiveUpAfter: 5,
		RunDeadline: 30 * time.Minute,
		MetricsAddr: ":9184",
		LogLevel:    "info",
		LogFormat:   "json",
		Catalog: CatalogConfig{
			PageSize: 100,
		},
	}
}

// Load reads configuration from path (may be empty: defaults plus env only).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(key string) string {
		key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		// One level of nesting: CATALOG_, GRADES_. Everything else is flat.
		for _, section := range []string{"catalog_", "grades_"} {
			if strings.HasPrefix(key, section) {
				return strings.TrimSuffix(section, "_") + "." + strings.TrimPrefix(key, section)
			}
		}
		return key
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with. Channel
// credential checks stay with the channel constructors, which know what
// each integration needs.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Workers)
	}
	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("config: catalog.base_url is required")
	}
	seen := map[string]bool{}
	for i, ch := range c.Channels {
		if ch.ID == "" {
			return fmt.Errorf("config: channels[%d] has no id", i)
		}
		if seen[ch.ID] {
			return fmt.Errorf("config: duplicate channel id %q", ch.ID)
		}
		seen[ch.ID] = true
		switch ch.ChannelType {
		case "successfactors", "degreed", "cornerstone":
		default:
			return fmt.Errorf("config: channel %s has unknown type %q", ch.ID, ch.ChannelType)
		}
		if ch.Customer == "" {
			return fmt.Errorf("config: channel %s has no customer", ch.ID)
		}
	}
	return nil
}

// FindFile returns the first existing path from the conventional locations,
// or empty when none exists.
func FindFile() string {
	for _, path := range []string{
		os.Getenv("CSYNC_CONFIG"),
		"channel-sync.yaml",
		"/etc/channel-sync/config.yaml",
	} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
