// Package config loads the watchdog configuration using viper.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/feed"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/sink"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. RPL_WATCHDOG_REDIS_URL.
const EnvPrefix = "RPL_WATCHDOG"

// Config is the top-level configuration.
type Config struct {
	Log      LogConfig        `mapstructure:"log"`
	Metrics  MetricsConfig    `mapstructure:"metrics"`
	Feed     FeedConfig       `mapstructure:"feed"`
	Watchdog WatchdogConfig   `mapstructure:"watchdog"`
	Redis    RedisConfig      `mapstructure:"redis"`
	Database DatabaseConfig   `mapstructure:"database"`
	Nodes    NodesConfig      `mapstructure:"nodes"`
	MQTT     sink.MQTTConfig  `mapstructure:"mqtt"`
	Kafka    sink.KafkaConfig `mapstructure:"kafka"`
	State    StateConfig      `mapstructure:"state"`
	Findings FindingsConfig   `mapstructure:"findings"`
	Security SecurityConfig   `mapstructure:"security"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string           `mapstructure:"level"`  // debug / info / warn / error
	Format string           `mapstructure:"format"` // json / text
	File   FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures the rotated log file.
type FileOutputConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// FeedConfig lists the sniffers to connect to.
type FeedConfig struct {
	Sniffers []feed.Sniffer `mapstructure:"sniffers"`
	Buffer   int            `mapstructure:"buffer"`
}

// WatchdogConfig tunes the watchdog task.
type WatchdogConfig struct {
	QueueSize     int  `mapstructure:"queue_size"`
	KeepUnclaimed bool `mapstructure:"keep_unclaimed"`

	// LifetimeInterval paces lifetime-update timer events; 0 disables them.
	LifetimeInterval time.Duration `mapstructure:"lifetime_interval"`
}

// RedisConfig enables Redis node error counters.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// DatabaseConfig enables the PostgreSQL finding writer.
type DatabaseConfig struct {
	URL        string `mapstructure:"url"`
	NodesTable string `mapstructure:"nodes_table"`
}

// NodesConfig points to a node label CSV file.
type NodesConfig struct {
	File string `mapstructure:"file"`
}

// StateConfig points to the RPL state snapshot.
type StateConfig struct {
	File string `mapstructure:"file"`
}

// FindingsConfig filters and buffers findings.
type FindingsConfig struct {
	MinSeverity string `mapstructure:"min_severity"`
	Buffer      int    `mapstructure:"buffer"`
}

// SecurityConfig enables DIO parent verification for one DODAG prefix.
type SecurityConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	VerifiedByDefault bool     `mapstructure:"verified_by_default"`
	DODAGPrefix       string   `mapstructure:"dodag_prefix"`
	TrustedSenders    []string `mapstructure:"trusted_senders"`
	MaxRankDrop       uint16   `mapstructure:"max_rank_drop"`
}

// Load reads the configuration file at path, if any, and applies
// environment overrides and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Lists cannot be bound through AutomaticEnv
	if brokers := v.GetString("kafka.brokers"); len(cfg.Kafka.Brokers) == 0 && brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "/var/log/rpl-watchdog/rpl-watchdog.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9091")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("feed.buffer", 10000)

	v.SetDefault("watchdog.queue_size", 16)
	v.SetDefault("watchdog.keep_unclaimed", false)
	v.SetDefault("watchdog.lifetime_interval", "0s")

	// Empty URLs disable the corresponding sink
	v.SetDefault("redis.url", "")
	v.SetDefault("database.url", "")
	v.SetDefault("database.nodes_table", "rpl_nodes")
	v.SetDefault("nodes.file", "")
	v.SetDefault("state.file", "")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "rpl/findings")
	v.SetDefault("mqtt.client_id", "rpl-watchdog")
	v.SetDefault("kafka.topic", "rpl-findings")

	v.SetDefault("security.enabled", false)
	v.SetDefault("security.verified_by_default", false)
	v.SetDefault("security.max_rank_drop", 0)

	v.SetDefault("findings.min_severity", "low")
	v.SetDefault("findings.buffer", 1000)
}

var (
	validLevels     = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validSeverities = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}
)

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error

	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("invalid log format: %s (must be json/text)", c.Log.Format))
	}
	if c.Log.File.Enabled && c.Log.File.Path == "" {
		errs = append(errs, errors.New("log.file.path is required when log.file.enabled=true"))
	}
	if c.Watchdog.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("watchdog.queue_size must be positive, got %d", c.Watchdog.QueueSize))
	}
	if c.Watchdog.LifetimeInterval < 0 {
		errs = append(errs, fmt.Errorf("watchdog.lifetime_interval must not be negative, got %v", c.Watchdog.LifetimeInterval))
	}
	if c.Feed.Buffer <= 0 {
		errs = append(errs, fmt.Errorf("feed.buffer must be positive, got %d", c.Feed.Buffer))
	}
	if c.Findings.Buffer <= 0 {
		errs = append(errs, fmt.Errorf("findings.buffer must be positive, got %d", c.Findings.Buffer))
	}
	if !validSeverities[c.Findings.MinSeverity] {
		errs = append(errs, fmt.Errorf("invalid findings.min_severity: %s", c.Findings.MinSeverity))
	}
	for i, s := range c.Feed.Sniffers {
		if s.URL == "" {
			errs = append(errs, fmt.Errorf("feed.sniffers[%d].url is required", i))
		}
		if s.Name == "" {
			c.Feed.Sniffers[i].Name = fmt.Sprintf("sniffer-%d", i)
		}
	}
	if c.Kafka.Topic == "" && len(c.Kafka.Brokers) > 0 {
		errs = append(errs, errors.New("kafka.topic is required when kafka.brokers is set"))
	}

	if c.Security.Enabled {
		if _, err := netip.ParsePrefix(c.Security.DODAGPrefix); err != nil {
			errs = append(errs, fmt.Errorf("security.dodag_prefix: %w", err))
		}
		for _, p := range c.Security.TrustedSenders {
			if _, err := netip.ParsePrefix(p); err != nil {
				errs = append(errs, fmt.Errorf("security.trusted_senders: %w", err))
			}
		}
	}

	return errors.Join(errs...)
}
