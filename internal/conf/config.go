// Package conf loads and validates the agent configuration.
package conf

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// Defaults matching the booking application's shipped cache naming.
const (
	DefaultCachePrefix  = "hhs-booking"
	DefaultCacheVersion = "v1"
)

// DefaultShellManifest is the fixed set of same-origin resources warmed at
// install time. Order is preserved.
var DefaultShellManifest = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"/logo.png",
	"/logo.svg",
	"/icon-192x192.png",
	"/icon-512x512.png",
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Push    PushConfig    `mapstructure:"push"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	History HistoryConfig `mapstructure:"history"`
	Sentry  SentryConfig  `mapstructure:"sentry"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	// Listen is the address the agent serves on, e.g. ":8090".
	Listen string `mapstructure:"listen"`
	// Origin is the booking application origin the agent fronts,
	// e.g. "https://app.hhs-booking.example". Required.
	Origin string `mapstructure:"origin"`
}

type CacheConfig struct {
	// Prefix and Version together name the current cache namespace
	// ("<prefix>-<version>"). Bumping Version is the only supported
	// cache-invalidation mechanism.
	Prefix  string `mapstructure:"prefix"`
	Version string `mapstructure:"version"`
	// Path is the LevelDB directory; empty selects the in-memory store.
	Path string `mapstructure:"path"`
	// Manifest lists the same-origin URLs warmed at install time.
	Manifest []string `mapstructure:"manifest"`
	// FetchTimeout bounds each origin fetch (warm and interception).
	FetchTimeout Duration `mapstructure:"fetch_timeout"`
}

type PushConfig struct {
	MQTT MQTTConfig `mapstructure:"mqtt"`
}

// MQTTConfig configures the optional MQTT delivery path for push payloads.
// The broker hands the agent already-parsed JSON payloads; credentials and
// provider setup stay with the external collaborator.
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
}

type NotifyConfig struct {
	// Surface selects the notification display backend: "log" or "shoutrrr".
	Surface string `mapstructure:"surface"`
	// ShoutrrrURLs are delivery URLs for the shoutrrr surface.
	ShoutrrrURLs []string `mapstructure:"shoutrrr_urls"`
	// OpenerURL, if set, is POSTed to when a notification click must open a
	// new application window and none is attached.
	OpenerURL string `mapstructure:"opener_url"`
	// DisplayTTL is how long a displayed notification stays routable after
	// rendering.
	DisplayTTL Duration `mapstructure:"display_ttl"`
}

type HistoryConfig struct {
	// Path is the sqlite file for the notification history log; empty
	// disables the log.
	Path string `mapstructure:"path"`
	// RetentionDays prunes history entries older than this. 0 disables
	// pruning.
	RetentionDays int `mapstructure:"retention_days"`
}

type SentryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type LogConfig struct {
	// Level is a zap level string: debug, info, warn, error.
	Level string `mapstructure:"level"`
}

// CacheName returns the current cache namespace name.
func (c *Config) CacheName() string {
	return c.Cache.Prefix + "-" + c.Cache.Version
}

// Load reads configuration from the given file (optional) and the
// SHELLWORKER_* environment, applies defaults, and validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHELLWORKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.listen", ":8090")
	v.SetDefault("cache.prefix", DefaultCachePrefix)
	v.SetDefault("cache.version", DefaultCacheVersion)
	v.SetDefault("cache.manifest", DefaultShellManifest)
	v.SetDefault("cache.fetch_timeout", "30s")
	v.SetDefault("notify.surface", "log")
	v.SetDefault("notify.display_ttl", "24h")
	v.SetDefault("history.retention_days", 30)
	v.SetDefault("log.level", "info")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and normalizes the origin.
func (c *Config) Validate() error {
	if c.Server.Origin == "" {
		return fmt.Errorf("server.origin is required")
	}
	c.Server.Origin = strings.TrimRight(c.Server.Origin, "/")
	u, err := url.Parse(c.Server.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.origin %q is not an absolute URL", c.Server.Origin)
	}
	if c.Cache.Prefix == "" {
		return fmt.Errorf("cache.prefix must not be empty")
	}
	if c.Cache.Version == "" {
		return fmt.Errorf("cache.version must not be empty")
	}
	if len(c.Cache.Manifest) == 0 {
		return fmt.Errorf("cache.manifest must not be empty")
	}
	for i, m := range c.Cache.Manifest {
		if !strings.HasPrefix(m, "/") {
			return fmt.Errorf("cache.manifest[%d]: %q must be an origin-relative path", i, m)
		}
	}
	switch c.Notify.Surface {
	case "log":
	case "shoutrrr":
		if len(c.Notify.ShoutrrrURLs) == 0 {
			return fmt.Errorf("notify.surface=shoutrrr requires notify.shoutrrr_urls")
		}
	default:
		return fmt.Errorf("notify.surface %q is not supported", c.Notify.Surface)
	}
	if c.Push.MQTT.Enabled && c.Push.MQTT.Broker == "" {
		return fmt.Errorf("push.mqtt.enabled requires push.mqtt.broker")
	}
	return nil
}
