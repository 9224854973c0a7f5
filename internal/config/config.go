// Package config handles sync client configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Backend connection
	Backend BackendConfig `yaml:"backend" mapstructure:"backend"`

	// Local cache store
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// Mutation coordinator
	Mutation MutationConfig `yaml:"mutation" mapstructure:"mutation"`

	// Foreground revalidation
	Visibility VisibilityConfig `yaml:"visibility" mapstructure:"visibility"`

	// Realtime push channel
	Realtime RealtimeConfig `yaml:"realtime" mapstructure:"realtime"`

	// Persistent storage
	Persistence PersistenceConfig `yaml:"persistence" mapstructure:"persistence"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// GlobalConfig contains global settings.
type GlobalConfig struct {
	// DataDir is where the client stores its data (default: ~/.local/share/sync).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/sync).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// BackendConfig contains hosted backend settings.
type BackendConfig struct {
	// URL is the backend base URL.
	URL string `yaml:"url" mapstructure:"url"`

	// APIKey is the public (anon) key sent with every request.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// AccessToken is the signed-in user's bearer token.
	AccessToken string `yaml:"access_token" mapstructure:"access_token"`

	// UserID is the signed-in user.
	UserID string `yaml:"user_id" mapstructure:"user_id"`

	// Timeout bounds one request.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// CacheConfig contains local cache settings.
type CacheConfig struct {
	// Capacity is the maximum number of cached queries.
	Capacity int `yaml:"capacity" mapstructure:"capacity"`

	// Persist writes confirmed entries to the database.
	Persist bool `yaml:"persist" mapstructure:"persist"`

	// StaleAfter marks entries stale once older (0 = only on invalidation).
	StaleAfter time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
}

// MutationConfig contains mutation coordinator settings.
type MutationConfig struct {
	// RetainFailed bounds the failed records kept per query for retry.
	RetainFailed int `yaml:"retain_failed" mapstructure:"retain_failed"`
}

// VisibilityConfig contains foreground revalidation settings.
type VisibilityConfig struct {
	// Debounce is the window in which repeated foreground transitions are ignored.
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

// RealtimeConfig contains realtime channel settings.
type RealtimeConfig struct {
	// Enabled starts the realtime bridge.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Buffer is the per-topic push buffer.
	Buffer int `yaml:"buffer" mapstructure:"buffer"`

	// ReconnectDelay is the first wait before redialing a dropped socket.
	ReconnectDelay time.Duration `yaml:"reconnect_delay" mapstructure:"reconnect_delay"`

	// Topics are subscribed at start in addition to the user's own.
	Topics []string `yaml:"topics" mapstructure:"topics"`
}

// PersistenceConfig contains persistent storage settings.
type PersistenceConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`

	// BusyTimeoutMs is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`

	// WriteBuffer is the number of queued writes before new ones are dropped.
	WriteBuffer int `yaml:"write_buffer" mapstructure:"write_buffer"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// minInterval bounds timeouts and reconnect delays from below.
const minInterval = 100 * time.Millisecond

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "sync"),
			ConfigDir: filepath.Join(homeDir, ".config", "sync"),
		},
		Backend: BackendConfig{
			Timeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Capacity:   1024,
			Persist:    true,
			StaleAfter: 5 * time.Minute,
		},
		Mutation: MutationConfig{
			RetainFailed: 50,
		},
		Visibility: VisibilityConfig{
			Debounce: 5 * time.Second,
		},
		Realtime: RealtimeConfig{
			Enabled:        true,
			Buffer:         64,
			ReconnectDelay: 500 * time.Millisecond,
		},
		Persistence: PersistenceConfig{
			// Empty means DataDir/cache.db.
			BusyTimeoutMs: 5000,
			WriteBuffer:   256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	if c.Backend.URL != "" {
		u, err := url.Parse(c.Backend.URL)
		check(err == nil && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https"),
			"backend.url must be an http(s) URL")
	}
	check(c.Backend.Timeout >= minInterval, "backend.timeout must be at least %s", minInterval)
	check(c.Cache.Capacity >= 1, "cache.capacity must be at least 1")
	check(c.Cache.StaleAfter >= 0, "cache.stale_after must not be negative")
	check(c.Mutation.RetainFailed >= 1, "mutation.retain_failed must be at least 1")
	check(c.Visibility.Debounce >= 0, "visibility.debounce must not be negative")
	check(c.Realtime.Buffer >= 1, "realtime.buffer must be at least 1")
	check(c.Realtime.ReconnectDelay >= minInterval, "realtime.reconnect_delay must be at least %s", minInterval)
	for i, topic := range c.Realtime.Topics {
		check(strings.TrimSpace(topic) != "", "realtime.topics[%d] must not be empty", i)
	}
	check(c.Persistence.BusyTimeoutMs >= 0, "persistence.busy_timeout_ms must not be negative")
	check(c.Persistence.WriteBuffer >= 1, "persistence.write_buffer must be at least 1")
	check(c.Logging.Format == "console" || c.Logging.Format == "json",
		"logging.format must be console or json")

	return errors.Join(errs...)
}

// DatabasePath returns the full database path.
func (c *Config) DatabasePath() string {
	if c.Persistence.Path != "" {
		return c.Persistence.Path
	}
	return filepath.Join(c.Global.DataDir, "cache.db")
}
