package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen         = "127.0.0.1:8080"
	defaultAPIBaseURL     = "http://127.0.0.1:5000"
	defaultWeekStart      = "sunday"
	defaultRefreshCron    = "*/5 * * * *"
	defaultRequestTimeout = 15 * time.Second
	defaultCacheTTL       = 5 * time.Minute
	defaultCacheSize      = 128
	defaultSessionPath    = "./var/session.yaml"
	defaultLogLevel       = "info"
)

// ICSConfig describes an optional iCalendar feed used as the event source
// instead of the REST backend (offline/import mode).
type ICSConfig struct {
	// URL is an http(s) endpoint or a local file path.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for event IDs and logging.
	ID string `yaml:"id" json:"id"`
	// HorizonDays bounds recurrence expansion into the future.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
	// BackfillDays bounds recurrence expansion into the past.
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the local API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the local API.
	Listen string `yaml:"listen" json:"listen"`

	// APIBaseURL is the base URL of the EventHub REST backend.
	APIBaseURL string `yaml:"api_base_url" json:"api_base_url"`

	// Timezone is the IANA timezone used for day/week/month boundaries and
	// for timestamps the backend sends without an offset. Empty means local.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls which weekday opens the week for the week buckets.
	// Supported values:
	//   - "sunday" (default)
	//   - "monday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is the cron schedule for snapshot refresh in serve mode.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// CacheTTL and CacheSize bound the gateway's GET response cache.
	CacheTTL  time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	CacheSize int           `yaml:"cache_size" json:"cache_size"`

	// SessionPath is where the signed-in user is persisted between runs.
	SessionPath string `yaml:"session_path" json:"session_path"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// ICS, if non-nil, replaces the REST list endpoint as snapshot source.
	ICS *ICSConfig `yaml:"ics,omitempty" json:"ics,omitempty"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         defaultListen,
		APIBaseURL:     defaultAPIBaseURL,
		Timezone:       "",
		WeekStart:      defaultWeekStart,
		RefreshCron:    defaultRefreshCron,
		RequestTimeout: defaultRequestTimeout,
		CacheTTL:       defaultCacheTTL,
		CacheSize:      defaultCacheSize,
		SessionPath:    defaultSessionPath,
		LogLevel:       defaultLogLevel,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = defaultAPIBaseURL
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")

	switch strings.ToLower(c.WeekStart) {
	case "sunday", "monday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		// Unknown or empty; the week opens on day 0.
		c.WeekStart = defaultWeekStart
	}

	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.CacheSize <= 0 {
		c.CacheSize = defaultCacheSize
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.ICS != nil {
		if c.ICS.URL == "" {
			c.ICS = nil
		} else {
			if c.ICS.ID == "" {
				c.ICS.ID = "ics"
			}
			if c.ICS.HorizonDays <= 0 {
				c.ICS.HorizonDays = 62
			}
			if c.ICS.BackfillDays < 0 {
				c.ICS.BackfillDays = 0
			}
			if c.ICS.BackfillDays == 0 {
				c.ICS.BackfillDays = 62
			}
		}
	}
}

// Weekday returns the configured first day of the week.
func (c *Config) Weekday() time.Weekday {
	if c != nil && c.WeekStart == "monday" {
		return time.Monday
	}
	return time.Sunday
}

// Location resolves Timezone, falling back to time.Local when it is empty
// or unknown. The returned error reports the unknown name, if any.
func (c *Config) Location() (*time.Location, error) {
	if c == nil || c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file in the same directory, then rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, ".eventhub-config-*.tmp")
}

// WriteFileAtomic writes data next to path and renames it into place.
// Parent directories are created with 0700 and the file ends up 0600.
func WriteFileAtomic(path string, data []byte, pattern string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
