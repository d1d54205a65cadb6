package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"staysync/internal/model"
)

// FeedConfig is one external calendar feed of a property.
type FeedConfig struct {
	// URL is the platform's iCal export link.
	URL string `yaml:"url" json:"url"`
	// Source is the identity string stored with every booking from this
	// feed. Defaults to URL. Must be unique across all feeds.
	Source string `yaml:"source,omitempty" json:"source,omitempty"`
}

// SourceID returns the feed's identity string.
func (f FeedConfig) SourceID() string {
	if f.Source != "" {
		return f.Source
	}
	return f.URL
}

// PropertyConfig describes a rental unit and the feeds that list it.
type PropertyConfig struct {
	Name         string       `yaml:"name" json:"name"`
	DisplayName  string       `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Group        string       `yaml:"group,omitempty" json:"group,omitempty"`
	CleaningCost float64      `yaml:"cleaning_cost" json:"cleaning_cost"`
	Feeds        []FeedConfig `yaml:"feeds" json:"feeds"`
}

type SyncConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Cron is a standard five-field schedule.
	Cron string `yaml:"cron" json:"cron"`
	// HorizonDays bounds the scheduled sync window [today, today+HorizonDays].
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
	// DaysAhead is the default rolling window for on-demand syncs.
	DaysAhead int `yaml:"days_ahead" json:"days_ahead"`
}

type FetchConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	MaxRedirects   int    `yaml:"max_redirects" json:"max_redirects"`
	Concurrency    int    `yaml:"concurrency" json:"concurrency"`
	CacheDir       string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
}

type DatabaseConfig struct {
	// Driver is "sqlite3" or "postgres".
	Driver             string `yaml:"driver" json:"driver"`
	DSN                string `yaml:"dsn" json:"dsn"`
	WaitTimeoutSeconds int    `yaml:"wait_timeout_seconds" json:"wait_timeout_seconds"`
}

// RedisConfig enables the distributed edit lock when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty" json:"addr,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
}

type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty" json:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty" json:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty" json:"max_age_days,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API and export feeds.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone whose calendar days drive changeover and
	// merge/split comparisons of timestamped bookings.
	Timezone string `yaml:"timezone" json:"timezone"`

	// PublicURL is prefixed to export feed paths when listing properties.
	PublicURL string `yaml:"public_url,omitempty" json:"public_url,omitempty"`

	Sync     SyncConfig     `yaml:"sync" json:"sync"`
	Fetch    FetchConfig    `yaml:"fetch" json:"fetch"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Redis    RedisConfig    `yaml:"redis,omitempty" json:"redis,omitempty"`
	Log      LogConfig      `yaml:"log" json:"log"`

	Properties []PropertyConfig `yaml:"properties" json:"properties"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health and the public export feed.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{
		Sync: SyncConfig{Enabled: true},
	}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:4000"
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/Warsaw"
	}
	if c.Sync.Cron == "" {
		c.Sync.Cron = "0 * * * *"
	}
	if c.Sync.HorizonDays <= 0 {
		c.Sync.HorizonDays = 365
	}
	if c.Sync.DaysAhead <= 0 {
		c.Sync.DaysAhead = 35
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		c.Fetch.TimeoutSeconds = 30
	}
	if c.Fetch.MaxRedirects <= 0 {
		c.Fetch.MaxRedirects = 5
	}
	if c.Fetch.Concurrency <= 0 {
		c.Fetch.Concurrency = 4
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	case "sqlite":
		c.Database.Driver = "sqlite3"
	default:
		c.Database.Driver = "sqlite3"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite3" {
		c.Database.DSN = "./var/staysync.db"
	}
	if c.Database.WaitTimeoutSeconds <= 0 {
		c.Database.WaitTimeoutSeconds = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 50
	}
	if c.Properties == nil {
		c.Properties = []PropertyConfig{}
	}
	for i := range c.Properties {
		p := &c.Properties[i]
		p.Name = strings.TrimSpace(p.Name)
		if p.DisplayName == "" {
			p.DisplayName = p.Name
		}
		if p.CleaningCost < 0 {
			p.CleaningCost = 0
		}
	}
}

// Validate reports configuration errors Normalize cannot repair.
func (c *Config) Validate() error {
	names := make(map[string]bool)
	sources := make(map[string]string)
	for _, p := range c.Properties {
		if p.Name == "" {
			return errors.New("property with empty name")
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate property %q", p.Name)
		}
		names[p.Name] = true
		for _, f := range p.Feeds {
			if f.URL == "" {
				return fmt.Errorf("property %q: feed with empty url", p.Name)
			}
			id := f.SourceID()
			if id == model.ManualSource {
				return fmt.Errorf("property %q: feed source %q is reserved", p.Name, id)
			}
			if owner, ok := sources[id]; ok {
				return fmt.Errorf("feed source %q used by both %q and %q", id, owner, p.Name)
			}
			sources[id] = p.Name
		}
	}
	return nil
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
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := Config{Sync: SyncConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".staysync-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}

// Property returns the registry entry with the given name.
func (c *Config) Property(name string) (PropertyConfig, bool) {
	for _, p := range c.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return PropertyConfig{}, false
}
