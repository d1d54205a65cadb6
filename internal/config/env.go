package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv reads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// ApplyEnv overlays STAYSYNC_* environment variables onto c. Secrets such as
// the database DSN usually arrive this way rather than through the file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("STAYSYNC_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("STAYSYNC_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("STAYSYNC_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("STAYSYNC_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("STAYSYNC_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("STAYSYNC_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("STAYSYNC_SYNC_CRON"); v != "" {
		c.Sync.Cron = v
	}
	if v := os.Getenv("STAYSYNC_SYNC_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			c.Sync.Enabled = b
		}
	}
	if v := os.Getenv("STAYSYNC_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	c.Normalize()
}
